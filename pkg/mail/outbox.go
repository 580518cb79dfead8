package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/metrics"
	"github.com/accountdesk/accountdesk/pkg/store"
)

// Outbox writes mail records into the mail collection. Delivery happens later
// when the dispatch worker drains unsent records.
type Outbox struct {
	store store.MailStore
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewOutbox(s store.MailStore, log *zap.SugaredLogger) *Outbox {
	return &Outbox{store: s, log: log.Named("outbox"), now: time.Now}
}

// Enqueue stores content addressed to recipient as a new unsent mail record.
// kind only labels metrics and logs (verification, welcome, password_reset).
func (o *Outbox) Enqueue(ctx context.Context, kind, recipient string, content Content) (store.MailRecord, error) {
	if recipient == "" {
		o.log.Errorw("Cannot enqueue email: empty recipient", "kind", kind, "subject", content.Subject)
		return store.MailRecord{}, fmt.Errorf("cannot enqueue %s email: %w", kind, ErrNoRecipient)
	}

	rec, err := o.store.AddMail(ctx, store.MailRecord{
		To:      recipient,
		Subject: content.Subject,
		Message: store.MessageBody{
			Text: content.Text,
			HTML: content.HTML,
		},
		CreatedAt: o.now().UTC(),
	})
	if err != nil {
		o.log.Errorw("Failed to write mail record", "kind", kind, "to", recipient, "error", err)
		return store.MailRecord{}, fmt.Errorf("enqueue %s email: %w", kind, err)
	}

	metrics.MailQueued.WithLabelValues(kind).Inc()
	o.log.Debugw("Email queued for dispatch", "id", rec.ID, "kind", kind, "to", recipient, "subject", rec.Subject)
	return rec, nil
}
