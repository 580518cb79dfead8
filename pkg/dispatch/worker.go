package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/metrics"
	"github.com/accountdesk/accountdesk/pkg/store"
	"github.com/accountdesk/accountdesk/pkg/system"
)

const tracerName = "github.com/accountdesk/accountdesk/pkg/dispatch"

// Cycle results used as metric labels.
const (
	ResultEmpty       = "empty"
	ResultOK          = "ok"
	ResultPartial     = "partial"
	ResultQueryError  = "query_error"
	ResultCommitError = "commit_error"
)

type Config struct {
	// BatchSize caps how many unsent records a single cycle reads.
	BatchSize int
	// From is the sender identity put on every outgoing message.
	From string
	// Concurrency bounds parallel sends inside one cycle. Values below 2 send sequentially.
	Concurrency int
}

// ConfigFrom maps the dispatch and SMTP sections of the file config onto a worker Config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		From:        mail.FormatAddress(cfg.SMTP.SenderAddress, cfg.SMTP.SenderName),
		Concurrency: cfg.Dispatch.Concurrency,
	}
}

// Outcome is the delivery result for one record. Err is nil when the
// transport accepted the message.
type Outcome struct {
	RecordID string
	To       string
	Err      error
}

func (o Outcome) Sent() bool { return o.Err == nil }

// Report summarizes one cycle.
type Report struct {
	Queried   int
	Sent      int
	Failed    int
	Marked    int
	Outcomes  []Outcome
	QueryErr  error
	CommitErr error
	Duration  time.Duration
}

// SentIDs returns the record ids whose send succeeded, in batch order.
func (r Report) SentIDs() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Sent() {
			ids = append(ids, o.RecordID)
		}
	}
	return ids
}

// Result classifies the cycle for metrics and logs.
func (r Report) Result() string {
	switch {
	case r.QueryErr != nil:
		return ResultQueryError
	case r.CommitErr != nil:
		return ResultCommitError
	case r.Queried == 0:
		return ResultEmpty
	case r.Failed > 0:
		return ResultPartial
	default:
		return ResultOK
	}
}

type Worker struct {
	store  store.MailStore
	sender mail.Sender
	cfg    Config
	log    *zap.SugaredLogger
}

func NewWorker(s store.MailStore, sender mail.Sender, cfg Config, log *zap.SugaredLogger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultDispatchBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{store: s, sender: sender, cfg: cfg, log: log.Named("dispatch")}
}

// RunOnce reads up to BatchSize unsent records, sends each one and marks the
// successful ones sent with a single commit. Errors never escape: a failed
// query ends the cycle, a failed send leaves its record unsent for the next
// cycle, and a failed commit leaves the whole batch unsent.
func (w *Worker) RunOnce(ctx context.Context) Report {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.cycle",
		trace.WithAttributes(attribute.Int("dispatch.batch_size", w.cfg.BatchSize)))
	defer span.End()

	start := time.Now()
	rep := w.runOnce(ctx)
	rep.Duration = time.Since(start)

	metrics.DispatchCycles.WithLabelValues(rep.Result()).Inc()
	metrics.DispatchCycleDuration.Observe(rep.Duration.Seconds())

	span.SetAttributes(
		attribute.String("dispatch.result", rep.Result()),
		attribute.Int("dispatch.queried", rep.Queried),
		attribute.Int("dispatch.sent", rep.Sent),
		attribute.Int("dispatch.failed", rep.Failed),
	)
	if err := errors.Join(rep.QueryErr, rep.CommitErr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, rep.Result())
	}
	return rep
}

func (w *Worker) runOnce(ctx context.Context) Report {
	var rep Report

	records, err := w.store.QueryUnsent(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Errorw("Failed to query unsent emails", "batchSize", w.cfg.BatchSize, "error", err)
		rep.QueryErr = err
		return rep
	}
	rep.Queried = len(records)
	if len(records) == 0 {
		w.log.Info("no unsent emails found")
		return rep
	}
	w.log.Infow("Dispatching unsent emails", "count", len(records))

	rep.Outcomes = w.sendAll(ctx, records)
	for _, o := range rep.Outcomes {
		if o.Sent() {
			rep.Sent++
			metrics.DispatchRecords.WithLabelValues("sent").Inc()
			continue
		}
		rep.Failed++
		metrics.DispatchRecords.WithLabelValues("failed").Inc()
		w.log.Errorw("Failed to send email", append(system.MailFields(o.RecordID, o.To), "error", o.Err)...)
	}

	ids := rep.SentIDs()
	if len(ids) == 0 {
		w.log.Warnw("No emails were sent in this cycle", "failed", rep.Failed)
		return rep
	}
	if err := w.store.MarkSent(ctx, ids); err != nil {
		w.log.Errorw("Failed to mark emails as sent; they will be sent again", "count", len(ids), "error", err)
		rep.CommitErr = err
		metrics.DispatchRecords.WithLabelValues("unmarked").Add(float64(len(ids)))
		return rep
	}
	rep.Marked = len(ids)
	w.log.Infow("Dispatch cycle finished", "sent", rep.Sent, "failed", rep.Failed)
	return rep
}

// sendAll returns one outcome per record, in the order of records.
func (w *Worker) sendAll(ctx context.Context, records []store.MailRecord) []Outcome {
	outcomes := make([]Outcome, len(records))
	if w.cfg.Concurrency < 2 {
		for i, rec := range records {
			outcomes[i] = w.send(ctx, rec)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i, rec := range records {
		g.Go(func() error {
			outcomes[i] = w.send(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (w *Worker) send(ctx context.Context, rec store.MailRecord) Outcome {
	_, span := otel.Tracer(tracerName).Start(ctx, "dispatch.send",
		trace.WithAttributes(attribute.String("mail.id", rec.ID)))
	defer span.End()

	out := Outcome{RecordID: rec.ID, To: rec.To}
	if err := ctx.Err(); err != nil {
		out.Err = err
		span.SetStatus(codes.Error, "canceled")
		return out
	}
	out.Err = w.sender.Send(mail.Message{
		From:    w.cfg.From,
		To:      rec.To,
		Subject: rec.Subject,
		Text:    rec.Message.Text,
		HTML:    rec.Message.HTML,
	})
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "send failed")
		return out
	}
	w.log.Debugw("Email sent", system.MailFields(rec.ID, rec.To)...)
	return out
}
