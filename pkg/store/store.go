package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidMailRecord is matched by every *InvalidRecordError.
	ErrInvalidMailRecord = errors.New("invalid mail record")
)

// InvalidRecordError lists the required fields a producer left empty.
type InvalidRecordError struct {
	Fields []string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid mail record: missing %s", strings.Join(e.Fields, ", "))
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidMailRecord
}

// MailStore is the mail collection.
type MailStore interface {
	// AddMail stores a new record with Sent=false and returns it with its
	// store-assigned ID. CreatedAt is kept when set by the producer.
	AddMail(ctx context.Context, rec MailRecord) (MailRecord, error)
	// QueryUnsent returns at most limit records with Sent=false.
	QueryUnsent(ctx context.Context, limit int) ([]MailRecord, error)
	// MarkSent sets Sent=true and a server timestamp on all ids as one atomic
	// write. Either every id is applied or none is. Records already sent are
	// left untouched.
	MarkSent(ctx context.Context, ids []string) error
	GetMail(ctx context.Context, id string) (MailRecord, error)
}

// UserStore is the user collection. Emails are unique (case-insensitive).
type UserStore interface {
	CreateUser(ctx context.Context, user UserRecord) error
	GetUser(ctx context.Context, uid string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdateUser(ctx context.Context, user UserRecord) error
}

// Store bundles both collections behind one backend.
type Store interface {
	MailStore
	UserStore
	Close()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
