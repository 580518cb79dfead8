package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	mail  map[string]MailRecord
	users map[string]UserRecord
	// byEmail maps a normalized email to a uid
	byEmail map[string]string
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		mail:    make(map[string]MailRecord),
		users:   make(map[string]UserRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// WithClock replaces the server clock used for SentAt and default CreatedAt.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) AddMail(ctx context.Context, rec MailRecord) (MailRecord, error) {
	if err := ctx.Err(); err != nil {
		return MailRecord{}, err
	}
	if err := rec.Validate(); err != nil {
		return MailRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := m.mail[rec.ID]; exists {
		return MailRecord{}, fmt.Errorf("mail %s: %w", rec.ID, ErrAlreadyExists)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	rec.Sent = false
	rec.SentAt = nil
	m.mail[rec.ID] = rec
	return rec, nil
}

func (m *Memory) QueryUnsent(ctx context.Context, limit int) ([]MailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("query limit must be positive, got %d", limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	unsent := make([]MailRecord, 0, limit)
	for _, rec := range m.mail {
		if !rec.Sent {
			unsent = append(unsent, rec)
		}
	}
	sort.Slice(unsent, func(i, j int) bool {
		if unsent[i].CreatedAt.Equal(unsent[j].CreatedAt) {
			return unsent[i].ID < unsent[j].ID
		}
		return unsent[i].CreatedAt.Before(unsent[j].CreatedAt)
	})
	if len(unsent) > limit {
		unsent = unsent[:limit]
	}
	return unsent, nil
}

func (m *Memory) MarkSent(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ids = dedupe(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, ok := m.mail[id]; !ok {
			return fmt.Errorf("mail %s: %w", id, ErrNotFound)
		}
	}

	sentAt := m.now().UTC()
	for _, id := range ids {
		rec := m.mail[id]
		if rec.Sent {
			continue
		}
		rec.Sent = true
		ts := sentAt
		rec.SentAt = &ts
		m.mail[id] = rec
	}
	return nil
}

func (m *Memory) GetMail(ctx context.Context, id string) (MailRecord, error) {
	if err := ctx.Err(); err != nil {
		return MailRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.mail[id]
	if !ok {
		return MailRecord{}, fmt.Errorf("mail %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ListMail returns every mail record ordered by creation time.
func (m *Memory) ListMail() []MailRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]MailRecord, 0, len(m.mail))
	for _, rec := range m.mail {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

func (m *Memory) CreateUser(ctx context.Context, user UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.UID == "" {
		return fmt.Errorf("user uid is required")
	}
	email := NormalizeEmail(user.Email)
	if email == "" {
		return fmt.Errorf("user email is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.UID]; exists {
		return fmt.Errorf("user %s: %w", user.UID, ErrAlreadyExists)
	}
	if _, exists := m.byEmail[email]; exists {
		return fmt.Errorf("user with email %s: %w", email, ErrAlreadyExists)
	}
	if user.Role == "" {
		user.Role = DefaultRole
	}
	m.users[user.UID] = user
	m.byEmail[email] = user.UID
	return nil
}

func (m *Memory) GetUser(ctx context.Context, uid string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[uid]
	if !ok {
		return UserRecord{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	return user, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	uid, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserRecord{}, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}
	return m.users[uid], nil
}

func (m *Memory) UpdateUser(ctx context.Context, user UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[user.UID]
	if !ok {
		return fmt.Errorf("user %s: %w", user.UID, ErrNotFound)
	}
	oldEmail := NormalizeEmail(existing.Email)
	newEmail := NormalizeEmail(user.Email)
	if newEmail != oldEmail {
		if _, taken := m.byEmail[newEmail]; taken {
			return fmt.Errorf("user with email %s: %w", newEmail, ErrAlreadyExists)
		}
		delete(m.byEmail, oldEmail)
		m.byEmail[newEmail] = user.UID
	}
	m.users[user.UID] = user
	return nil
}

func (m *Memory) Close() {}
