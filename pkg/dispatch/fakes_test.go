package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/store"
)

var (
	errTransport = errors.New("554 transaction failed")
	errOutage    = errors.New("store unavailable")
)

// countingStore wraps the memory store and records every call the worker
// makes, with optional injected failures.
type countingStore struct {
	*store.Memory

	mu          sync.Mutex
	queryCalls  int
	commitCalls int
	committed   [][]string
	queryErr    error
	commitErr   error
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: store.NewMemory()}
}

func (s *countingStore) QueryUnsent(ctx context.Context, limit int) ([]store.MailRecord, error) {
	s.mu.Lock()
	s.queryCalls++
	err := s.queryErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Memory.QueryUnsent(ctx, limit)
}

func (s *countingStore) MarkSent(ctx context.Context, ids []string) error {
	s.mu.Lock()
	s.commitCalls++
	s.committed = append(s.committed, append([]string(nil), ids...))
	err := s.commitErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.MarkSent(ctx, ids)
}

// fakeSender fails for any recipient listed in failFor.
type fakeSender struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []mail.Message
	calls   int
}

func newFakeSender(failFor ...string) *fakeSender {
	f := &fakeSender{failFor: map[string]bool{}}
	for _, to := range failFor {
		f.failFor[to] = true
	}
	return f
}

func (f *fakeSender) Send(msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[msg.To] {
		return errTransport
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) GetHost() string { return "fake" }
func (f *fakeSender) GetPort() int    { return 25 }

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
