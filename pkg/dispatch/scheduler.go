package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
)

// Runner is the part of Worker the Scheduler depends on.
type Runner interface {
	RunOnce(ctx context.Context) Report
}

// Scheduler runs a cycle right away and then once per Interval. Ticks that
// fire while a cycle is still running are dropped, so cycles never overlap
// within one process. Nothing stops two processes from running cycles at the
// same time.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// OnCycle, when set, receives every report after the cycle finished.
	OnCycle func(Report)
}

func NewScheduler(runner Runner, interval time.Duration, log *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = config.DefaultDispatchInterval
	}
	return &Scheduler{runner: runner, interval: interval, log: log.Named("scheduler")}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start launches the loop in a goroutine. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	s.loop(ctx, done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.log.Infow("Mail dispatch scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Mail dispatch scheduler stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs synchronously in the loop goroutine. time.Ticker drops ticks a
// slow receiver misses, which is what keeps cycles from overlapping.
func (s *Scheduler) cycle(ctx context.Context) {
	// Let an in-flight cycle finish its commit even if Stop was called.
	rep := s.runner.RunOnce(context.WithoutCancel(ctx))
	s.log.Debugw("Dispatch cycle report", "result", rep.Result(), "queried", rep.Queried,
		"sent", rep.Sent, "failed", rep.Failed, "duration", rep.Duration.String())
	if s.OnCycle != nil {
		s.OnCycle(rep)
	}
}
