/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/metrics"
)

// Manager queues audit events and writes them to its sink from a background
// worker. Emit never blocks the request path.
type Manager struct {
	sink       Sink
	asyncQueue chan *Event
	logger     *zap.Logger
	wg         sync.WaitGroup
	closed     atomic.Bool
	mu         sync.RWMutex

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64

	config ManagerConfig
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 1000
	QueueSize int

	// WriteTimeout is the timeout for writing to sinks.
	// Default: 5s
	WriteTimeout time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    1000,
		WriteTimeout: 5 * time.Second,
	}
}

func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	m := &Manager{
		sink:       sink,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		logger:     logger.Named("audit-manager"),
		config:     cfg,
	}

	m.wg.Add(1)
	go m.processQueue()

	logger.Info("audit manager started",
		zap.String("sink", sink.Name()),
		zap.Int("queue_size", cfg.QueueSize))

	return m
}

// NewFromConfig builds the sink chain from the audit section: the log sink is
// always present, Kafka is added when brokers and a topic are configured.
// A nil Manager is returned when auditing is disabled; its methods are no-ops.
func NewFromConfig(cfg config.Audit, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sinks := []Sink{NewLogSink(logger)}
	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := NewKafkaSink(KafkaSinkConfigFrom(*cfg.Kafka), logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}
	var sink Sink = sinks[0]
	if len(sinks) > 1 {
		sink = NewMultiSink(sinks...)
	}
	return NewManager(sink, DefaultManagerConfig(), logger), nil
}

// Emit sends an audit event asynchronously. If the queue is full the event is
// dropped.
func (m *Manager) Emit(ctx context.Context, event *Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed.Load() {
		return
	}

	fillDefaults(event)

	select {
	case m.asyncQueue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEvents.WithLabelValues(m.sink.Name(), "dropped").Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// EmitSync writes the event directly to the sink.
func (m *Manager) EmitSync(ctx context.Context, event *Event) error {
	if m == nil {
		return nil
	}
	fillDefaults(event)
	return m.write(ctx, event)
}

func fillDefaults(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
}

func (m *Manager) write(ctx context.Context, event *Event) error {
	if err := m.sink.Write(ctx, event); err != nil {
		metrics.AuditEvents.WithLabelValues(m.sink.Name(), "error").Inc()
		return err
	}
	metrics.AuditEvents.WithLabelValues(m.sink.Name(), "written").Inc()
	return nil
}

func (m *Manager) processQueue() {
	defer m.wg.Done()

	for event := range m.asyncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.write(ctx, event); err != nil {
			m.logger.Error("failed to write audit event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		} else {
			m.processedEvents.Add(1)
		}
		cancel()
	}
}

// Close drains the queue and closes the sink.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return nil
	}
	close(m.asyncQueue)
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))

	return m.sink.Close()
}

// Stats returns current statistics about the manager.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		QueueLength:     len(m.asyncQueue),
		QueueCapacity:   cap(m.asyncQueue),
	}
}

type ManagerStats struct {
	QueuedEvents    int64
	ProcessedEvents int64
	DroppedEvents   int64
	QueueLength     int
	QueueCapacity   int
}

// AccountEvent records an action taken by or on a user account.
func (m *Manager) AccountEvent(ctx context.Context, eventType EventType, actor Actor, details map[string]interface{}) {
	m.Emit(ctx, &Event{
		Type:    eventType,
		Actor:   actor,
		Target:  Target{Kind: "user", Name: actor.User},
		Details: details,
	})
}

// DispatchCycle records the outcome of one mail dispatch cycle.
func (m *Manager) DispatchCycle(ctx context.Context, result string, queried, sent, failed int, cycleErr error) {
	eventType := EventDispatchCycle
	details := map[string]interface{}{
		"result":  result,
		"queried": queried,
		"sent":    sent,
		"failed":  failed,
	}
	if cycleErr != nil {
		eventType = EventDispatchCycleFailed
		details["error"] = cycleErr.Error()
	}
	m.Emit(ctx, &Event{
		Type:    eventType,
		Actor:   Actor{User: "system"},
		Target:  Target{Kind: "mail", Name: "dispatch"},
		Details: details,
	})
}
