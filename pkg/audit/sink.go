/*
Copyright 2026.

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
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is an audit event destination.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes each event as one "audit_event" log line. Warning events are
// logged at warn level and critical ones at error level.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func levelFor(s Severity) zapcore.Level {
	switch s {
	case SeverityCritical:
		return zapcore.ErrorLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	ce := s.logger.Check(levelFor(event.Severity), "audit_event")
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Time("timestamp", event.Timestamp),
		zap.String("actor_user", event.Actor.User),
		zap.String("target", event.Target.Kind+"/"+event.Target.Name),
	}
	for key, val := range map[string]string{
		"actor_uid":      event.Actor.UID,
		"actor_provider": event.Actor.Provider,
		"actor_ip":       event.Actor.SourceIP,
	} {
		if val != "" {
			fields = append(fields, zap.String(key, val))
		}
	}
	if len(event.Details) > 0 {
		if raw, err := json.Marshal(event.Details); err == nil {
			fields = append(fields, zap.String("details", string(raw)))
		}
	}
	ce.Write(fields...)
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }

// MultiSink fans events out to several sinks. A failing sink does not stop
// the others; the joined error is returned.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Name() string { return "multi" }
