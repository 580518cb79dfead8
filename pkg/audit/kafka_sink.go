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
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/version"
)

const (
	defaultKafkaBatchTimeout = time.Second
	defaultKafkaWriteTimeout = 10 * time.Second
)

type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string

	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaSinkConfigFrom maps the audit.kafka config section.
func KafkaSinkConfigFrom(cfg config.Kafka) KafkaSinkConfig {
	return KafkaSinkConfig{Name: "kafka", Brokers: cfg.Brokers, Topic: cfg.Topic}
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events keyed by account, so every event of one
// account lands on the same partition in order.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, errors.New("audit kafka sink: at least one broker is required")
	case cfg.Topic == "":
		return nil, errors.New("audit kafka sink: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultKafkaBatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Transport:    &kafka.Transport{ClientID: version.UserAgent()},
	}
	logger.Info("Kafka audit sink created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newKafkaSinkWithWriter(cfg.Name, writer, logger), nil
}

func newKafkaSinkWithWriter(name string, w messageWriter, logger *zap.Logger) *KafkaSink {
	if name == "" {
		name = "kafka"
	}
	return &KafkaSink{name: name, writer: w, logger: logger.Named("kafka-audit")}
}

// partitionKey prefers the account uid, then the email, then the event id.
func partitionKey(event *Event) []byte {
	switch {
	case event.Actor.UID != "":
		return []byte(event.Actor.UID)
	case event.Actor.User != "":
		return []byte(event.Actor.User)
	default:
		return []byte(event.ID)
	}
}

type kafkaErrorClass string

const (
	kafkaErrTimeout  kafkaErrorClass = "timeout"
	kafkaErrCanceled kafkaErrorClass = "cancelled"
	kafkaErrNetwork  kafkaErrorClass = "network"
	kafkaErrAuth     kafkaErrorClass = "auth"
	kafkaErrBroker   kafkaErrorClass = "broker"
	kafkaErrTopic    kafkaErrorClass = "topic"
	kafkaErrOther    kafkaErrorClass = "other"
)

// transient classes are logged as warnings: the broker may come back.
func (c kafkaErrorClass) transient() bool {
	return c == kafkaErrTimeout || c == kafkaErrNetwork
}

func classifyKafkaError(err error) kafkaErrorClass {
	if err == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return kafkaErrTimeout
	case errors.Is(err, context.Canceled):
		return kafkaErrCanceled
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return kafkaErrTimeout
		}
		return kafkaErrNetwork
	}

	msg := err.Error()
	for _, rule := range []struct {
		class    kafkaErrorClass
		contains []string
	}{
		{kafkaErrAuth, []string{"SASL", "authentication"}},
		{kafkaErrNetwork, []string{"connection refused", "no such host"}},
		{kafkaErrBroker, []string{"broker", "leader"}},
		{kafkaErrTopic, []string{"topic"}},
	} {
		for _, s := range rule.contains {
			if strings.Contains(msg, s) {
				return rule.class
			}
		}
	}
	return kafkaErrOther
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		{Key: "event-id", Value: []byte(event.ID)},
	}
	if event.Actor.User != "" {
		headers = append(headers, kafka.Header{Key: "actor", Value: []byte(event.Actor.User)})
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{Key: partitionKey(event), Value: value, Headers: headers})
	if err == nil {
		return nil
	}
	class := classifyKafkaError(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("error_type", string(class)),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	}
	if class.transient() {
		s.logger.Warn("Kafka unavailable, audit event dropped", fields...)
	} else {
		s.logger.Error("Failed to publish audit event", fields...)
	}
	return fmt.Errorf("publish audit event (%s): %w", class, err)
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

func (s *KafkaSink) Name() string {
	return s.name
}
