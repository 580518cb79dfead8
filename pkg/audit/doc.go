// Package audit records account and mail dispatch events. Events are queued
// by a Manager and written asynchronously to a Sink: the structured log, or a
// Kafka topic when one is configured.
package audit
