// Package metrics defines Prometheus metrics for accountdesk, covering mail
// delivery, the dispatch worker, account operations and audit sinks.
package metrics
