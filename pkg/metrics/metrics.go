package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mail transport metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})

	// Mail queue producers
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_mail_queued_total",
		Help: "Total number of mail records written to the mail collection",
	}, []string{"kind"})

	// Dispatch worker metrics
	DispatchCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_dispatch_cycles_total",
		Help: "Total number of dispatch cycles grouped by result (empty, ok, partial, query_error, commit_error)",
	}, []string{"result"})
	DispatchRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_dispatch_records_total",
		Help: "Mail records processed by the dispatch worker grouped by outcome (sent, failed, unmarked)",
	}, []string{"outcome"})
	DispatchCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accountdesk_dispatch_cycle_duration_seconds",
		Help:    "Duration of a dispatch cycle",
		Buckets: prometheus.DefBuckets,
	})

	// Account front end
	AccountEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_account_events_total",
		Help: "Account operations grouped by event and result",
	}, []string{"event", "result"})

	// Audit
	AuditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_audit_events_total",
		Help: "Audit events written grouped by sink and result",
	}, []string{"sink", "result"})

	// HTTP
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountdesk_ratelimit_rejected_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"path"})
)

func init() {
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(DispatchCycles)
	prometheus.MustRegister(DispatchRecords)
	prometheus.MustRegister(DispatchCycleDuration)
	prometheus.MustRegister(AccountEvents)
	prometheus.MustRegister(AuditEvents)
	prometheus.MustRegister(RateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
