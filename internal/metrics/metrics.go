package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Webhook request outcomes
const (
	OutcomeAccepted         = "accepted"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeRateLimited      = "rate_limited"
	OutcomeError            = "error"
	OutcomePreflight        = "preflight"
)

// Metrics holds all Prometheus metrics for hookdesk. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Webhook ingestion
	WebhookRequestsTotal         *prometheus.CounterVec
	WebhookLogWriteFailuresTotal *prometheus.CounterVec

	// Management
	AdminMutationsTotal     *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter
	TokensExpiredTotal      prometheus.Counter

	// Chat completions
	ChatCompletionsTotal          *prometheus.CounterVec
	ChatCompletionDurationSeconds prometheus.Histogram

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		WebhookRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_webhook_requests_total",
				Help: "Total number of webhook ingestion requests by outcome",
			},
			[]string{"outcome"},
		),
		WebhookLogWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_webhook_log_write_failures_total",
				Help: "Total number of webhook log rows that could not be written",
			},
			[]string{"status"},
		),

		AdminMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_admin_mutations_total",
				Help: "Total number of token, key and user mutations",
			},
			[]string{"action"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hookdesk_audit_write_failures_total",
				Help: "Total number of audit entries that could not be written",
			},
		),
		TokensExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hookdesk_tokens_expired_total",
				Help: "Total number of tokens deactivated by the expiry sweeper",
			},
		),

		ChatCompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_chat_completions_total",
				Help: "Total number of chat completion requests by status",
			},
			[]string{"status"},
		),
		ChatCompletionDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hookdesk_chat_completion_duration_seconds",
				Help:    "Upstream chat completion latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookdesk_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookdesk_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"level"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.WebhookRequestsTotal,
		m.WebhookLogWriteFailuresTotal,
		m.AdminMutationsTotal,
		m.AuditWriteFailuresTotal,
		m.TokensExpiredTotal,
		m.ChatCompletionsTotal,
		m.ChatCompletionDurationSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncWebhookRequest counts a webhook request by outcome
func (m *Metrics) IncWebhookRequest(outcome string) {
	if m != nil {
		m.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncLogWriteFailure counts a dropped webhook log row
func (m *Metrics) IncLogWriteFailure(status string) {
	if m != nil {
		m.WebhookLogWriteFailuresTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncAdminMutation(action string) {
	if m != nil {
		m.AdminMutationsTotal.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncAuditWriteFailure() {
	if m != nil {
		m.AuditWriteFailuresTotal.Inc()
	}
}

func (m *Metrics) AddTokensExpired(n int) {
	if m != nil && n > 0 {
		m.TokensExpiredTotal.Add(float64(n))
	}
}

// ObserveChatCompletion records one upstream call
func (m *Metrics) ObserveChatCompletion(status string, seconds float64) {
	if m != nil {
		m.ChatCompletionsTotal.WithLabelValues(status).Inc()
		m.ChatCompletionDurationSeconds.Observe(seconds)
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func (m *Metrics) IncRateLimitExceeded(level string) {
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}
