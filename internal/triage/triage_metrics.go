package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks fired as a ticket moves through the pipeline.
// Nil fields are skipped.
type Hooks struct {
	OnLLMCall     func(purpose, outcome string, inputTokens, outputTokens int, duration float64)
	OnClassify    func(source string, category Category)
	OnWebFallback func(outcome string)
	OnEscalation  func(trigger string)
	OnComplete    func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished triage run.
type CompleteEvent struct {
	TicketID string
	Status   Status
	Category Category
	Severity Severity
	KBHits   int
	Duration float64
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TicketsTotal         *prometheus.CounterVec
	TicketDuration       *prometheus.HistogramVec
	EscalationsTotal     *prometheus.CounterVec
	KBHits               prometheus.Histogram
	WebFallbacksTotal    *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	LLMCallsTotal        *prometheus.CounterVec
	LLMTokensIn          prometheus.Counter
	LLMTokensOut         prometheus.Counter
	LLMDuration          *prometheus.HistogramVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_tickets_total",
			Help: "Total processed tickets by final status and category.",
		}, []string{"status", "category"}),
		TicketDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagedesk_ticket_duration_seconds",
			Help:    "End-to-end ticket processing time in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"status"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_escalations_total",
			Help: "Total escalations by triggering condition.",
		}, []string{"trigger"}),
		KBHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagedesk_kb_hits",
			Help:    "Knowledge base hits per drafted ticket.",
			Buckets: prometheus.LinearBuckets(0, 1, 4), // 0 .. 3
		}),
		WebFallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_web_fallbacks_total",
			Help: "Web search fallbacks by outcome.",
		}, []string{"outcome"}),
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_classifications_total",
			Help: "Ticket classifications by source and category.",
		}, []string{"source", "category"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_llm_calls_total",
			Help: "Total LLM provider calls by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagedesk_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagedesk_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagedesk_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}, []string{"purpose"}),
	}

	reg.MustRegister(
		m.TicketsTotal,
		m.TicketDuration,
		m.EscalationsTotal,
		m.KBHits,
		m.WebFallbacksTotal,
		m.ClassificationsTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLLMCall: func(purpose, outcome string, inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.WithLabelValues(purpose, outcome).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(purpose).Observe(duration)
		},
		OnClassify: func(source string, category Category) {
			m.ClassificationsTotal.WithLabelValues(source, string(category)).Inc()
		},
		OnWebFallback: func(outcome string) {
			m.WebFallbacksTotal.WithLabelValues(outcome).Inc()
		},
		OnEscalation: func(trigger string) {
			m.EscalationsTotal.WithLabelValues(trigger).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.TicketsTotal.WithLabelValues(string(e.Status), string(e.Category)).Inc()
			m.TicketDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			if e.Status == StatusDrafted {
				m.KBHits.Observe(float64(e.KBHits))
			}
		},
	}
}
