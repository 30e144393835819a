package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	Captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_captures_total", Help: "Capture requests by outcome"},
		[]string{"status"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_dispatch_total", Help: "Action branch outcomes"},
		[]string{"branch", "result"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_provider_send_total", Help: "Provider send outcomes"},
		[]string{"provider", "result"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hookrelay_provider_latency_seconds", Help: "Provider call latency"},
		[]string{"provider"},
	)
	PollRuns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hookrelay_gmail_poll_runs_total", Help: "Gmail poll sweeps"},
	)
	PollMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_gmail_poll_messages_total", Help: "Gmail candidate messages by result"},
		[]string{"result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_poll_trigger_enqueue_total", Help: "Poll trigger enqueue results"},
		[]string{"result"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(Captures, Dispatches, ProviderSend, ProviderLatency, PollRuns, PollMessages, Enqueues, APIRequests)
}
