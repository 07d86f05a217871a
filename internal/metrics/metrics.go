// Package metrics is the Prometheus registry shared across the core,
// following the teacher's internal/metrics.Metrics constructor style —
// one struct of promauto-registered collectors, built once at startup and
// passed by reference to every component.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every counter, gauge and histogram SignalZero exposes on
// /metrics.
type Registry struct {
	// Broker
	BrokerPublishTotal   *prometheus.CounterVec
	BrokerPublishErrors  *prometheus.CounterVec
	BrokerReconnects     prometheus.Counter
	BrokerConnected      prometheus.Gauge
	BrokerMessagesIn     *prometheus.CounterVec

	// Topic router
	TopicsDropped prometheus.Counter

	// Store
	StoreOpDuration *prometheus.HistogramVec
	StoreOpErrors   *prometheus.CounterVec

	// Usage meter
	UsageReservations *prometheus.CounterVec

	// Orchestrator
	AnalysesSubmitted  prometheus.Counter
	AnalysesCompleted  *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	AgentResultsArrived *prometheus.CounterVec
	AgentResultsImputed prometheus.Counter
	PendingAnalyses    prometheus.Gauge

	// Response handler
	ResponsesMalformed prometheus.Counter
	ResponsesLate      prometheus.Counter
	ResponsesDuplicate prometheus.Counter

	// Push bus
	PushSubscribers   prometheus.Gauge
	PushEventsDropped prometheus.Counter
	PushLag           prometheus.Counter

	// Shame list
	ShameEntriesTotal prometheus.Counter

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// System (sampled by SystemSampler)
	ProcessCPUPercent prometheus.Gauge
	ProcessMemoryMB   prometheus.Gauge
	Goroutines        prometheus.Gauge

	startTime time.Time
}

// New registers every collector against reg and returns the Registry.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		BrokerPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_broker_publish_total",
			Help: "Total broker publish attempts by topic.",
		}, []string{"topic"}),
		BrokerPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_broker_publish_errors_total",
			Help: "Total broker publish failures by topic.",
		}, []string{"topic"}),
		BrokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_broker_reconnects_total",
			Help: "Total broker reconnect events.",
		}),
		BrokerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_broker_connected",
			Help: "1 if the broker connection is up, 0 otherwise.",
		}),
		BrokerMessagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_broker_messages_in_total",
			Help: "Total inbound broker messages by topic.",
		}, []string{"topic"}),

		TopicsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_topics_dropped_total",
			Help: "Total messages dropped for failing to parse against the known topic grammar.",
		}),

		StoreOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalzero_store_op_duration_seconds",
			Help:    "Store operation latency by operation name.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"op"}),
		StoreOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_store_op_errors_total",
			Help: "Store operation failures by operation name and error kind.",
		}, []string{"op", "kind"}),

		UsageReservations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_usage_reservations_total",
			Help: "Usage meter reservation outcomes.",
		}, []string{"outcome"}),

		AnalysesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_analyses_submitted_total",
			Help: "Total analyses admitted via submit.",
		}),
		AnalysesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_analyses_completed_total",
			Help: "Total analyses reaching a terminal state, by status and band.",
		}, []string{"status", "band"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalzero_analysis_duration_seconds",
			Help:    "Time from PROCESSING to terminal state.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		AgentResultsArrived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_agent_results_arrived_total",
			Help: "Agent responses accepted by agent type.",
		}, []string{"agent_type"}),
		AgentResultsImputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_agent_results_imputed_total",
			Help: "Total agent inputs substituted with the neutral fallback at finalize.",
		}),
		PendingAnalyses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_pending_analyses",
			Help: "Analyses currently awaiting fan-in.",
		}),

		ResponsesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_responses_malformed_total",
			Help: "Agent response payloads rejected as malformed.",
		}),
		ResponsesLate: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_responses_late_total",
			Help: "Agent responses dropped for an unknown or already-terminal analysis.",
		}),
		ResponsesDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_responses_duplicate_total",
			Help: "Agent responses that replayed an existing (analysisId, agentType) row.",
		}),

		PushSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_push_subscribers",
			Help: "Current number of push bus subscribers.",
		}),
		PushEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_push_events_dropped_total",
			Help: "Events dropped from a subscriber queue that exceeded its cap.",
		}),
		PushLag: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_push_lag_total",
			Help: "Cumulative lag counter across all subscribers.",
		}),

		ShameEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalzero_shame_entries_total",
			Help: "Total shame list entries created.",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalzero_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalzero_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		ProcessCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_process_cpu_percent",
			Help: "Smoothed process CPU usage percentage, sampled via gopsutil.",
		}),
		ProcessMemoryMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_process_memory_mb",
			Help: "Resident memory usage in megabytes, sampled via gopsutil.",
		}),
		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalzero_goroutines",
			Help: "Current goroutine count.",
		}),

		startTime: time.Now(),
	}
}

// Uptime returns time elapsed since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.startTime) }
