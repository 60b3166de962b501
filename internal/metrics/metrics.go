// Package metrics provides Prometheus metrics for the orchestrator service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts workflow executions by final status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "executions_total",
			Help:      "Total number of workflow executions by final status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	// ExecutionsActive tracks executions currently in flight.
	ExecutionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "executions_active",
			Help:      "Number of currently running workflow executions",
		},
	)

	// ExecutionDuration tracks end-to-end workflow execution duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// AgentExecutionsTotal counts agent invocations by type and outcome.
	AgentExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "agent_executions_total",
			Help:      "Total number of agent invocations by type and status",
		},
		[]string{"agent_type", "status"}, // "completed", "failed"
	)

	// AgentExecutionDuration tracks single agent invocation latency.
	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "agent_execution_duration_seconds",
			Help:      "Agent invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)

	// AgentTokensTotal accumulates tokens reported by agents.
	AgentTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "agent_tokens_total",
			Help:      "Total tokens reported by agent invocations",
		},
		[]string{"agent_type"},
	)

	// AgentCostTotal accumulates cost reported by agents.
	AgentCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "agent_cost_total",
			Help:      "Total cost reported by agent invocations",
		},
		[]string{"agent_type"},
	)

	// EventsTotal counts execution events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "events_total",
			Help:      "Total number of execution events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperations counts store operations by backend and result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"store", "operation", "result"}, // store: workflows, executions; result: success, error
	)

	// SSEActiveConnections tracks open event stream connections.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "sse_active_connections",
			Help:      "Number of currently open SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long event stream connections stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "orchestrator",
			Name:      "sse_connection_duration_seconds",
			Help:      "SSE connection duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)
)
