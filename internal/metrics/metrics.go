package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_turns_total",
			Help: "Total number of processed turns by outcome",
		},
		[]string{"outcome"}, // answered | clarified | non_data | failed
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	PlanRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analyst_plan_retries_total",
			Help: "Total number of validation-triggered plan retries",
		},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_llm_requests_total",
			Help: "Total number of reasoning-service requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_llm_request_duration_seconds",
			Help:    "Reasoning-service request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"provider", "model"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_tool_calls_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"tool"},
	)

	RepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_repairs_total",
			Help: "Total number of tool-input repair attempts",
		},
		[]string{"error_class", "outcome"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_cache_requests_total",
			Help: "Cache lookups by cache and result",
		},
		[]string{"cache", "result"}, // result: hit | miss
	)

	SchemaFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_schema_fetches_total",
			Help: "Data-source introspection calls made to populate the schema cache",
		},
		[]string{"kind"}, // list_tables | describe_table | sample
	)
)
