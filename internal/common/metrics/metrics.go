// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_requests_total",
			Help: "Total number of queries handled, by final outcome",
		},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "navigator_request_duration_seconds",
			Help: "End-to-end query handling duration in seconds",
		},
		[]string{"outcome"},
	)

	BranchInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_branch_invocations_total",
			Help: "Total branch invocations by capability and status",
		},
		[]string{"branch", "status"},
	)

	BranchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "navigator_branch_duration_seconds",
			Help: "Branch execution duration in seconds",
		},
		[]string{"branch"},
	)

	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_classifications_total",
			Help: "Intent classifications by outcome (handled, unhandled, failed)",
		},
		[]string{"outcome"},
	)

	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_audit_append_failures_total",
			Help: "Audit events that could not be appended to the sink",
		},
	)
)
