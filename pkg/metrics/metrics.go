package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics
	RaftTerm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_raft_term",
			Help: "Current Raft term by partition",
		},
		[]string{"group", "partition"},
	)

	RaftRole = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_raft_is_leader",
			Help: "Whether this replica is the partition leader (1 = leader, 0 = not)",
		},
		[]string{"group", "partition"},
	)

	RaftLogIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_raft_log_index",
			Help: "Last log index stored by partition",
		},
		[]string{"group", "partition"},
	)

	RaftCommitIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_raft_commit_index",
			Help: "Highest known committed index by partition",
		},
		[]string{"group", "partition"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_raft_applied_index",
			Help: "Last applied index by partition",
		},
		[]string{"group", "partition"},
	)

	RaftElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_raft_elections_total",
			Help: "Total number of elections started by partition",
		},
		[]string{"group", "partition"},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomix_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed log entry to the primitive host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "partition"},
	)

	RaftReplicationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomix_raft_replication_round_trip_seconds",
			Help:    "Round-trip latency of an AppendEntries RPC to a follower",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "partition"},
	)

	// Session metrics
	SessionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atomix_sessions_open",
			Help: "Number of currently open sessions by partition",
		},
		[]string{"group", "partition"},
	)

	SessionsExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_sessions_expired_total",
			Help: "Total number of sessions expired by partition",
		},
		[]string{"group", "partition"},
	)

	SessionCommandsDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_session_commands_deduped_total",
			Help: "Total number of duplicate command retries answered from cache",
		},
		[]string{"group", "partition"},
	)

	// Router / client metrics
	RouterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_router_requests_total",
			Help: "Total number of client requests issued by the router",
		},
		[]string{"op", "status"},
	)

	RouterRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_router_retries_total",
			Help: "Total number of client request retries by reason",
		},
		[]string{"reason"},
	)

	RouterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomix_router_request_duration_seconds",
			Help:    "Client request duration as observed by the router",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Storage metrics
	StorageCompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomix_storage_compactions_total",
			Help: "Total number of log compactions performed by partition",
		},
		[]string{"group", "partition"},
	)

	StorageSnapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atomix_storage_snapshot_duration_seconds",
			Help:    "Time taken to write a snapshot to durable storage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "partition"},
	)

	// Membership metrics
	MembershipReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atomix_membership_reconciliation_duration_seconds",
			Help:    "Time taken for a membership reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MembershipReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atomix_membership_reconciliation_cycles_total",
			Help: "Total number of membership reconciliation cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RaftTerm,
		RaftRole,
		RaftLogIndex,
		RaftCommitIndex,
		RaftAppliedIndex,
		RaftElectionsTotal,
		RaftApplyDuration,
		RaftReplicationDuration,
		SessionsOpen,
		SessionsExpiredTotal,
		SessionCommandsDeduped,
		RouterRequestsTotal,
		RouterRetriesTotal,
		RouterRequestDuration,
		StorageCompactionsTotal,
		StorageSnapshotDuration,
		MembershipReconciliationDuration,
		MembershipReconciliationCyclesTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
