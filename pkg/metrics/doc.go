/*
Package metrics provides Prometheus metrics collection and exposition for Atomix.

All metrics are registered at package init and exposed via Handler(), an
http.Handler suitable for mounting at /metrics. Metric names are grouped
by concern:

  - atomix_raft_*: term, role, log/commit/applied index, election count,
    apply and replication latency — all labeled by partition group and
    partition number.
  - atomix_sessions_*: open sessions, expirations; plus
    atomix_session_commands_deduped_total for deduped retries.
  - atomix_router_*: client request count, retries, latency.
  - atomix_storage_*: compaction count, snapshot duration.
  - atomix_membership_*: reconciliation cycle count and duration.

Use the Timer helper to record histogram observations:

	timer := metrics.NewTimer()
	// ... apply a committed entry ...
	timer.ObserveDurationVec(metrics.RaftApplyDuration, group, partition)
*/
package metrics
