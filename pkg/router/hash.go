// Package router implements the partition router and client-facing RPC
// bridge of spec §4.5: mapping a (primitive, key) pair to a partition,
// tracking each partition's current leader estimate, and translating
// client wire requests into calls against the local raft.Replica and
// session.Manager when this node happens to host that partition.
package router

import "github.com/cespare/xxhash/v2"

// Route maps key to a partition index in [0, partitions) via xxhash, the
// MultiPrimary routing strategy of spec §4.5 ("key hash mod N... stable
// across versions"). xxhash is a pure function of its input bytes with
// no versioned seed or platform-dependent behavior, so the mapping
// never changes across a process restart or a binary upgrade.
func Route(key string, partitions int) int {
	if partitions <= 0 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(partitions))
}
