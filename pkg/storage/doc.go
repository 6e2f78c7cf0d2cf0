/*
Package storage implements the Log and SnapshotStore contracts of
spec §4.1: append/truncateAfter/get/getRange/term/compact plus durable
currentTerm/votedFor, behind two backends selected by a partition
group's storage.level.

MemoryLog is a plain in-process slice, used by pkg/raft/rafttest and
unit tests that don't need durability. BoltLog is the disk/mapped
backend: one go.etcd.io/bbolt bucket holds LogEntry values keyed by
big-endian index, a second holds the term/vote/snapshot-pointer
metadata, a bucket-per-entity layout. FileSnapshotStore persists
snapshot bytes as a separate file,
written to a temp file and renamed into place so a crash never exposes
a half-written snapshot. BoltCAStore is the cluster-level (not
per-partition) store pkg/security's CertAuthority persists its root
key into.
*/
package storage
