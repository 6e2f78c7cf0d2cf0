package config

import (
	"strings"
	"testing"
	"time"
)

const sample = `
kind: Cluster
spec:
  members:
    - id: node-a
      address: 10.0.0.1:9000
    - id: node-b
      address: 10.0.0.2:9000
---
kind: Discovery
spec:
  type: dns
  resolver: 10.0.0.53:53
  query: _atomix._tcp.cluster.local.
  interval: 15s
---
kind: PartitionGroup
spec:
  type: raft
  name: management
  partitions: 1
  partitionSize: 3
  storage:
    level: disk
  members:
    - id: node-a
      address: 10.0.0.1:9000
---
kind: PartitionGroup
spec:
  type: raft
  name: data
  partitions: 8
  partitionSize: 3
  storage:
    level: mapped
  members:
    - id: node-a
      address: 10.0.0.1:9000
---
kind: PrimitiveDefaults
spec:
  sessionTimeout: 30s
  overrides:
    counter: 1m
`

func TestDecodeMergesAllResourceKinds(t *testing.T) {
	cfg, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(cfg.Cluster.Members) != 2 {
		t.Fatalf("expected 2 cluster members, got %d", len(cfg.Cluster.Members))
	}
	if cfg.Discovery.Type != "dns" {
		t.Fatalf("discovery type = %q, want dns", cfg.Discovery.Type)
	}
	if cfg.Discovery.Interval != Duration(15*time.Second) {
		t.Fatalf("discovery interval = %v, want 15s", cfg.Discovery.Interval)
	}
	if len(cfg.Groups) != 2 {
		t.Fatalf("expected 2 partition groups, got %d", len(cfg.Groups))
	}
	mgmt, ok := cfg.ManagementGroup()
	if !ok {
		t.Fatal("expected a management group")
	}
	if mgmt.Storage.Level != StorageDisk {
		t.Fatalf("management storage level = %q, want disk", mgmt.Storage.Level)
	}
	if cfg.Primitives.SessionTimeout != Duration(30*time.Second) {
		t.Fatalf("session timeout = %v, want 30s", cfg.Primitives.SessionTimeout)
	}
	if cfg.Primitives.Overrides["counter"] != Duration(time.Minute) {
		t.Fatalf("counter override = %v, want 1m", cfg.Primitives.Overrides["counter"])
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode(strings.NewReader("kind: Bogus\nspec: {}\n"))
	if err == nil {
		t.Fatal("expected an error for an unrecognized resource kind")
	}
}
