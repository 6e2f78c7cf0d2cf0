package partition

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/atomix/pkg/config"
	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/rs/zerolog"
)

func TestNewNodeWiresOneGroupPerHostedPartitionGroup(t *testing.T) {
	hub := transport.NewMemoryHub()
	factory := func(addr string) (transport.Transport, error) {
		return transport.NewMemoryTransport(hub, addr), nil
	}

	cfg := config.Config{
		Groups: []config.PartitionGroupSpec{
			{
				Name:       "management",
				Partitions: 1,
				Members: []config.Member{
					{ID: "a", Address: "127.0.0.1:9001"},
				},
				Storage: config.StorageSpec{Level: config.StorageMemory},
			},
			{
				Name:       "other",
				Partitions: 1,
				Members: []config.Member{
					{ID: "b", Address: "127.0.0.1:9101"},
				},
				Storage: config.StorageSpec{Level: config.StorageMemory},
			},
		},
	}

	node, err := NewNode(NodeConfig{
		MemberID:     "a",
		Config:       cfg,
		NewTransport: factory,
		DataDir:      t.TempDir(),
		Options:      raft.DefaultOptions(),
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	groups := node.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 hosted group (member a is only in 'management'), got %d", len(groups))
	}
	if groups[0].Key.Group != "management" {
		t.Fatalf("hosted group = %q, want management", groups[0].Key.Group)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	node.Stop()
}

func TestPartitionAddressOffsetsPortByIndex(t *testing.T) {
	addr, err := partitionAddress("10.0.0.1:9000", 3)
	if err != nil {
		t.Fatalf("partitionAddress: %v", err)
	}
	if addr != "10.0.0.1:9003" {
		t.Fatalf("partitionAddress = %q, want 10.0.0.1:9003", addr)
	}

	same, err := partitionAddress("10.0.0.1:9000", 0)
	if err != nil {
		t.Fatalf("partitionAddress: %v", err)
	}
	if same != "10.0.0.1:9000" {
		t.Fatalf("partitionAddress(p=0) = %q, want unchanged base", same)
	}
}
