package router

import "testing"

func TestRouteIsStableAndWithinRange(t *testing.T) {
	for _, key := range []string{"a", "b", "my-counter", "partition-key-42"} {
		first := Route(key, 7)
		if first < 0 || first >= 7 {
			t.Fatalf("Route(%q, 7) = %d, out of range", key, first)
		}
		for i := 0; i < 5; i++ {
			if got := Route(key, 7); got != first {
				t.Fatalf("Route(%q, 7) not stable: got %d and %d", key, first, got)
			}
		}
	}
}

func TestRouteDistributesDifferentKeys(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[Route(keyFor(i), 4)] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all 4 partitions to be hit across 200 keys, got %d", len(seen))
	}
}

func keyFor(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 0, 8)
	for i > 0 || len(b) == 0 {
		b = append(b, alphabet[i%len(alphabet)])
		i /= len(alphabet)
	}
	return string(b)
}
