package ids

import (
	"testing"
	"time"
)

func TestAtSortsByCreation(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := At(ts)
	for i := 0; i < 100; i++ {
		next := At(ts)
		if next <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", next, prev)
		}
		prev = next
	}
	if later := At(ts.Add(time.Millisecond)); later <= prev {
		t.Fatalf("later timestamp sorted first: %s <= %s", later, prev)
	}
}
