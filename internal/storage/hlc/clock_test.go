package hlc

import (
	"testing"

	"github.com/nainya/triplestore/internal/types"
)

func TestNextIsMonotonic(t *testing.T) {
	c := New(1)
	tick := uint64(1000)
	c.nowMs = func() uint64 { return tick }

	first, err := c.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := c.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !first.Less(second) {
		t.Fatalf("expected %+v < %+v", first, second)
	}
	if second.PhysicalMs != first.PhysicalMs || second.LogicalCounter != first.LogicalCounter+1 {
		t.Fatalf("expected logical counter to bump within the same millisecond, got %+v then %+v", first, second)
	}

	tick = 1001
	third, err := c.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if third.LogicalCounter != 0 {
		t.Fatalf("expected logical counter to reset on physical advance, got %d", third.LogicalCounter)
	}
	if !second.Less(third) {
		t.Fatalf("expected %+v < %+v", second, third)
	}
}

func TestSeedNeverRegresses(t *testing.T) {
	c := New(1)
	c.nowMs = func() uint64 { return 500 }
	c.Seed(types.HlcTimestamp{PhysicalMs: 10000, LogicalCounter: 5})

	next, err := c.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.PhysicalMs != 10000 || next.LogicalCounter != 6 {
		t.Fatalf("expected seed to dominate wall clock, got %+v", next)
	}
}
