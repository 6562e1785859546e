// Package hlc implements a hybrid logical clock that never regresses
// across restarts: it is seeded from the last checkpointed timestamp and
// every subsequent value strictly dominates it.
package hlc

import (
	"fmt"
	"sync"
	"time"

	"github.com/nainya/triplestore/internal/types"
)

// Clock generates monotonically increasing HlcTimestamp values for one
// node. All writers on a Database go through the same Clock under the
// writer lock, so internally it needs no locking of its own beyond what
// protects concurrent callers that bypass the writer lock (e.g. tests).
type Clock struct {
	mu     sync.Mutex
	last   types.HlcTimestamp
	nodeID uint32
	nowMs  func() uint64
}

// New creates a clock for nodeID, seeded at zero. Callers should call
// Seed with the last checkpointed timestamp immediately after recovery.
func New(nodeID uint32) *Clock {
	return &Clock{nodeID: nodeID, nowMs: defaultNowMs}
}

func defaultNowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// Seed advances the clock's internal state to at least last, so that
// restart never regresses the HLC.
func (c *Clock) Seed(last types.HlcTimestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.Less(last) {
		c.last = last
	}
}

// Next produces the next timestamp: the physical component is the greater
// of the wall clock and the previous physical component; if the wall
// clock did not advance, the logical counter increments, otherwise it
// resets to zero.
func (c *Clock) Next() (types.HlcTimestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowMs()
	var next types.HlcTimestamp
	next.NodeID = c.nodeID
	if now > c.last.PhysicalMs {
		next.PhysicalMs = now
		next.LogicalCounter = 0
	} else {
		next.PhysicalMs = c.last.PhysicalMs
		if c.last.LogicalCounter == ^uint32(0) {
			return types.HlcTimestamp{}, fmt.Errorf("%w: hlc logical counter overflow", types.ErrResource)
		}
		next.LogicalCounter = c.last.LogicalCounter + 1
	}
	c.last = next
	return next, nil
}

// Last returns the most recently produced timestamp.
func (c *Clock) Last() types.HlcTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
