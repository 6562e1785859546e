package tombstone

import (
	"sync"

	"github.com/nainya/triplestore/internal/types"
)

// ActiveSnapshotSet tracks every currently-outstanding snapshot's pinned
// transaction id as a multiset (more than one concurrent snapshot may pin
// the same txn id). It reports the watermark GC must respect: a tombstone
// is only eligible for reclamation once every pinned snapshot is strictly
// past the transaction that wrote it (none at or before it), per
// IsGCEligible.
type ActiveSnapshotSet struct {
	mu     sync.Mutex
	counts map[types.TxnID]int
}

// NewActiveSnapshotSet returns an empty set.
func NewActiveSnapshotSet() *ActiveSnapshotSet {
	return &ActiveSnapshotSet{counts: make(map[types.TxnID]int)}
}

// Acquire pins snapshotTxn as active.
func (s *ActiveSnapshotSet) Acquire(snapshotTxn types.TxnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[snapshotTxn]++
}

// Release unpins one reference to snapshotTxn.
func (s *ActiveSnapshotSet) Release(snapshotTxn types.TxnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[snapshotTxn]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.counts, snapshotTxn)
		return
	}
	s.counts[snapshotTxn] = n - 1
}

// Min returns the lowest currently-pinned snapshot txn id, or nil if no
// snapshot is active.
func (s *ActiveSnapshotSet) Min() *types.TxnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.counts) == 0 {
		return nil
	}
	var min types.TxnID
	first := true
	for txn := range s.counts {
		if first || txn < min {
			min = txn
			first = false
		}
	}
	return &min
}

// Len reports the number of distinct active snapshot txn ids.
func (s *ActiveSnapshotSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}
