package db

import (
	"github.com/nainya/triplestore/internal/storage/index"
	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/types"
)

// Snapshot is a read-only, point-in-time view pinned at a committed
// transaction id: every read through it sees exactly the records visible
// to that txn id, regardless of what commits afterward. Its pinned id
// also holds back GC eligibility for any record still visible to it.
type Snapshot struct {
	txnID   types.TxnID
	index   *index.Index
	pins    *tombstone.ActiveSnapshotSet
	released bool
}

func newSnapshot(txnID types.TxnID, idx *index.Index, pins *tombstone.ActiveSnapshotSet) *Snapshot {
	pins.Acquire(txnID)
	return &Snapshot{txnID: txnID, index: idx, pins: pins}
}

// TxnID reports the transaction id this snapshot is pinned to.
func (s *Snapshot) TxnID() types.TxnID { return s.txnID }

// Get returns the record at (entity, attribute) as of this snapshot, if
// one was visible at that point.
func (s *Snapshot) Get(entity types.EntityID, attribute types.AttributeID) (types.TripleRecord, bool, error) {
	rec, ok, err := s.index.Get(entity, attribute)
	if err != nil || !ok || !rec.IsVisibleTo(s.txnID) {
		return types.TripleRecord{}, false, err
	}
	return rec, true, nil
}

// ScanEntity returns every record for entity visible as of this snapshot.
func (s *Snapshot) ScanEntity(entity types.EntityID) ([]types.TripleRecord, error) {
	all, err := s.index.ScanEntity(entity)
	if err != nil {
		return nil, err
	}
	return filterVisible(all, s.txnID), nil
}

// ScanRange returns every record with key in [from, to) visible as of
// this snapshot.
func (s *Snapshot) ScanRange(from, to types.Key) ([]types.TripleRecord, error) {
	all, err := s.index.ScanRange(from, to)
	if err != nil {
		return nil, err
	}
	return filterVisible(all, s.txnID), nil
}

// ScanAll returns every record in the index visible as of this snapshot.
// Used by the query engine for patterns with an unbound entity position.
func (s *Snapshot) ScanAll() ([]types.TripleRecord, error) {
	all, err := s.index.ScanAll()
	if err != nil {
		return nil, err
	}
	return filterVisible(all, s.txnID), nil
}

func filterVisible(records []types.TripleRecord, txnID types.TxnID) []types.TripleRecord {
	out := make([]types.TripleRecord, 0, len(records))
	for _, rec := range records {
		if rec.IsVisibleTo(txnID) {
			out = append(out, rec)
		}
	}
	return out
}

// Close releases the snapshot's pin on its txn id. It must be called
// exactly once; repeated calls are a no-op.
func (s *Snapshot) Close() {
	if s.released {
		return
	}
	s.released = true
	s.pins.Release(s.txnID)
}
