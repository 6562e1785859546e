package gc

import (
	"testing"

	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/types"
)

type fakeStore struct {
	watermark *types.TxnID
	queue     []tombstone.Entry
	records   map[types.Key]types.TripleRecord
	removed   []types.Key
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[types.Key]types.TripleRecord{}}
}

func (f *fakeStore) GCWatermark() *types.TxnID { return f.watermark }

func (f *fakeStore) DequeueTombstones(n int) []tombstone.Entry {
	if n > len(f.queue) {
		n = len(f.queue)
	}
	out := f.queue[:n]
	f.queue = f.queue[n:]
	return out
}

func (f *fakeStore) RequeueTombstones(entries []tombstone.Entry) {
	f.queue = append(append([]tombstone.Entry(nil), entries...), f.queue...)
}

func (f *fakeStore) RemoveIndexEntry(key types.Key) (bool, error) {
	f.removed = append(f.removed, key)
	delete(f.records, key)
	return true, nil
}

func (f *fakeStore) RecordAt(key types.Key) (types.TripleRecord, bool, error) {
	rec, ok := f.records[key]
	return rec, ok, nil
}

func testKey(s string) types.Key {
	return types.MakeKey(types.EntityIDFromString(s), types.AttributeIDFromString("a"))
}

func TestSweepReclaimsEligibleTombstone(t *testing.T) {
	store := newFakeStore()
	key := testKey("alice")
	rec := types.NewTripleRecord(key.Entity(), key.Attribute(), types.NumberValue(1), 1, types.HlcTimestamp{})
	rec.DeletedTxn = 5
	store.records[key] = rec
	store.queue = []tombstone.Entry{{Key: key, DeletedTxn: 5}}

	c := NewCollector(store, nil)
	stats, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Reclaimed != 1 || stats.Requeued != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.removed) != 1 || store.removed[0] != key {
		t.Fatalf("expected key removed, got %v", store.removed)
	}
}

func TestSweepRequeuesWhenSnapshotStillActive(t *testing.T) {
	store := newFakeStore()
	key := testKey("alice")
	rec := types.NewTripleRecord(key.Entity(), key.Attribute(), types.NumberValue(1), 1, types.HlcTimestamp{})
	rec.DeletedTxn = 5
	store.records[key] = rec
	store.queue = []tombstone.Entry{{Key: key, DeletedTxn: 5}}
	pinned := types.TxnID(3)
	store.watermark = &pinned

	c := NewCollector(store, nil)
	stats, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Reclaimed != 0 || stats.Requeued != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.queue) != 1 {
		t.Fatalf("expected entry requeued, got queue %v", store.queue)
	}
}

func TestSweepDropsEntrySupersededByLaterWrite(t *testing.T) {
	store := newFakeStore()
	key := testKey("alice")
	// record at key was reinserted (created_txn > the txn that produced
	// this stale tombstone entry); it no longer matches the entry.
	rec := types.NewTripleRecord(key.Entity(), key.Attribute(), types.NumberValue(2), 10, types.HlcTimestamp{})
	store.records[key] = rec
	store.queue = []tombstone.Entry{{Key: key, DeletedTxn: 5}}

	c := NewCollector(store, nil)
	stats, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Reclaimed != 0 || stats.Requeued != 0 {
		t.Fatalf("expected stale entry dropped without reclaim or requeue, got %+v", stats)
	}
	if len(store.removed) != 0 {
		t.Fatalf("expected no removal, got %v", store.removed)
	}
}

func TestSweepEmptyQueueIsNoop(t *testing.T) {
	store := newFakeStore()
	c := NewCollector(store, nil)
	stats, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Considered != 0 {
		t.Fatalf("expected nothing considered, got %+v", stats)
	}
}
