package tombstone

import (
	"fmt"
	"testing"

	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

type memStore struct {
	pages map[page.ID][]byte
	next  page.ID
	freed map[page.ID]bool
}

func newMemStore() *memStore {
	return &memStore{pages: map[page.ID][]byte{}, freed: map[page.ID]bool{}}
}

func (m *memStore) ReadPage(id page.ID) ([]byte, error) {
	buf, ok := m.pages[id]
	if !ok {
		panic(fmt.Sprintf("page %d not found", id))
	}
	return buf, nil
}

func (m *memStore) WritePage(id page.ID, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[id] = cp
	return nil
}

func (m *memStore) AllocatePage() (page.ID, error) {
	id := m.next
	m.next++
	return id, nil
}

func (m *memStore) FreePage(id page.ID) error {
	if _, ok := m.pages[id]; !ok {
		panic("page not allocated")
	}
	delete(m.pages, id)
	m.freed[id] = true
	return nil
}

func testKey(i int) types.Key {
	return types.MakeKey(types.EntityIDFromString(fmt.Sprintf("e%d", i)), types.AttributeIDFromString("a"))
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Enqueue(testKey(i), types.TxnID(i+1))
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", q.Len())
	}

	batch := q.Dequeue(3)
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	for i, e := range batch {
		if e.DeletedTxn != types.TxnID(i+1) {
			t.Fatalf("expected fifo order, got %v at %d", e.DeletedTxn, i)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Len())
	}
}

func TestQueueDequeueMoreThanAvailable(t *testing.T) {
	q := New()
	q.Enqueue(testKey(1), 1)
	batch := q.Dequeue(10)
	if len(batch) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(batch))
	}
	if q.Len() != 0 {
		t.Fatal("expected queue to be empty")
	}
}

func TestQueueRequeuePutsEntriesBackAtFront(t *testing.T) {
	q := New()
	q.Enqueue(testKey(1), 1)
	q.Enqueue(testKey(2), 2)

	batch := q.Dequeue(1)
	q.Enqueue(testKey(3), 3)
	q.Requeue(batch)

	all := q.Dequeue(q.Len())
	if len(all) != 3 || all[0].DeletedTxn != 1 {
		t.Fatalf("expected requeued entry first, got %v", all)
	}
}

func TestQueueFlushAndLoadRoundTrip(t *testing.T) {
	store := newMemStore()
	q := New()
	const n = entriesPerPage*2 + 7
	for i := 0; i < n; i++ {
		q.Enqueue(testKey(i), types.TxnID(i+1))
	}

	head, err := q.Flush(store, page.InvalidPageID)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if head == page.InvalidPageID {
		t.Fatal("expected non-empty chain head")
	}

	loaded, err := Load(store, head)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != n {
		t.Fatalf("expected %d entries after reload, got %d", n, loaded.Len())
	}
	batch := loaded.Dequeue(n)
	for i, e := range batch {
		if e.Key != testKey(i) || e.DeletedTxn != types.TxnID(i+1) {
			t.Fatalf("entry %d mismatch: %+v", i, e)
		}
	}
}

func TestQueueFlushEmptyYieldsInvalidHead(t *testing.T) {
	store := newMemStore()
	q := New()
	head, err := q.Flush(store, page.InvalidPageID)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if head != page.InvalidPageID {
		t.Fatal("expected invalid head for empty queue")
	}
}

func TestQueueFlushFreesPreviousChain(t *testing.T) {
	store := newMemStore()
	q := New()
	q.Enqueue(testKey(1), 1)
	head, err := q.Flush(store, page.InvalidPageID)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	q2 := New()
	q2.Enqueue(testKey(2), 2)
	if _, err := q2.Flush(store, head); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if !store.freed[head] {
		t.Fatal("expected old chain head to be freed")
	}
}

func TestLoadEmptyHead(t *testing.T) {
	store := newMemStore()
	q, err := Load(store, page.InvalidPageID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("expected empty queue")
	}
}

func TestActiveSnapshotSetMinWatermark(t *testing.T) {
	s := NewActiveSnapshotSet()
	if s.Min() != nil {
		t.Fatal("expected nil watermark with no active snapshots")
	}

	s.Acquire(5)
	s.Acquire(3)
	s.Acquire(3)

	min := s.Min()
	if min == nil || *min != 3 {
		t.Fatalf("expected min 3, got %v", min)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 distinct txns, got %d", s.Len())
	}

	s.Release(3)
	min = s.Min()
	if min == nil || *min != 3 {
		t.Fatalf("expected min still 3 with one reference left, got %v", min)
	}

	s.Release(3)
	min = s.Min()
	if min == nil || *min != 5 {
		t.Fatalf("expected min 5 after txn 3 fully released, got %v", min)
	}

	s.Release(5)
	if s.Min() != nil {
		t.Fatal("expected nil watermark after all released")
	}
}

func TestActiveSnapshotSetReleaseUnknownIsNoop(t *testing.T) {
	s := NewActiveSnapshotSet()
	s.Release(99)
	if s.Len() != 0 {
		t.Fatal("expected releasing an unknown txn to be a no-op")
	}
}
