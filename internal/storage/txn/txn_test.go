package txn

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nainya/triplestore/internal/storage/bufferpool"
	"github.com/nainya/triplestore/internal/storage/btree"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/hlc"
	"github.com/nainya/triplestore/internal/storage/index"
	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/storage/wal"
	"github.com/nainya/triplestore/internal/types"
)

// memPageStore is an in-memory page store backing the B-tree and
// tombstone queue in these tests, in the same spirit as the btree and
// tombstone packages' own test doubles.
type memPageStore struct {
	pages map[page.ID][]byte
	next  page.ID
}

func newMemPageStore() *memPageStore {
	return &memPageStore{pages: map[page.ID][]byte{}}
}

func (m *memPageStore) ReadPage(id page.ID) ([]byte, error) {
	buf, ok := m.pages[id]
	if !ok {
		panic(fmt.Sprintf("page %d not found", id))
	}
	return buf, nil
}

func (m *memPageStore) WritePage(id page.ID, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[id] = cp
	return nil
}

func (m *memPageStore) AllocatePage() (page.ID, error) {
	id := m.next
	m.next++
	return id, nil
}

func (m *memPageStore) FreePage(id page.ID) error {
	delete(m.pages, id)
	return nil
}

type testHarness struct {
	t          *testing.T
	wal        *wal.WAL
	index      *index.Index
	tombstones *tombstone.Queue
	clock      *hlc.Clock
	nextTxnID  uint64
	lock       sync.Mutex
	published  []types.ChangeNotification
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	pool := bufferpool.New(256)
	f, err := file.Create(filepath.Join(dir, "db"), pool)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := f.InitializeEmpty(page.Superblock{Version: page.FormatVersion}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	w, err := wal.Create(f, 8)
	if err != nil {
		t.Fatalf("create wal: %v", err)
	}

	store := newMemPageStore()
	tree := btree.New(store, page.InvalidPageID)
	idx := index.New(tree)

	return &testHarness{
		t:          t,
		wal:        w,
		index:      idx,
		tombstones: tombstone.New(),
		clock:      hlc.New(1),
		nextTxnID:  1,
	}
}

func (h *testHarness) begin(connID types.ConnectionID) *Transaction {
	return Begin(Deps{
		WAL:                h.wal,
		Index:              h.index,
		Tombstones:         h.tombstones,
		Clock:              h.clock,
		NextTxnID:          &h.nextTxnID,
		Lock:               &h.lock,
		SourceConnectionID: connID,
		Publish: func(n types.ChangeNotification) {
			h.published = append(h.published, n)
		},
	})
}

func entity(s string) types.EntityID       { return types.EntityIDFromString(s) }
func attribute(s string) types.AttributeID { return types.AttributeIDFromString(s) }

func TestTransactionInsertCommit(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")

	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	records, err := tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(records) != 1 || !records[0].Value.Equal(types.NumberValue(30)) {
		t.Fatalf("unexpected committed records: %v", records)
	}
	if h.nextTxnID != 2 {
		t.Fatalf("expected next txn id 2, got %d", h.nextTxnID)
	}

	got, ok, err := h.index.Get(entity("alice"), attribute("age"))
	if err != nil || !ok {
		t.Fatalf("get after commit: ok=%v err=%v", ok, err)
	}
	if got.CreatedTxn != 1 {
		t.Fatalf("expected created txn 1, got %d", got.CreatedTxn)
	}

	if len(h.published) != 1 {
		t.Fatalf("expected 1 published notification, got %d", len(h.published))
	}
	if h.published[0].SourceConnectionID != "conn-1" {
		t.Fatalf("expected source connection conn-1, got %q", h.published[0].SourceConnectionID)
	}
}

func TestTransactionGetSeesOwnWritesBeforeCommit(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")

	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec, ok, err := tx.Get(entity("alice"), attribute("age"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !rec.Value.Equal(types.NumberValue(30)) {
		t.Fatalf("expected staged value visible before commit, got %v", rec.Value)
	}

	_, ok, err = h.index.Get(entity("alice"), attribute("age"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected committed index to not see uncommitted write")
	}
}

func TestTransactionAbortHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")
	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	tx.Abort()

	_, ok, err := h.index.Get(entity("alice"), attribute("age"))
	if err != nil || ok {
		t.Fatalf("expected no committed state after abort: ok=%v err=%v", ok, err)
	}
	if h.nextTxnID != 1 {
		t.Fatalf("expected next txn id unchanged at 1, got %d", h.nextTxnID)
	}
	if len(h.published) != 0 {
		t.Fatal("expected no notification published after abort")
	}
}

func TestTransactionClosedRejectsFurtherOps(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")
	tx.Abort()

	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := tx.Commit(); err != ErrClosed {
		t.Fatalf("expected ErrClosed on double commit, got %v", err)
	}
}

func TestTransactionInsertRejectsDuplicateWithinSameTxn(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")
	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tx.Insert(entity("alice"), attribute("age"), types.NumberValue(31)); err != types.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestTransactionUpdateThenDeleteWithinSameTxn(t *testing.T) {
	h := newHarness(t)

	seed := h.begin("seed")
	if _, err := seed.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	tx := h.begin("conn-2")
	if _, err := tx.Update(entity("alice"), attribute("age"), types.NumberValue(31)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Delete(entity("alice"), attribute("age")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	records, err := tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 canonical records, got %d", len(records))
	}

	got, ok, err := h.index.Get(entity("alice"), attribute("age"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.IsDeleted() {
		t.Fatal("expected final state to be tombstoned")
	}
	if h.tombstones.Len() == 0 {
		t.Fatal("expected at least one tombstone queued")
	}
}

func TestTransactionScanEntityOverlaysStagedWrites(t *testing.T) {
	h := newHarness(t)

	seed := h.begin("seed")
	if _, err := seed.Insert(entity("alice"), attribute("age"), types.NumberValue(30)); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if _, err := seed.Insert(entity("alice"), attribute("name"), types.StringValue("Alice")); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	tx := h.begin("conn-2")
	if err := tx.Delete(entity("alice"), attribute("age")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tx.Insert(entity("alice"), attribute("email"), types.StringValue("a@example.com")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := tx.ScanEntity(entity("alice"))
	if err != nil {
		t.Fatalf("scan entity: %v", err)
	}
	attrs := map[string]bool{}
	for _, r := range records {
		attrs[r.AttributeID.String()] = true
	}
	if attrs["age"] {
		t.Fatal("expected staged delete to hide age from scan")
	}
	if !attrs["name"] || !attrs["email"] {
		t.Fatalf("expected name (committed) and email (staged) present, got %v", attrs)
	}
}

func TestTransactionEmptyCommitIsNoop(t *testing.T) {
	h := newHarness(t)
	tx := h.begin("conn-1")
	records, err := tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records for empty commit, got %v", records)
	}
	if h.nextTxnID != 1 {
		t.Fatalf("expected next txn id unchanged, got %d", h.nextTxnID)
	}
}
