package wal

import (
	"path/filepath"
	"testing"

	"github.com/nainya/triplestore/internal/storage/bufferpool"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

func newTestWAL(t *testing.T, pageCount uint64) (*WAL, *file.DatabaseFile) {
	t.Helper()
	dir := t.TempDir()
	pool := bufferpool.New(256)
	f, err := file.Create(filepath.Join(dir, "wal.db"), pool)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := f.InitializeEmpty(page.Superblock{Version: page.FormatVersion}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w, err := Create(f, pageCount)
	if err != nil {
		t.Fatalf("create wal: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return w, f
}

func appendRecord(t *testing.T, w *WAL, txn types.TxnID, rt RecordType, payload []byte) Record {
	t.Helper()
	rec := Record{LSN: w.NextLSN(), TxnID: txn, HLC: types.HlcTimestamp{PhysicalMs: uint64(txn)}, Type: rt, Payload: payload}
	if err := w.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	return rec
}

func TestAppendSyncReadAll(t *testing.T) {
	w, _ := newTestWAL(t, 4)
	appendRecord(t, w, 1, RecordBegin, nil)
	appendRecord(t, w, 1, RecordInsert, []byte("payload-1"))
	appendRecord(t, w, 1, RecordCommit, CommitPayload(1))

	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].LSN >= records[1].LSN || records[1].LSN >= records[2].LSN {
		t.Fatalf("expected strictly increasing LSNs, got %v", records)
	}
}

func TestRecordRoundTripAndChecksum(t *testing.T) {
	rec := Record{LSN: 5, TxnID: 9, HLC: types.HlcTimestamp{PhysicalMs: 42, LogicalCounter: 1}, Type: RecordInsert, Payload: []byte("hello")}
	encoded := rec.Encode()
	got, n, err := DecodeRecord(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("expected to consume all %d bytes, consumed %d", len(encoded), n)
	}
	if got.LSN != rec.LSN || got.TxnID != rec.TxnID || got.Type != rec.Type || string(got.Payload) != string(rec.Payload) {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, rec)
	}

	encoded[20] ^= 0xFF
	if _, _, err := DecodeRecord(encoded); err == nil {
		t.Fatal("expected checksum failure after corrupting an encoded HLC byte")
	}
}

func TestChangesSinceFiltersByHLC(t *testing.T) {
	w, _ := newTestWAL(t, 4)
	r1 := Record{LSN: w.NextLSN(), TxnID: 1, HLC: types.HlcTimestamp{PhysicalMs: 1}, Type: RecordCommit, Payload: CommitPayload(0)}
	r2 := Record{LSN: w.NextLSN(), TxnID: 2, HLC: types.HlcTimestamp{PhysicalMs: 5}, Type: RecordCommit, Payload: CommitPayload(0)}
	if err := w.Append(r1); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(r2); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}

	changes, err := w.ChangesSince(types.HlcTimestamp{PhysicalMs: 3})
	if err != nil {
		t.Fatalf("changes since: %v", err)
	}
	if len(changes) != 1 || changes[0].TxnID != 2 {
		t.Fatalf("expected only the later record, got %v", changes)
	}
}

func TestLoadRoundTripsAcrossReopen(t *testing.T) {
	w, f := newTestWAL(t, 4)
	appendRecord(t, w, 1, RecordBegin, nil)
	appendRecord(t, w, 1, RecordInsert, []byte("data"))
	appendRecord(t, w, 1, RecordCommit, CommitPayload(1))
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	loaded, err := Load(f, w.Extent(), w.HeadOffset(), w.CheckpointOffset(), w.LastLSN())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	records, err := loaded.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after reload, got %d", len(records))
	}
}

func TestAdvanceCheckpointReclaimsSpace(t *testing.T) {
	w, _ := newTestWAL(t, 1)
	rec := appendRecord(t, w, 1, RecordCommit, CommitPayload(0))
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}
	headBefore := w.HeadOffset()
	if err := w.AdvanceCheckpoint(headBefore); err != nil {
		t.Fatalf("advance checkpoint: %v", err)
	}
	if w.CheckpointOffset() != headBefore {
		t.Fatalf("expected checkpoint offset to advance to %d, got %d", headBefore, w.CheckpointOffset())
	}
	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records visible after full checkpoint, got %d", len(records))
	}
	_ = rec
}
