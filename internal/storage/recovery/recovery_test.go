package recovery

import (
	"testing"

	"github.com/nainya/triplestore/internal/storage/wal"
	"github.com/nainya/triplestore/internal/types"
)

func rec(lsn uint64, txn types.TxnID, t wal.RecordType, hlcMs uint64) wal.Record {
	return wal.Record{LSN: lsn, TxnID: txn, HLC: types.HlcTimestamp{PhysicalMs: hlcMs}, Type: t, Payload: []byte{byte(txn)}}
}

func TestRecoverDiscardsUncommittedPrefix(t *testing.T) {
	records := []wal.Record{
		rec(1, 1, wal.RecordBegin, 1),
		rec(2, 1, wal.RecordInsert, 1),
		rec(3, 1, wal.RecordCommit, 1),
		rec(4, 2, wal.RecordBegin, 2),
		rec(5, 2, wal.RecordInsert, 2), // no commit: crash mid-transaction
	}

	var replayed []types.TxnID
	stats, err := Recover(records, func(op wal.RecordType, txnID types.TxnID, hlc types.HlcTimestamp, payload []byte) error {
		replayed = append(replayed, txnID)
		return nil
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if stats.TransactionsReplayed != 1 || stats.TransactionsDiscarded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(replayed) != 1 || replayed[0] != 1 {
		t.Fatalf("expected only txn 1 replayed, got %v", replayed)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	records := []wal.Record{
		rec(1, 1, wal.RecordBegin, 1),
		rec(2, 1, wal.RecordInsert, 1),
		rec(3, 1, wal.RecordCommit, 1),
	}
	apply := func() []types.TxnID {
		var seen []types.TxnID
		_, err := Recover(records, func(op wal.RecordType, txnID types.TxnID, hlc types.HlcTimestamp, payload []byte) error {
			seen = append(seen, txnID)
			return nil
		})
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
		return seen
	}
	first := apply()
	second := apply()
	if len(first) != len(second) || first[0] != second[0] {
		t.Fatalf("expected idempotent replay: %v vs %v", first, second)
	}
}

func TestMaxCommittedTxnID(t *testing.T) {
	records := []wal.Record{
		rec(1, 1, wal.RecordCommit, 1),
		rec(2, 2, wal.RecordCommit, 2),
		rec(3, 3, wal.RecordBegin, 3),
	}
	if got := MaxCommittedTxnID(records); got != 2 {
		t.Fatalf("expected max committed txn 2, got %d", got)
	}
}
