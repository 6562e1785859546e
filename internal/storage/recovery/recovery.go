// Package recovery implements startup WAL replay: grouping log records by
// transaction, discarding any transaction that never reached a Commit
// record, and re-applying the rest to the primary index in commit order.
package recovery

import (
	"sort"

	"github.com/nainya/triplestore/internal/storage/wal"
	"github.com/nainya/triplestore/internal/types"
)

// ReplayFunc applies one logged operation to the primary index during
// recovery, using the transaction id and HLC the log recorded rather than
// generating fresh ones.
type ReplayFunc func(op wal.RecordType, txnID types.TxnID, hlc types.HlcTimestamp, payload []byte) error

// Stats summarizes a recovery pass, surfaced by Database.Open instead of
// being silently discarded.
type Stats struct {
	TransactionsReplayed  int
	TransactionsDiscarded int
	ReplayedOperations    int
	LastLSN               uint64
	LastHLC               types.HlcTimestamp
}

type txnGroup struct {
	txnID     types.TxnID
	records   []wal.Record
	committed bool
	commitLSN uint64
}

// Recover groups records (already in LSN order) by transaction, keeps
// only those that reached a Commit record, and replays their Insert,
// Update, and Delete operations, in commit order, through replay.
func Recover(records []wal.Record, replay ReplayFunc) (Stats, error) {
	groups := make(map[types.TxnID]*txnGroup)
	var order []types.TxnID

	for _, r := range records {
		g, ok := groups[r.TxnID]
		if !ok {
			g = &txnGroup{txnID: r.TxnID}
			groups[r.TxnID] = g
			order = append(order, r.TxnID)
		}
		g.records = append(g.records, r)
		if r.Type == wal.RecordCommit {
			g.committed = true
			g.commitLSN = r.LSN
		}
	}

	var stats Stats
	var committedGroups []*txnGroup
	for _, txnID := range order {
		g := groups[txnID]
		if g.committed {
			committedGroups = append(committedGroups, g)
		} else {
			stats.TransactionsDiscarded++
		}
	}

	sort.Slice(committedGroups, func(i, j int) bool {
		return committedGroups[i].commitLSN < committedGroups[j].commitLSN
	})

	for _, g := range committedGroups {
		for _, r := range g.records {
			switch r.Type {
			case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete:
				if err := replay(r.Type, r.TxnID, r.HLC, r.Payload); err != nil {
					return stats, err
				}
				stats.ReplayedOperations++
			}
			if r.LSN > stats.LastLSN {
				stats.LastLSN = r.LSN
			}
			if stats.LastHLC.Less(r.HLC) {
				stats.LastHLC = r.HLC
			}
		}
		stats.TransactionsReplayed++
	}

	return stats, nil
}

// MaxCommittedTxnID returns the highest txn id among committed groups in
// records, or 0 if none committed. Used to advance next_txn past it.
func MaxCommittedTxnID(records []wal.Record) types.TxnID {
	committed := make(map[types.TxnID]bool)
	for _, r := range records {
		if r.Type == wal.RecordCommit {
			committed[r.TxnID] = true
		}
	}
	var max types.TxnID
	for txn := range committed {
		if txn > max {
			max = txn
		}
	}
	return max
}
