// Package txn implements the write transaction: a buffer of pending
// operations that validates against the latest committed state plus its
// own writes, then commits by the fixed nine-step algorithm (WAL append,
// sync as the linearization point, index apply, notify, release).
package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/nainya/triplestore/internal/faultinjector"
	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/storage/hlc"
	"github.com/nainya/triplestore/internal/storage/index"
	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/storage/wal"
	"github.com/nainya/triplestore/internal/types"
)

// ErrClosed is returned by any operation on a transaction that has already
// committed or aborted.
var ErrClosed = fmt.Errorf("%w: transaction already committed or aborted", types.ErrValidation)

type opKind uint8

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type pendingOp struct {
	kind      opKind
	entity    types.EntityID
	attribute types.AttributeID
	value     types.Value
}

type stagedRecord struct {
	deleted bool
	record  types.TripleRecord
}

// Deps bundles everything Commit needs, owned by the Database and handed
// to Begin. Lock is the database's single writer lock (acquired for the
// duration of commit, steps 1-9); Publish and OnCommitHLC are callbacks
// into the owning Database for broadcasting the change and advancing its
// in-memory checkpoint-candidate bookkeeping. Metrics and Crash are both
// optional: a nil Metrics records nothing, and a nil Crash never fires.
type Deps struct {
	WAL                *wal.WAL
	Index              *index.Index
	Tombstones         *tombstone.Queue
	Clock              *hlc.Clock
	NextTxnID          *uint64
	Lock               sync.Locker
	SourceConnectionID types.ConnectionID
	Publish            func(types.ChangeNotification)
	OnCommitHLC        func(types.HlcTimestamp)
	Logger             *logger.Logger
	Metrics            *metrics.Metrics
	Crash              *faultinjector.Injector
}

// observeOp logs and records one buffered operation call (not its
// eventual commit), the way DbLogger/LogDbOperation/RecordDbOperation
// are scoped: per insert/update/delete invocation, not per commit.
func (tx *Transaction) observeOp(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if tx.deps.Logger != nil {
		tx.deps.Logger.LogDbOperation(operation, time.Since(start), 1, err)
	}
	if tx.deps.Metrics != nil {
		tx.deps.Metrics.RecordDbOperation(operation, status, time.Since(start))
	}
}

// triggerCrash reports whether an injected crash fired at p, a no-op if
// Deps.Crash is nil.
func (tx *Transaction) triggerCrash(p faultinjector.Point) error {
	if tx.deps.Crash == nil {
		return nil
	}
	return tx.deps.Crash.Trigger(p)
}

// Transaction buffers insert/update/delete operations and a staged view
// of their effect, overlaid on the latest committed state for get/scan
// calls made before commit.
type Transaction struct {
	deps   Deps
	ops    []pendingOp
	staged map[types.Key]stagedRecord
	done   bool
}

// Begin starts a new write transaction against deps. No txn id is
// allocated and nothing is logged until Commit succeeds.
func Begin(deps Deps) *Transaction {
	return &Transaction{deps: deps, staged: make(map[types.Key]stagedRecord)}
}

// Insert buffers an insert, requiring that no live record (committed or
// staged by this same transaction) currently occupies (entity, attribute).
func (tx *Transaction) Insert(entity types.EntityID, attribute types.AttributeID, value types.Value) (rec types.TripleRecord, err error) {
	start := time.Now()
	defer func() { tx.observeOp("insert", start, err) }()

	if tx.done {
		return types.TripleRecord{}, ErrClosed
	}
	if err = value.Validate(); err != nil {
		return types.TripleRecord{}, err
	}
	key := types.MakeKey(entity, attribute)
	if s, ok := tx.staged[key]; ok {
		if !s.deleted {
			return types.TripleRecord{}, types.ErrAlreadyExists
		}
	} else {
		existing, ok, getErr := tx.deps.Index.Get(entity, attribute)
		if getErr != nil {
			return types.TripleRecord{}, getErr
		}
		if ok && !existing.IsDeleted() {
			return types.TripleRecord{}, types.ErrAlreadyExists
		}
	}
	rec = types.NewTripleRecord(entity, attribute, value, 0, types.HlcTimestamp{})
	tx.ops = append(tx.ops, pendingOp{kind: opInsert, entity: entity, attribute: attribute, value: value})
	tx.staged[key] = stagedRecord{record: rec}
	return rec, nil
}

// Update buffers an upsert: insert fresh if no live record exists, else
// replace it in place, per spec.md semantics (wal.RecordUpdate,
// index.Upsert).
func (tx *Transaction) Update(entity types.EntityID, attribute types.AttributeID, value types.Value) (rec types.TripleRecord, err error) {
	start := time.Now()
	defer func() { tx.observeOp("update", start, err) }()

	if tx.done {
		return types.TripleRecord{}, ErrClosed
	}
	if err = value.Validate(); err != nil {
		return types.TripleRecord{}, err
	}
	key := types.MakeKey(entity, attribute)
	rec = types.NewTripleRecord(entity, attribute, value, 0, types.HlcTimestamp{})
	tx.ops = append(tx.ops, pendingOp{kind: opUpdate, entity: entity, attribute: attribute, value: value})
	tx.staged[key] = stagedRecord{record: rec}
	return rec, nil
}

// Delete buffers a delete, requiring that a live record currently occupies
// (entity, attribute).
func (tx *Transaction) Delete(entity types.EntityID, attribute types.AttributeID) (err error) {
	start := time.Now()
	defer func() { tx.observeOp("delete", start, err) }()

	if tx.done {
		return ErrClosed
	}
	key := types.MakeKey(entity, attribute)
	if s, ok := tx.staged[key]; ok {
		if s.deleted {
			return types.ErrNotFound
		}
	} else {
		existing, ok, getErr := tx.deps.Index.Get(entity, attribute)
		if getErr != nil {
			return getErr
		}
		if !ok || existing.IsDeleted() {
			return types.ErrNotFound
		}
	}
	tx.ops = append(tx.ops, pendingOp{kind: opDelete, entity: entity, attribute: attribute})
	tx.staged[key] = stagedRecord{deleted: true}
	return nil
}

// Get sees the transaction's own buffered writes overlaid on the latest
// committed state.
func (tx *Transaction) Get(entity types.EntityID, attribute types.AttributeID) (types.TripleRecord, bool, error) {
	if tx.done {
		return types.TripleRecord{}, false, ErrClosed
	}
	key := types.MakeKey(entity, attribute)
	if s, ok := tx.staged[key]; ok {
		if s.deleted {
			return types.TripleRecord{}, false, nil
		}
		return s.record, true, nil
	}
	rec, ok, err := tx.deps.Index.Get(entity, attribute)
	if err != nil || !ok || rec.IsDeleted() {
		return types.TripleRecord{}, false, err
	}
	return rec, true, nil
}

// ScanEntity returns the live records for entity, with this transaction's
// own buffered writes overlaid on the latest committed state.
func (tx *Transaction) ScanEntity(entity types.EntityID) ([]types.TripleRecord, error) {
	if tx.done {
		return nil, ErrClosed
	}
	committed, err := tx.deps.Index.ScanEntity(entity)
	if err != nil {
		return nil, err
	}
	merged := make(map[types.AttributeID]types.TripleRecord)
	for _, rec := range committed {
		if !rec.IsDeleted() {
			merged[rec.AttributeID] = rec
		}
	}
	for key, s := range tx.staged {
		if key.Entity() != entity {
			continue
		}
		if s.deleted {
			delete(merged, key.Attribute())
		} else {
			merged[key.Attribute()] = s.record
		}
	}
	out := make([]types.TripleRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	return out, nil
}

// Abort discards the buffer. It is infallible and has no side effects:
// nothing was logged or applied before this point.
func (tx *Transaction) Abort() {
	tx.done = true
	tx.ops = nil
	tx.staged = nil
}

// Commit runs the nine-step commit algorithm. A transaction with no
// buffered ops commits trivially without touching the WAL or the writer
// lock. If WAL sync fails, the index is left untouched and the
// transaction is treated as aborted; recovery discards its prefix because
// no Commit record was written.
func (tx *Transaction) Commit() (records []types.TripleRecord, err error) {
	if tx.done {
		return nil, ErrClosed
	}
	tx.done = true
	if len(tx.ops) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		if tx.deps.Metrics != nil && err == nil {
			tx.deps.Metrics.RecordCommit(time.Since(start))
		}
	}()

	// Step 1: acquire the single writer lock on the database.
	tx.deps.Lock.Lock()
	defer tx.deps.Lock.Unlock()

	// Step 2: allocate txn_id and hlc.
	txnID := types.TxnID(*tx.deps.NextTxnID)
	hlcTS, err := tx.deps.Clock.Next()
	if err != nil {
		return nil, err
	}

	// Step 3: append a log record per buffered op, in order.
	for _, op := range tx.ops {
		rec, err := tx.encodeRecord(op, txnID, hlcTS)
		if err != nil {
			return nil, err
		}
		if err := tx.deps.WAL.Append(rec); err != nil {
			return nil, err
		}
	}

	// Step 4: append the terminating Commit record.
	commitRec := wal.Record{
		LSN:     tx.deps.WAL.NextLSN(),
		TxnID:   txnID,
		HLC:     hlcTS,
		Type:    wal.RecordCommit,
		Payload: wal.CommitPayload(uint32(len(tx.ops))),
	}
	if err := tx.deps.WAL.Append(commitRec); err != nil {
		return nil, err
	}
	if err := tx.triggerCrash(faultinjector.PointAfterWALAppend); err != nil {
		return nil, err
	}

	// Step 5: sync — the linearization point. Only now is this transaction
	// considered committed; if this fails, steps 6-9 must not run.
	if err := tx.triggerCrash(faultinjector.PointBeforeWALSync); err != nil {
		return nil, err
	}
	if err := tx.deps.WAL.Sync(); err != nil {
		return nil, err
	}
	if err := tx.triggerCrash(faultinjector.PointAfterWALSync); err != nil {
		return nil, err
	}

	// Step 6: apply the same ops to the primary index, enqueueing
	// tombstones for anything superseded or deleted.
	if err := tx.triggerCrash(faultinjector.PointBeforeIndexApply); err != nil {
		return nil, err
	}
	records = make([]types.TripleRecord, 0, len(tx.ops))
	changes := make([]types.ChangeRecord, 0, len(tx.ops))
	for _, op := range tx.ops {
		switch op.kind {
		case opInsert:
			rec, err := tx.deps.Index.Insert(op.entity, op.attribute, op.value, txnID, hlcTS)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
			changes = append(changes, types.ChangeRecord{Type: types.ChangeInsert, Record: rec})
		case opUpdate:
			result, err := tx.deps.Index.Upsert(op.entity, op.attribute, op.value, txnID, hlcTS)
			if err != nil {
				return nil, err
			}
			if result.Shadow != nil {
				tx.deps.Tombstones.Enqueue(result.Shadow.Key(), result.Shadow.DeletedTxn)
			}
			records = append(records, result.Record)
			changeType := types.ChangeInsert
			if result.Existed {
				changeType = types.ChangeUpdate
			}
			changes = append(changes, types.ChangeRecord{Type: changeType, Record: result.Record})
		case opDelete:
			rec, err := tx.deps.Index.Delete(op.entity, op.attribute, txnID)
			if err != nil {
				return nil, err
			}
			tx.deps.Tombstones.Enqueue(rec.Key(), rec.DeletedTxn)
			records = append(records, rec)
			changes = append(changes, types.ChangeRecord{Type: types.ChangeDelete, Record: rec})
		}
	}

	if err := tx.triggerCrash(faultinjector.PointAfterIndexApply); err != nil {
		return nil, err
	}

	// Step 7: advance next_txn and the checkpoint-hlc candidate.
	*tx.deps.NextTxnID = uint64(txnID) + 1
	if tx.deps.OnCommitHLC != nil {
		tx.deps.OnCommitHLC(hlcTS)
	}

	// Step 8: construct and publish the change notification.
	if tx.deps.Publish != nil {
		tx.deps.Publish(types.ChangeNotification{
			SourceConnectionID: tx.deps.SourceConnectionID,
			TxnID:              txnID,
			HLC:                hlcTS,
			Records:            changes,
		})
	}

	// Step 9: the writer lock releases via the deferred Unlock above;
	// return the canonical records for every key written.
	return records, nil
}

func (tx *Transaction) encodeRecord(op pendingOp, txnID types.TxnID, hlcTS types.HlcTimestamp) (wal.Record, error) {
	lsn := tx.deps.WAL.NextLSN()
	switch op.kind {
	case opInsert:
		return wal.Record{LSN: lsn, TxnID: txnID, HLC: hlcTS, Type: wal.RecordInsert, Payload: wal.TripleOpPayload(op.entity, op.attribute, op.value)}, nil
	case opUpdate:
		return wal.Record{LSN: lsn, TxnID: txnID, HLC: hlcTS, Type: wal.RecordUpdate, Payload: wal.TripleOpPayload(op.entity, op.attribute, op.value)}, nil
	case opDelete:
		key := types.MakeKey(op.entity, op.attribute)
		return wal.Record{LSN: lsn, TxnID: txnID, HLC: hlcTS, Type: wal.RecordDelete, Payload: wal.DeleteKeyPayload(key)}, nil
	default:
		return wal.Record{}, fmt.Errorf("%w: unknown pending op kind", types.ErrCorruption)
	}
}
