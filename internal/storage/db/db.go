// Package db wires the page, allocator, WAL, B-tree, index, and tombstone
// layers into one opened database handle: it owns the single writer
// lock, the HLC, and the change-notification hub, and is the only place
// that constructs a txn.Deps or a Snapshot.
package db

import (
	"fmt"
	"sync"
	"time"

	"github.com/nainya/triplestore/internal/faultinjector"
	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/storage/allocator"
	"github.com/nainya/triplestore/internal/storage/btree"
	"github.com/nainya/triplestore/internal/storage/bufferpool"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/hlc"
	"github.com/nainya/triplestore/internal/storage/index"
	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/storage/recovery"
	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/storage/txn"
	"github.com/nainya/triplestore/internal/storage/wal"
	"github.com/nainya/triplestore/internal/types"
)

// DefaultWALPages is the page count reserved for the WAL region at
// creation time when the caller does not override it.
const DefaultWALPages = 1024

// Options configures Create and Open.
type Options struct {
	NodeID             uint32
	BufferPoolCapacity int    // 0 uses bufferpool.DefaultCapacity; ignored when SharedPool is set
	WALPages           uint64 // 0 uses DefaultWALPages, Create only

	SharedPool *bufferpool.Pool // when set, used instead of allocating a private pool

	Logger  *logger.Logger   // when set, the WAL and commit path log through it
	Metrics *metrics.Metrics // when set, the WAL and commit path record through it

	Injector *faultinjector.Injector // when set, armed crash points fire along the commit path
}

func (o Options) pool() *bufferpool.Pool {
	if o.SharedPool != nil {
		return o.SharedPool
	}
	return bufferpool.New(o.BufferPoolCapacity)
}

// Database is one opened triple-store file: every exported method that
// touches mutable state either acquires mu itself or hands it to a
// txn.Transaction to hold for the duration of commit.
type Database struct {
	mu sync.Mutex

	path  string
	pool  *bufferpool.Pool
	file  *file.DatabaseFile
	alloc *allocator.Allocator
	store *pageStore

	wal        *wal.WAL
	tree       *btree.BTree
	index      *index.Index
	tombstones *tombstone.Queue
	pins       *tombstone.ActiveSnapshotSet
	clock      *hlc.Clock

	nextTxnID     uint64
	checkpointHLC types.HlcTimestamp
	tombstoneHead page.ID

	broadcast *broadcaster

	recoveryStats recovery.Stats

	logger   *logger.Logger
	metrics  *metrics.Metrics
	injector *faultinjector.Injector
}

// Create lays down a brand-new database file at path: superblock, a
// single allocator bitmap page, and an empty WAL region, in the on-disk
// order superblock / bitmap / WAL / data that spec.md's layout names.
func Create(path string, opts Options) (*Database, error) {
	pool := opts.pool()
	f, err := file.Create(path, pool)
	if err != nil {
		return nil, err
	}
	if err := f.InitializeEmpty(page.Superblock{Version: page.FormatVersion}); err != nil {
		f.Close()
		return nil, err
	}

	walPages := opts.WALPages
	if walPages == 0 {
		walPages = DefaultWALPages
	}
	dataStartPage := page.ID(f.TotalPages() + 1 + walPages)

	alloc, err := allocator.Create(f, dataStartPage)
	if err != nil {
		f.Close()
		return nil, err
	}
	w, err := wal.Create(f, walPages)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.SetObserver(opts.Logger, opts.Metrics)
	if page.ID(f.TotalPages()) != dataStartPage {
		f.Close()
		return nil, fmt.Errorf("%w: data region start drifted from the planned layout", types.ErrCorruption)
	}

	store := newPageStore(f, alloc)
	tree := btree.New(store, page.InvalidPageID)
	idx := index.New(tree)
	tombstones := tombstone.New()
	clock := hlc.New(opts.NodeID)

	d := &Database{
		path: path, pool: pool, file: f, alloc: alloc, store: store,
		wal: w, tree: tree, index: idx, tombstones: tombstones,
		pins: tombstone.NewActiveSnapshotSet(), clock: clock,
		nextTxnID: 1, broadcast: newBroadcaster(),
		tombstoneHead: page.InvalidPageID,
		logger: opts.Logger, metrics: opts.Metrics, injector: opts.Injector,
	}
	if err := d.writeSuperblock(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Open reopens an existing database file, replaying any committed
// transactions written after the last checkpoint.
func Open(path string, opts Options) (*Database, error) {
	pool := opts.pool()
	f, err := file.Open(path, pool)
	if err != nil {
		return nil, err
	}
	sb, err := f.ReadSuperblock()
	if err != nil {
		f.Close()
		return nil, err
	}

	dataStartPage := page.ID(uint64(sb.WAL.StartPage) + sb.WAL.PageCount)
	alloc, err := allocator.Load(f, sb.Allocator.StartPage, dataStartPage)
	if err != nil {
		f.Close()
		return nil, err
	}
	w, err := wal.Load(f, sb.WAL, sb.WALHeadOffset, sb.WALCheckpointOffset, sb.WALLastLSN)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.SetObserver(opts.Logger, opts.Metrics)

	store := newPageStore(f, alloc)
	tree := btree.New(store, sb.BTreeRootPage)
	idx := index.New(tree)
	tombstones, err := tombstone.Load(store, sb.TombstoneHeadPage)
	if err != nil {
		f.Close()
		return nil, err
	}
	clock := hlc.New(opts.NodeID)
	clock.Seed(sb.CheckpointHLC)

	d := &Database{
		path: path, pool: pool, file: f, alloc: alloc, store: store,
		wal: w, tree: tree, index: idx, tombstones: tombstones,
		pins: tombstone.NewActiveSnapshotSet(), clock: clock,
		nextTxnID: sb.NextTxnID, checkpointHLC: sb.CheckpointHLC,
		broadcast: newBroadcaster(), tombstoneHead: sb.TombstoneHeadPage,
		logger: opts.Logger, metrics: opts.Metrics, injector: opts.Injector,
	}

	records, err := w.ReadAll()
	if err != nil {
		f.Close()
		return nil, err
	}
	recoveryStart := time.Now()
	stats, err := recovery.Recover(records, d.replay)
	if d.logger != nil {
		d.logger.LogRecovery(stats.TransactionsReplayed, stats.TransactionsDiscarded, stats.LastLSN, time.Since(recoveryStart), err)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	d.recoveryStats = stats
	if maxTxn := recovery.MaxCommittedTxnID(records); uint64(maxTxn)+1 > d.nextTxnID {
		d.nextTxnID = uint64(maxTxn) + 1
	}

	// The replayed operations are now in the tree: make them durable and
	// move the checkpoint past them so the next Open does not replay them.
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.AdvanceCheckpoint(w.HeadOffset()); err != nil {
		f.Close()
		return nil, err
	}
	if err := d.writeSuperblock(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// replay applies one already-committed WAL record to the index during
// recovery, using the logged txn id and HLC rather than freshly
// allocating new ones.
func (d *Database) replay(op wal.RecordType, txnID types.TxnID, hlcTS types.HlcTimestamp, payload []byte) error {
	switch op {
	case wal.RecordInsert:
		entity, attribute, value, err := wal.DecodeTripleOpPayload(payload)
		if err != nil {
			return err
		}
		_, err = d.index.Insert(entity, attribute, value, txnID, hlcTS)
		return err
	case wal.RecordUpdate:
		entity, attribute, value, err := wal.DecodeTripleOpPayload(payload)
		if err != nil {
			return err
		}
		result, err := d.index.Upsert(entity, attribute, value, txnID, hlcTS)
		if err != nil {
			return err
		}
		if result.Shadow != nil {
			d.tombstones.Enqueue(result.Shadow.Key(), result.Shadow.DeletedTxn)
		}
		return nil
	case wal.RecordDelete:
		key, err := wal.DecodeDeleteKeyPayload(payload)
		if err != nil {
			return err
		}
		rec, err := d.index.Delete(key.Entity(), key.Attribute(), txnID)
		if err != nil {
			return err
		}
		d.tombstones.Enqueue(rec.Key(), rec.DeletedTxn)
		return nil
	default:
		return fmt.Errorf("%w: unreplayable wal record type %v", types.ErrCorruption, op)
	}
}

// writeSuperblock snapshots current in-memory state into the durable
// superblock and syncs it. Called after Create/Open and by the
// checkpoint package; never called mid-commit.
func (d *Database) writeSuperblock() error {
	sb := page.Superblock{
		Version:             page.FormatVersion,
		TotalPages:          d.file.TotalPages(),
		Allocator:           page.Extent{StartPage: d.alloc.FirstBitmapPage(), PageCount: d.alloc.BitmapPageCount()},
		WAL:                 d.wal.Extent(),
		WALHeadOffset:       d.wal.HeadOffset(),
		WALLastLSN:          d.wal.LastLSN(),
		WALCheckpointOffset: d.wal.CheckpointOffset(),
		CheckpointLSN:       d.wal.LastLSN(),
		CheckpointHLC:       d.checkpointHLC,
		BTreeRootPage:       d.tree.Root(),
		NextTxnID:           d.nextTxnID,
	}
	head, err := d.tombstones.Flush(d.store, d.tombstoneHead)
	if err != nil {
		return err
	}
	d.tombstoneHead = head
	sb.TombstoneHeadPage = head
	return d.file.WriteSuperblock(sb)
}

// Begin starts a new write transaction attributed to connID.
func (d *Database) Begin(connID types.ConnectionID) *txn.Transaction {
	return txn.Begin(txn.Deps{
		WAL:                d.wal,
		Index:               d.index,
		Tombstones:          d.tombstones,
		Clock:               d.clock,
		NextTxnID:           &d.nextTxnID,
		Lock:                &d.mu,
		SourceConnectionID:  connID,
		Publish:             d.broadcast.Publish,
		OnCommitHLC:         func(hlcTS types.HlcTimestamp) { d.checkpointHLC = hlcTS },
		Logger:              d.logger,
		Metrics:             d.metrics,
		Crash:               d.injector,
	})
}

// Snapshot pins a read-only view at the most recently committed
// transaction id.
func (d *Database) Snapshot() *Snapshot {
	d.mu.Lock()
	txnID := types.TxnID(d.nextTxnID - 1)
	d.mu.Unlock()
	return newSnapshot(txnID, d.index, d.pins)
}

// Subscribe registers connID for change notifications not originated by
// itself.
func (d *Database) Subscribe(connID types.ConnectionID) <-chan types.ChangeNotification {
	return d.broadcast.Subscribe(connID)
}

// Unsubscribe removes connID's change feed.
func (d *Database) Unsubscribe(connID types.ConnectionID) {
	d.broadcast.Unsubscribe(connID)
}

// Checkpoint flushes dirty state and advances the durable checkpoint
// position; see the checkpoint package for the periodic driver.
func (d *Database) Checkpoint() error {
	_, err := d.checkpointLocked()
	return err
}

// CheckpointResult reports what one checkpoint pass advanced.
type CheckpointResult struct {
	NewCheckpointLSN uint64
	NewCheckpointHLC types.HlcTimestamp
}

// ForceCheckpoint runs a checkpoint immediately and reports the new
// checkpoint position, for callers that want more than a bare error
// (the checkpoint package's ticker uses the plain Checkpoint instead).
func (d *Database) ForceCheckpoint() (CheckpointResult, error) {
	return d.checkpointLocked()
}

func (d *Database) checkpointLocked() (result CheckpointResult, err error) {
	start := time.Now()
	defer func() {
		if d.logger != nil {
			d.logger.CheckpointLogger().LogCheckpoint(result.NewCheckpointLSN, time.Since(start), err)
		}
		if d.metrics != nil && err == nil {
			d.metrics.RecordCheckpoint(time.Since(start))
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err = d.triggerCrash(faultinjector.PointBeforeCheckpoint); err != nil {
		return CheckpointResult{}, err
	}
	if err = d.file.Sync(); err != nil {
		return CheckpointResult{}, err
	}
	newOffset := d.wal.HeadOffset()
	if err = d.wal.AdvanceCheckpoint(newOffset); err != nil {
		return CheckpointResult{}, err
	}
	if err = d.writeSuperblock(); err != nil {
		return CheckpointResult{}, err
	}
	if err = d.triggerCrash(faultinjector.PointAfterCheckpoint); err != nil {
		return CheckpointResult{}, err
	}
	if d.metrics != nil {
		if live, scanErr := d.index.ScanAll(); scanErr == nil {
			d.metrics.UpdateDbStats(int64(d.file.TotalPages())*page.Size, int64(len(live)))
		}
	}
	result = CheckpointResult{NewCheckpointLSN: d.wal.LastLSN(), NewCheckpointHLC: d.checkpointHLC}
	return result, nil
}

// triggerCrash reports whether an injected crash fired at p, a no-op if
// no Injector was configured via Options.Injector.
func (d *Database) triggerCrash(p faultinjector.Point) error {
	if d.injector == nil {
		return nil
	}
	return d.injector.Trigger(p)
}

// GCWatermark reports the minimum pinned snapshot txn id, or nil if no
// snapshot is active, for use by the gc package.
func (d *Database) GCWatermark() *types.TxnID { return d.pins.Min() }

// DequeueTombstones removes up to n queued tombstones for the gc package
// to process; callers must Requeue any it cannot reclaim yet.
func (d *Database) DequeueTombstones(n int) []tombstone.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tombstones.Dequeue(n)
}

// RequeueTombstones puts entries back at the front of the queue.
func (d *Database) RequeueTombstones(entries []tombstone.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tombstones.Requeue(entries)
}

// RemoveIndexEntry physically deletes key from the primary index; used
// by the gc package once a tombstone is GC-eligible.
func (d *Database) RemoveIndexEntry(key types.Key) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Remove(key)
}

// RecordAt returns the current record occupying key, for the gc package
// to re-check GC eligibility (the occupant may have been reinserted
// since the tombstone entry was enqueued).
func (d *Database) RecordAt(key types.Key) (types.TripleRecord, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Get(key.Entity(), key.Attribute())
}

// RecoveryStats reports what the last Open replayed, for callers that
// want to surface it (a zero value if the database was freshly Create'd
// or recovery found nothing to replay).
func (d *Database) RecoveryStats() recovery.Stats { return d.recoveryStats }

// Path returns the file path this database was opened from.
func (d *Database) Path() string { return d.path }

// Pool returns the buffer pool backing this database, shared across
// every database opened from the same registry.
func (d *Database) Pool() *bufferpool.Pool { return d.pool }

// Close releases the underlying file descriptor. The caller should
// Checkpoint first if a clean shutdown is desired.
func (d *Database) Close() error {
	return d.file.Close()
}
