// Package index is a thin adapter over the B-tree that enforces the
// MVCC record layout: at most one live record per (entity, attribute)
// key, with updates and deletes retaining the prior version as a
// tombstoned shadow for snapshots that may still need it.
package index

import (
	"bytes"

	"github.com/nainya/triplestore/internal/storage/btree"
	"github.com/nainya/triplestore/internal/types"
)

// Index wraps a *btree.BTree keyed by types.Key, storing
// types.TripleRecord-encoded values.
type Index struct {
	tree *btree.BTree
}

// New wraps tree for MVCC-record access.
func New(tree *btree.BTree) *Index {
	return &Index{tree: tree}
}

// Root exposes the underlying tree's root page, for persisting into
// the superblock.
func (idx *Index) Root() uint64 { return uint64(idx.tree.Root()) }

func get(tree *btree.BTree, key types.Key) (types.TripleRecord, bool, error) {
	raw, ok, err := tree.Get(key.Bytes())
	if err != nil || !ok {
		return types.TripleRecord{}, ok, err
	}
	rec, err := types.DecodeTripleRecord(raw)
	return rec, true, err
}

// Get performs a point lookup, returning the raw record regardless of
// visibility; the caller (a transaction or snapshot) applies
// IsVisibleTo.
func (idx *Index) Get(entity types.EntityID, attribute types.AttributeID) (types.TripleRecord, bool, error) {
	return get(idx.tree, types.MakeKey(entity, attribute))
}

// Insert requires that no live record currently occupies the key.
func (idx *Index) Insert(entity types.EntityID, attribute types.AttributeID, value types.Value, txnID types.TxnID, hlc types.HlcTimestamp) (types.TripleRecord, error) {
	key := types.MakeKey(entity, attribute)
	existing, ok, err := get(idx.tree, key)
	if err != nil {
		return types.TripleRecord{}, err
	}
	if ok && !existing.IsDeleted() {
		return types.TripleRecord{}, types.ErrAlreadyExists
	}
	rec := types.NewTripleRecord(entity, attribute, value, txnID, hlc)
	if err := idx.tree.Insert(key.Bytes(), rec.Encode()); err != nil {
		return types.TripleRecord{}, err
	}
	return rec, nil
}

// UpsertResult reports the new record and, if a live record was
// superseded, the tombstoned shadow of what it replaced.
type UpsertResult struct {
	Record  types.TripleRecord
	Shadow  *types.TripleRecord
	Existed bool
}

// Upsert inserts a fresh record if none exists, or replaces a live
// record in place, keeping the superseded version as a shadow the
// caller should enqueue for tombstone GC.
func (idx *Index) Upsert(entity types.EntityID, attribute types.AttributeID, value types.Value, txnID types.TxnID, hlc types.HlcTimestamp) (UpsertResult, error) {
	key := types.MakeKey(entity, attribute)
	existing, ok, err := get(idx.tree, key)
	if err != nil {
		return UpsertResult{}, err
	}
	rec := types.NewTripleRecord(entity, attribute, value, txnID, hlc)
	if err := idx.tree.Insert(key.Bytes(), rec.Encode()); err != nil {
		return UpsertResult{}, err
	}
	result := UpsertResult{Record: rec}
	if ok && !existing.IsDeleted() {
		shadow := existing
		shadow.DeletedTxn = txnID
		result.Shadow = &shadow
		result.Existed = true
	}
	return result, nil
}

// Delete marks the live record at (entity, attribute) as deleted by
// txnID, returning the updated (tombstoned) record for the caller to
// enqueue for GC. It reports types.ErrNotFound if no live record
// exists.
func (idx *Index) Delete(entity types.EntityID, attribute types.AttributeID, txnID types.TxnID) (types.TripleRecord, error) {
	key := types.MakeKey(entity, attribute)
	existing, ok, err := get(idx.tree, key)
	if err != nil {
		return types.TripleRecord{}, err
	}
	if !ok || existing.IsDeleted() {
		return types.TripleRecord{}, types.ErrNotFound
	}
	existing.DeletedTxn = txnID
	if err := idx.tree.Insert(key.Bytes(), existing.Encode()); err != nil {
		return types.TripleRecord{}, err
	}
	return existing, nil
}

// Remove physically deletes the B-tree entry at key, freeing any
// overflow pages it owned. Used by GC once a tombstone is eligible for
// reclamation, never by live transaction operations.
func (idx *Index) Remove(key types.Key) (bool, error) {
	return idx.tree.Delete(key.Bytes())
}

// ScanEntity returns every record (live or tombstoned) whose key has
// the given entity, in attribute order.
func (idx *Index) ScanEntity(entity types.EntityID) ([]types.TripleRecord, error) {
	start := types.MakeKey(entity, types.AttributeID{})
	var records []types.TripleRecord
	err := idx.tree.Scan(start.Bytes(), func(key, val []byte) (bool, error) {
		if !bytes.Equal(key[:types.IDSize], entity.Bytes()) {
			return false, nil
		}
		rec, err := types.DecodeTripleRecord(val)
		if err != nil {
			return false, err
		}
		records = append(records, rec)
		return true, nil
	})
	return records, err
}

// ScanAll returns every record (live or tombstoned) in the index, in
// key order. Used by the query engine when a pattern's entity position
// is an unbound variable and no narrower scan applies.
func (idx *Index) ScanAll() ([]types.TripleRecord, error) {
	var records []types.TripleRecord
	err := idx.tree.Scan(nil, func(_, val []byte) (bool, error) {
		rec, err := types.DecodeTripleRecord(val)
		if err != nil {
			return false, err
		}
		records = append(records, rec)
		return true, nil
	})
	return records, err
}

// ScanRange returns every record with key in [from, to), following
// leaf links.
func (idx *Index) ScanRange(from, to types.Key) ([]types.TripleRecord, error) {
	var records []types.TripleRecord
	err := idx.tree.Scan(from.Bytes(), func(key, val []byte) (bool, error) {
		if bytes.Compare(key, to.Bytes()) >= 0 {
			return false, nil
		}
		rec, err := types.DecodeTripleRecord(val)
		if err != nil {
			return false, err
		}
		records = append(records, rec)
		return true, nil
	})
	return records, err
}
