package types

import (
	"encoding/binary"
	"fmt"
)

// TxnID identifies a transaction; 0 is reserved to mean "not deleted".
type TxnID uint64

// MetadataSize is the fixed-width portion of a TripleRecord preceding its
// tagged value: entity(16) + attribute(16) + created_txn(8) + deleted_txn(8)
// + created_hlc(16).
const MetadataSize = IDSize + IDSize + 8 + 8 + HlcTimestampSize

// TripleRecord is the physical unit stored under a primary-index key: an
// entity/attribute pair, the commit/tombstone metadata that makes it
// visible under MVCC, and the value itself.
type TripleRecord struct {
	EntityID    EntityID
	AttributeID AttributeID
	CreatedTxn  TxnID
	DeletedTxn  TxnID
	CreatedHLC  HlcTimestamp
	Value       Value
}

// NewTripleRecord builds a freshly created, live (DeletedTxn == 0) record.
func NewTripleRecord(entity EntityID, attribute AttributeID, value Value, createdTxn TxnID, createdHLC HlcTimestamp) TripleRecord {
	return TripleRecord{
		EntityID:    entity,
		AttributeID: attribute,
		CreatedTxn:  createdTxn,
		CreatedHLC:  createdHLC,
		Value:       value,
	}
}

// Key returns the primary-index key for this record.
func (r TripleRecord) Key() Key { return MakeKey(r.EntityID, r.AttributeID) }

// IsDeleted reports whether the record has been tombstoned.
func (r TripleRecord) IsDeleted() bool { return r.DeletedTxn != 0 }

// IsVisibleTo reports whether the record is visible to a reader holding a
// snapshot pinned at snapshotTxn: created at or before the snapshot, and
// either never deleted or deleted strictly after the snapshot.
func (r TripleRecord) IsVisibleTo(snapshotTxn TxnID) bool {
	if r.CreatedTxn > snapshotTxn {
		return false
	}
	return r.DeletedTxn == 0 || r.DeletedTxn > snapshotTxn
}

// IsGCEligible reports whether a tombstoned record may be physically
// reclaimed given the lowest still-active snapshot transaction id, if any.
// A record that was never deleted is never eligible. With no active
// snapshot at all, any tombstone is eligible.
func (r TripleRecord) IsGCEligible(minActiveSnapshot *TxnID) bool {
	if r.DeletedTxn == 0 {
		return false
	}
	if minActiveSnapshot == nil {
		return true
	}
	return r.DeletedTxn < *minActiveSnapshot
}

// EncodedSize returns the number of bytes Encode would produce.
func (r TripleRecord) EncodedSize() int {
	return MetadataSize + r.Value.EncodedSize()
}

// Encode serializes the record to its physical byte layout.
func (r TripleRecord) Encode() []byte {
	buf := make([]byte, MetadataSize, r.EncodedSize())
	copy(buf[0:16], r.EntityID[:])
	copy(buf[16:32], r.AttributeID[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.CreatedTxn))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(r.DeletedTxn))
	hlcBytes := r.CreatedHLC.Bytes()
	copy(buf[48:64], hlcBytes[:])
	return r.Value.Encode(buf)
}

// DecodeTripleRecord parses a TripleRecord from its physical byte layout.
func DecodeTripleRecord(b []byte) (TripleRecord, error) {
	if len(b) < MetadataSize {
		return TripleRecord{}, fmt.Errorf("%w: truncated triple record metadata", ErrCorruption)
	}
	var r TripleRecord
	copy(r.EntityID[:], b[0:16])
	copy(r.AttributeID[:], b[16:32])
	r.CreatedTxn = TxnID(binary.LittleEndian.Uint64(b[32:40]))
	r.DeletedTxn = TxnID(binary.LittleEndian.Uint64(b[40:48]))
	hlc, err := HlcTimestampFromBytes(b[48:64])
	if err != nil {
		return TripleRecord{}, err
	}
	r.CreatedHLC = hlc
	value, _, err := DecodeValue(b[64:])
	if err != nil {
		return TripleRecord{}, err
	}
	r.Value = value
	return r, nil
}
