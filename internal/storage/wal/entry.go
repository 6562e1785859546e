// Package wal implements the write-ahead log: a fixed, circular region of
// pages holding begin/insert/update/delete/commit records, LSN
// assignment, durable append, and replay.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/nainya/triplestore/internal/types"
)

// RecordType tags a log record's payload shape.
type RecordType byte

const (
	RecordBegin RecordType = iota + 1
	RecordInsert
	RecordUpdate
	RecordDelete
	RecordCommit
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "begin"
	case RecordInsert:
		return "insert"
	case RecordUpdate:
		return "update"
	case RecordDelete:
		return "delete"
	case RecordCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// headerSize is lsn(8) + txn_id(8) + hlc(16) + type(1) + payload_len(4).
const headerSize = 8 + 8 + types.HlcTimestampSize + 1 + 4

// trailerSize is the CRC32 checksum following the payload, covering the
// header and payload together, in the teacher's entry.go idiom.
const trailerSize = 4

// Record is one WAL entry.
type Record struct {
	LSN     uint64
	TxnID   types.TxnID
	HLC     types.HlcTimestamp
	Type    RecordType
	Payload []byte
}

// EncodedSize returns the number of bytes Encode would produce.
func (r Record) EncodedSize() int { return headerSize + len(r.Payload) + trailerSize }

// Encode serializes the record, including its trailing CRC32 checksum.
func (r Record) Encode() []byte {
	buf := make([]byte, r.EncodedSize())
	binary.LittleEndian.PutUint64(buf[0:8], r.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.TxnID))
	hlcBytes := r.HLC.Bytes()
	copy(buf[16:16+types.HlcTimestampSize], hlcBytes[:])
	off := 16 + types.HlcTimestampSize
	buf[off] = byte(r.Type)
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Payload)))
	off += 4
	copy(buf[off:], r.Payload)
	off += len(r.Payload)
	sum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], sum)
	return buf
}

// DecodeRecord parses a single record from the front of b, returning the
// record and the number of bytes consumed. It validates the checksum.
func DecodeRecord(b []byte) (Record, int, error) {
	if len(b) < headerSize {
		return Record{}, 0, &types.CorruptionError{Reason: "truncated wal record header"}
	}
	var r Record
	r.LSN = binary.LittleEndian.Uint64(b[0:8])
	r.TxnID = types.TxnID(binary.LittleEndian.Uint64(b[8:16]))
	hlc, err := types.HlcTimestampFromBytes(b[16 : 16+types.HlcTimestampSize])
	if err != nil {
		return Record{}, 0, err
	}
	r.HLC = hlc
	off := 16 + types.HlcTimestampSize
	r.Type = RecordType(b[off])
	off++
	payloadLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if payloadLen < 0 || len(b) < off+payloadLen+trailerSize {
		return Record{}, 0, &types.CorruptionError{Reason: "truncated wal record payload"}
	}
	r.Payload = append([]byte(nil), b[off:off+payloadLen]...)
	off += payloadLen
	wantSum := binary.LittleEndian.Uint32(b[off : off+trailerSize])
	gotSum := crc32.ChecksumIEEE(b[:off])
	if wantSum != gotSum {
		return Record{}, 0, &types.CorruptionError{Reason: "wal record checksum mismatch"}
	}
	return r, off + trailerSize, nil
}

// DeleteKeyPayload encodes an entity+attribute pair for a Delete record.
func DeleteKeyPayload(key types.Key) []byte {
	return append([]byte(nil), key.Bytes()...)
}

// DecodeDeleteKeyPayload parses the payload of a Delete record.
func DecodeDeleteKeyPayload(b []byte) (types.Key, error) {
	return types.KeyFromBytes(b)
}

// TripleOpPayload encodes an (entity, attribute, value) triple for an
// Insert or Update record; both record types carry the same shape, since
// the WAL need only capture what to re-apply, not which index branch
// handled it (that follows from RecordType at replay time).
func TripleOpPayload(entity types.EntityID, attribute types.AttributeID, value types.Value) []byte {
	buf := make([]byte, 0, types.IDSize*2+value.EncodedSize())
	buf = append(buf, entity[:]...)
	buf = append(buf, attribute[:]...)
	return value.Encode(buf)
}

// DecodeTripleOpPayload parses the payload of an Insert or Update record.
func DecodeTripleOpPayload(b []byte) (types.EntityID, types.AttributeID, types.Value, error) {
	if len(b) < types.IDSize*2 {
		return types.EntityID{}, types.AttributeID{}, types.Value{}, &types.CorruptionError{Reason: "truncated triple op payload"}
	}
	entity, err := types.EntityIDFromBytes(b[:types.IDSize])
	if err != nil {
		return types.EntityID{}, types.AttributeID{}, types.Value{}, err
	}
	attribute, err := types.AttributeIDFromBytes(b[types.IDSize : types.IDSize*2])
	if err != nil {
		return types.EntityID{}, types.AttributeID{}, types.Value{}, err
	}
	value, _, err := types.DecodeValue(b[types.IDSize*2:])
	if err != nil {
		return types.EntityID{}, types.AttributeID{}, types.Value{}, err
	}
	return entity, attribute, value, nil
}

// CommitPayload encodes the count of records written by the committing
// transaction.
func CommitPayload(recordsWritten uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, recordsWritten)
	return buf
}

// DecodeCommitPayload parses the payload of a Commit record.
func DecodeCommitPayload(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: commit payload must be 4 bytes, got %d", types.ErrCorruption, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
