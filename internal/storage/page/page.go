// Package page defines the fixed-size page format shared by every region
// of the database file: the header every page carries, and the superblock
// that lives at page 0.
package page

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nainya/triplestore/internal/types"
)

// Size is the fixed width, in bytes, of every page in the file.
const Size = 8192

// ID identifies a page by its 0-based offset within the file
// (byte offset = ID * Size).
type ID uint64

// InvalidPageID marks the absence of a page reference (e.g. an empty
// sibling pointer or an empty tombstone queue).
const InvalidPageID ID = 0xFFFFFFFFFFFFFFFF

// Type tags the structural role of a page.
type Type uint8

const (
	TypeSuperblock Type = iota
	TypeAllocationBitmap
	TypeWAL
	TypeBTreeInternal
	TypeBTreeLeaf
	TypeOverflow
	TypeFree
	TypeTombstone
)

// HeaderSize is the width of the common page header: type(1) + reserved(3)
// + page id(8) + checksum(4).
const HeaderSize = 16

// Header is the fixed prefix present on every page.
type Header struct {
	Type     Type
	PageID   ID
	Checksum uint32
}

// PutHeader writes h into the first HeaderSize bytes of buf. The checksum
// field covers the remainder of the page and must be filled in by the
// caller via SealChecksum once the payload is written.
func PutHeader(buf []byte, h Header) {
	buf[0] = byte(h.Type)
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint64(buf[4:12], uint64(h.PageID))
	binary.LittleEndian.PutUint32(buf[12:16], h.Checksum)
}

// GetHeader reads the header from the first HeaderSize bytes of buf.
func GetHeader(buf []byte) Header {
	return Header{
		Type:     Type(buf[0]),
		PageID:   ID(binary.LittleEndian.Uint64(buf[4:12])),
		Checksum: binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// SealChecksum computes the CRC32 of buf[HeaderSize:] (the page payload)
// and stores it in the header's checksum field.
func SealChecksum(buf []byte) {
	sum := crc32.ChecksumIEEE(buf[HeaderSize:])
	binary.LittleEndian.PutUint32(buf[12:16], sum)
}

// VerifyChecksum recomputes the payload checksum and compares it against
// the stored one.
func VerifyChecksum(buf []byte) bool {
	want := binary.LittleEndian.Uint32(buf[12:16])
	got := crc32.ChecksumIEEE(buf[HeaderSize:])
	return want == got
}

// Payload returns the portion of buf following the common header.
func Payload(buf []byte) []byte { return buf[HeaderSize:] }

// Extent describes a contiguous run of pages dedicated to one region.
type Extent struct {
	StartPage ID
	PageCount uint64
}

func (e Extent) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.StartPage))
	binary.LittleEndian.PutUint64(buf[8:16], e.PageCount)
}

func decodeExtent(buf []byte) Extent {
	return Extent{
		StartPage: ID(binary.LittleEndian.Uint64(buf[0:8])),
		PageCount: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

const extentSize = 16

// Magic identifies a valid triple-store database file.
var Magic = [8]byte{'T', 'R', 'P', 'L', 'S', 'T', 'R', '0'}

// FormatVersion is bumped whenever the on-disk layout changes
// incompatibly.
const FormatVersion = 1

// Superblock is the durable root of the database: it names every other
// region by extent, the current allocation state, the checkpoint
// position, and the primary index root.
type Superblock struct {
	Version            uint32
	TotalPages         uint64
	Allocator          Extent
	WAL                Extent
	WALHeadOffset      uint64
	WALLastLSN         uint64
	WALCheckpointOffset uint64
	CheckpointLSN      uint64
	CheckpointHLC      types.HlcTimestamp
	BTreeRootPage      ID
	NextTxnID          uint64
	TombstoneHeadPage  ID
}

// superblockBodySize is the number of payload bytes the superblock
// occupies after the common page header, including the magic/version prefix.
const superblockBodySize = 8 /*magic*/ + 4 /*version*/ + 8 /*total pages*/ +
	extentSize /*allocator*/ + extentSize /*wal*/ + 8 /*wal head*/ + 8 /*wal lsn*/ + 8 /*wal checkpoint offset*/ +
	8 /*checkpoint lsn*/ + types.HlcTimestampSize + 8 /*root*/ + 8 /*next txn*/ + 8 /*tombstone head*/

// Encode writes the superblock into a full Size-byte page buffer,
// including the common header and checksum.
func (s Superblock) Encode() []byte {
	buf := make([]byte, Size)
	PutHeader(buf, Header{Type: TypeSuperblock, PageID: 0})
	body := Payload(buf)
	off := 0
	copy(body[off:off+8], Magic[:])
	off += 8
	binary.LittleEndian.PutUint32(body[off:off+4], s.Version)
	off += 4
	binary.LittleEndian.PutUint64(body[off:off+8], s.TotalPages)
	off += 8
	s.Allocator.encode(body[off:])
	off += extentSize
	s.WAL.encode(body[off:])
	off += extentSize
	binary.LittleEndian.PutUint64(body[off:off+8], s.WALHeadOffset)
	off += 8
	binary.LittleEndian.PutUint64(body[off:off+8], s.WALLastLSN)
	off += 8
	binary.LittleEndian.PutUint64(body[off:off+8], s.WALCheckpointOffset)
	off += 8
	binary.LittleEndian.PutUint64(body[off:off+8], s.CheckpointLSN)
	off += 8
	hlcBytes := s.CheckpointHLC.Bytes()
	copy(body[off:off+types.HlcTimestampSize], hlcBytes[:])
	off += types.HlcTimestampSize
	binary.LittleEndian.PutUint64(body[off:off+8], uint64(s.BTreeRootPage))
	off += 8
	binary.LittleEndian.PutUint64(body[off:off+8], s.NextTxnID)
	off += 8
	binary.LittleEndian.PutUint64(body[off:off+8], uint64(s.TombstoneHeadPage))
	SealChecksum(buf)
	return buf
}

// DecodeSuperblock parses and validates a superblock from a full page
// buffer, checking the magic, format version, and payload checksum.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) != Size {
		return Superblock{}, &types.CorruptionError{Reason: "superblock page has wrong size"}
	}
	if !VerifyChecksum(buf) {
		return Superblock{}, &types.CorruptionError{Reason: "superblock checksum mismatch"}
	}
	body := Payload(buf)
	var magic [8]byte
	copy(magic[:], body[0:8])
	if magic != Magic {
		return Superblock{}, &types.CorruptionError{Reason: "superblock magic mismatch"}
	}
	off := 8
	var s Superblock
	s.Version = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	if s.Version != FormatVersion {
		return Superblock{}, &types.CorruptionError{Reason: "superblock format version mismatch"}
	}
	s.TotalPages = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	s.Allocator = decodeExtent(body[off:])
	off += extentSize
	s.WAL = decodeExtent(body[off:])
	off += extentSize
	s.WALHeadOffset = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	s.WALLastLSN = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	s.WALCheckpointOffset = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	s.CheckpointLSN = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	hlc, err := types.HlcTimestampFromBytes(body[off : off+types.HlcTimestampSize])
	if err != nil {
		return Superblock{}, err
	}
	s.CheckpointHLC = hlc
	off += types.HlcTimestampSize
	s.BTreeRootPage = ID(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	s.NextTxnID = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	s.TombstoneHeadPage = ID(binary.LittleEndian.Uint64(body[off : off+8]))
	return s, nil
}
