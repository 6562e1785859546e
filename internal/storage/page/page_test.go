package page

import (
	"testing"

	"github.com/nainya/triplestore/internal/types"
)

func TestSuperblockRoundTrip(t *testing.T) {
	want := Superblock{
		Version:           FormatVersion,
		TotalPages:        1000,
		Allocator:         Extent{StartPage: 1, PageCount: 4},
		WAL:               Extent{StartPage: 5, PageCount: 100},
		WALHeadOffset:       42,
		WALLastLSN:          7,
		WALCheckpointOffset: 0,
		CheckpointLSN:       3,
		CheckpointHLC:     types.HlcTimestamp{PhysicalMs: 99, LogicalCounter: 1, NodeID: 1},
		BTreeRootPage:     105,
		NextTxnID:         8,
		TombstoneHeadPage: 200,
	}
	buf := want.Encode()
	if len(buf) != Size {
		t.Fatalf("encoded superblock has wrong size: %d", len(buf))
	}
	got, err := DecodeSuperblock(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("roundtrip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestSuperblockChecksumDetectsCorruption(t *testing.T) {
	sb := Superblock{Version: FormatVersion, TotalPages: 1}
	buf := sb.Encode()
	buf[HeaderSize+20] ^= 0xFF
	if _, err := DecodeSuperblock(buf); err == nil {
		t.Fatal("expected corruption error for flipped payload byte")
	}
}

func TestSuperblockMagicMismatch(t *testing.T) {
	sb := Superblock{Version: FormatVersion}
	buf := sb.Encode()
	copy(Payload(buf)[0:8], "BADMAGIC")
	SealChecksum(buf)
	if _, err := DecodeSuperblock(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, Size)
	h := Header{Type: TypeBTreeLeaf, PageID: 55}
	PutHeader(buf, h)
	SealChecksum(buf)
	got := GetHeader(buf)
	if got.Type != h.Type || got.PageID != h.PageID {
		t.Fatalf("header roundtrip mismatch: got %+v want %+v", got, h)
	}
	if !VerifyChecksum(buf) {
		t.Fatal("expected checksum to verify")
	}
}
