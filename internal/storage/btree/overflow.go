package btree

import (
	"encoding/binary"

	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

// overflowChunkSize is the number of payload bytes of raw data a single
// overflow page holds, after its own 8-byte next-page-id link.
const overflowChunkSize = page.Size - page.HeaderSize - 8

// valueEnvelope kinds, prefixing every leaf-stored value byte slice.
const (
	envelopeInline   byte = 0
	envelopeOverflow byte = 1
)

// overflowPointerSize is the fixed width of an overflow envelope:
// kind(1) + total length(4) + first overflow page id(8).
const overflowPointerSize = 1 + 4 + 8

// Store interface the B-tree uses for page allocation/IO, supplied by the
// owning Database so the tree itself stays storage-agnostic.
type PageStore interface {
	ReadPage(id page.ID) ([]byte, error)
	WritePage(id page.ID, data []byte) error
	AllocatePage() (page.ID, error)
	FreePage(id page.ID) error
}

// encodeValueEnvelope wraps val for storage in a leaf entry: inline if it
// fits within MaxInlineValueSize, else written out to a chain of
// overflow pages with a pointer envelope left in the leaf.
func encodeValueEnvelope(store PageStore, val []byte) ([]byte, error) {
	if len(val) <= MaxInlineValueSize {
		return append([]byte{envelopeInline}, val...), nil
	}
	first, err := writeOverflowChain(store, val)
	if err != nil {
		return nil, err
	}
	envelope := make([]byte, overflowPointerSize)
	envelope[0] = envelopeOverflow
	binary.LittleEndian.PutUint32(envelope[1:5], uint32(len(val)))
	binary.LittleEndian.PutUint64(envelope[5:13], uint64(first))
	return envelope, nil
}

// decodeValueEnvelope returns the original value, reading an overflow
// chain if necessary.
func decodeValueEnvelope(store PageStore, envelope []byte) ([]byte, error) {
	if len(envelope) == 0 {
		return nil, &types.CorruptionError{Reason: "empty value envelope"}
	}
	switch envelope[0] {
	case envelopeInline:
		return envelope[1:], nil
	case envelopeOverflow:
		if len(envelope) != overflowPointerSize {
			return nil, &types.CorruptionError{Reason: "malformed overflow pointer"}
		}
		totalLen := binary.LittleEndian.Uint32(envelope[1:5])
		first := page.ID(binary.LittleEndian.Uint64(envelope[5:13]))
		return readOverflowChain(store, first, int(totalLen))
	default:
		return nil, &types.CorruptionError{Reason: "unknown value envelope kind"}
	}
}

// freeValueEnvelope returns any overflow pages referenced by envelope to
// the allocator; a no-op for inline values.
func freeValueEnvelope(store PageStore, envelope []byte) error {
	if len(envelope) == 0 || envelope[0] != envelopeOverflow {
		return nil
	}
	first := page.ID(binary.LittleEndian.Uint64(envelope[5:13]))
	return freeOverflowChain(store, first)
}

func writeOverflowChain(store PageStore, val []byte) (page.ID, error) {
	var pageIDs []page.ID
	for off := 0; off < len(val); off += overflowChunkSize {
		id, err := store.AllocatePage()
		if err != nil {
			return 0, err
		}
		pageIDs = append(pageIDs, id)
	}
	for i, id := range pageIDs {
		buf := make([]byte, page.Size)
		page.PutHeader(buf, page.Header{Type: page.TypeOverflow, PageID: id})
		body := page.Payload(buf)
		next := page.InvalidPageID
		if i+1 < len(pageIDs) {
			next = pageIDs[i+1]
		}
		binary.LittleEndian.PutUint64(body[0:8], uint64(next))
		start := i * overflowChunkSize
		end := start + overflowChunkSize
		if end > len(val) {
			end = len(val)
		}
		copy(body[8:], val[start:end])
		page.SealChecksum(buf)
		if err := store.WritePage(id, buf); err != nil {
			return 0, err
		}
	}
	if len(pageIDs) == 0 {
		return page.InvalidPageID, nil
	}
	return pageIDs[0], nil
}

func readOverflowChain(store PageStore, first page.ID, totalLen int) ([]byte, error) {
	out := make([]byte, 0, totalLen)
	id := first
	for id != page.InvalidPageID && len(out) < totalLen {
		buf, err := store.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if !page.VerifyChecksum(buf) {
			return nil, &types.CorruptionError{Reason: "overflow page checksum mismatch"}
		}
		body := page.Payload(buf)
		next := page.ID(binary.LittleEndian.Uint64(body[0:8]))
		remaining := totalLen - len(out)
		n := overflowChunkSize
		if remaining < n {
			n = remaining
		}
		out = append(out, body[8:8+n]...)
		id = next
	}
	return out, nil
}

func freeOverflowChain(store PageStore, first page.ID) error {
	id := first
	for id != page.InvalidPageID {
		buf, err := store.ReadPage(id)
		if err != nil {
			return err
		}
		next := page.ID(binary.LittleEndian.Uint64(page.Payload(buf)[0:8]))
		if err := store.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
