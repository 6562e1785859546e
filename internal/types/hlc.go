package types

import (
	"encoding/binary"
	"fmt"
)

// HlcTimestampSize is the serialized width of an HlcTimestamp.
const HlcTimestampSize = 16

// HlcTimestamp is a hybrid logical clock value: an 8-byte millisecond
// physical component, a 4-byte logical counter that breaks ties within the
// same millisecond, and a 4-byte node id that breaks ties across nodes.
type HlcTimestamp struct {
	PhysicalMs     uint64
	LogicalCounter uint32
	NodeID         uint32
}

// Compare orders HLC timestamps lexicographically: physical, then logical,
// then node. It returns -1, 0, or 1.
func (h HlcTimestamp) Compare(other HlcTimestamp) int {
	if h.PhysicalMs != other.PhysicalMs {
		if h.PhysicalMs < other.PhysicalMs {
			return -1
		}
		return 1
	}
	if h.LogicalCounter != other.LogicalCounter {
		if h.LogicalCounter < other.LogicalCounter {
			return -1
		}
		return 1
	}
	if h.NodeID != other.NodeID {
		if h.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether h strictly precedes other.
func (h HlcTimestamp) Less(other HlcTimestamp) bool { return h.Compare(other) < 0 }

// Bytes encodes the timestamp as 16 little-endian bytes:
// physical(8) | logical(4) | node(4).
func (h HlcTimestamp) Bytes() [HlcTimestampSize]byte {
	var out [HlcTimestampSize]byte
	binary.LittleEndian.PutUint64(out[0:8], h.PhysicalMs)
	binary.LittleEndian.PutUint32(out[8:12], h.LogicalCounter)
	binary.LittleEndian.PutUint32(out[12:16], h.NodeID)
	return out
}

// HlcTimestampFromBytes decodes an HlcTimestamp from exactly 16 bytes.
func HlcTimestampFromBytes(b []byte) (HlcTimestamp, error) {
	var h HlcTimestamp
	if len(b) != HlcTimestampSize {
		return h, fmt.Errorf("%w: hlc timestamp must be %d bytes, got %d", ErrValidation, HlcTimestampSize, len(b))
	}
	h.PhysicalMs = binary.LittleEndian.Uint64(b[0:8])
	h.LogicalCounter = binary.LittleEndian.Uint32(b[8:12])
	h.NodeID = binary.LittleEndian.Uint32(b[12:16])
	return h, nil
}
