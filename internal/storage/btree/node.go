// Package btree implements a disk-resident copy-on-write B+-tree keyed by
// a fixed 32-byte (entity, attribute) key, with slot-directory leaf
// layout, forward/back sibling pointers on leaves for range scans, and
// overflow pages for values exceeding the inline threshold. The node
// encoding is adapted from the teacher's packed slot-directory scheme,
// specialized to a fixed key width.
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/nainya/triplestore/internal/storage/page"
)

// KeySize is the fixed width of every B-tree key.
const KeySize = 32

// MaxInlineValueSize is the largest value that is stored directly in a
// leaf entry; larger values are written to a chain of overflow pages and
// the leaf stores a pointer envelope instead.
const MaxInlineValueSize = 512

// nodeHeaderSize is the B-tree-specific header following the common page
// header: nkeys(2) + next-sibling(8) + prev-sibling(8). Internal nodes
// leave the sibling fields at page.InvalidPageID.
const nodeHeaderSize = 2 + 8 + 8

// Node is a B-tree page's payload (i.e. page.Payload(pageBuf)), addressed
// relative to its own start.
type Node []byte

func (n Node) nkeys() uint16 {
	return binary.LittleEndian.Uint16(n[0:2])
}

func (n Node) setNkeys(v uint16) {
	binary.LittleEndian.PutUint16(n[0:2], v)
}

// NextSibling/PrevSibling are meaningful only for leaf nodes.
func (n Node) NextSibling() page.ID { return page.ID(binary.LittleEndian.Uint64(n[2:10])) }
func (n Node) PrevSibling() page.ID { return page.ID(binary.LittleEndian.Uint64(n[10:18])) }

func (n Node) SetNextSibling(id page.ID) { binary.LittleEndian.PutUint64(n[2:10], uint64(id)) }
func (n Node) SetPrevSibling(id page.ID) { binary.LittleEndian.PutUint64(n[10:18], uint64(id)) }

func (n Node) initHeader(nkeys uint16) {
	n.setNkeys(nkeys)
	n.SetNextSibling(page.InvalidPageID)
	n.SetPrevSibling(page.InvalidPageID)
}

// getPtr/setPtr address the child-page-id array, meaningful only for
// internal nodes (leaves leave these zero).
func (n Node) getPtr(idx uint16) page.ID {
	pos := nodeHeaderSize + 8*int(idx)
	return page.ID(binary.LittleEndian.Uint64(n[pos:]))
}

func (n Node) setPtr(idx uint16, ptr page.ID) {
	pos := nodeHeaderSize + 8*int(idx)
	binary.LittleEndian.PutUint64(n[pos:], uint64(ptr))
}

func (n Node) offsetPos(idx uint16) int {
	return nodeHeaderSize + 8*int(n.nkeys()) + 2*int(idx-1)
}

func (n Node) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(n[n.offsetPos(idx):])
}

func (n Node) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(n[n.offsetPos(idx):], offset)
}

func (n Node) kvBase() int {
	return nodeHeaderSize + 8*int(n.nkeys()) + 2*int(n.nkeys())
}

func (n Node) kvPos(idx uint16) int {
	return n.kvBase() + int(n.getOffset(idx))
}

func (n Node) getKey(idx uint16) []byte {
	pos := n.kvPos(idx)
	return n[pos : pos+KeySize]
}

func (n Node) getVal(idx uint16) []byte {
	pos := n.kvPos(idx) + KeySize
	vlen := binary.LittleEndian.Uint16(n[pos:])
	return n[pos+2 : pos+2+int(vlen)]
}

// nbytes is the total payload size in use by the node.
func (n Node) nbytes() int { return n.kvPos(n.nkeys()) }

// lookupLE returns the highest index whose key is <= the target (the
// child that covers it in an internal node, or the matching/closest slot
// in a leaf). Index 0 always "covers" since it was copied down from the
// parent during a split.
func lookupLE(n Node, key []byte) uint16 {
	nkeys := n.nkeys()
	found := uint16(0)
	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(n.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

// appendRange copies n entries from old starting at srcOld into new
// starting at dstNew, including child pointers, offsets, and raw KV data.
func appendRange(newNode, old Node, dstNew, srcOld, n uint16) {
	if n == 0 {
		return
	}
	for i := uint16(0); i < n; i++ {
		newNode.setPtr(dstNew+i, old.getPtr(srcOld+i))
	}
	dstBegin := newNode.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		offset := dstBegin + old.getOffset(srcOld+i) - srcBegin
		newNode.setOffset(dstNew+i, offset)
	}
	begin := old.kvPos(srcOld)
	end := old.kvPos(srcOld + n)
	copy(newNode[newNode.kvPos(dstNew):], old[begin:end])
}

// appendKV appends a single (ptr, key, val) entry at idx.
func appendKV(newNode Node, idx uint16, ptr page.ID, key, val []byte) {
	newNode.setPtr(idx, ptr)
	pos := newNode.kvPos(idx)
	copy(newNode[pos:pos+KeySize], key)
	binary.LittleEndian.PutUint16(newNode[pos+KeySize:], uint16(len(val)))
	copy(newNode[pos+KeySize+2:], val)
	newNode.setOffset(idx+1, newNode.getOffset(idx)+uint16(KeySize+2+len(val)))
}

// usableCapacity is the number of payload bytes available to a node for
// its header, pointer array, offsets, and KV data.
const usableCapacity = page.Size - page.HeaderSize

func init() {
	// An internal node's worst case entry carries no value; this bounds
	// the minimum branching factor the spec requires (>= 100).
	worstInternalEntry := 8 /*ptr*/ + 2 /*offset*/ + KeySize
	branching := (usableCapacity - nodeHeaderSize) / worstInternalEntry
	if branching < 100 {
		panic("btree: page size too small to guarantee the minimum branching factor")
	}
	worstLeafEntry := 8 + 2 + KeySize + 2 + MaxInlineValueSize
	if nodeHeaderSize+worstLeafEntry*1 > usableCapacity {
		panic("btree: a single max-size leaf entry does not fit in one page")
	}
}
