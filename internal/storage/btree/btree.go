package btree

import (
	"bytes"

	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

// BTree is a disk-resident copy-on-write B+-tree keyed by a fixed
// 32-byte key. All durable state beyond the in-memory root pointer
// lives behind the PageStore; BTree itself holds no page cache.
//
// Deletes do not merge or borrow across underfull siblings; an
// underfull node is left in place rather than rebalanced. This trades
// some space amplification under heavy delete workloads for a much
// smaller merge path, and is revisited only if it shows up as a real
// problem.
type BTree struct {
	root  page.ID
	store PageStore
}

// New wraps an existing root page id (page.InvalidPageID for an empty
// tree) with a page store.
func New(store PageStore, root page.ID) *BTree {
	return &BTree{root: root, store: store}
}

// Root returns the current root page id.
func (t *BTree) Root() page.ID { return t.root }

// SetRoot overrides the root page id, used when reloading from a superblock.
func (t *BTree) SetRoot(id page.ID) { t.root = id }

func readNode(store PageStore, id page.ID) (Node, page.Type, error) {
	buf, err := store.ReadPage(id)
	if err != nil {
		return nil, 0, err
	}
	if !page.VerifyChecksum(buf) {
		return nil, 0, &types.CorruptionError{Reason: "btree page checksum mismatch"}
	}
	hdr := page.GetHeader(buf)
	return Node(page.Payload(buf)), hdr.Type, nil
}

func writeNode(store PageStore, id page.ID, nodeType page.Type, n Node) error {
	buf := make([]byte, page.Size)
	page.PutHeader(buf, page.Header{Type: nodeType, PageID: id})
	copy(page.Payload(buf), n)
	page.SealChecksum(buf)
	return store.WritePage(id, buf)
}

func blankNode() Node {
	n := make(Node, usableCapacity)
	n.initHeader(0)
	return n
}

func isLeafType(t page.Type) bool { return t == page.TypeBTreeLeaf }

// growthCapacity is the staging buffer size for a node mid-insert,
// before splitAndWrite cuts the result back down to page-sized pieces:
// large enough that appending one more entry than a full page already
// holds can never run past the end of the buffer.
const growthCapacity = usableCapacity + KeySize + 2 + 2 + MaxInlineValueSize + 8

// Get performs a point lookup, returning the raw stored value bytes
// (overflow-resolved) and whether the key was found.
func (t *BTree) Get(key []byte) ([]byte, bool, error) {
	if t.root == page.InvalidPageID {
		return nil, false, nil
	}
	return t.treeGet(t.root, key)
}

func (t *BTree) treeGet(id page.ID, key []byte) ([]byte, bool, error) {
	n, typ, err := readNode(t.store, id)
	if err != nil {
		return nil, false, err
	}
	idx := lookupLE(n, key)
	if isLeafType(typ) {
		if n.nkeys() == 0 || !bytes.Equal(n.getKey(idx), key) {
			return nil, false, nil
		}
		val, err := decodeValueEnvelope(t.store, n.getVal(idx))
		return val, true, err
	}
	return t.treeGet(n.getPtr(idx), key)
}

// Insert inserts or overwrites the value for key.
func (t *BTree) Insert(key, val []byte) error {
	envelope, err := encodeValueEnvelope(t.store, val)
	if err != nil {
		return err
	}

	if t.root == page.InvalidPageID {
		n := blankNode()
		n.setNkeys(1)
		appendKV(n, 0, 0, key, envelope)
		id, err := t.store.AllocatePage()
		if err != nil {
			return err
		}
		if err := writeNode(t.store, id, page.TypeBTreeLeaf, n); err != nil {
			return err
		}
		t.root = id
		return nil
	}

	oldRoot := t.root
	children, err := t.treeInsert(oldRoot, key, envelope)
	if err != nil {
		return err
	}
	if err := t.store.FreePage(oldRoot); err != nil {
		return err
	}
	if len(children) == 1 {
		t.root = children[0]
		return nil
	}
	rootID, err := t.buildParent(children)
	if err != nil {
		return err
	}
	t.root = rootID
	return nil
}

// buildParent writes a fresh internal node whose children are exactly
// the given page ids, keyed by each child's first key.
func (t *BTree) buildParent(children []page.ID) (page.ID, error) {
	n := blankNode()
	n.setNkeys(uint16(len(children)))
	for i, childID := range children {
		key, err := firstKey(t.store, childID)
		if err != nil {
			return 0, err
		}
		appendKV(n, uint16(i), childID, key, nil)
	}
	id, err := t.store.AllocatePage()
	if err != nil {
		return 0, err
	}
	if err := writeNode(t.store, id, page.TypeBTreeInternal, n); err != nil {
		return 0, err
	}
	return id, nil
}

func firstKey(store PageStore, id page.ID) ([]byte, error) {
	n, _, err := readNode(store, id)
	if err != nil {
		return nil, err
	}
	if n.nkeys() == 0 {
		return make([]byte, KeySize), nil
	}
	return n.getKey(0), nil
}

// treeInsert recursively inserts into the subtree rooted at id,
// returning the resulting sibling page ids: one, unless the node this
// insert touched overflowed a page and had to split (up to three).
func (t *BTree) treeInsert(id page.ID, key, envelope []byte) ([]page.ID, error) {
	n, typ, err := readNode(t.store, id)
	if err != nil {
		return nil, err
	}
	idx := lookupLE(n, key)

	if isLeafType(typ) {
		// Staged oversized: one entry may push this past a page before
		// splitAndWrite cuts it back down.
		updated := make(Node, growthCapacity)
		if n.nkeys() > 0 && bytes.Equal(n.getKey(idx), key) {
			leafUpdate(updated, n, idx, key, envelope)
		} else {
			insertAt := idx
			if n.nkeys() > 0 && bytes.Compare(n.getKey(idx), key) < 0 {
				insertAt = idx + 1
			}
			leafInsert(updated, n, insertAt, key, envelope)
		}
		updated.SetNextSibling(n.NextSibling())
		updated.SetPrevSibling(n.PrevSibling())
		return t.splitAndWrite(updated, page.TypeBTreeLeaf)
	}

	childID := n.getPtr(idx)
	newChildren, err := t.treeInsert(childID, key, envelope)
	if err != nil {
		return nil, err
	}
	if err := t.store.FreePage(childID); err != nil {
		return nil, err
	}
	updated := make(Node, growthCapacity)
	if err := nodeReplaceChildren(updated, n, idx, newChildren, t.store); err != nil {
		return nil, err
	}
	return t.splitAndWrite(updated, page.TypeBTreeInternal)
}

func leafInsert(dst, old Node, idx uint16, key, val []byte) {
	dst.initHeader(old.nkeys() + 1)
	appendRange(dst, old, 0, 0, idx)
	appendKV(dst, idx, 0, key, val)
	appendRange(dst, old, idx+1, idx, old.nkeys()-idx)
}

func leafUpdate(dst, old Node, idx uint16, key, val []byte) {
	dst.initHeader(old.nkeys())
	appendRange(dst, old, 0, 0, idx)
	appendKV(dst, idx, 0, key, val)
	appendRange(dst, old, idx+1, idx+1, old.nkeys()-idx-1)
}

// nodeReplaceChildren splices 1-3 replacement child ids (with their
// first keys looked up fresh) into old at position idx, producing dst.
func nodeReplaceChildren(dst, old Node, idx uint16, children []page.ID, store PageStore) error {
	dst.initHeader(old.nkeys() - 1 + uint16(len(children)))
	appendRange(dst, old, 0, 0, idx)
	for i, childID := range children {
		key, err := firstKey(store, childID)
		if err != nil {
			return err
		}
		appendKV(dst, idx+uint16(i), childID, key, nil)
	}
	appendRange(dst, old, idx+uint16(len(children)), idx+1, old.nkeys()-idx-1)
	return nil
}

// splitAndWrite writes n as one, two, or three sibling pages depending
// on whether (and how badly) it overflows a page, relinking leaf
// sibling pointers across the resulting parts, and returns their ids.
func (t *BTree) splitAndWrite(n Node, nodeType page.Type) ([]page.ID, error) {
	parts := splitNode3(n)
	ids := make([]page.ID, len(parts))
	for i := range parts {
		id, err := t.store.AllocatePage()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	var outerPrev, outerNext page.ID
	if nodeType == page.TypeBTreeLeaf {
		outerPrev = n.PrevSibling()
		outerNext = n.NextSibling()
		for i := range parts {
			prev, next := outerPrev, outerNext
			if i > 0 {
				prev = ids[i-1]
			}
			if i+1 < len(parts) {
				next = ids[i+1]
			}
			parts[i].SetPrevSibling(prev)
			parts[i].SetNextSibling(next)
		}
	}

	for i, id := range ids {
		if err := writeNode(t.store, id, nodeType, parts[i]); err != nil {
			return nil, err
		}
	}

	if nodeType == page.TypeBTreeLeaf {
		if err := t.patchSiblingPointer(outerPrev, ids[0], true); err != nil {
			return nil, err
		}
		if err := t.patchSiblingPointer(outerNext, ids[len(ids)-1], false); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// patchSiblingPointer fixes up a leaf that used to neighbor a page
// which has just been rewritten under a new id, so the leaf chain
// stays walkable after a COW rewrite. It is an in-place field patch
// rather than a full copy-on-write, since neighboring leaves' key/value
// content does not change, only this cross-reference.
func (t *BTree) patchSiblingPointer(neighbor, newID page.ID, isNext bool) error {
	if neighbor == page.InvalidPageID {
		return nil
	}
	n, typ, err := readNode(t.store, neighbor)
	if err != nil {
		return err
	}
	if isNext {
		n.SetNextSibling(newID)
	} else {
		n.SetPrevSibling(newID)
	}
	return writeNode(t.store, neighbor, typ, n)
}

// splitNode3 splits n into up to three nodes so each fits within a
// page: one split, and a second split of the left half if that alone
// is still oversized.
func splitNode3(n Node) []Node {
	if n.nbytes() <= usableCapacity {
		return []Node{n[:usableCapacity]}
	}
	left, right := splitNode2(n)
	if left.nbytes() <= usableCapacity {
		return []Node{left, right}
	}
	leftLeft, leftRight := splitNode2(left)
	return []Node{leftLeft, leftRight, right}
}

func splitNode2(n Node) (Node, Node) {
	nkeys := n.nkeys()
	splitIdx := nkeys / 2
	if splitIdx < 1 {
		splitIdx = 1
	}
	for splitIdx > 1 {
		leftBytes := nodeHeaderSize + 8*int(splitIdx) + 2*int(splitIdx) + int(n.getOffset(splitIdx))
		if leftBytes <= usableCapacity*3/4 {
			break
		}
		splitIdx--
	}
	left := make(Node, usableCapacity)
	left.initHeader(splitIdx)
	appendRange(left, n, 0, 0, splitIdx)

	right := make(Node, usableCapacity)
	right.initHeader(nkeys - splitIdx)
	appendRange(right, n, 0, splitIdx, nkeys-splitIdx)

	return left, right
}

// Delete removes key if present, freeing any overflow pages it owned,
// and reports whether it was found.
func (t *BTree) Delete(key []byte) (bool, error) {
	if t.root == page.InvalidPageID {
		return false, nil
	}
	oldRoot := t.root
	newRoot, found, err := t.treeDelete(oldRoot, key)
	if err != nil || !found {
		return found, err
	}
	if err := t.store.FreePage(oldRoot); err != nil {
		return false, err
	}
	n, typ, err := readNode(t.store, newRoot)
	if err != nil {
		return false, err
	}
	switch {
	case typ == page.TypeBTreeInternal && n.nkeys() == 1:
		t.root = n.getPtr(0)
	case typ == page.TypeBTreeLeaf && n.nkeys() == 0:
		t.root = page.InvalidPageID
	default:
		t.root = newRoot
	}
	return true, nil
}

func (t *BTree) treeDelete(id page.ID, key []byte) (page.ID, bool, error) {
	n, typ, err := readNode(t.store, id)
	if err != nil {
		return 0, false, err
	}
	idx := lookupLE(n, key)

	if isLeafType(typ) {
		if n.nkeys() == 0 || !bytes.Equal(n.getKey(idx), key) {
			return id, false, nil
		}
		if err := freeValueEnvelope(t.store, n.getVal(idx)); err != nil {
			return 0, false, err
		}
		updated := make(Node, usableCapacity)
		updated.initHeader(n.nkeys() - 1)
		appendRange(updated, n, 0, 0, idx)
		appendRange(updated, n, idx, idx+1, n.nkeys()-idx-1)
		updated.SetNextSibling(n.NextSibling())
		updated.SetPrevSibling(n.PrevSibling())
		newID, err := t.store.AllocatePage()
		if err != nil {
			return 0, false, err
		}
		if err := writeNode(t.store, newID, page.TypeBTreeLeaf, updated); err != nil {
			return 0, false, err
		}
		if err := t.patchSiblingPointer(updated.PrevSibling(), newID, true); err != nil {
			return 0, false, err
		}
		if err := t.patchSiblingPointer(updated.NextSibling(), newID, false); err != nil {
			return 0, false, err
		}
		return newID, true, nil
	}

	childID := n.getPtr(idx)
	newChild, found, err := t.treeDelete(childID, key)
	if err != nil || !found {
		return id, found, err
	}
	if err := t.store.FreePage(childID); err != nil {
		return 0, false, err
	}
	updated := make(Node, usableCapacity)
	if err := nodeReplaceChildren(updated, n, idx, []page.ID{newChild}, t.store); err != nil {
		return 0, false, err
	}
	newID, err := t.store.AllocatePage()
	if err != nil {
		return 0, false, err
	}
	if err := writeNode(t.store, newID, page.TypeBTreeInternal, updated); err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

// Scan calls fn for every (key, value) pair with key >= start, in
// ascending key order, following leaf sibling pointers, until fn
// returns false or the tree is exhausted. A nil start scans from the
// beginning.
func (t *BTree) Scan(start []byte, fn func(key, val []byte) (bool, error)) error {
	if t.root == page.InvalidPageID {
		return nil
	}
	if start == nil {
		start = make([]byte, KeySize)
	}
	leafID, idx, err := t.seekLeaf(t.root, start)
	if err != nil {
		return err
	}
	for leafID != page.InvalidPageID {
		n, _, err := readNode(t.store, leafID)
		if err != nil {
			return err
		}
		for ; idx < n.nkeys(); idx++ {
			val, err := decodeValueEnvelope(t.store, n.getVal(idx))
			if err != nil {
				return err
			}
			cont, err := fn(n.getKey(idx), val)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		leafID = n.NextSibling()
		idx = 0
	}
	return nil
}

func (t *BTree) seekLeaf(id page.ID, key []byte) (page.ID, uint16, error) {
	n, typ, err := readNode(t.store, id)
	if err != nil {
		return 0, 0, err
	}
	idx := lookupLE(n, key)
	if isLeafType(typ) {
		if n.nkeys() > 0 && bytes.Compare(n.getKey(idx), key) < 0 {
			idx++
		}
		return id, idx, nil
	}
	return t.seekLeaf(n.getPtr(idx), key)
}
