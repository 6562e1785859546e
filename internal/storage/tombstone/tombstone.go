// Package tombstone is the garbage-collection work list: every record a
// commit has superseded or deleted is enqueued here, keyed by its primary
// index key and the transaction that tombstoned it, so a GC ticker can
// later decide when the shadow record is safe to physically reclaim.
package tombstone

import (
	"encoding/binary"

	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

// entrySize is the encoded width of one tombstone entry: primary-index key
// (32 bytes) + the transaction id that deleted it (8 bytes).
const entrySize = types.IDSize*2 + 8

// entriesPerPage is how many entries a single tombstone page can hold
// after its own 8-byte next-page link and 2-byte count prefix.
const entriesPerPage = (page.Size - page.HeaderSize - 8 - 2) / entrySize

// PageStore is the page IO surface the queue needs, supplied by the owning
// database.
type PageStore interface {
	ReadPage(id page.ID) ([]byte, error)
	WritePage(id page.ID, data []byte) error
	AllocatePage() (page.ID, error)
	FreePage(id page.ID) error
}

// Entry is one pending reclamation: a primary-index key whose current
// occupant is a tombstone written by DeletedTxn.
type Entry struct {
	Key        types.Key
	DeletedTxn types.TxnID
}

// Queue is the in-memory GC work list. It is periodically flushed to a
// durable page chain (Flush/Load) rooted at the superblock's tombstone
// head, since checkpointing logically truncates the WAL a tombstone might
// otherwise be reconstructed from.
type Queue struct {
	entries []Entry
}

// New returns an empty queue.
func New() *Queue { return &Queue{} }

// Enqueue records key as pending reclamation once no snapshot can still
// observe its tombstone at deletedTxn.
func (q *Queue) Enqueue(key types.Key, deletedTxn types.TxnID) {
	q.entries = append(q.entries, Entry{Key: key, DeletedTxn: deletedTxn})
}

// Len reports the number of pending entries.
func (q *Queue) Len() int { return len(q.entries) }

// Dequeue removes and returns up to n entries from the front of the queue,
// in FIFO order.
func (q *Queue) Dequeue(n int) []Entry {
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := append([]Entry(nil), q.entries[:n]...)
	q.entries = q.entries[n:]
	return out
}

// Requeue puts entries back at the front of the queue, e.g. after a GC
// tick finds them not yet eligible for reclamation.
func (q *Queue) Requeue(entries []Entry) {
	q.entries = append(append([]Entry(nil), entries...), q.entries...)
}

// Flush serializes the entire queue to a fresh chain of pages, frees the
// previous chain rooted at oldHead, and returns the new chain's head page
// id for the caller to persist into the superblock.
func (q *Queue) Flush(store PageStore, oldHead page.ID) (page.ID, error) {
	newHead, err := writeChain(store, q.entries)
	if err != nil {
		return page.InvalidPageID, err
	}
	if oldHead != page.InvalidPageID {
		if err := freeChain(store, oldHead); err != nil {
			return page.InvalidPageID, err
		}
	}
	return newHead, nil
}

// Load reconstructs a Queue from the durable chain rooted at head.
// head == page.InvalidPageID yields an empty queue.
func Load(store PageStore, head page.ID) (*Queue, error) {
	entries, err := readChain(store, head)
	if err != nil {
		return nil, err
	}
	return &Queue{entries: entries}, nil
}

func writeChain(store PageStore, entries []Entry) (page.ID, error) {
	if len(entries) == 0 {
		return page.InvalidPageID, nil
	}
	var pageIDs []page.ID
	for off := 0; off < len(entries); off += entriesPerPage {
		id, err := store.AllocatePage()
		if err != nil {
			return page.InvalidPageID, err
		}
		pageIDs = append(pageIDs, id)
	}
	for i, id := range pageIDs {
		buf := make([]byte, page.Size)
		page.PutHeader(buf, page.Header{Type: page.TypeTombstone, PageID: id})
		body := page.Payload(buf)
		next := page.InvalidPageID
		if i+1 < len(pageIDs) {
			next = pageIDs[i+1]
		}
		binary.LittleEndian.PutUint64(body[0:8], uint64(next))
		start := i * entriesPerPage
		end := start + entriesPerPage
		if end > len(entries) {
			end = len(entries)
		}
		encodeEntries(body[8:], entries[start:end])
		page.SealChecksum(buf)
		if err := store.WritePage(id, buf); err != nil {
			return page.InvalidPageID, err
		}
	}
	return pageIDs[0], nil
}

func readChain(store PageStore, head page.ID) ([]Entry, error) {
	var entries []Entry
	id := head
	for id != page.InvalidPageID {
		buf, err := store.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if !page.VerifyChecksum(buf) {
			return nil, &types.CorruptionError{Reason: "tombstone page checksum mismatch"}
		}
		body := page.Payload(buf)
		next := page.ID(binary.LittleEndian.Uint64(body[0:8]))
		entries = append(entries, decodeEntries(body[8:])...)
		id = next
	}
	return entries, nil
}

func freeChain(store PageStore, head page.ID) error {
	id := head
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

func encodeEntries(dst []byte, entries []Entry) {
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(entries)))
	off := 2
	for _, e := range entries {
		copy(dst[off:off+len(e.Key)], e.Key[:])
		off += len(e.Key)
		binary.LittleEndian.PutUint64(dst[off:off+8], uint64(e.DeletedTxn))
		off += 8
	}
}

func decodeEntries(src []byte) []Entry {
	count := int(binary.LittleEndian.Uint16(src[0:2]))
	off := 2
	out := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		var k types.Key
		copy(k[:], src[off:off+len(k)])
		off += len(k)
		txn := types.TxnID(binary.LittleEndian.Uint64(src[off : off+8]))
		off += 8
		out = append(out, Entry{Key: k, DeletedTxn: txn})
	}
	return out
}
