package wal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

// payloadPerPage is the number of raw log-stream bytes a single WAL page
// can hold, i.e. everything after the common page header.
const payloadPerPage = page.Size - page.HeaderSize

// WAL is a fixed, contiguous region of pages (the Extent recorded in the
// superblock) treated as a logical ring buffer of serialized Records.
// Logical byte offsets only ever increase; the physical page/offset a
// given logical position maps to wraps modulo the region's total
// capacity once the region fills up, exactly as spec.md's "writer wraps
// to the start after checkpointing reclaims the prefix" describes.
type WAL struct {
	mu    sync.Mutex
	file  *file.DatabaseFile
	start page.ID // first page of the region
	count uint64  // pages in the region

	region   [][]byte // in-memory mirror of each page's raw payload bytes
	dirty    map[uint64]bool
	lastLSN  uint64 // atomically bumped by NextLSN
	head     uint64 // logical offset of the next byte to write
	checkpointOffset uint64 // logical offset before which data is reclaimable

	log     *logger.Logger
	metrics *metrics.Metrics
}

// SetObserver wires the WAL's append/sync path into log and m, either of
// which may be nil. Call once after Create/Load, before the WAL takes
// traffic; unset, Append and Sync run exactly as before.
func (w *WAL) SetObserver(log *logger.Logger, m *metrics.Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log = log
	w.metrics = m
}

func (w *WAL) capacityBytes() uint64 { return w.count * payloadPerPage }

// Create reserves a fresh, empty WAL region of pageCount pages starting
// immediately after extent allocation and zero-initializes it on disk.
func Create(f *file.DatabaseFile, pageCount uint64) (*WAL, error) {
	start, err := f.AllocatePages(pageCount)
	if err != nil {
		return nil, err
	}
	w := &WAL{
		file:   f,
		start:  start,
		count:  pageCount,
		region: make([][]byte, pageCount),
		dirty:  make(map[uint64]bool),
	}
	for i := range w.region {
		w.region[i] = make([]byte, payloadPerPage)
	}
	for i := uint64(0); i < pageCount; i++ {
		if err := w.writePageLocked(i); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Load reconstructs the in-memory ring mirror for an existing WAL extent,
// along with the head/checkpoint offsets and last LSN recorded in the
// superblock, then advances head and last LSN over any intact records
// synced after that superblock was written.
func Load(f *file.DatabaseFile, extent page.Extent, headOffset, checkpointOffset, lastLSN uint64) (*WAL, error) {
	w := &WAL{
		file:    f,
		start:   extent.StartPage,
		count:   extent.PageCount,
		region:  make([][]byte, extent.PageCount),
		dirty:   make(map[uint64]bool),
		head:    headOffset,
		checkpointOffset: checkpointOffset,
		lastLSN: lastLSN,
	}
	for i := uint64(0); i < extent.PageCount; i++ {
		buf, err := f.ReadPage(w.start + page.ID(i))
		if err != nil {
			return nil, err
		}
		if !page.VerifyChecksum(buf.Bytes()) {
			buf.Release()
			return nil, &types.CorruptionError{Reason: "wal page checksum mismatch"}
		}
		w.region[i] = append([]byte(nil), page.Payload(buf.Bytes())...)
		buf.Release()
	}
	// Commits sync the WAL but do not rewrite the superblock, so records
	// may lie past the recorded head; stop at the first record that fails
	// to decode or does not carry a newer LSN.
	tail := w.readBytesLocked(w.head, w.capacityBytes()-(w.head-w.checkpointOffset))
	for {
		rec, n, err := DecodeRecord(tail)
		if err != nil || rec.LSN <= w.lastLSN {
			break
		}
		w.head += uint64(n)
		w.lastLSN = rec.LSN
		tail = tail[n:]
	}
	return w, nil
}

// Extent returns the region's superblock extent descriptor.
func (w *WAL) Extent() page.Extent { return page.Extent{StartPage: w.start, PageCount: w.count} }

// HeadOffset, CheckpointOffset, and LastLSN return the state the owner
// must persist into the superblock.
func (w *WAL) HeadOffset() uint64       { return atomic.LoadUint64(&w.head) }
func (w *WAL) CheckpointOffset() uint64 { return atomic.LoadUint64(&w.checkpointOffset) }
func (w *WAL) LastLSN() uint64          { return atomic.LoadUint64(&w.lastLSN) }

// NextLSN assigns and returns the next log sequence number.
func (w *WAL) NextLSN() uint64 { return atomic.AddUint64(&w.lastLSN, 1) }

// Append serializes rec and writes it into the ring. It does not become
// durable until Sync is called; the caller must not treat the operation
// as committed before that.
func (w *WAL) Append(rec Record) error {
	start := time.Now()
	encoded := rec.Encode()
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.appendLocked(encoded)
	if w.log != nil {
		w.log.WalLogger().LogWalAppend(rec.Type.String(), rec.LSN, len(encoded), err)
	}
	if w.metrics != nil && err == nil {
		w.metrics.RecordWalAppend(rec.Type.String(), time.Since(start))
	}
	return err
}

func (w *WAL) appendLocked(encoded []byte) error {
	if uint64(len(encoded)) > w.capacityBytes() {
		return fmt.Errorf("%w: wal record larger than the entire wal region", types.ErrResource)
	}
	if w.head-w.checkpointOffset+uint64(len(encoded)) > w.capacityBytes() {
		return fmt.Errorf("%w: wal region full, checkpoint required before further writes", types.ErrResource)
	}
	w.writeBytesLocked(w.head, encoded)
	w.head += uint64(len(encoded))
	return nil
}

func (w *WAL) writeBytesLocked(logicalOffset uint64, data []byte) {
	capacity := w.capacityBytes()
	pos := logicalOffset % capacity
	for len(data) > 0 {
		pageIdx := pos / payloadPerPage
		within := pos % payloadPerPage
		n := copy(w.region[pageIdx][within:], data)
		w.dirty[pageIdx] = true
		data = data[n:]
		pos = (pos + uint64(n)) % capacity
	}
}

func (w *WAL) readBytesLocked(logicalOffset uint64, length uint64) []byte {
	capacity := w.capacityBytes()
	out := make([]byte, 0, length)
	pos := logicalOffset % capacity
	for uint64(len(out)) < length {
		pageIdx := pos / payloadPerPage
		within := pos % payloadPerPage
		remaining := length - uint64(len(out))
		avail := uint64(payloadPerPage) - within
		n := avail
		if remaining < n {
			n = remaining
		}
		out = append(out, w.region[pageIdx][within:within+n]...)
		pos = (pos + n) % capacity
	}
	return out
}

// Sync flushes every dirty WAL page and fsyncs the file, making all
// appends since the last Sync durable. This is the linearization point a
// commit depends on.
func (w *WAL) Sync() error {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.syncLocked()
	if w.log != nil && err != nil {
		w.log.WalLogger().Error("wal sync failed").Err(err).Send()
	}
	if w.metrics != nil && err == nil {
		w.metrics.RecordWalSync(time.Since(start))
	}
	return err
}

func (w *WAL) syncLocked() error {
	for idx := range w.dirty {
		if err := w.writePageLocked(idx); err != nil {
			return err
		}
	}
	w.dirty = make(map[uint64]bool)
	return w.file.Sync()
}

func (w *WAL) writePageLocked(idx uint64) error {
	buf := make([]byte, page.Size)
	page.PutHeader(buf, page.Header{Type: page.TypeWAL, PageID: w.start + page.ID(idx)})
	copy(page.Payload(buf), w.region[idx])
	page.SealChecksum(buf)
	return w.file.WritePage(w.start+page.ID(idx), buf)
}

// ReadAll returns every record between the current checkpoint offset and
// the head, in LSN order.
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	length := w.head - w.checkpointOffset
	data := w.readBytesLocked(w.checkpointOffset, length)
	w.mu.Unlock()

	var records []Record
	for len(data) > 0 {
		rec, n, err := DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		data = data[n:]
	}
	return records, nil
}

// ChangesSince returns every record whose HLC strictly dominates since,
// in LSN order.
func (w *WAL) ChangesSince(since types.HlcTimestamp) ([]Record, error) {
	all, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if since.Less(r.HLC) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AdvanceCheckpoint logically truncates the ring by moving the checkpoint
// offset forward to newOffset, reclaiming the prefix for future writes.
// newOffset must be between the current checkpoint offset and head.
func (w *WAL) AdvanceCheckpoint(newOffset uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if newOffset < w.checkpointOffset || newOffset > w.head {
		return fmt.Errorf("%w: checkpoint offset must lie within the unreclaimed wal range", types.ErrValidation)
	}
	w.checkpointOffset = newOffset
	return nil
}
