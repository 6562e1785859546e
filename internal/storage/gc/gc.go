// Package gc cooperatively reclaims tombstoned records: a ticker drains
// batches of the tombstone queue, and any entry still shadowed by an
// active snapshot is requeued rather than reclaimed. The ticker/stop
// shape is the same one the teacher's pkg/wal/checkpoint.go Checkpointer
// uses, reused here for garbage collection rather than checkpointing.
package gc

import (
	"time"

	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/storage/tombstone"
	"github.com/nainya/triplestore/internal/types"
)

// DefaultInterval is how often a GC pass runs when not overridden.
const DefaultInterval = 30 * time.Second

// DefaultBatchSize is how many queued tombstones one pass considers.
const DefaultBatchSize = 256

// Store is the subset of *db.Database the collector needs.
type Store interface {
	GCWatermark() *types.TxnID
	DequeueTombstones(n int) []tombstone.Entry
	RequeueTombstones(entries []tombstone.Entry)
	RemoveIndexEntry(key types.Key) (bool, error)
	RecordAt(key types.Key) (types.TripleRecord, bool, error)
}

// Stats reports the outcome of one GC pass.
type Stats struct {
	Considered int
	Reclaimed  int
	Requeued   int
}

// Collector periodically sweeps a Store's tombstone queue.
type Collector struct {
	store     Store
	interval  time.Duration
	batchSize int
	onError   func(error)
	stopCh    chan struct{}
	doneCh    chan struct{}

	log     *logger.Logger
	metrics *metrics.Metrics
}

// SetObserver wires the collector's sweep path into log and m, either of
// which may be nil. Call before Start.
func (c *Collector) SetObserver(log *logger.Logger, m *metrics.Metrics) {
	c.log = log
	c.metrics = m
}

// NewCollector creates a collector over store. onError, if non-nil, is
// called with any error a ticked pass returns; the collector keeps
// running afterward.
func NewCollector(store Store, onError func(error)) *Collector {
	return &Collector{
		store:     store,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		onError:   onError,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetInterval changes the sweep interval before Start is called.
func (c *Collector) SetInterval(interval time.Duration) { c.interval = interval }

// SetBatchSize changes how many tombstones one pass considers.
func (c *Collector) SetBatchSize(n int) { c.batchSize = n }

// Start begins the background sweep loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Sweep(); err != nil && c.onError != nil {
				c.onError(err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Sweep runs one reclamation pass immediately, outside the ticker
// cadence: it dequeues up to batchSize tombstones, reclaims any whose
// shadow is no longer visible to any active snapshot, and requeues the
// rest for a later pass.
func (c *Collector) Sweep() (stats Stats, err error) {
	start := time.Now()
	defer func() {
		if c.log != nil {
			c.log.GcLogger().LogGcSweep(stats.Considered, stats.Reclaimed, stats.Requeued, time.Since(start), err)
		}
		if c.metrics != nil && err == nil {
			c.metrics.RecordGcSweep(stats.Considered, stats.Reclaimed, stats.Requeued)
		}
	}()

	batch := c.store.DequeueTombstones(c.batchSize)
	stats.Considered = len(batch)
	if len(batch) == 0 {
		return stats, nil
	}

	watermark := c.store.GCWatermark()
	var keep []tombstone.Entry
	for _, entry := range batch {
		rec, ok, recErr := c.store.RecordAt(entry.Key)
		if recErr != nil {
			err = recErr
			return stats, err
		}
		if !ok || rec.DeletedTxn != entry.DeletedTxn {
			// Superseded by a later write; this entry's shadow no
			// longer exists under this key.
			continue
		}
		if !rec.IsGCEligible(watermark) {
			keep = append(keep, entry)
			continue
		}
		if _, removeErr := c.store.RemoveIndexEntry(entry.Key); removeErr != nil {
			err = removeErr
			return stats, err
		}
		stats.Reclaimed++
	}
	if len(keep) > 0 {
		c.store.RequeueTombstones(keep)
		stats.Requeued = len(keep)
	}
	return stats, nil
}
