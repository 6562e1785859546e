// Package registry maps validated API keys to shared database handles.
// The fast path takes a read lock and returns an already-open database;
// the slow path takes a write lock, double-checks, and opens or creates
// the file on disk. Exactly one *db.Database exists per key for the
// life of the process, and every database shares one buffer pool.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/nainya/triplestore/internal/faultinjector"
	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/storage/bufferpool"
	"github.com/nainya/triplestore/internal/storage/db"
	"github.com/nainya/triplestore/internal/types"
)

// MaxKeyLength is the longest API key the registry will accept.
const MaxKeyLength = 256

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateKey enforces the key shape the boundary requires before any
// filesystem access is attempted: non-empty, bounded length, and drawn
// from a character set that cannot escape the base directory once
// interpolated into "{base}/{key}.db".
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: api key must not be empty", types.ErrValidation)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: api key exceeds %d characters", types.ErrValidation, MaxKeyLength)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: api key must match [A-Za-z0-9_-]+", types.ErrValidation)
	}
	return nil
}

// Registry owns every opened *db.Database for the process, keyed by
// validated API key, and the buffer pool they all share.
type Registry struct {
	mu   sync.RWMutex
	dbs  map[string]*db.Database
	pool *bufferpool.Pool

	baseDir            string
	nodeID             uint32
	bufferPoolCapacity int
	onOpen             func(key string, d *db.Database)

	logger   *logger.Logger
	metrics  *metrics.Metrics
	injector *faultinjector.Injector
}

// Options configures a new Registry.
type Options struct {
	BaseDir            string
	NodeID             uint32
	BufferPoolCapacity int // 0 uses bufferpool.DefaultCapacity

	// OnOpen, if set, is called once for every database the registry
	// newly creates or opens from disk (never on a fast-path cache
	// hit). Callers use it to attach per-database background workers
	// such as the GC collector and checkpoint runner.
	OnOpen func(key string, d *db.Database)

	// Logger and Metrics, if set, are threaded into every db.Options
	// this registry builds, so the WAL, commit, recovery, and
	// checkpoint paths of every opened database observe through them.
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Injector, if set, is shared by every database this registry
	// opens, for crash-point tests that need a single armed Injector
	// reachable from the registry's key.
	Injector *faultinjector.Injector
}

// New creates a registry rooted at opts.BaseDir, sharing one buffer
// pool across every database it opens. BaseDir is created if absent.
func New(opts Options) (*Registry, error) {
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create registry base dir: %v", types.ErrIO, err)
	}
	return &Registry{
		dbs:                make(map[string]*db.Database),
		pool:               bufferpool.New(opts.BufferPoolCapacity),
		onOpen:             opts.OnOpen,
		baseDir:            opts.BaseDir,
		nodeID:             opts.NodeID,
		bufferPoolCapacity: opts.BufferPoolCapacity,
		logger:             opts.Logger,
		metrics:            opts.Metrics,
		injector:           opts.Injector,
	}, nil
}

// pathFor resolves an already-validated key to its on-disk file path.
func (r *Registry) pathFor(key string) string {
	return filepath.Join(r.baseDir, key+".db")
}

// Get returns the database handle for key, opening or creating it on
// first access. The fast path (read lock, map lookup) is taken on every
// call after the first for a given key.
func (r *Registry) Get(key string) (*db.Database, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	r.mu.RLock()
	d, ok := r.dbs[key]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	r.mu.Lock()
	if d, ok := r.dbs[key]; ok {
		r.mu.Unlock()
		return d, nil
	}

	path := r.pathFor(key)
	opts := db.Options{
		NodeID:     r.nodeID,
		SharedPool: r.pool,
		Logger:     r.logger,
		Metrics:    r.metrics,
		Injector:   r.injector,
	}

	var (
		d2  *db.Database
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		d2, err = db.Open(path, opts)
	} else if os.IsNotExist(statErr) {
		d2, err = db.Create(path, opts)
	} else {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: stat %s: %v", types.ErrIO, path, statErr)
	}
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.dbs[key] = d2
	r.mu.Unlock()

	if r.onOpen != nil {
		r.onOpen(key, d2)
	}
	return d2, nil
}

// Len returns the number of databases currently open.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dbs)
}

// Keys returns the API keys of every currently open database.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.dbs))
	for k := range r.dbs {
		keys = append(keys, k)
	}
	return keys
}

// Pool returns the buffer pool shared by every database in the registry.
func (r *Registry) Pool() *bufferpool.Pool { return r.pool }

// Close closes every open database. It collects and returns the first
// error encountered but attempts to close every handle regardless.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, d := range r.dbs {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", key, err)
		}
		delete(r.dbs, key)
	}
	return firstErr
}
