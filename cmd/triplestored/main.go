// triplestored is the process entrypoint: it wires configuration,
// logging, metrics, and the database registry together and keeps the
// process alive until asked to shut down. The only socket it listens on
// serves Prometheus /metrics on the configured port plus one; the
// connection layer that frames requests onto the wire is an external
// collaborator.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainya/triplestore/internal/config"
	"github.com/nainya/triplestore/internal/logger"
	"github.com/nainya/triplestore/internal/metrics"
	"github.com/nainya/triplestore/internal/registry"
	"github.com/nainya/triplestore/internal/storage/checkpoint"
	"github.com/nainya/triplestore/internal/storage/db"
	"github.com/nainya/triplestore/internal/storage/gc"
)

// bufferPoolStatsInterval is how often the shared buffer pool's
// occupancy gauges are refreshed.
const bufferPoolStatsInterval = 5 * time.Second

// metricsShutdownTimeout bounds how long the metrics listener is given
// to drain in-flight scrapes on shutdown.
const metricsShutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger.InitGlobalLogger(logger.Config{Level: "info", Pretty: true})
	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	log.LogServerStart(cfg.Port, cfg.DbDir)

	workers := newWorkerSet()
	defer workers.stopAll()

	reg, err := registry.New(registry.Options{
		BaseDir:            cfg.DbDir,
		NodeID:             cfg.NodeID,
		BufferPoolCapacity: cfg.BufferPoolPages,
		OnOpen:             workers.attach(log, m),
		Logger:             log,
		Metrics:            m,
	})
	if err != nil {
		log.Error("failed to open database registry").Err(err).Send()
		os.Exit(1)
	}
	defer reg.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port+1), Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped unexpectedly").Err(err).Send()
		}
	}()

	log.LogServerReady(cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.LogServerShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(ctx)
}

// workerSet tracks the per-database GC collector and checkpoint runner
// started for every database the registry opens, so they can be
// stopped together at shutdown.
type workerSet struct {
	collectors  []*gc.Collector
	checkpoints []*checkpoint.Runner

	statsOnce sync.Once
	statsStop chan struct{}
}

func newWorkerSet() *workerSet { return &workerSet{statsStop: make(chan struct{})} }

// attach returns a registry.Options.OnOpen callback that starts and
// tracks background workers for each newly opened database.
func (w *workerSet) attach(log *logger.Logger, m *metrics.Metrics) func(string, *db.Database) {
	return func(key string, d *db.Database) {
		gcLog := log.GcLogger().WithFields(map[string]interface{}{"db": key})
		collector := gc.NewCollector(d, func(err error) {
			gcLog.Error("gc sweep failed").Err(err).Send()
		})
		collector.SetObserver(log, m)
		collector.Start()
		w.collectors = append(w.collectors, collector)

		ckptLog := log.CheckpointLogger().WithFields(map[string]interface{}{"db": key})
		runner := checkpoint.NewRunner(d, func(err error) {
			ckptLog.Error("checkpoint failed").Err(err).Send()
		})
		runner.Start()
		w.checkpoints = append(w.checkpoints, runner)

		m.UpdateBufferPoolStats(d.Pool().Capacity(), d.Pool().Leased())

		// Every database opened from this registry shares one buffer
		// pool (registry.New allocates it once), so a single ticker
		// keeps the occupancy gauges current regardless of which
		// database handle it reads through.
		w.statsOnce.Do(func() { go w.pollBufferPoolStats(d, m) })
	}
}

func (w *workerSet) pollBufferPoolStats(d *db.Database, m *metrics.Metrics) {
	ticker := time.NewTicker(bufferPoolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UpdateBufferPoolStats(d.Pool().Capacity(), d.Pool().Leased())
		case <-w.statsStop:
			return
		}
	}
}

func (w *workerSet) stopAll() {
	for _, c := range w.collectors {
		c.Stop()
	}
	for _, r := range w.checkpoints {
		r.Stop()
	}
	close(w.statsStop)
}
