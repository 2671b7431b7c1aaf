// internal/poll/engine.go - Per-backend polling workers and snapshot handover
package poll

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stearz/Nagstamon/internal/backend"
	"github.com/stearz/Nagstamon/internal/backend/alertmanager"
	"github.com/stearz/Nagstamon/internal/backend/checkmk"
	"github.com/stearz/Nagstamon/internal/config"
	"github.com/stearz/Nagstamon/internal/database"
	"github.com/stearz/Nagstamon/internal/metrics"
	"github.com/stearz/Nagstamon/internal/status"
)

// Engine drives one polling worker per configured backend. Workers run
// independently of each other; within one backend, cycles never overlap - a
// tick that arrives while a cycle is still running is dropped.
type Engine struct {
	config   *config.Config
	store    *database.Store
	metrics  *metrics.Collector
	adapters map[string]backend.Adapter
	workers  map[string]*worker

	mu        sync.RWMutex
	snapshots map[string]*status.Snapshot
	results   map[string]status.Result
	running   bool

	onSnapshot func(*status.Snapshot)
}

type worker struct {
	adapter    backend.Adapter
	interval   time.Duration
	inProgress atomic.Bool
	refresh    chan struct{}
}

func NewEngine(cfg *config.Config, store *database.Store, metricsCollector *metrics.Collector) (*Engine, error) {
	engine := &Engine{
		config:    cfg,
		store:     store,
		metrics:   metricsCollector,
		adapters:  make(map[string]backend.Adapter),
		workers:   make(map[string]*worker),
		snapshots: make(map[string]*status.Snapshot),
		results:   make(map[string]status.Result),
	}

	for _, backendCfg := range cfg.Backends {
		adapter, err := newAdapter(backendCfg, cfg.Polling.RequestTimeout, store)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", backendCfg.Name, err)
		}
		engine.adapters[backendCfg.Name] = adapter
		engine.workers[backendCfg.Name] = &worker{
			adapter:  adapter,
			interval: backendCfg.Interval,
			refresh:  make(chan struct{}, 1),
		}
	}

	logrus.WithField("backends", len(engine.adapters)).Info("Initialized polling engine")
	return engine, nil
}

func newAdapter(cfg config.BackendConfig, timeout time.Duration, sessions backend.SessionStore) (backend.Adapter, error) {
	switch cfg.Type {
	case config.TypeCheckmk:
		return checkmk.New(cfg, timeout, sessions)
	case config.TypeAlertmanager:
		return alertmanager.New(cfg, timeout)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// OnSnapshot registers a callback invoked with every fresh successful
// snapshot. Must be called before Start.
func (e *Engine) OnSnapshot(fn func(*status.Snapshot)) {
	e.onSnapshot = fn
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.Info("Starting polling engine")

	for name, w := range e.workers {
		go e.runWorker(ctx, name, w)
	}
	return nil
}

func (e *Engine) runWorker(ctx context.Context, name string, w *worker) {
	log := logrus.WithField("backend", name)
	log.WithField("interval", w.interval).Info("Started polling worker")

	// fetch once right away instead of waiting a full interval
	e.maybeRunCycle(ctx, name, w)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping polling worker")
			return
		case <-ticker.C:
			e.maybeRunCycle(ctx, name, w)
		case <-w.refresh:
			e.maybeRunCycle(ctx, name, w)
		}
	}
}

// maybeRunCycle starts a cycle unless one is already in flight for this
// backend, which protects the adapter's session state from concurrent logins.
func (e *Engine) maybeRunCycle(ctx context.Context, name string, w *worker) {
	if !w.inProgress.CompareAndSwap(false, true) {
		e.metrics.RecordSkippedCycle(name)
		logrus.WithField("backend", name).Debug("Previous cycle still running, skipping")
		return
	}

	go func() {
		defer w.inProgress.Store(false)
		e.runCycle(ctx, name, w.adapter)
	}()
}

func (e *Engine) runCycle(ctx context.Context, name string, adapter backend.Adapter) {
	cycleID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{"backend": name, "cycle": cycleID})

	start := time.Now()
	snapshot := adapter.GetStatus(ctx)
	elapsed := time.Since(start)

	ok := snapshot.Result.OK()
	e.metrics.RecordCycle(name, ok, elapsed)

	meta, err := e.store.LoadCycleMeta(name)
	if err != nil {
		log.WithError(err).Debug("Failed to load cycle metadata")
		meta = &database.CycleMeta{}
	}
	meta.LastAttempt = start
	meta.Cycles++

	if ok {
		// atomic handover: readers either see the previous complete
		// snapshot or this one, never a partially built mapping
		e.mu.Lock()
		e.snapshots[name] = snapshot
		e.results[name] = snapshot.Result
		e.mu.Unlock()

		e.metrics.UpdateSnapshot(snapshot)
		meta.LastSuccess = start
		meta.LastError = ""

		log.WithFields(logrus.Fields{
			"hosts":    snapshot.HostCount(),
			"services": snapshot.ServiceCount(),
			"duration": elapsed,
			"warning":  snapshot.Result.Warning,
		}).Debug("Cycle completed")

		if e.onSnapshot != nil {
			e.onSnapshot(snapshot)
		}
	} else {
		// keep the previous good snapshot, only replace the result
		e.mu.Lock()
		e.results[name] = snapshot.Result
		e.mu.Unlock()

		meta.LastError = snapshot.Result.Error
		meta.Failures++

		log.WithFields(logrus.Fields{
			"error":       snapshot.Result.Error,
			"status_code": snapshot.Result.StatusCode,
			"duration":    elapsed,
		}).Error("Cycle failed, retaining previous snapshot")
	}

	if err := e.store.SaveCycleMeta(name, meta); err != nil {
		log.WithError(err).Debug("Failed to persist cycle metadata")
	}
}

// Refresh requests an immediate cycle for one backend. A no-op when a cycle
// is already queued or running.
func (e *Engine) Refresh(name string) bool {
	w, ok := e.workers[name]
	if !ok {
		return false
	}
	select {
	case w.refresh <- struct{}{}:
	default:
	}
	return true
}

// Snapshot returns the latest successful snapshot for a backend together with
// the latest cycle result, which may describe a newer failed cycle.
func (e *Engine) Snapshot(name string) (*status.Snapshot, status.Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.adapters[name]; !ok {
		return nil, status.Result{}, false
	}

	snapshot := e.snapshots[name]
	if snapshot == nil {
		snapshot = status.ErrorSnapshot(name, status.Result{})
	}
	return snapshot, e.results[name], true
}

// Backends lists the configured backend names, sorted for stable API output.
func (e *Engine) Backends() []string {
	names := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Adapter(name string) (backend.Adapter, bool) {
	adapter, ok := e.adapters[name]
	return adapter, ok
}

// Acknowledge, SetDowntime and Recheck dispatch a uniform write request to
// the named backend. A failed write is reported once and never touches the
// snapshots built by read cycles.
func (e *Engine) Acknowledge(ctx context.Context, name string, req backend.AcknowledgeRequest) error {
	adapter, ok := e.adapters[name]
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	err := adapter.Acknowledge(ctx, req)
	e.metrics.RecordAction(name, "acknowledge", err)
	return err
}

func (e *Engine) SetDowntime(ctx context.Context, name string, req backend.DowntimeRequest) error {
	adapter, ok := e.adapters[name]
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	err := adapter.SetDowntime(ctx, req)
	e.metrics.RecordAction(name, "downtime", err)
	return err
}

func (e *Engine) Recheck(ctx context.Context, name string, req backend.RecheckRequest) error {
	adapter, ok := e.adapters[name]
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	err := adapter.Recheck(ctx, req)
	e.metrics.RecordAction(name, "recheck", err)
	return err
}

// RecheckAll reschedules all problems on backends that support it.
func (e *Engine) RecheckAll(ctx context.Context, name string) error {
	adapter, ok := e.adapters[name]
	if !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	rechecker, ok := adapter.(backend.AllRechecker)
	if !ok {
		return fmt.Errorf("backend %q does not support recheck all", name)
	}
	err := rechecker.RecheckAll(ctx)
	e.metrics.RecordAction(name, "recheck_all", err)
	return err
}
