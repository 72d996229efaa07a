// Package metrics keeps operational counters for docvault. Observations are
// queued without blocking the request path, folded into in-memory deltas by a
// single goroutine, and periodically added to totals in a SQLite database so
// they survive restarts. Only monotonic counters and count/sum/min/max
// summaries are supported.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/docvault/internal/app"
)

// Counter names. The service counters are owned by app.
const (
	CounterDocumentsStored   = app.CounterDocumentsStored
	CounterDocumentsFetched  = app.CounterDocumentsFetched
	CounterDocumentsNotFound = app.CounterDocumentsNotFound
	CounterRequestsRejected  = app.CounterRequestsRejected
	CounterInternalErrors    = app.CounterInternalErrors
	// CounterEventsDropped counts observations discarded because the queue was full.
	CounterEventsDropped = "metrics_events_dropped_total"
)

// Summary names.
const (
	SummaryDocumentBytes = app.SummaryDocumentBytes
)

const queueSize = 1024

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary aggregates observations of one named quantity.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) add(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	if o.Count == 0 {
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Snapshot is a point-in-time view of persisted totals plus unflushed deltas.
type Snapshot struct {
	Counters  map[string]int64   `json:"counters"`
	Summaries map[string]Summary `json:"summaries"`
}

// Manager aggregates metric events and flushes them to SQLite.
type Manager struct {
	cfg    Config
	db     *sql.DB
	events chan event

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}

	dropped atomic.Int64

	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind  eventKind
	name  string
	value int64
}

// New creates a Manager over db. Call InitSchema once, then Start.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// InitSchema creates the metrics tables if they do not exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_summaries (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	sum INTEGER NOT NULL,
	min INTEGER NOT NULL,
	max INTEGER NOT NULL
);`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("metrics schema: %w", err)
	}
	return nil
}

// Start launches the background loop. Subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop(ctx)
	})
}

// Stop ends the loop, folds any queued events, and performs a final flush.
// It is safe to call more than once and without Start.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if m.started.Load() {
			close(m.stop)
			<-m.done
		}
		m.drain()
		err = m.flush(ctx)
	})
	return err
}

// Inc adds delta to a counter. Non-positive deltas are ignored.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, value: delta})
}

// Observe records one summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, value: value})
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("metrics flush", "err", err)
			}
		}
	}
}

// drain folds every queued event without blocking.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.value
	case eventObserve:
		agg := m.summaries[ev.name]
		agg.add(Summary{Count: 1, Sum: ev.value, Min: ev.value, Max: ev.value})
		m.summaries[ev.name] = agg
	}
}

// Snapshot returns persisted totals with unflushed deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Counters: map[string]int64{}, Summaries: map[string]Summary{}}

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
		}
		snap.Counters[name] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var name string
		var s Summary
		if err := srows.Scan(&name, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
		}
		snap.Summaries[name] = s
	}
	if err := srows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("metrics snapshot: %w", err)
	}

	m.mu.Lock()
	for name, v := range m.counters {
		snap.Counters[name] += v
	}
	for name, agg := range m.summaries {
		cur := snap.Summaries[name]
		cur.add(agg)
		snap.Summaries[name] = cur
	}
	m.mu.Unlock()
	if d := m.dropped.Load(); d > 0 {
		snap.Counters[CounterEventsDropped] += d
	}
	return snap, nil
}

// flush adds in-memory deltas to the persisted totals in one transaction. On
// failure the deltas are merged back so nothing is lost.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if d := m.dropped.Swap(0); d > 0 {
		m.counters[CounterEventsDropped] += d
	}
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters := maps.Clone(m.counters)
	summaries := maps.Clone(m.summaries)
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	if err := m.write(ctx, counters, summaries); err != nil {
		m.restore(counters, summaries)
		return fmt.Errorf("metrics flush: %w", err)
	}
	return nil
}

func (m *Manager) write(ctx context.Context, counters map[string]int64, summaries map[string]Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for name, delta := range counters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name, value) VALUES(?, ?)
ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			return err
		}
	}
	for name, s := range summaries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name, count, sum, min, max) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	count = metrics_summaries.count + excluded.count,
	sum = metrics_summaries.sum + excluded.sum,
	min = MIN(metrics_summaries.min, excluded.min),
	max = MAX(metrics_summaries.max, excluded.max)`, name, s.Count, s.Sum, s.Min, s.Max); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) restore(counters map[string]int64, summaries map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range counters {
		m.counters[name] += v
	}
	for name, s := range summaries {
		cur := m.summaries[name]
		cur.add(s)
		m.summaries[name] = cur
	}
}
