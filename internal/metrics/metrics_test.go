package metrics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTempDB creates an isolated sqlite database file for tests.
func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newManager(t *testing.T, interval time.Duration) (*Manager, *sql.DB) {
	t.Helper()
	db := openTempDB(t)
	m := New(db, Config{FlushInterval: interval})
	require.NoError(t, m.InitSchema(context.Background()))
	return m, db
}

func persistedCounter(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var v int64
	err := db.QueryRow(`SELECT value FROM metrics_counters WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0
	}
	require.NoError(t, err)
	return v
}

func TestManagerIncFlush(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx := context.Background()

	m.Inc(CounterDocumentsStored, 1)
	m.Inc(CounterDocumentsStored, 2)
	m.drain()
	require.NoError(t, m.flush(ctx))

	assert.Equal(t, int64(3), persistedCounter(t, db, CounterDocumentsStored))
}

func TestManagerFlushAccumulates(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Inc(CounterDocumentsFetched, 2)
		m.drain()
		require.NoError(t, m.flush(ctx))
	}
	assert.Equal(t, int64(6), persistedCounter(t, db, CounterDocumentsFetched))
}

func TestManagerObserveFlushSnapshot(t *testing.T) {
	m, _ := newManager(t, time.Hour)
	ctx := context.Background()

	m.Observe(SummaryDocumentBytes, 5)
	m.Observe(SummaryDocumentBytes, 7)
	m.drain()
	require.NoError(t, m.flush(ctx))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Counters)
	assert.Equal(t, Summary{Count: 2, Sum: 12, Min: 5, Max: 7}, snap.Summaries[SummaryDocumentBytes])
}

func TestManagerSummaryLayering(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `INSERT INTO metrics_summaries(name, count, sum, min, max) VALUES(?, ?, ?, ?, ?)`,
		SummaryDocumentBytes, 3, 30, 5, 20)
	require.NoError(t, err)

	m.Observe(SummaryDocumentBytes, 4)
	m.Observe(SummaryDocumentBytes, 25)
	m.Observe(SummaryDocumentBytes, 6)
	m.drain()

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Count: 6, Sum: 65, Min: 4, Max: 25}, snap.Summaries[SummaryDocumentBytes])

	// Flushing the same deltas must produce the same persisted totals.
	require.NoError(t, m.flush(ctx))
	snap, err = m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Count: 6, Sum: 65, Min: 4, Max: 25}, snap.Summaries[SummaryDocumentBytes])
}

func TestManagerSnapshotMergesDeltas(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `INSERT INTO metrics_counters(name, value) VALUES(?, 10)`, CounterDocumentsStored)
	require.NoError(t, err)

	m.Inc(CounterDocumentsStored, 5)
	m.drain()

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), snap.Counters[CounterDocumentsStored])
}

func TestManagerStopFinalFlush(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.Inc(CounterDocumentsNotFound, 4)
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, int64(4), persistedCounter(t, db, CounterDocumentsNotFound))

	// second Stop is a no-op
	assert.NoError(t, m.Stop(context.Background()))
}

func TestManagerStopWithoutStart(t *testing.T) {
	m, db := newManager(t, 0)
	m.Inc(CounterRequestsRejected, 2)
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, int64(2), persistedCounter(t, db, CounterRequestsRejected))
}

func TestManagerStartIdempotent(t *testing.T) {
	m, db := newManager(t, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx)
	m.Inc(CounterDocumentsStored, 1)
	assert.Eventually(t, func() bool {
		var v int64
		err := db.QueryRow(`SELECT value FROM metrics_counters WHERE name = ?`, CounterDocumentsStored).Scan(&v)
		return err == nil && v == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop(context.Background()))
}

func TestManagerLoopContextCancel(t *testing.T) {
	m, db := newManager(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	m.Inc(CounterInternalErrors, 3)
	cancel()

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, int64(3), persistedCounter(t, db, CounterInternalErrors))
}

func TestManagerIncNonPositiveIgnored(t *testing.T) {
	m, db := newManager(t, 0)
	m.Inc(CounterDocumentsStored, -5)
	m.Inc(CounterDocumentsStored, 0)
	select {
	case ev := <-m.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
	require.NoError(t, m.flush(context.Background()))
	assert.Equal(t, int64(0), persistedCounter(t, db, CounterDocumentsStored))
}

func TestManagerFullQueueCountsDrops(t *testing.T) {
	m, db := newManager(t, 0)
	ctx := context.Background()
	m.events = make(chan event, 1)

	m.Inc(CounterDocumentsStored, 1)
	m.Inc(CounterDocumentsStored, 100) // dropped
	m.Observe(SummaryDocumentBytes, 20) // dropped

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Counters[CounterEventsDropped])

	m.drain()
	require.NoError(t, m.flush(ctx))
	assert.Equal(t, int64(1), persistedCounter(t, db, CounterDocumentsStored))
	assert.Equal(t, int64(2), persistedCounter(t, db, CounterEventsDropped))
}

func TestManagerFailedFlushKeepsDeltas(t *testing.T) {
	db := openTempDB(t)
	m := New(db, Config{})
	ctx := context.Background()

	// schema missing: flush fails
	m.Inc(CounterDocumentsStored, 7)
	m.drain()
	require.Error(t, m.flush(ctx))

	require.NoError(t, m.InitSchema(ctx))
	require.NoError(t, m.flush(ctx))
	assert.Equal(t, int64(7), persistedCounter(t, db, CounterDocumentsStored))
}

func TestManagerFlushEmpty(t *testing.T) {
	m, _ := newManager(t, 0)
	assert.NoError(t, m.flush(context.Background()))
}

func TestSummaryAdd(t *testing.T) {
	var s Summary
	s.add(Summary{})
	assert.Equal(t, Summary{}, s)
	s.add(Summary{Count: 1, Sum: 3, Min: 3, Max: 3})
	s.add(Summary{Count: 2, Sum: 10, Min: 1, Max: 9})
	assert.Equal(t, Summary{Count: 3, Sum: 13, Min: 1, Max: 9}, s)
}
