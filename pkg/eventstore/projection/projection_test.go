package projection_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/eventstore"
	"github.com/nexusid/eventstore/pkg/eventstore/projection"
	"github.com/nexusid/eventstore/pkg/eventstore/storage"
	"github.com/nexusid/eventstore/pkg/model"
)

type countingHandler struct {
	mu      sync.Mutex
	applied []model.Event
	fail    bool
}

func (h *countingHandler) Name() string             { return "counting" }
func (h *countingHandler) Tables() []string         { return []string{"counting_totals"} }
func (h *countingHandler) EventTypes() []string      { return []string{"ItemAdded"} }
func (h *countingHandler) AggregateTypes() []string { return []string{"cart"} }

func (h *countingHandler) Handle(ctx context.Context, tx *sql.Tx, e model.Event) error {
	if h.fail {
		return assert.AnError
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO counting_totals (id, event_type) VALUES (?, ?)`, e.AggregateVersion, e.EventType)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.applied = append(h.applied, e)
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.applied)
}

func newTestStore(t *testing.T) (*eventstore.EventStore, *sql.DB) {
	t.Helper()
	es, err := eventstore.New([]storage.Option{
		storage.WithMemoryDatabase(),
		storage.WithAutoMigrate(true),
	}, eventstore.WithInstanceID("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	return es, es.DB()
}

func TestRunnerAppliesNewEventsAndAdvancesCheckpoint(t *testing.T) {
	es, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE counting_totals (id INTEGER PRIMARY KEY, event_type TEXT)`)
	require.NoError(t, err)

	_, err = es.Push(ctx, model.Command{
		AggregateType: "cart", AggregateID: "c1", EventType: "ItemAdded", Payload: []byte(`{}`),
		Creator: "tester", Owner: "tester",
	})
	require.NoError(t, err)
	_, err = es.Push(ctx, model.Command{
		AggregateType: "cart", AggregateID: "c1", EventType: "ItemAdded", Payload: []byte(`{}`),
		Creator: "tester", Owner: "tester",
	})
	require.NoError(t, err)

	handler := &countingHandler{}
	run := projection.New(db, handler, es, projection.Config{Interval: 20 * time.Millisecond}, nil)

	require.NoError(t, run.Start(ctx))
	defer run.Stop(context.Background())

	require.Eventually(t, func() bool { return handler.count() == 2 }, time.Second, 10*time.Millisecond)

	status := run.Status()
	assert.Equal(t, "counting", status.Name)
	assert.NoError(t, status.LastError)
}

func TestRunnerSkipsEventsOutsideItsFilter(t *testing.T) {
	es, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE counting_totals (id INTEGER PRIMARY KEY, event_type TEXT)`)
	require.NoError(t, err)

	_, err = es.Push(ctx, model.Command{
		AggregateType: "order", AggregateID: "o1", EventType: "OrderPlaced", Payload: []byte(`{}`),
		Creator: "tester", Owner: "tester",
	})
	require.NoError(t, err)

	handler := &countingHandler{}
	run := projection.New(db, handler, es, projection.Config{Interval: 20 * time.Millisecond}, nil)

	require.NoError(t, run.Start(ctx))
	defer run.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, handler.count())
}

func TestRunnerRecordsHandlerFailureWithoutAdvancingCheckpoint(t *testing.T) {
	es, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE counting_totals (id INTEGER PRIMARY KEY, event_type TEXT)`)
	require.NoError(t, err)

	_, err = es.Push(ctx, model.Command{
		AggregateType: "cart", AggregateID: "c1", EventType: "ItemAdded", Payload: []byte(`{}`),
		Creator: "tester", Owner: "tester",
	})
	require.NoError(t, err)

	handler := &countingHandler{fail: true}
	run := projection.New(db, handler, es, projection.Config{Interval: 20 * time.Millisecond}, nil)

	require.NoError(t, run.Start(ctx))
	defer run.Stop(context.Background())

	require.Eventually(t, func() bool { return run.Status().LastError != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, handler.count())
}

func TestRunnerAdvancesPastAFullBatchOfUnmatchedEventsInOneTick(t *testing.T) {
	es, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE counting_totals (id INTEGER PRIMARY KEY, event_type TEXT)`)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = es.Push(ctx, model.Command{
			AggregateType: "order", AggregateID: "o1", EventType: "OrderPlaced", Payload: []byte(`{}`),
			Creator: "tester", Owner: "tester",
		})
		require.NoError(t, err)
	}
	_, err = es.Push(ctx, model.Command{
		AggregateType: "cart", AggregateID: "c1", EventType: "ItemAdded", Payload: []byte(`{}`),
		Creator: "tester", Owner: "tester",
	})
	require.NoError(t, err)

	handler := &countingHandler{}
	run := projection.New(db, handler, es, projection.Config{Interval: 20 * time.Millisecond, BatchSize: 2}, nil)

	require.NoError(t, run.Start(ctx))
	defer run.Stop(context.Background())

	require.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 10*time.Millisecond,
		"a run of unmatched events spanning several small batches must not stall the checkpoint before the matching event")
}

func TestRegistryBuildsServicesForRunner(t *testing.T) {
	es, db := newTestStore(t)
	reg := projection.NewRegistry(db, es, nil)

	handler := &countingHandler{}
	reg.Register(handler, projection.Config{Name: "counting"})

	services := reg.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "counting", services[0].Name())

	statuses := reg.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "counting", statuses[0].Name)
}
