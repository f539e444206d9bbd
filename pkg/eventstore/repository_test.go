package eventstore_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/eventstore"
	"github.com/nexusid/eventstore/pkg/model"
)

type cartState struct {
	id    string
	items int
}

func newCartRepo(es *eventstore.EventStore) *eventstore.Repository[cartState] {
	return eventstore.NewRepository(es, "cart",
		func(id string) cartState { return cartState{id: id} },
		func(s cartState, e model.Event) cartState {
			if e.EventType == "ItemAdded" {
				s.items++
			}
			return s
		})
}

func TestRepositoryLoadReturnsNotFoundForAnUnknownAggregate(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)

	_, version, err := repo.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.Equal(t, int64(0), version)
}

func TestRepositorySaveThenLoadFoldsEventsIntoState(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)
	ctx := context.Background()

	_, err := repo.Save(ctx, 0, []model.Command{cmd("cart", "c1", "ItemAdded")})
	require.NoError(t, err)
	_, err = repo.Save(ctx, 1, []model.Command{cmd("cart", "c1", "ItemAdded")})
	require.NoError(t, err)

	state, version, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.items)
	assert.Equal(t, int64(2), version)
}

func TestRepositoryExists(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)
	ctx := context.Background()

	ok, err := repo.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Save(ctx, 0, []model.Command{cmd("cart", "c1", "ItemAdded")})
	require.NoError(t, err)

	ok, err = repo.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepositoryRetryOnConflictCreatesOnFirstAttempt(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)

	events, err := repo.RetryOnConflict(context.Background(), "c1", 3,
		func(s cartState, version int64) ([]model.Command, error) {
			return []model.Command{cmd("cart", "c1", "ItemAdded")}, nil
		})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].AggregateVersion)
}

func TestRepositoryRetryOnConflictRetriesAfterALostRace(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)
	ctx := context.Background()

	_, err := repo.Save(ctx, 0, []model.Command{cmd("cart", "c1", "ItemAdded")})
	require.NoError(t, err)

	var attempts int32
	events, err := repo.RetryOnConflict(ctx, "c1", 3,
		func(s cartState, version int64) ([]model.Command, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				// Simulate a concurrent writer landing between this
				// fn's view of version and the eventual Save by
				// appending another event right now.
				_, err := repo.Save(ctx, version, []model.Command{cmd("cart", "c1", "ItemAdded")})
				require.NoError(t, err)
			}
			return []model.Command{cmd("cart", "c1", "ItemAdded")}, nil
		})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))

	state, version, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.items)
	assert.Equal(t, int64(3), version)
}

func TestRepositoryRetryOnConflictGivesUpAfterMaxRetries(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)
	ctx := context.Background()

	_, err := repo.Save(ctx, 0, []model.Command{cmd("cart", "c1", "ItemAdded")})
	require.NoError(t, err)

	var mu sync.Mutex
	_, err = repo.RetryOnConflict(ctx, "c1", 2,
		func(s cartState, version int64) ([]model.Command, error) {
			mu.Lock()
			defer mu.Unlock()
			// Always append a concurrent event first so Save's
			// expectedVersion is stale on every attempt.
			_, saveErr := repo.Save(ctx, version, []model.Command{cmd("cart", "c1", "ItemAdded")})
			require.NoError(t, saveErr)
			return []model.Command{cmd("cart", "c1", "ItemAdded")}, nil
		})
	require.Error(t, err)
	assert.Equal(t, model.KindConcurrency, model.KindOf(err))
}

func TestRepositoryRetryOnConflictPropagatesNonConflictErrors(t *testing.T) {
	es := newTestEngine(t)
	repo := newCartRepo(es)

	boom := fmt.Errorf("business rule rejected the command")
	_, err := repo.RetryOnConflict(context.Background(), "c1", 3,
		func(s cartState, version int64) ([]model.Command, error) {
			return nil, boom
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
