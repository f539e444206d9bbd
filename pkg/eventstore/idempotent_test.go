package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/model"
)

func TestPushIdempotentAppendsOnceAndReplaysOnRetry(t *testing.T) {
	es := newTestEngine(t)
	ctx := context.Background()

	first, err := es.PushIdempotent(ctx, "handle-1", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Hour)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := es.PushIdempotent(ctx, "handle-1", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Hour)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].AggregateVersion, second[0].AggregateVersion)
	assert.Equal(t, first[0].Position, second[0].Position)

	count, err := es.Count(ctx, model.Filter{AggregateTypes: []string{"cart"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPushIdempotentRejectsEmptyHandle(t *testing.T) {
	es := newTestEngine(t)
	_, err := es.PushIdempotent(context.Background(), "", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestPushIdempotentDistinctHandlesAppendSeparately(t *testing.T) {
	es := newTestEngine(t)
	ctx := context.Background()

	_, err := es.PushIdempotent(ctx, "handle-a", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Hour)
	require.NoError(t, err)
	_, err = es.PushIdempotent(ctx, "handle-b", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Hour)
	require.NoError(t, err)

	count, err := es.Count(ctx, model.Filter{AggregateTypes: []string{"cart"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPushIdempotentReplaysEachEventFromItsOwnAggregateAcrossAMultiAggregateBatch(t *testing.T) {
	es := newTestEngine(t)
	ctx := context.Background()

	batch := []model.Command{
		cmd("cart", "c1", "ItemAdded"),
		cmd("order", "o1", "OrderPlaced"),
	}
	first, err := es.PushIdempotent(ctx, "handle-multi", batch, time.Hour)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := es.PushIdempotent(ctx, "handle-multi", batch, time.Hour)
	require.NoError(t, err)
	require.Len(t, second, 2)

	for i := range first {
		assert.Equal(t, first[i].AggregateType, second[i].AggregateType)
		assert.Equal(t, first[i].AggregateID, second[i].AggregateID)
		assert.Equal(t, first[i].AggregateVersion, second[i].AggregateVersion)
		assert.Equal(t, first[i].Position, second[i].Position)
	}

	cartCount, err := es.Count(ctx, model.Filter{AggregateTypes: []string{"cart"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cartCount)

	orderCount, err := es.Count(ctx, model.Filter{AggregateTypes: []string{"order"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), orderCount)
}

func TestPruneExpiredCommandsRemovesOnlyExpiredRecords(t *testing.T) {
	es := newTestEngine(t)
	ctx := context.Background()

	_, err := es.PushIdempotent(ctx, "handle-expired", []model.Command{cmd("cart", "c1", "ItemAdded")}, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = es.PushIdempotent(ctx, "handle-live", []model.Command{cmd("cart", "c2", "ItemAdded")}, time.Hour)
	require.NoError(t, err)

	n, err := es.PruneExpiredCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
