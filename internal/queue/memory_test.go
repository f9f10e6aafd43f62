package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusd/internal/model"
	"corpusd/internal/queue"
)

func TestMemoryQueuePopMinReturnsLowestReadyScore(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-late", 100))
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-early", 10))

	jobID, err := q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.NoError(t, err)
	require.Equal(t, "job-early", jobID)

	jobID, err = q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.NoError(t, err)
	require.Equal(t, "job-late", jobID)

	_, err = q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestMemoryQueuePopMinRespectsFutureScore(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-future", 5000))

	_, err := q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.ErrorIs(t, err, queue.ErrEmpty)

	jobID, err := q.PopMin(ctx, "t1", model.StageExtract, 5000)
	require.NoError(t, err)
	require.Equal(t, "job-future", jobID)
}

func TestMemoryQueueIsolatesStageAndTenant(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-t1-extract", 0))
	require.NoError(t, q.Enqueue(ctx, "t2", model.StageExtract, "job-t2-extract", 0))
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageChunk, "job-t1-chunk", 0))

	_, err := q.PopMin(ctx, "t1", model.StageEmbed, 1000)
	require.ErrorIs(t, err, queue.ErrEmpty)

	jobID, err := q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.NoError(t, err)
	require.Equal(t, "job-t1-extract", jobID)

	jobID, err = q.PopMin(ctx, "t2", model.StageExtract, 1000)
	require.NoError(t, err)
	require.Equal(t, "job-t2-extract", jobID)
}

func TestMemoryQueueListActiveTenantsOmitsDrainedTenants(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-1", 0))
	require.NoError(t, q.Enqueue(ctx, "t2", model.StageExtract, "job-2", 0))

	active, err := q.ListActiveTenants(ctx, model.StageExtract)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"t1", "t2"}, active)

	_, err = q.PopMin(ctx, "t1", model.StageExtract, 1000)
	require.NoError(t, err)

	active, err = q.ListActiveTenants(ctx, model.StageExtract)
	require.NoError(t, err)
	require.Equal(t, []string{"t2"}, active)
}

func TestMemoryQueueLengthReflectsPendingEntries(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	length, err := q.Length(ctx, "t1", model.StageExtract)
	require.NoError(t, err)
	require.Zero(t, length)

	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-1", 0))
	require.NoError(t, q.Enqueue(ctx, "t1", model.StageExtract, "job-2", 0))

	length, err = q.Length(ctx, "t1", model.StageExtract)
	require.NoError(t, err)
	require.Equal(t, int64(2), length)
}
