package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusd/internal/model"
	"corpusd/internal/queue"
)

func TestNextRotatesAcrossTenantsRoundRobin(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "a", model.StageExtract, "job-a1", 0))
	require.NoError(t, q.Enqueue(ctx, "b", model.StageExtract, "job-b1", 0))
	require.NoError(t, q.Enqueue(ctx, "c", model.StageExtract, "job-c1", 0))

	s := New(q, newMemoryState(), nil, nil)

	var served []string
	for i := 0; i < 3; i++ {
		a, err := s.Next(ctx, model.StageExtract)
		require.NoError(t, err)
		served = append(served, a.TenantID)
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, served)
	require.Len(t, dedupe(served), 3)

	_, err := s.Next(ctx, model.StageExtract)
	require.ErrorIs(t, err, ErrNoWork)
}

func TestNextResumesAfterLastServedTenant(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "a", model.StageExtract, "job-a1", 0))
	require.NoError(t, q.Enqueue(ctx, "b", model.StageExtract, "job-b1", 0))

	s := New(q, newMemoryState(), nil, nil)

	first, err := s.Next(ctx, model.StageExtract)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, first.TenantID, model.StageExtract, "job-again", 0))

	second, err := s.Next(ctx, model.StageExtract)
	require.NoError(t, err)
	require.NotEqual(t, first.TenantID, second.TenantID)

	third, err := s.Next(ctx, model.StageExtract)
	require.NoError(t, err)
	require.Equal(t, first.TenantID, third.TenantID)
}

func TestNextHonorsPerTenantConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, "a", model.StageEmbed, "job-1", 0))
	require.NoError(t, q.Enqueue(ctx, "a", model.StageEmbed, "job-2", 0))

	s := New(q, newMemoryState(), map[model.Stage]int{model.StageEmbed: 1}, nil)

	_, err := s.Next(ctx, model.StageEmbed)
	require.NoError(t, err)

	_, err = s.Next(ctx, model.StageEmbed)
	require.ErrorIs(t, err, ErrNoWork)

	s.Release(ctx, model.StageEmbed, "a")

	_, err = s.Next(ctx, model.StageEmbed)
	require.NoError(t, err)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range in {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
