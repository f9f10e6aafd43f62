package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"corpusd/internal/dispatcher"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/pipeline/chunk"
	"corpusd/internal/pipeline/embed"
	"corpusd/internal/pipeline/extract"
	"corpusd/internal/queue"
	"corpusd/internal/ratelimit"
	"corpusd/internal/vectorstore"
)

const dimension = 64

type harness struct {
	dispatcher *dispatcher.Dispatcher
	metadata   metadatastore.Store
	objects    objectstore.ObjectStore
	vectors    vectorstore.VectorStore
	q          *queue.MemoryQueue
	embedder   embed.Embedder
}

func newHarness(t *testing.T) harness {
	t.Helper()
	metadata := metadatastore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	vectors := vectorstore.NewMemoryStore(dimension)
	q := queue.NewMemoryQueue()
	limiter := ratelimit.NewMemoryLimiter(time.Minute)
	embedder := embed.NewDeterministicEmbedder(dimension)
	log := zerolog.Nop()

	d := dispatcher.New(metadata, objects, vectors, q, limiter, embedder, log, 10<<20)
	return harness{dispatcher: d, metadata: metadata, objects: objects, vectors: vectors, q: q, embedder: embedder}
}

// runPipelineOnce drains every queued job across all three stages until the
// queues are empty, simulating the worker pools without goroutines or a
// scheduler, since the test wants a deterministic single-threaded sequence.
func (h harness) runPipelineOnce(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	log := zerolog.Nop()
	extractWorker := extract.NewWorker(h.objects, h.metadata, h.q, extract.NewRegistry(extract.PlainTextExtractor{}), log)
	chunkWorker := chunk.NewWorker(h.objects, h.metadata, h.q, log, 512, 50, 10)
	embedWorker := embed.NewWorker(h.objects, h.metadata, h.vectors, h.embedder, log)

	stages := []struct {
		stage model.Stage
		proc  interface {
			Process(ctx context.Context, job model.Job) error
		}
	}{
		{model.StageExtract, extractWorker},
		{model.StageChunk, chunkWorker},
		{model.StageEmbed, embedWorker},
	}

	for i := 0; i < 10; i++ {
		progressed := false
		for _, s := range stages {
			jobID, err := h.q.PopMin(ctx, tenantID, s.stage, float64(time.Now().Add(time.Hour).Unix()))
			if err == queue.ErrEmpty {
				continue
			}
			require.NoError(t, err)
			progressed = true

			require.NoError(t, h.metadata.TransitionJobProcessing(ctx, jobID))
			job, err := h.metadata.GetJob(ctx, jobID)
			require.NoError(t, err)
			require.NoError(t, s.proc.Process(ctx, job))
		}
		if !progressed {
			break
		}
	}
}

func TestUploadAndFullPipelineCompletesDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp1", RateLimitPerMinute: 100}
	require.NoError(t, h.metadata.CreateTenant(ctx, tenant))

	result, err := h.dispatcher.Upload(ctx, tenant, "notes.txt", []byte("The quick brown fox jumps over the lazy dog."))
	require.NoError(t, err)
	require.Equal(t, model.DocumentPending, result.Status)

	h.runPipelineOnce(t, ctx, tenant.TenantID)

	view, err := h.dispatcher.Status(ctx, tenant.TenantID, result.DocumentID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentCompleted, view.Document.Status)
	require.Equal(t, model.JobCompleted, view.Stages[model.StageEmbed])
}

func TestSearchFindsUploadedDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp1", RateLimitPerMinute: 100}
	require.NoError(t, h.metadata.CreateTenant(ctx, tenant))

	result, err := h.dispatcher.Upload(ctx, tenant, "notes.txt", []byte("Solar panels convert sunlight directly into electricity."))
	require.NoError(t, err)
	h.runPipelineOnce(t, ctx, tenant.TenantID)

	hits, err := h.dispatcher.Search(ctx, tenant, dispatcher.SearchRequest{Query: "Solar panels convert sunlight directly into electricity.", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, result.DocumentID, hits[0].DocumentID)
}

func TestDeleteCascadesChunksAndVectors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp1", RateLimitPerMinute: 100}
	require.NoError(t, h.metadata.CreateTenant(ctx, tenant))

	result, err := h.dispatcher.Upload(ctx, tenant, "notes.txt", []byte("A document about rivers and lakes and water cycles."))
	require.NoError(t, err)
	h.runPipelineOnce(t, ctx, tenant.TenantID)

	deleteResult, err := h.dispatcher.Delete(ctx, tenant.TenantID, result.DocumentID)
	require.NoError(t, err)
	require.True(t, deleteResult.Deleted)
	require.Greater(t, deleteResult.ChunksDeleted, 0)
	require.Greater(t, deleteResult.VectorsDeleted, 0)

	_, err = h.dispatcher.Status(ctx, tenant.TenantID, result.DocumentID)
	require.Error(t, err)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp1", RateLimitPerMinute: 100}
	require.NoError(t, h.metadata.CreateTenant(ctx, tenant))

	d := dispatcher.New(h.metadata, h.objects, h.vectors, h.q, ratelimit.NewMemoryLimiter(time.Minute), h.embedder, zerolog.Nop(), 4)
	_, err := d.Upload(ctx, tenant, "big.txt", []byte("this is more than four bytes"))
	require.Error(t, err)
}

func TestUploadDeniedWhenRateLimitExceeded(t *testing.T) {
	ctx := context.Background()
	metadata := metadatastore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	vectors := vectorstore.NewMemoryStore(dimension)
	q := queue.NewMemoryQueue()
	limiter := ratelimit.NewMemoryLimiter(time.Minute)
	embedder := embed.NewDeterministicEmbedder(dimension)
	d := dispatcher.New(metadata, objects, vectors, q, limiter, embedder, zerolog.Nop(), 10<<20)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp1", RateLimitPerMinute: 1}
	require.NoError(t, metadata.CreateTenant(ctx, tenant))

	_, err := d.Upload(ctx, tenant, "a.txt", []byte("first upload admitted"))
	require.NoError(t, err)

	_, err = d.Upload(ctx, tenant, "b.txt", []byte("second upload should be denied"))
	require.Error(t, err)
	rle, ok := err.(*dispatcher.RateLimitedError)
	require.True(t, ok)
	require.Greater(t, rle.RetryAfterMs, int64(0))
}
