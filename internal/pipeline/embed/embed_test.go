package embed_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/pipeline/embed"
	"corpusd/internal/vectorstore"
)

const dimension = 16

func newJob(tenantID, documentID string, chunkIDs []string) model.Job {
	payload, _ := json.Marshal(embed.Payload{DocumentID: documentID, ChunkIDs: chunkIDs})
	return model.Job{
		JobID:      "embed-job-1",
		TenantID:   tenantID,
		DocumentID: documentID,
		Stage:      model.StageEmbed,
		Status:     model.JobProcessing,
		Payload:    payload,
		MaxRetries: 3,
	}
}

func seedChunks(t *testing.T, store metadatastore.Store, tenantID, documentID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	chunks := make([]model.Chunk, n)
	for i := 0; i < n; i++ {
		id := "chunk-" + string(rune('a'+i))
		ids[i] = id
		chunks[i] = model.Chunk{ChunkID: id, DocumentID: documentID, TenantID: tenantID, ChunkIndex: i, Text: "some chunk text"}
	}
	require.NoError(t, store.InsertChunks(context.Background(), chunks))
	return ids
}

func TestProcessEmbedsAllChunksAndCompletesDocument(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	vectors := vectorstore.NewMemoryStore(dimension)
	embedder := embed.NewDeterministicEmbedder(dimension)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp", RateLimitPerMinute: 100}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	doc := model.Document{DocumentID: "d1", TenantID: tenant.TenantID, Filename: "a.txt", Status: model.DocumentEmbedding}
	job := model.Job{JobID: "j0", TenantID: tenant.TenantID, DocumentID: doc.DocumentID, Stage: model.StageExtract, Status: model.JobCompleted}
	require.NoError(t, store.CreateDocumentWithExtractJob(ctx, doc, job))

	chunkIDs := seedChunks(t, store, tenant.TenantID, doc.DocumentID, 2)

	worker := embed.NewWorker(objects, store, vectors, embedder, zerolog.Nop())
	embedJob := newJob(tenant.TenantID, doc.DocumentID, chunkIDs)

	require.NoError(t, worker.Process(ctx, embedJob))

	results, err := vectors.Search(ctx, tenant.TenantID, make([]float32, dimension), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	gotDoc, err := store.GetDocument(ctx, tenant.TenantID, doc.DocumentID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentCompleted, gotDoc.Status)
}

func TestProcessResumesFromCheckpointWithoutReEmbedding(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	vectors := vectorstore.NewMemoryStore(dimension)
	embedder := embed.NewDeterministicEmbedder(dimension)

	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp", RateLimitPerMinute: 100}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	doc := model.Document{DocumentID: "d1", TenantID: tenant.TenantID, Filename: "a.txt", Status: model.DocumentEmbedding}
	job := model.Job{JobID: "j0", TenantID: tenant.TenantID, DocumentID: doc.DocumentID, Stage: model.StageExtract, Status: model.JobCompleted}
	require.NoError(t, store.CreateDocumentWithExtractJob(ctx, doc, job))

	chunkIDs := seedChunks(t, store, tenant.TenantID, doc.DocumentID, 2)

	worker := embed.NewWorker(objects, store, vectors, embedder, zerolog.Nop())
	embedJob := newJob(tenant.TenantID, doc.DocumentID, chunkIDs)

	require.NoError(t, worker.Process(ctx, embedJob))

	// Re-running Process for the same job (as a worker would after a crash
	// mid-upsert, with CompleteJob never having been reached) must read the
	// vectors back from the snapshot checkpoint rather than recomputing them
	// — proven here by swapping in an embedder that panics if called.
	failingEmbedder := embed.NewWorker(objects, store, vectors, explodingEmbedder{}, zerolog.Nop())
	require.NoError(t, failingEmbedder.Process(ctx, embedJob))
}

type explodingEmbedder struct{}

func (explodingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	panic("embedder should not be called when a snapshot checkpoint already exists")
}

func (explodingEmbedder) Name() string                       { return "exploding" }
func (explodingEmbedder) Dimension() int                     { return dimension }
func (explodingEmbedder) Ping(ctx context.Context) error      { return nil }
