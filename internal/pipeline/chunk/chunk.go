// Package chunk implements the second pipeline stage: segmenting extracted
// text into sentence-aware, overlapping chunks and enqueueing one embed job
// per embed batch.
package chunk

import (
	"encoding/json"
	"io"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/queue"
)

// Payload is the chunk job's stage-discriminated body.
type Payload struct {
	DocumentID string `json:"document_id"`
	TextPath   string `json:"text_path"`
}

func (p Payload) Marshal() []byte {
	b, _ := json.Marshal(p)
	return b
}

func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}

// EmbedPayload mirrors embed.Payload; duplicated so chunk does not import
// embed, same rationale as extract's local chunkPayload.
type EmbedPayload struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

func (p EmbedPayload) Marshal() []byte {
	b, _ := json.Marshal(p)
	return b
}

// Worker implements worker.Processor for the chunk stage.
type Worker struct {
	objects       objectstore.ObjectStore
	store         metadatastore.Store
	queue         queue.Enqueuer
	log           zerolog.Logger
	chunkSize     int
	overlap       int
	embedBatchSize int
}

func NewWorker(objects objectstore.ObjectStore, store metadatastore.Store, q queue.Enqueuer, log zerolog.Logger, chunkSize, overlap, embedBatchSize int) *Worker {
	return &Worker{objects: objects, store: store, queue: q, log: log, chunkSize: chunkSize, overlap: overlap, embedBatchSize: embedBatchSize}
}

func (w *Worker) Stage() model.Stage { return model.StageChunk }

func (w *Worker) Process(ctx context.Context, job model.Job) error {
	payload, err := UnmarshalPayload(job.Payload)
	if err != nil {
		return errs.Wrap(errs.Permanent, "malformed chunk payload", err)
	}

	doc, err := w.store.GetDocument(ctx, job.TenantID, payload.DocumentID)
	if err != nil {
		return errs.Wrap(errs.Transient, "load document failed", err)
	}

	rc, _, err := w.objects.Get(ctx, payload.TextPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "fetch extracted text failed", err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return errs.Wrap(errs.Transient, "read extracted text failed", err)
	}

	segments := Splitter{ChunkSize: w.chunkSize, Overlap: w.overlap}.Split(string(raw))

	if len(segments) == 0 {
		if err := w.store.CompleteJobAndEnqueueSuccessor(ctx, job, doc, model.DocumentCompleted, nil); err != nil {
			return errs.Wrap(errs.Transient, "complete empty-document chunk job failed", err)
		}
		return nil
	}

	now := time.Now()
	chunks := make([]model.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = model.Chunk{
			ChunkID:    uuid.NewString(),
			DocumentID: payload.DocumentID,
			TenantID:   job.TenantID,
			ChunkIndex: seg.Index,
			Text:       seg.Text,
			Metadata:   map[string]string{},
		}
	}
	if err := w.store.InsertChunks(ctx, chunks); err != nil {
		return errs.Wrap(errs.Transient, "insert chunks failed", err)
	}

	batchSize := w.embedBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	var embedJobs []model.Job
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		ids := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ChunkID)
		}
		embedJobs = append(embedJobs, model.Job{
			JobID:      uuid.NewString(),
			TenantID:   job.TenantID,
			DocumentID: payload.DocumentID,
			Stage:      model.StageEmbed,
			Status:     model.JobPending,
			Payload:    EmbedPayload{DocumentID: payload.DocumentID, ChunkIDs: ids}.Marshal(),
			Score:      float64(now.Unix()),
			MaxRetries: job.MaxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := w.store.CompleteJobAndEnqueueSuccessor(ctx, job, doc, model.DocumentEmbedding, embedJobs); err != nil {
		return errs.Wrap(errs.Transient, "complete chunk job transition failed", err)
	}
	for _, ej := range embedJobs {
		if err := w.queue.Enqueue(ctx, ej.TenantID, model.StageEmbed, ej.JobID, ej.Score); err != nil {
			return errs.Wrap(errs.Transient, "enqueue embed job failed", err)
		}
	}
	return nil
}
