// Package embed implements the third pipeline stage: computing vectors for
// a chunk batch, checkpointing them to the blob store before touching the
// vector index, and closing out the document on full coverage.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/vectorstore"
)

// Payload is the embed job's stage-discriminated body.
type Payload struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}

// snapshotEntry is one row of the columnar vector snapshot written before
// the vector-index upsert.
type snapshotEntry struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// Worker implements worker.Processor for the embed stage.
type Worker struct {
	objects  objectstore.ObjectStore
	store    metadatastore.Store
	vectors  vectorstore.VectorStore
	embedder Embedder
	log      zerolog.Logger
}

func NewWorker(objects objectstore.ObjectStore, store metadatastore.Store, vectors vectorstore.VectorStore, embedder Embedder, log zerolog.Logger) *Worker {
	return &Worker{objects: objects, store: store, vectors: vectors, embedder: embedder, log: log}
}

func (w *Worker) Stage() model.Stage { return model.StageEmbed }

func (w *Worker) Process(ctx context.Context, job model.Job) error {
	payload, err := UnmarshalPayload(job.Payload)
	if err != nil {
		return errs.Wrap(errs.Permanent, "malformed embed payload", err)
	}

	snapshotPath := objectstore.SnapshotPath(job.JobID)
	entries, err := w.loadSnapshot(ctx, snapshotPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "read existing snapshot failed", err)
	}

	if entries == nil {
		chunks, err := w.store.GetChunksByIDs(ctx, job.TenantID, payload.ChunkIDs)
		if err != nil {
			return errs.Wrap(errs.Transient, "load chunks failed", err)
		}
		if len(chunks) != len(payload.ChunkIDs) {
			return errs.New(errs.Consistency, "chunk batch missing rows for this tenant")
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errs.Wrap(errs.Transient, "embedder call failed", err)
		}
		if len(vectors) != len(chunks) {
			return errs.New(errs.Permanent, "embedder returned a mismatched vector count")
		}
		if w.embedder.Dimension() != w.vectors.Dimension() {
			return errs.New(errs.Permanent, "embedder dimension does not match vector index dimension")
		}

		entries = make([]snapshotEntry, len(chunks))
		for i, c := range chunks {
			entries[i] = snapshotEntry{ChunkID: c.ChunkID, Vector: vectors[i]}
		}
		if err := w.writeSnapshot(ctx, snapshotPath, entries); err != nil {
			return errs.Wrap(errs.Transient, "write snapshot checkpoint failed", err)
		}
	}

	chunksByID, err := w.chunkLookup(ctx, job.TenantID, payload.ChunkIDs)
	if err != nil {
		return errs.Wrap(errs.Transient, "load chunk metadata for upsert failed", err)
	}

	for _, e := range entries {
		c, ok := chunksByID[e.ChunkID]
		if !ok {
			return errs.New(errs.Consistency, "snapshot references a chunk absent from this tenant")
		}
		point := model.VectorPoint{
			PointID:    c.ChunkID,
			Vector:     e.Vector,
			TenantID:   job.TenantID,
			DocumentID: payload.DocumentID,
			ChunkID:    c.ChunkID,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.Metadata,
		}
		if err := w.vectors.Upsert(ctx, point); err != nil {
			return errs.Wrap(errs.Transient, "vector upsert failed", err)
		}
		if err := w.store.SetChunkVectorSnapshotPath(ctx, job.TenantID, c.ChunkID, snapshotPath); err != nil {
			return errs.Wrap(errs.Transient, "record vector snapshot path failed", err)
		}
	}

	allEmbedded, err := w.store.AllChunksEmbedded(ctx, job.TenantID, payload.DocumentID)
	if err != nil {
		return errs.Wrap(errs.Transient, "check embed completion failed", err)
	}
	if allEmbedded {
		if err := w.store.UpdateDocumentStatus(ctx, job.TenantID, payload.DocumentID, model.DocumentCompleted, ""); err != nil {
			return errs.Wrap(errs.Transient, "mark document completed failed", err)
		}
	}

	if err := w.store.CompleteJob(ctx, job.JobID); err != nil {
		return errs.Wrap(errs.Transient, "complete embed job failed", err)
	}
	return nil
}

func (w *Worker) chunkLookup(ctx context.Context, tenantID string, ids []string) (map[string]model.Chunk, error) {
	chunks, err := w.store.GetChunksByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Chunk, len(chunks))
	for _, c := range chunks {
		out[c.ChunkID] = c
	}
	return out, nil
}

func (w *Worker) loadSnapshot(ctx context.Context, path string) ([]snapshotEntry, error) {
	exists, err := w.objects.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	rc, _, err := w.objects.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (w *Worker) writeSnapshot(ctx context.Context, path string, entries []snapshotEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = w.objects.Put(ctx, path, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"})
	return err
}
