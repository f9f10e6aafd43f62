// Package extract implements the first pipeline stage: turning a raw
// uploaded blob into UTF-8 text.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/queue"
)

// Payload is the extract job's stage-discriminated body.
type Payload struct {
	DocumentID string `json:"document_id"`
	BlobPath   string `json:"blob_path"`
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

// Extractor converts raw bytes into UTF-8 text. Errors should be classified
// with errs.New(errs.Transient, ...) or errs.New(errs.Permanent, ...) by
// implementations so the worker pool knows whether to retry.
type Extractor interface {
	// Supports reports whether this extractor handles filename (by suffix
	// or content sniff).
	Supports(filename string, content []byte) bool
	Extract(ctx context.Context, filename string, content []byte) (string, error)
}

// Registry dispatches to the first Extractor that supports the file.
type Registry struct {
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

func (r *Registry) Extract(ctx context.Context, filename string, content []byte) (string, error) {
	for _, e := range r.extractors {
		if e.Supports(filename, content) {
			return e.Extract(ctx, filename, content)
		}
	}
	return "", errs.New(errs.Permanent, fmt.Sprintf("no extractor supports %q", filename))
}

// PlainTextExtractor handles .txt/.md and anything else that looks like
// valid UTF-8 text, passing bytes through unchanged.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Supports(filename string, content []byte) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".txt" || ext == ".md" || ext == ".csv" || ext == ".json" {
		return true
	}
	return utf8Valid(content)
}

func (PlainTextExtractor) Extract(ctx context.Context, filename string, content []byte) (string, error) {
	if !utf8Valid(content) {
		return "", errs.New(errs.Permanent, "content is not valid UTF-8 text")
	}
	return string(content), nil
}

func utf8Valid(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

// PDFExtractor is a thin seam over a PDF text-extraction backend. The
// concrete parser is outside this pipeline's scope (§1 Non-goals); Parse is
// injected so a real backend can be wired without this package depending on
// it directly.
type PDFExtractor struct {
	Parse func(content []byte) (string, error)
}

func (e PDFExtractor) Supports(filename string, content []byte) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

func (e PDFExtractor) Extract(ctx context.Context, filename string, content []byte) (string, error) {
	if e.Parse == nil {
		return "", errs.New(errs.Permanent, "no PDF backend configured")
	}
	text, err := e.Parse(content)
	if err != nil {
		return "", errs.Wrap(errs.Permanent, "pdf parse failed", err)
	}
	return text, nil
}

// Worker implements worker.Processor for the extract stage.
type Worker struct {
	objects    objectstore.ObjectStore
	store      metadatastore.Store
	queue      queue.Enqueuer
	extractors *Registry
	log        zerolog.Logger
}

func NewWorker(objects objectstore.ObjectStore, store metadatastore.Store, q queue.Enqueuer, extractors *Registry, log zerolog.Logger) *Worker {
	return &Worker{objects: objects, store: store, queue: q, extractors: extractors, log: log}
}

func (w *Worker) Stage() model.Stage { return model.StageExtract }

func (w *Worker) Process(ctx context.Context, job model.Job) error {
	payload, err := UnmarshalPayload(job.Payload)
	if err != nil {
		return errs.Wrap(errs.Permanent, "malformed extract payload", err)
	}

	doc, err := w.store.GetDocument(ctx, job.TenantID, payload.DocumentID)
	if err != nil {
		return errs.Wrap(errs.Transient, "load document failed", err)
	}

	rc, _, err := w.objects.Get(ctx, payload.BlobPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "fetch raw blob failed", err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return errs.Wrap(errs.Transient, "read raw blob failed", err)
	}

	text, err := w.extractors.Extract(ctx, doc.Filename, content)
	if err != nil {
		if e, ok := errs.As(err); ok {
			return e
		}
		return errs.Wrap(errs.Permanent, "extraction failed", err)
	}

	extractedPath := objectstore.ExtractedPath(payload.DocumentID)
	if _, err := w.objects.Put(ctx, extractedPath, bytes.NewReader([]byte(text)), objectstore.PutOptions{ContentType: "text/plain; charset=utf-8"}); err != nil {
		return errs.Wrap(errs.Transient, "persist extracted text failed", err)
	}

	chunkJob := model.Job{
		JobID:      uuid.NewString(),
		TenantID:   job.TenantID,
		DocumentID: payload.DocumentID,
		Stage:      model.StageChunk,
		Status:     model.JobPending,
		Payload: chunkPayload{
			DocumentID: payload.DocumentID,
			TextPath:   extractedPath,
		}.Marshal(),
		Score:      float64(time.Now().Unix()),
		MaxRetries: job.MaxRetries,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := w.store.CompleteJobAndEnqueueSuccessor(ctx, job, doc, model.DocumentChunking, []model.Job{chunkJob}); err != nil {
		return errs.Wrap(errs.Transient, "complete extract job transition failed", err)
	}
	if err := w.queue.Enqueue(ctx, chunkJob.TenantID, model.StageChunk, chunkJob.JobID, chunkJob.Score); err != nil {
		return errs.Wrap(errs.Transient, "enqueue chunk job failed", err)
	}
	return nil
}

// chunkPayload mirrors chunk.Payload; duplicated here (rather than imported)
// so extract does not import chunk — both depend only on the shared
// job-enqueue contract, not on each other's worker logic.
type chunkPayload struct {
	DocumentID string `json:"document_id"`
	TextPath   string `json:"text_path"`
}

func (p chunkPayload) Marshal() []byte {
	b, _ := json.Marshal(p)
	return b
}
