// Package dispatcher is the API adapter: it enqueues the initial extract job
// on upload, answers status, performs cascading delete, and issues search
// queries. It is the only component that touches every store directly on
// the request path; workers never call back into it.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/objectstore"
	"corpusd/internal/pipeline/embed"
	"corpusd/internal/pipeline/extract"
	"corpusd/internal/queue"
	"corpusd/internal/ratelimit"
	"corpusd/internal/vectorstore"
)

// Dispatcher wires the stores and queue substrate together for the
// request-facing operations.
type Dispatcher struct {
	metadata  metadatastore.Store
	objects   objectstore.ObjectStore
	vectors   vectorstore.VectorStore
	queue     queue.Enqueuer
	limiter   ratelimit.Allower
	embedder  embed.Embedder
	log       zerolog.Logger
	maxFileSizeBytes int64
}

func New(metadata metadatastore.Store, objects objectstore.ObjectStore, vectors vectorstore.VectorStore, q queue.Enqueuer, limiter ratelimit.Allower, embedder embed.Embedder, log zerolog.Logger, maxFileSizeBytes int64) *Dispatcher {
	return &Dispatcher{
		metadata: metadata, objects: objects, vectors: vectors, queue: q,
		limiter: limiter, embedder: embedder, log: log, maxFileSizeBytes: maxFileSizeBytes,
	}
}

// UploadResult mirrors the tenant-scoped upload response shape.
type UploadResult struct {
	DocumentID string
	Status     model.DocumentStatus
}

// Upload stores the raw bytes, creates the document row plus its initial
// extract job in one metadata-store transaction, and enqueues that job. It
// checks the rate limiter first; callers (the HTTP layer) are responsible
// for any file-count-level batching (bulk upload).
func (d *Dispatcher) Upload(ctx context.Context, tenant model.Tenant, filename string, content []byte) (UploadResult, error) {
	if err := d.admit(ctx, tenant); err != nil {
		return UploadResult{}, err
	}
	if int64(len(content)) > d.maxFileSizeBytes {
		return UploadResult{}, errs.New(errs.Validation, fmt.Sprintf("file exceeds max size of %d bytes", d.maxFileSizeBytes))
	}
	if filename == "" {
		return UploadResult{}, errs.New(errs.Validation, "filename is required")
	}

	documentID := uuid.NewString()
	blobPath := objectstore.RawPath(documentID, filename)
	if _, err := d.objects.Put(ctx, blobPath, bytes.NewReader(content), objectstore.PutOptions{}); err != nil {
		return UploadResult{}, errs.Wrap(errs.Transient, "store raw upload failed", err)
	}

	now := time.Now()
	doc := model.Document{
		DocumentID: documentID,
		TenantID:   tenant.TenantID,
		Filename:   filename,
		BlobPath:   blobPath,
		SizeBytes:  int64(len(content)),
		Status:     model.DocumentPending,
		Metadata:   map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	job := model.Job{
		JobID:      uuid.NewString(),
		TenantID:   tenant.TenantID,
		DocumentID: documentID,
		Stage:      model.StageExtract,
		Status:     model.JobPending,
		Payload:    extract.Payload{DocumentID: documentID, BlobPath: blobPath}.Marshal(),
		Score:      float64(now.Unix()),
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := d.metadata.CreateDocumentWithExtractJob(ctx, doc, job); err != nil {
		return UploadResult{}, errs.Wrap(errs.Transient, "create document failed", err)
	}
	if err := d.queue.Enqueue(ctx, tenant.TenantID, model.StageExtract, job.JobID, job.Score); err != nil {
		return UploadResult{}, errs.Wrap(errs.Transient, "enqueue extract job failed", err)
	}
	return UploadResult{DocumentID: documentID, Status: model.DocumentPending}, nil
}

// StatusView is the per-stage status response for GET /status/{document_id}.
type StatusView struct {
	Document model.Document
	Stages   map[model.Stage]model.JobStatus
}

func (d *Dispatcher) Status(ctx context.Context, tenantID, documentID string) (StatusView, error) {
	doc, err := d.metadata.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return StatusView{}, translateNotFound(err)
	}
	jobs, err := d.metadata.ListJobsByDocument(ctx, tenantID, documentID)
	if err != nil {
		return StatusView{}, errs.Wrap(errs.Transient, "list jobs failed", err)
	}
	stages := map[model.Stage]model.JobStatus{}
	for _, j := range jobs {
		// Later jobs of the same stage (retries, successor batches) win;
		// ListJobsByDocument is ordered by created_at.
		stages[j.Stage] = j.Status
	}
	return StatusView{Document: doc, Stages: stages}, nil
}

// DeleteResult reports how many rows/points were actually removed, per the
// "response reports counts truthfully" requirement even under partial
// failure.
type DeleteResult struct {
	Deleted        bool
	ChunksDeleted  int
	VectorsDeleted int
}

// Delete performs the cascading delete in the mandated order: vectors,
// chunks, jobs, blobs, then the document row. Pending/processing jobs are
// dead-lettered first so an in-flight worker observes the document's
// disappearance and aborts instead of racing the delete. If any step fails,
// the document row is left with failed_deletion set for a reconciler to
// retry, rather than silently dropped.
func (d *Dispatcher) Delete(ctx context.Context, tenantID, documentID string) (DeleteResult, error) {
	doc, err := d.metadata.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return DeleteResult{}, translateNotFound(err)
	}

	if err := d.metadata.DeadLetterPendingJobsByDocument(ctx, tenantID, documentID); err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "dead-letter pending jobs failed", err)
	}

	// Point IDs equal chunk IDs (see vectorstore), so the number of chunks
	// that had finished embedding is also the number of vector points about
	// to be removed. Count before the delete since DeleteByDocument reports
	// no count of its own.
	chunksBefore, err := d.metadata.GetChunksByDocument(ctx, tenantID, documentID)
	if err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "list chunks before delete failed", err)
	}
	vectorsDeleted := 0
	for _, c := range chunksBefore {
		if c.VectorSnapshotPath != "" {
			vectorsDeleted++
		}
	}

	if err := d.vectors.DeleteByDocument(ctx, tenantID, documentID); err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "delete vector points failed", err)
	}

	jobs, err := d.metadata.ListJobsByDocument(ctx, tenantID, documentID)
	if err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "list jobs before delete failed", err)
	}

	chunksDeleted, err := d.metadata.DeleteChunksByDocument(ctx, tenantID, documentID)
	if err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "delete chunk rows failed", err)
	}

	if _, err := d.metadata.DeleteJobsByDocument(ctx, tenantID, documentID); err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "delete job rows failed", err)
	}

	if err := d.deleteBlobs(ctx, doc, jobs); err != nil {
		d.markFailedDeletion(ctx, tenantID, documentID)
		return DeleteResult{}, errs.Wrap(errs.Transient, "delete blobs failed", err)
	}

	if err := d.metadata.DeleteDocumentRow(ctx, tenantID, documentID); err != nil {
		return DeleteResult{}, errs.Wrap(errs.Transient, "delete document row failed", err)
	}

	return DeleteResult{Deleted: true, ChunksDeleted: chunksDeleted, VectorsDeleted: vectorsDeleted}, nil
}

func (d *Dispatcher) deleteBlobs(ctx context.Context, doc model.Document, jobs []model.Job) error {
	if err := d.objects.Delete(ctx, doc.BlobPath); err != nil {
		return err
	}
	if err := d.objects.Delete(ctx, objectstore.ExtractedPath(doc.DocumentID)); err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Stage == model.StageEmbed {
			if err := d.objects.Delete(ctx, objectstore.SnapshotPath(j.JobID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) markFailedDeletion(ctx context.Context, tenantID, documentID string) {
	if err := d.metadata.MarkDocumentFailedDeletion(ctx, tenantID, documentID); err != nil {
		d.log.Error().Err(err).Str("document_id", documentID).Msg("failed to record failed_deletion marker")
	}
}

// SearchRequest mirrors POST /search.
type SearchRequest struct {
	Query       string
	Limit       int
	ScoreThreshold float64
}

// Search embeds the query with the same embedder used for ingestion, queries
// the vector index with a mandatory tenant filter, and applies the score
// threshold client-side (post-retrieval, per the design).
func (d *Dispatcher) Search(ctx context.Context, tenant model.Tenant, req SearchRequest) ([]vectorstore.SearchResult, error) {
	if err := d.admit(ctx, tenant); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	vectors, err := d.embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "query embedding failed", err)
	}
	results, err := d.vectors.Search(ctx, tenant.TenantID, vectors[0], limit)
	if err != nil {
		if isTenantIsolationViolation(err) {
			d.log.Error().Err(err).Str("tenant_id", tenant.TenantID).Msg("tenant isolation violation in search results")
			return nil, errs.Wrap(errs.Consistency, "tenant isolation violation", err)
		}
		return nil, errs.Wrap(errs.Transient, "vector search failed", err)
	}
	out := results[:0:0]
	for _, r := range results {
		if r.Score < req.ScoreThreshold {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func isTenantIsolationViolation(err error) bool {
	for err != nil {
		if err == vectorstore.ErrTenantIsolationViolation {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Metrics backs GET /metrics/me.
func (d *Dispatcher) Metrics(ctx context.Context, tenantID string) (map[model.DocumentStatus]int, error) {
	return d.metadata.TenantDocumentCounts(ctx, tenantID)
}

func (d *Dispatcher) admit(ctx context.Context, tenant model.Tenant) error {
	result, err := d.limiter.Allow(ctx, tenant.TenantID, tenant.RateLimitPerMinute)
	if err != nil {
		return errs.Wrap(errs.Transient, "rate limiter check failed", err)
	}
	if !result.Allowed {
		return &RateLimitedError{Err: errs.New(errs.RateLimited, "rate limit exceeded"), RetryAfterMs: result.RetryAfterMs}
	}
	return nil
}

// RateLimitedError carries the Retry-After hint the HTTP layer surfaces
// alongside the 429 that errs.HTTPStatus maps RateLimited to.
type RateLimitedError struct {
	Err          *errs.Error
	RetryAfterMs int64
}

func (e *RateLimitedError) Error() string { return e.Err.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Err }

func translateNotFound(err error) error {
	if err == metadatastore.ErrNotFound {
		return errs.New(errs.Validation, "document not found")
	}
	return errs.Wrap(errs.Transient, "metadata lookup failed", err)
}
