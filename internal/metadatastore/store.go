// Package metadatastore is the durable source of truth for tenants,
// documents, chunks, and jobs. It owns progress and retry-count state; the
// blob store owns byte streams and the vector index owns points.
//
// Every method that takes a tenantID scopes its query to that tenant — the
// tenant isolation invariant is enforced by query construction, not by a
// post-hoc filter.
package metadatastore

import (
	"context"
	"errors"

	"corpusd/internal/model"
)

// ErrNotFound is returned when a row does not exist (or is not visible to
// the given tenant).
var ErrNotFound = errors.New("metadatastore: not found")

// ErrAlreadyProcessing is returned by TransitionJobProcessing when another
// worker has already claimed the job — the lease fence in action.
var ErrAlreadyProcessing = errors.New("metadatastore: job already claimed")

// Store is the metadata store's full interface.
type Store interface {
	CreateTenant(ctx context.Context, t model.Tenant) error
	GetTenantByFingerprint(ctx context.Context, fingerprint string) (model.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	DeleteTenant(ctx context.Context, tenantID string) error

	// CreateDocumentWithExtractJob inserts the document row and its initial
	// extract job atomically, matching the invariant that exactly one
	// non-terminal extract job exists per document until it completes.
	CreateDocumentWithExtractJob(ctx context.Context, doc model.Document, job model.Job) error
	GetDocument(ctx context.Context, tenantID, documentID string) (model.Document, error)
	UpdateDocumentStatus(ctx context.Context, tenantID, documentID string, status model.DocumentStatus, errMsg string) error
	MarkDocumentFailedDeletion(ctx context.Context, tenantID, documentID string) error
	DeleteDocumentRow(ctx context.Context, tenantID, documentID string) error
	ListDocumentsByTenant(ctx context.Context, tenantID string) ([]model.Document, error)

	InsertChunks(ctx context.Context, chunks []model.Chunk) error
	GetChunksByDocument(ctx context.Context, tenantID, documentID string) ([]model.Chunk, error)
	GetChunksByIDs(ctx context.Context, tenantID string, chunkIDs []string) ([]model.Chunk, error)
	SetChunkVectorSnapshotPath(ctx context.Context, tenantID, chunkID, path string) error
	AllChunksEmbedded(ctx context.Context, tenantID, documentID string) (bool, error)
	DeleteChunksByDocument(ctx context.Context, tenantID, documentID string) (int, error)

	// CompleteJobAndEnqueueSuccessor inserts successor job rows as part of completing the
	// predecessor stage's job; the transaction also advances the document's
	// status and completes the predecessor job, keeping stage-ordering
	// (extract happens-before chunk happens-before embed) transactionally
	// consistent within the metadata store.
	CompleteJobAndEnqueueSuccessor(ctx context.Context, completed model.Job, doc model.Document, newStatus model.DocumentStatus, successors []model.Job) error
	CreateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	// TransitionJobProcessing performs the conditional UPDATE ... WHERE
	// status='pending' lease fence. Returns ErrAlreadyProcessing if another
	// worker already claimed it.
	TransitionJobProcessing(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string, newScore float64, errMsg string) error
	DeadLetterJob(ctx context.Context, jobID, errMsg string) error
	CompleteJob(ctx context.Context, jobID string) error
	ListJobsByDocument(ctx context.Context, tenantID, documentID string) ([]model.Job, error)
	DeleteJobsByDocument(ctx context.Context, tenantID, documentID string) (int, error)

	// DeadLetterPendingJobsByDocument implements the cascading-delete
	// edge case: jobs of any stage still pending or processing for a
	// document that is being deleted go to dead rather than racing the delete.
	DeadLetterPendingJobsByDocument(ctx context.Context, tenantID, documentID string) error

	// TenantDocumentCounts backs GET /metrics/me.
	TenantDocumentCounts(ctx context.Context, tenantID string) (map[model.DocumentStatus]int, error)

	Ping(ctx context.Context) error
	Close()
}
