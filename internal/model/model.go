// Package model holds the shared data model that ties documents, jobs,
// chunks, and vectors together across the metadata store, blob store, and
// vector index.
package model

import "time"

// DocumentStatus is the monotonic lifecycle state of a document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentExtracting DocumentStatus = "extracting"
	DocumentChunking   DocumentStatus = "chunking"
	DocumentEmbedding  DocumentStatus = "embedding"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Stage identifies one of the three pipeline stages.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
)

// JobStatus is the lifecycle state of a single job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDead       JobStatus = "dead"
)

// Tenant is a billing/isolation boundary. Created by an admin; never mutated
// except credential rotation; deletion cascades to all owned data.
type Tenant struct {
	TenantID             string
	Name                 string
	CredentialFingerprint string
	RateLimitPerMinute   int
	CreatedAt            time.Time
}

// Document is one uploaded file moving through the pipeline.
type Document struct {
	DocumentID string
	TenantID   string
	Filename   string
	BlobPath   string
	SizeBytes  int64
	Status     DocumentStatus
	Metadata   map[string]string
	ErrorMessage string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is one segment of a document's extracted text.
// Invariant: for a given DocumentID, ChunkIndex forms 0..N-1 with no gaps.
type Chunk struct {
	ChunkID            string
	DocumentID         string
	TenantID           string
	ChunkIndex         int
	Text               string
	VectorSnapshotPath string // empty until Embed completes
	Metadata           map[string]string
}

// Job is a unit of work at a single stage for a single document (or chunk
// batch, for embed).
type Job struct {
	JobID        string
	TenantID     string
	DocumentID   string
	Stage        Stage
	Status       JobStatus
	Payload      []byte // stage-discriminated, see the payload types in pipeline/{extract,chunk,embed}
	Score        float64
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VectorPoint mirrors one point stored in the vector index. PointID equals
// the owning chunk's ChunkID so upserts are naturally idempotent.
type VectorPoint struct {
	PointID    string
	Vector     []float32
	TenantID   string
	DocumentID string
	ChunkID    string
	Filename   string
	ChunkIndex int
	Metadata   map[string]string
}

// CanTransitionDocument reports whether a document may move from `from` to
// `to`. The state machine only ever advances or jumps to Failed; it never
// regresses (retries are tracked on the job, not the document row).
func CanTransitionDocument(from, to DocumentStatus) bool {
	if to == DocumentFailed {
		return from != DocumentCompleted && from != DocumentFailed
	}
	order := map[DocumentStatus]int{
		DocumentPending:    0,
		DocumentExtracting: 1,
		DocumentChunking:   2,
		DocumentEmbedding:  3,
		DocumentCompleted:  4,
	}
	fromN, fromOK := order[from]
	toN, toOK := order[to]
	return fromOK && toOK && toN > fromN
}
