// Package vectorstore provides an approximate-nearest-neighbor index over
// chunk embeddings with a per-point tenant tag, backed by Qdrant.
package vectorstore

import (
	"context"
	"errors"

	"corpusd/internal/model"
)

// ErrTenantIsolationViolation is returned when a query result's tenant_id
// does not match the requesting tenant. This is an assertion failure, not a
// condition callers should silently filter around.
var ErrTenantIsolationViolation = errors.New("tenant isolation violation")

// SearchResult is one ranked hit from a similarity query.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	TenantID   string
	Filename   string
	ChunkIndex int
	Metadata   map[string]string
	Score      float64 // cosine similarity, higher is better
}

// VectorStore is the vector index's narrow interface. Point id equals
// ChunkID, so Upsert is idempotent by construction.
type VectorStore interface {
	// Upsert inserts or replaces one point.
	Upsert(ctx context.Context, point model.VectorPoint) error

	// DeleteByDocument removes every point belonging to a document, scoped
	// to tenantID — used by cascading delete.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error

	// Search runs a similarity query with a mandatory tenant filter.
	Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]SearchResult, error)

	Dimension() int
	Ping(ctx context.Context) error
	Close() error
}
