package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"corpusd/internal/model"
)

// MemoryStore is an in-memory VectorStore for tests and single-node
// deployments without Qdrant. Similarity is plain cosine over the stored
// float32 vectors.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]model.VectorPoint
}

// NewMemoryStore creates an in-memory VectorStore of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, points: make(map[string]model.VectorPoint)}
}

func (m *MemoryStore) Upsert(ctx context.Context, point model.VectorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[point.PointID] = point
	return nil
}

func (m *MemoryStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.TenantID == tenantID && p.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	var results []SearchResult
	for _, p := range m.points {
		if p.TenantID != tenantID {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    p.ChunkID,
			DocumentID: p.DocumentID,
			TenantID:   p.TenantID,
			Filename:   p.Filename,
			ChunkIndex: p.ChunkIndex,
			Metadata:   p.Metadata,
			Score:      cosine(vector, p.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) Dimension() int            { return m.dimension }
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error              { return nil }

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
