package metadatastore

import (
	"context"
	"sort"
	"sync"

	"corpusd/internal/model"
)

// MemoryStore is an in-memory Store for tests. It mirrors the Postgres
// implementation's semantics (lease fencing, atomic multi-row transitions)
// under a single mutex instead of SQL transactions.
type MemoryStore struct {
	mu        sync.Mutex
	tenants   map[string]model.Tenant
	documents map[string]model.Document // key: tenantID+"/"+documentID
	chunks    map[string]model.Chunk    // key: chunkID
	jobs      map[string]model.Job      // key: jobID
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]model.Tenant),
		documents: make(map[string]model.Document),
		chunks:    make(map[string]model.Chunk),
		jobs:      make(map[string]model.Job),
	}
}

func docKey(tenantID, documentID string) string { return tenantID + "/" + documentID }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close()                         {}

func (m *MemoryStore) CreateTenant(ctx context.Context, t model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.TenantID] = t
	return nil
}

func (m *MemoryStore) GetTenantByFingerprint(ctx context.Context, fingerprint string) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.CredentialFingerprint == fingerprint {
			return t, nil
		}
	}
	return model.Tenant{}, ErrNotFound
}

func (m *MemoryStore) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *MemoryStore) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
	for k, d := range m.documents {
		if d.TenantID == tenantID {
			delete(m.documents, k)
		}
	}
	for k, c := range m.chunks {
		if c.TenantID == tenantID {
			delete(m.chunks, k)
		}
	}
	for k, j := range m.jobs {
		if j.TenantID == tenantID {
			delete(m.jobs, k)
		}
	}
	return nil
}

func (m *MemoryStore) CreateDocumentWithExtractJob(ctx context.Context, doc model.Document, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[docKey(doc.TenantID, doc.DocumentID)] = doc
	m.jobs[job.JobID] = job
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, tenantID, documentID string) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[docKey(tenantID, documentID)]
	if !ok {
		return model.Document{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) UpdateDocumentStatus(ctx context.Context, tenantID, documentID string, status model.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := docKey(tenantID, documentID)
	d, ok := m.documents[k]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.ErrorMessage = errMsg
	m.documents[k] = d
	return nil
}

func (m *MemoryStore) MarkDocumentFailedDeletion(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := docKey(tenantID, documentID)
	if _, ok := m.documents[k]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) DeleteDocumentRow(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, docKey(tenantID, documentID))
	return nil
}

func (m *MemoryStore) ListDocumentsByTenant(ctx context.Context, tenantID string) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, d := range m.documents {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ChunkID] = c
	}
	return nil
}

func (m *MemoryStore) GetChunksByDocument(ctx context.Context, tenantID, documentID string) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *MemoryStore) GetChunksByIDs(ctx context.Context, tenantID string, chunkIDs []string) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.TenantID == tenantID && want[c.ChunkID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *MemoryStore) SetChunkVectorSnapshotPath(ctx context.Context, tenantID, chunkID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	c.VectorSnapshotPath = path
	m.chunks[chunkID] = c
	return nil
}

func (m *MemoryStore) AllChunksEmbedded(ctx context.Context, tenantID, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID && c.VectorSnapshotPath == "" {
			return false, nil
		}
	}
	return true, nil
}

func (m *MemoryStore) DeleteChunksByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			delete(m.chunks, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CompleteJobAndEnqueueSuccessor(ctx context.Context, completed model.Job, doc model.Document, newStatus model.DocumentStatus, successors []model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[completed.JobID]; ok {
		j.Status = model.JobCompleted
		m.jobs[completed.JobID] = j
	}
	dk := docKey(doc.TenantID, doc.DocumentID)
	if d, ok := m.documents[dk]; ok {
		d.Status = newStatus
		m.documents[dk] = d
	}
	for _, s := range successors {
		m.jobs[s.JobID] = s
	}
	return nil
}

func (m *MemoryStore) CreateJob(ctx context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *MemoryStore) TransitionJobProcessing(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Status != model.JobPending {
		return ErrAlreadyProcessing
	}
	j.Status = model.JobProcessing
	m.jobs[jobID] = j
	return nil
}

func (m *MemoryStore) RetryJob(ctx context.Context, jobID string, newScore float64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Status = model.JobPending
	j.Score = newScore
	j.RetryCount++
	j.ErrorMessage = errMsg
	m.jobs[jobID] = j
	return nil
}

func (m *MemoryStore) DeadLetterJob(ctx context.Context, jobID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Status = model.JobDead
	j.ErrorMessage = errMsg
	m.jobs[jobID] = j
	return nil
}

func (m *MemoryStore) CompleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Status = model.JobCompleted
	m.jobs[jobID] = j
	return nil
}

func (m *MemoryStore) ListJobsByDocument(ctx context.Context, tenantID, documentID string) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.DocumentID == documentID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteJobsByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, j := range m.jobs {
		if j.TenantID == tenantID && j.DocumentID == documentID {
			delete(m.jobs, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeadLetterPendingJobsByDocument(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, j := range m.jobs {
		if j.TenantID == tenantID && j.DocumentID == documentID &&
			(j.Status == model.JobPending || j.Status == model.JobProcessing) {
			j.Status = model.JobDead
			j.ErrorMessage = "document deleted"
			m.jobs[k] = j
		}
	}
	return nil
}

func (m *MemoryStore) TenantDocumentCounts(ctx context.Context, tenantID string) (map[model.DocumentStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.DocumentStatus]int{}
	for _, d := range m.documents {
		if d.TenantID == tenantID {
			out[d.Status]++
		}
	}
	return out, nil
}
