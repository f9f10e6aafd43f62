package queue

import (
	"context"
	"sort"
	"sync"

	"corpusd/internal/model"
)

// MemoryQueue implements Enqueuer and Popper without Redis, mirroring the
// sorted-set semantics of Queue exactly (lowest score first, ready only once
// its score is <= the caller's "now"). Used by tests.
type MemoryQueue struct {
	mu   sync.Mutex
	sets map[string]map[string]float64 // setKey -> jobID -> score
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{sets: make(map[string]map[string]float64)}
}

func (m *MemoryQueue) Enqueue(ctx context.Context, tenantID string, stage model.Stage, jobID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := setKey(stage, tenantID)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]float64)
		m.sets[key] = set
	}
	set[jobID] = score
	return nil
}

func (m *MemoryQueue) PopMin(ctx context.Context, tenantID string, stage model.Stage, now float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := setKey(stage, tenantID)
	set, ok := m.sets[key]
	if !ok || len(set) == 0 {
		return "", ErrEmpty
	}

	var best string
	bestScore := 0.0
	found := false
	for jobID, score := range set {
		if score > now {
			continue
		}
		if !found || score < bestScore || (score == bestScore && jobID < best) {
			best, bestScore, found = jobID, score, true
		}
	}
	if !found {
		return "", ErrEmpty
	}
	delete(set, best)
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return best, nil
}

func (m *MemoryQueue) ListActiveTenants(ctx context.Context, stage model.Stage) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := "queue:{" + string(stage) + "}:"
	seen := map[string]bool{}
	for key, set := range m.sets {
		if len(set) == 0 {
			continue
		}
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			seen[key[len(prefix):]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tenantID := range seen {
		out = append(out, tenantID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryQueue) Length(ctx context.Context, tenantID string, stage model.Stage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[setKey(stage, tenantID)])), nil
}
