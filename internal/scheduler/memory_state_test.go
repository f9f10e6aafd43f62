package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// memoryState is a minimal in-process stand-in for stateStore, covering only
// the Get/Set/IncrBy/Expire calls the scheduler makes. It lets tests exercise
// rotation and in-flight capping without a live Redis server.
type memoryState struct {
	mu       sync.Mutex
	strings  map[string]string
	counters map[string]int64
}

func newMemoryState() *memoryState {
	return &memoryState{strings: make(map[string]string), counters: make(map[string]int64)}
}

func (m *memoryState) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if v, ok := m.strings[key]; ok {
		cmd.SetVal(v)
		return cmd
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (m *memoryState) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value.(string)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *memoryState) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += value
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(m.counters[key])
	return cmd
}

func (m *memoryState) Expire(ctx context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}
