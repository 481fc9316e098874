package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store and Lister for tests. It can inject
// per-read latency and scripted failures to exercise the retry and
// prioritization paths deterministically.
type MemoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	latency  map[string]time.Duration
	failures map[string]*failurePlan
}

type failurePlan struct {
	err       error
	remaining int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		latency:  make(map[string]time.Duration),
		failures: make(map[string]*failurePlan),
	}
}

// Put stores an object.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// SetLatency delays every read of key by d.
func (m *MemoryStore) SetLatency(key string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[key] = d
}

// FailReads makes the next count reads of key return err.
func (m *MemoryStore) FailReads(key string, err error, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = &failurePlan{err: err, remaining: count}
}

func (m *MemoryStore) checkFailure(key string) error {
	if plan, ok := m.failures[key]; ok && plan.remaining != 0 {
		plan.remaining--
		return plan.err
	}
	return nil
}

func (m *MemoryStore) Size(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("%w: no such object %s", ErrSourceUnavailable, key)
	}
	return int64(len(data)), nil
}

func (m *MemoryStore) ReadRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	wait := m.latency[key]
	failErr := m.checkFailure(key)
	m.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: no such object %s", ErrSourceUnavailable, key)
	}
	if start >= int64(len(data)) {
		return nil, nil
	}
	end := start + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[start:end]...), nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var objects []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
