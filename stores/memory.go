package stores

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"sort"
	"strings"
	"sync"
)

// In-memory blob backend, for tests and dry runs
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]*MemoryStore
	Policies map[string]shelvery.BucketPolicy
}

func NewMemory() *Memory {
	return &Memory{
		buckets:  make(map[string]*MemoryStore),
		Policies: make(map[string]shelvery.BucketPolicy),
	}
}

// Part of shelvery.BlobBackend interface
func (m *Memory) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if create {
		m.Policies[name] = policy
	}
	return m.bucket(name), nil
}

func (m *Memory) bucket(name string) *MemoryStore {
	b, ok := m.buckets[name]
	if !ok {
		b = &MemoryStore{objects: make(map[string][]byte)}
		m.buckets[name] = b
	}
	return b
}

// Direct access to a bucket, created if missing
func (m *Memory) Bucket(name string) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucket(name)
}

type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// Part of shelvery.BlobStore interface
func (s *MemoryStore) PutObject(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Part of shelvery.BlobStore interface
func (s *MemoryStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, shelvery.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Part of shelvery.BlobStore interface
func (s *MemoryStore) RemoveObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Part of shelvery.BlobStore interface
func (s *MemoryStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
