// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mlsdata/transfermkt-ingest/internal/storage"
)

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
	seq     int64
}

type object struct {
	data     []byte
	modified time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

// SetNow overrides the timestamp source, for tests that need ordered
// LastModified values.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores a copy of data under key.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Monotonic tiebreaker so rapid successive puts still order by
	// recency in LatestKey.
	s.seq++
	s.objects[key] = object{
		data:     append([]byte(nil), data...),
		modified: s.now().Add(time.Duration(s.seq) * time.Nanosecond),
	}
	return nil
}

// Get returns a copy of the stored object.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// List returns info for every object whose key starts with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []storage.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.modified,
			})
		}
	}
	return infos, nil
}

// Delete removes the object at key. Deleting a missing key is a no-op.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
