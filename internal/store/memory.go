package store

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 32

type memoryShard struct {
	mu    sync.RWMutex
	lists map[string]string
}

// MemoryStore lives for the life of the process. Entries are never evicted;
// the map is bounded by the number of distinct users.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{lists: make(map[string]string)}
	}
	return s
}

func (s *MemoryStore) shardFor(userKey string) *memoryShard {
	return s.shards[xxhash.Sum64String(userKey)%memoryShards]
}

func (s *MemoryStore) Put(_ context.Context, userKey, payload string) error {
	sh := s.shardFor(userKey)
	sh.mu.Lock()
	sh.lists[userKey] = payload
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userKey string) (string, bool, error) {
	sh := s.shardFor(userKey)
	sh.mu.RLock()
	payload, ok := sh.lists[userKey]
	sh.mu.RUnlock()
	return payload, ok, nil
}

// Len returns the number of users with a stored list.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.lists)
		sh.mu.RUnlock()
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }
