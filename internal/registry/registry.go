// internal/registry/registry.go
// Groups live connection ids by user key.
package registry

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type shard struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

// Registry maps user keys to the set of connection ids currently joined for
// that user. Unrelated users land on different shards so their traffic does
// not contend on one lock.
type Registry struct {
	shards [shardCount]*shard
}

type Stats struct {
	Groups      int `json:"groups"`
	Connections int `json:"connections"`
}

func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{groups: make(map[string]map[string]struct{})}
	}
	return r
}

func (r *Registry) shardFor(userKey string) *shard {
	return r.shards[xxhash.Sum64String(userKey)%shardCount]
}

// Join adds connID to the group for userKey. Joining twice is a no-op.
func (r *Registry) Join(connID, userKey string) {
	s := r.shardFor(userKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[userKey]
	if !ok {
		members = make(map[string]struct{})
		s.groups[userKey] = members
	}
	members[connID] = struct{}{}
}

// Leave removes connID from the group for userKey. Unknown ids are ignored.
func (r *Registry) Leave(connID, userKey string) {
	s := r.shardFor(userKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[userKey]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.groups, userKey)
	}
}

// MembersExcept returns a snapshot of the group without excluded. The result
// is empty, never nil, when nobody else is joined.
func (r *Registry) MembersExcept(userKey, excluded string) []string {
	s := r.shardFor(userKey)
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.groups[userKey]
	out := make([]string, 0, len(members))
	for id := range members {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Members(userKey string) []string {
	return r.MembersExcept(userKey, "")
}

func (r *Registry) GroupSize(userKey string) int {
	s := r.shardFor(userKey)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[userKey])
}

func (r *Registry) Stats() Stats {
	var st Stats
	for _, s := range r.shards {
		s.mu.RLock()
		st.Groups += len(s.groups)
		for _, members := range s.groups {
			st.Connections += len(members)
		}
		s.mu.RUnlock()
	}
	return st
}
