package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAbsent(t *testing.T) {
	s := NewMemoryStore()

	payload, ok, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, payload)
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "alice", `["Book1"]`))
	require.NoError(t, s.Put(ctx, "alice", `["Book1","Book2"]`))

	payload, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["Book1","Book2"]`, payload)
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "alice", "a"))
	require.NoError(t, s.Put(ctx, "bob", "b"))

	got, _, _ := s.Get(ctx, "alice")
	assert.Equal(t, "a", got)
	got, _, _ = s.Get(ctx, "bob")
	assert.Equal(t, "b", got)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStoreEmptyPayloadIsPresent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "alice", ""))

	_, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreConcurrentPutsKeepOneWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	written := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		p := fmt.Sprintf("payload-%d", i)
		written[p] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, "alice", p)
			_, _, _ = s.Get(ctx, "alice")
		}()
	}
	wg.Wait()

	got, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, written[got], "stored payload %q was never written", got)
}
