package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMembersExceptExcludesCaller(t *testing.T) {
	r := New()
	r.Join("a", "alice")
	r.Join("b", "alice")
	r.Join("c", "bob")

	assert.ElementsMatch(t, []string{"b"}, r.MembersExcept("alice", "a"))
	assert.ElementsMatch(t, []string{"a", "b"}, r.Members("alice"))
	assert.Empty(t, r.MembersExcept("bob", "c"))
}

func TestMembersExceptEmptyGroup(t *testing.T) {
	r := New()

	got := r.MembersExcept("nobody", "x")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestJoinIsIdempotent(t *testing.T) {
	r := New()
	r.Join("a", "alice")
	r.Join("a", "alice")
	r.Join("b", "alice")

	assert.Equal(t, 2, r.GroupSize("alice"))
	assert.ElementsMatch(t, []string{"a"}, r.MembersExcept("alice", "b"))
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	r := New()
	r.Leave("ghost", "alice")
	r.Join("a", "alice")
	r.Leave("ghost", "alice")
	r.Leave("a", "bob")

	assert.Equal(t, 1, r.GroupSize("alice"))
}

func TestLeaveRemovesMemberAndEmptyGroup(t *testing.T) {
	r := New()
	r.Join("a", "alice")
	r.Join("b", "alice")

	r.Leave("a", "alice")
	assert.ElementsMatch(t, []string{"b"}, r.Members("alice"))

	r.Leave("b", "alice")
	assert.Equal(t, Stats{}, r.Stats())
}

func TestStats(t *testing.T) {
	r := New()
	r.Join("a", "alice")
	r.Join("b", "alice")
	r.Join("c", "bob")

	assert.Equal(t, Stats{Groups: 2, Connections: 3}, r.Stats())
}

// Replays random join/leave sequences against a reference model and checks
// that MembersExcept never returns the excluded id or a departed one.
func TestRandomSequencesMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	users := []string{"u1", "u2", "u3"}
	conns := []string{"c1", "c2", "c3", "c4", "c5"}

	r := New()
	model := map[string]map[string]bool{}
	for _, u := range users {
		model[u] = map[string]bool{}
	}

	for i := 0; i < 2000; i++ {
		u := users[rng.Intn(len(users))]
		c := conns[rng.Intn(len(conns))]
		if rng.Intn(2) == 0 {
			r.Join(c, u)
			model[u][c] = true
		} else {
			r.Leave(c, u)
			delete(model[u], c)
		}

		excluded := conns[rng.Intn(len(conns))]
		got := r.MembersExcept(u, excluded)
		assert.NotContains(t, got, excluded)
		for _, id := range got {
			assert.True(t, model[u][id], "step %d: %s returned after leave", i, id)
		}
		want := 0
		for id := range model[u] {
			if id != excluded {
				want++
			}
		}
		assert.Len(t, got, want)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%5)
			conn := fmt.Sprintf("conn-%d", i)
			r.Join(conn, user)
			_ = r.MembersExcept(user, conn)
			if i%2 == 0 {
				r.Leave(conn, user)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Stats().Connections)
}
