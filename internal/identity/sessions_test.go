package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erilali/readsync/internal/config"
)

func sessionConfig(store, path string) config.Session {
	return config.Session{
		Store:      store,
		SQLitePath: path,
		CookieName: "session",
		UserKey:    "user_email",
		Lifetime:   time.Hour,
	}
}

// login stores the user's email the way the catalog app does and returns the
// session token.
func login(t *testing.T, res *SessionResolver, email string) string {
	t.Helper()
	ctx, err := res.Sessions.Load(context.Background(), "")
	require.NoError(t, err)
	res.Sessions.Put(ctx, res.Key, email)
	token, _, err := res.Sessions.Commit(ctx)
	require.NoError(t, err)
	return token
}

func requestWithCookie(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: "session", Value: token})
	}
	return r
}

func TestSessionResolverMemoryStore(t *testing.T) {
	sm, closeFn, err := NewSessionManager(sessionConfig("memory", ""))
	require.NoError(t, err)
	defer closeFn()

	res := &SessionResolver{Sessions: sm, Key: "user_email"}
	token := login(t, res, "alice@example.com")

	key, ok := res.ResolveUserKey(requestWithCookie(token))
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", key)

	_, ok = res.ResolveUserKey(requestWithCookie(""))
	assert.False(t, ok)

	_, ok = res.ResolveUserKey(requestWithCookie("unknown-token"))
	assert.False(t, ok)
}

func TestSessionResolverSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	sm, closeFn, err := NewSessionManager(sessionConfig("sqlite", path))
	require.NoError(t, err)
	defer closeFn()

	res := &SessionResolver{Sessions: sm, Key: "user_email"}
	token := login(t, res, "bob@example.com")

	key, ok := res.ResolveUserKey(requestWithCookie(token))
	assert.True(t, ok)
	assert.Equal(t, "bob@example.com", key)
}
