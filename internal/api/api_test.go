package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erilali/readsync/internal/config"
	"github.com/erilali/readsync/internal/logger"
	"github.com/erilali/readsync/internal/message"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTP{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Sync: config.Sync{
			MaxPayloadBytes: 1024,
			AnonymousPolicy: "isolated",
			FallbackKey:     "defaultUser",
			SendBuffer:      8,
		},
		WebSocket: config.WebSocket{ReadDeadline: 5 * time.Second, WriteDeadline: time.Second},
		Store:     config.Store{Backend: "memory"},
		Session:   config.Session{Store: "memory", CookieName: "session", UserKey: "user_email", Lifetime: time.Hour},
		Identity:  config.Identity{Header: "X-User"},
		NATS:      config.NATS{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := NewServer(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func get(t *testing.T, h http.Handler, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := get(t, s.Handler(), "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["nats"])
	assert.Equal(t, "memory", body["store"])
	assert.Contains(t, body, "hub")
}

func TestReadingListEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/reading-list", "").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/reading-list", "alice").Code)

	header := http.Header{"X-User": []string{"alice"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := message.EncodePublish(`["Book1"]`)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		return get(t, s.Handler(), "/api/reading-list", "alice").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	var body map[string]string
	require.NoError(t, json.Unmarshal(get(t, s.Handler(), "/api/reading-list", "alice").Body.Bytes(), &body))
	assert.Equal(t, `["Book1"]`, body["data"])
}

func TestReadingListSharedAnonymous(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.AnonymousPolicy = "shared"
	s := newTestServer(t, cfg)

	require.NoError(t, s.store.Put(context.Background(), "defaultUser", "anon"))

	rec := get(t, s.Handler(), "/api/reading-list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":"anon"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.AllowedOrigins = []string{"https://library.example"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/reading-list", nil)
	req.Header.Set("Origin", "https://library.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://library.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewServerRejectsUnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "cassandra"

	_, err := NewServer(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
