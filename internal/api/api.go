// internal/api/api.go
// Wires configuration into the hub and serves it over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"github.com/erilali/readsync/internal/config"
	"github.com/erilali/readsync/internal/hub"
	"github.com/erilali/readsync/internal/identity"
	"github.com/erilali/readsync/internal/logger"
	"github.com/erilali/readsync/internal/registry"
	"github.com/erilali/readsync/internal/store"
)

const Version = "1.0.0"

type Server struct {
	cfg        *config.Config
	Logger     *logger.Logger
	hub        *hub.Hub
	store      store.Store
	identifier *identity.Identifier
	nc         *nats.Conn
	js         nats.JetStreamContext
	engine     *gin.Engine
	closers    []func() error
}

// NewServer opens the store, session manager and (optionally) NATS, and
// builds the hub and router. NATS being unreachable is not fatal.
func NewServer(ctx context.Context, cfg *config.Config, serverLogger *logger.Logger) (*Server, error) {
	s := &Server{cfg: cfg, Logger: serverLogger}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s.store = st
	s.closers = append(s.closers, st.Close)

	sessions, closeSessions, err := identity.NewSessionManager(cfg.Session)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("session manager: %w", err)
	}
	s.closers = append(s.closers, closeSessions)

	resolvers := identity.Chain{&identity.SessionResolver{Sessions: sessions, Key: cfg.Session.UserKey}}
	if cfg.Identity.Header != "" {
		resolvers = append(resolvers, identity.HeaderResolver{Header: cfg.Identity.Header})
	}
	policy, err := identity.ParseAnonymousPolicy(cfg.Sync.AnonymousPolicy)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.identifier = &identity.Identifier{
		Resolver:    resolvers,
		Policy:      policy,
		FallbackKey: cfg.Sync.FallbackKey,
	}
	if policy == identity.AnonymousShared {
		serverLogger.Warnf("Anonymous sessions share the reading list of %q", cfg.Sync.FallbackKey)
	}

	var events hub.EventSink = hub.NopSink{}
	if cfg.NATS.Enabled {
		s.nc, s.js = connectNATS(cfg.NATS, serverLogger)
		if s.js != nil {
			events = hub.NewJetStreamSink(s.js, logger.NewLogger("events"))
		}
	}

	s.hub = hub.NewHub(registry.New(), st, s.identifier, hub.Options{
		MaxPayloadBytes: cfg.Sync.MaxPayloadBytes,
		RequireJSON:     cfg.Sync.RequireJSON,
		SendBuffer:      cfg.Sync.SendBuffer,
		ReadDeadline:    cfg.WebSocket.ReadDeadline,
		WriteDeadline:   cfg.WebSocket.WriteDeadline,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Events:          events,
	}, logger.NewLogger("hub"))

	s.engine = s.routes()
	return s, nil
}

// connectNATS returns nil handles when NATS or JetStream is unavailable;
// the hub then runs without an event journal.
func connectNATS(cfg config.NATS, serverLogger *logger.Logger) (*nats.Conn, nats.JetStreamContext) {
	serverLogger.Infof("Connecting to NATS at %s", cfg.URL)
	nc, err := nats.Connect(cfg.URL, nats.Name("readsync"))
	if err != nil {
		serverLogger.Errorf("Error connecting to NATS: %v", err)
		serverLogger.Warn("Running without NATS connection. Sync events will not be journaled.")
		return nil, nil
	}
	serverLogger.Info("Successfully connected to NATS")

	js, err := nc.JetStream()
	if err != nil {
		serverLogger.Errorf("Error getting JetStream context: %v", err)
		serverLogger.Warn("Running without JetStream. Sync events will not be journaled.")
		return nc, nil
	}

	streamConfig := &nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{hub.StreamSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   cfg.Retention,
	}
	if _, err := js.StreamInfo(streamConfig.Name); err != nil {
		if _, err := js.AddStream(streamConfig); err != nil {
			serverLogger.Errorf("Error creating stream %s: %v", streamConfig.Name, err)
			return nc, nil
		}
		serverLogger.Infof("Created stream: %s", streamConfig.Name)
	} else {
		if _, err := js.UpdateStream(streamConfig); err != nil {
			serverLogger.Errorf("Error updating stream %s: %v", streamConfig.Name, err)
		} else {
			serverLogger.Infof("Updated stream: %s", streamConfig.Name)
		}
	}
	return nc, js
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.Logger))

	if origins := s.cfg.HTTP.AllowedOrigins; len(origins) > 0 {
		corsConfig := cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		for _, o := range origins {
			if o == "*" {
				corsConfig.AllowOrigins = nil
				corsConfig.AllowAllOrigins = true
				corsConfig.AllowCredentials = false
				break
			}
		}
		r.Use(cors.New(corsConfig))
	}

	r.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWs(c.Writer, c.Request)
	})
	r.GET("/health", s.handleHealth)
	r.GET("/api/reading-list", s.handleReadingList)
	return r
}

func requestLogger(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	natsStatus := "disabled"
	if s.nc != nil {
		natsStatus = "disconnected"
		if s.nc.Status() == nats.CONNECTED {
			natsStatus = "connected"
		}
	}
	health := gin.H{
		"status":  "ok",
		"version": Version,
		"store":   s.cfg.Store.Backend,
		"nats":    natsStatus,
		"hub":     s.hub.Stats(),
	}
	if s.js != nil {
		info, err := s.js.StreamInfo(s.cfg.NATS.Stream)
		if err == nil {
			health["jetstream"] = gin.H{
				"stream":    info.Config.Name,
				"messages":  info.State.Msgs,
				"bytes":     info.State.Bytes,
				"subjects":  info.Config.Subjects,
				"retention": info.Config.MaxAge.String(),
			}
		} else {
			health["jetstream"] = gin.H{"error": err.Error()}
		}
	}
	c.JSON(http.StatusOK, health)
}

// handleReadingList serves the stored list to callers that cannot hold a
// websocket open.
func (s *Server) handleReadingList(c *gin.Context) {
	key, ok := s.identifier.StableKey(c.Request)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading list for this session"})
		return
	}
	payload, found, err := s.hub.Snapshot(c.Request.Context(), key)
	if err != nil {
		s.Logger.Errorf("Reading list lookup for %s failed: %v", key, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reading list unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading list stored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payload})
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then shuts down within the configured
// timeout.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infof("Server started at %s", s.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
