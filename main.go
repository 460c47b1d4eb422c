// main.go
// Application entry point: loads config, initializes logging, and runs the sync server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/erilali/readsync/internal/api"
	"github.com/erilali/readsync/internal/config"
	"github.com/erilali/readsync/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("READSYNC_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Log)
	serverLogger := logger.NewLogger("server")
	serverLogger.WithFields(map[string]interface{}{
		"level":            cfg.Log.Level,
		"log_to_file":      cfg.Log.LogToFile,
		"store":            cfg.Store.Backend,
		"anonymous_policy": cfg.Sync.AnonymousPolicy,
	}).Info("Configuration loaded")

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(ctx, cfg, serverLogger)
	if err != nil {
		serverLogger.Fatalf("Failed to build server: %v", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		serverLogger.Errorf("Server stopped: %v", err)
	}
}
