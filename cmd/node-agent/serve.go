package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/wenwu/saas-platform/access-service/internal/logging"
	"github.com/wenwu/saas-platform/access-service/internal/nodeagent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the node control API over TLS",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := nodeagent.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logWriter, logCloser := logging.Setup(cfg.LogFile)
	defer logCloser.Close()
	gin.DefaultWriter = logWriter
	gin.SetMode(gin.ReleaseMode)

	srv := nodeagent.NewServer(cfg, &nodeagent.CommandApplier{Command: cfg.RestartCommand})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[NodeAgent] Listening on %s (control address %s)", cfg.Listen, cfg.ControlAddress)
		errCh <- httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[NodeAgent] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
