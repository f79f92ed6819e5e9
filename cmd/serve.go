package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
	"github.com/gbabichev/Twinalyzer-sub001/internal/thumbcache"
	"github.com/gbabichev/Twinalyzer-sub001/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run an HTTP API that exposes scans, CSV export, and image thumbnails.

Endpoints:
  GET  /api/v1/health
  POST /api/v1/scan    {"roots": [...], "threshold": 0.9, "mode": "fingerprint"}
  POST /api/v1/export  same body, returns CSV
  GET  /api/v1/thumb?path=...&size=256`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind (default from config)")
	serveCmd.Flags().Int("port", 0, "Port to bind (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Serve.Host = host
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Serve.Port = port
	}

	cache, err := thumbcache.New(cfg.Cache.Entries)
	if err != nil {
		return err
	}
	monitor := thumbcache.NewMonitor(cache, uint64(cfg.Cache.SoftHeapMB)*1024*1024, 10*time.Second)
	monitor.Start()
	defer monitor.Stop()

	scanner := scan.NewScanner(embedding.NewClipClient(cfg.Embedding.URL))
	server := web.NewServer(cfg, scanner, cache)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
