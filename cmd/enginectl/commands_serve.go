package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const appName = "enginectl"

func buildServeCmd() *cobra.Command {
	var (
		projectDir string
		dbPath     string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the enginectl runtime server",
		Long: `Start the enginectl runtime server.

The server will:
1. Load configuration from .enginectl layers under the home and project directories
2. Open the durable SQLite store
3. Start the sandbox session sweeper
4. Build the middleware chain and run scheduler
5. Serve the HTTP/SSE API

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				projectDir = wd
			}
			return runServe(cmd.Context(), projectDir, dbPath, addr, debug)
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory to load .enginectl config from (default: current directory)")
	cmd.Flags().StringVar(&dbPath, "db", "enginectl.db", "Path to the SQLite store file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// runServe wires the app and serves the HTTP API until a shutdown
// signal arrives, then drains in-flight work within shutdownTimeout.
func runServe(ctx context.Context, projectDir, dbPath, addr string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting enginectl",
		"version", version,
		"commit", commit,
		"project_dir", projectDir,
		"db", dbPath,
		"addr", addr,
		"debug", debug,
	)

	a, err := buildApp(ctx, appName, projectDir, dbPath, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.close()

	server := &http.Server{
		Addr:              addr,
		Handler:           a.newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("enginectl server started", "addr", addr)

	sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		return err
	}

	slog.Info("enginectl server stopped")
	return nil
}
