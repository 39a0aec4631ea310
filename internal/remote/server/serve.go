package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilupskalvis/libsync/internal/remote/metastore"
)

// ServeOptions configures a standalone server process.
type ServeOptions struct {
	Listen      string
	DataDir     string // holds libraries.db and tokens.json
	AdminToken  string
	TLSCert     string
	TLSKey      string
	WebhookURLs string // comma-separated
}

// ParseWebhookURLs splits a comma-separated list, dropping empty entries.
func ParseWebhookURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Serve opens the stores under opts.DataDir and serves until ctx is done,
// then shuts down gracefully.
func Serve(ctx context.Context, opts ServeOptions, logger *slog.Logger) error {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	meta, err := metastore.NewSQLiteStore(filepath.Join(opts.DataDir, "libraries.db"))
	if err != nil {
		return fmt.Errorf("open library store: %w", err)
	}
	defer meta.Close()

	tokens := NewFileTokenStore(filepath.Join(opts.DataDir, "tokens.json"), logger)
	if err := tokens.Load(); err != nil {
		return err
	}

	cfg := DefaultServerConfig()
	cfg.AdminToken = opts.AdminToken
	if urls := ParseWebhookURLs(opts.WebhookURLs); len(urls) > 0 {
		cfg.Webhooks = NewWebhookNotifier(&WebhookConfig{URLs: urls}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	h, cleanup := Handler(meta, tokens, cfg, logger)
	defer cleanup()

	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting libsync-server", "listen", opts.Listen, "data_dir", opts.DataDir)
		var err error
		if opts.TLSCert != "" && opts.TLSKey != "" {
			err = srv.ListenAndServeTLS(opts.TLSCert, opts.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
