// Command libsync-server runs the libsync library server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/libsync/internal/logging"
	"github.com/kilupskalvis/libsync/internal/remote/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("LIBSYNC_LISTEN", "0.0.0.0:8720"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("LIBSYNC_DATA_DIR", "/var/lib/libsync-server"), "Data directory")
	adminToken := flag.String("admin-token", os.Getenv("LIBSYNC_ADMIN_TOKEN"), "Admin API token")
	logLevel := flag.String("log-level", envOrDefault("LIBSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("LIBSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("LIBSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("LIBSYNC_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("LIBSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on library updates")
	flag.Parse()

	logger, closer := logging.New(logging.Options{Level: *logLevel, Format: *logFormat, Output: os.Stdout})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := server.Serve(ctx, server.ServeOptions{
		Listen:      *listen,
		DataDir:     *dataDir,
		AdminToken:  *adminToken,
		TLSCert:     *tlsCert,
		TLSKey:      *tlsKey,
		WebhookURLs: *webhookURLs,
	}, logger)
	if err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
