// Command propagationd runs the HTTPS content-propagation server: session
// based uploads with Merkle integrity verification in front of a
// content-addressed store. Grounded on cuemby-warren's cmd/warren/main.go
// cobra command shape (persistent flags bound via viper, logging
// initialized in cobra.OnInitialize, graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/storepeer/propagator/internal/config"
	"github.com/storepeer/propagator/internal/external"
	"github.com/storepeer/propagator/internal/fetch"
	"github.com/storepeer/propagator/internal/layout"
	"github.com/storepeer/propagator/internal/log"
	"github.com/storepeer/propagator/internal/merkle"
	"github.com/storepeer/propagator/internal/noncecache"
	"github.com/storepeer/propagator/internal/ownercache"
	"github.com/storepeer/propagator/internal/ratelimit"
	"github.com/storepeer/propagator/internal/session"
	"github.com/storepeer/propagator/internal/upload"
	"github.com/storepeer/propagator/server/httpserver"
)

var v = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "propagationd",
	Short: "Content-propagation server for a decentralized datastore network",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the propagation server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	config.BindDefaults(v)

	flags := serveCmd.Flags()
	flags.String("listen-addr", v.GetString("listen_addr"), "address to listen on")
	flags.String("tls-cert-file", "", "TLS certificate file (required)")
	flags.String("tls-key-file", "", "TLS private key file (required)")
	flags.String("client-ca-file", "", "PEM bundle of client CAs for mutual TLS")
	flags.Bool("require-client-cert", false, "reject connections without a verified client certificate")
	flags.String("storage-root", v.GetString("storage_root"), "base directory for store data and session temp files")
	flags.Duration("session-ttl", v.GetDuration("session_ttl"), "upload session idle TTL")
	flags.Duration("nonce-ttl", v.GetDuration("nonce_ttl"), "issued nonce TTL")
	flags.Duration("owner-ttl", v.GetDuration("owner_ttl"), "owner write-permission cache TTL")
	flags.Int("upload-start-rate-limit", v.GetInt("upload_start_rate_limit"), "max upload sessions per window per (ip, store)")
	flags.Duration("upload-start-window", v.GetDuration("upload_start_window"), "window for upload-start rate limiting")
	flags.Int("fetch-rate-limit", v.GetInt("fetch_rate_limit"), "max fetch requests per window per (ip, store, path)")
	flags.Duration("fetch-window", v.GetDuration("fetch_window"), "window for fetch rate limiting")
	flags.String("owner-username", "", "Basic-Auth username required to create a new store (required)")
	flags.String("owner-password", "", "Basic-Auth password required to create a new store (required)")
	flags.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	flags.Bool("log-json", v.GetBool("log_json"), "emit logs as JSON")

	// Bind each --foo-bar flag to the foo_bar key that config.Load reads.
	flags.VisitAll(func(f *pflag.Flag) {
		v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	v.SetEnvPrefix("propagationd")
	v.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	lay, err := layout.New(cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("failed to initialize storage layout: %w", err)
	}

	registry, err := session.New(lay.SessionTmpRoot(), cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}
	if err := registry.CleanStaleTempDirs(); err != nil {
		logger.Warn().Err(err).Msg("failed to clean stale session temp directories")
	}

	collab := external.NoImpl{}
	nonces := noncecache.New(cfg.NonceTTL)
	owners := ownercache.New(collab, cfg.OwnerTTL)
	mv := merkle.NewVerifier(collab, collab)

	engine := upload.NewEngine(lay, registry, nonces, owners, collab, collab, mv, upload.OwnerCredentials{
		Username: cfg.OwnerUsername,
		Password: cfg.OwnerPassword,
	})
	engine.Metrics.StartLogging(time.Minute)
	defer engine.Metrics.Stop()
	fetchEngine := fetch.NewEngine(lay)

	limits := httpserver.RateLimits{
		UploadStart: ratelimit.New(cfg.UploadStartRateLimit, cfg.UploadStartWindow, cfg.UploadStartRateLimit),
		Fetch:       ratelimit.New(cfg.FetchRateLimit, cfg.FetchWindow, cfg.FetchRateLimit),
	}
	router := httpserver.NewRouter(engine, fetchEngine, limits)

	srv, err := httpserver.New(cfg.ListenAddr, router, httpserver.TLSConfig{
		CertFile:      cfg.TLSCertFile,
		KeyFile:       cfg.TLSKeyFile,
		ClientCAFile:  cfg.ClientCAFile,
		RequireClient: cfg.RequireClient,
	})
	if err != nil {
		return fmt.Errorf("failed to build http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	registry.DestroyAll()
	return nil
}
