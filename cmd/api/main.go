package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/config"
	"github.com/example/latentwalk/api-go/internal/httpapi"
	"github.com/example/latentwalk/api-go/internal/jobs"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/store"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to latentwalk.toml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cfgPath, cfgExists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if cfgExists {
		logger.Info("config loaded", logging.String("path", cfgPath))
	} else {
		logger.Info("no config file found, using defaults", logging.String("path", cfgPath))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("latentwalk api stopped", logging.Error(err))
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another latentwalk instance is already using %s", cfg.Paths.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	jobStore, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobStore.Close()

	blobStore := blob.LocalFS{Root: cfg.Paths.OutputDir}

	synthesizer, err := buildSynthesizer(cfg, logger)
	if err != nil {
		return err
	}
	format, assembler, err := buildAssembler(cfg, logger)
	if err != nil {
		return err
	}
	hub, publisher, closeEvents, err := buildEvents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	orch, err := jobs.New(jobs.Options{
		Synth:     synthesizer,
		Assembler: assembler,
		Format:    format,
		Blobs:     blobStore,
		Poster:    buildPoster(cfg, blobStore),
		Journal:   jobStore,
		Events:    publisher,
		Logger:    logger,
		Limits:    jobs.LimitsFromConfig(cfg),
	})
	if err != nil {
		return err
	}
	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		addr := cfg.Server.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		baseURL = fmt.Sprintf("http://%s", addr)
	}

	server := httpapi.Server{
		Jobs:       orch,
		Blobs:      blobStore,
		Hub:        hub,
		BaseURL:    baseURL,
		APIKey:     cfg.Server.APIKey,
		CORSOrigin: cfg.Server.CORSOrigin,
		Logger:     logger,
	}

	// No WriteTimeout: event streams and large downloads outlive any fixed bound.
	httpServer := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	logger.Info("API listening",
		logging.String("address", listener.Addr().String()),
		logging.String("base_url", baseURL),
		logging.String("output_dir", cfg.Paths.OutputDir),
		logging.String("generator", cfg.Synthesis.Generator),
		logging.String("format", format.Name),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = orch.Close(closeCtx)
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	if hub != nil {
		hub.Close()
	}
	if err := orch.Close(shutdownCtx); err != nil {
		return fmt.Errorf("stop jobs: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
