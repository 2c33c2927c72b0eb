// main package for the tolatu web front end
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/cache"
	"github.com/book-expert/tolatu/internal/config"
	"github.com/book-expert/tolatu/internal/controller"
	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/objectstore"
	"github.com/book-expert/tolatu/internal/session"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/book-expert/tolatu/internal/web"
	"github.com/book-expert/tolatu/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Minute

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig() (*config.Config, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), "tolatu-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, err
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	return cfg, nil
}

func connectNATS(cfg *config.Config, log *logger.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	if !cfg.UsesNATS() {
		return nil, nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("tolatu"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info("Connected to NATS at %s", cfg.NATS.URL)

	return natsConnection, jetstreamContext, nil
}

func openStore(cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.ObjectStore, error) {
	if cfg.Audio.Store != config.StoreNATS {
		return audio.NewMemoryStore(), nil
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio store: %w", err)
	}

	return store, nil
}

// openCache returns nil when no cache is configured or Redis is unreachable;
// the catalog then always asks the backend.
func openCache(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) *cache.VoiceCache {
	if !cfg.Enabled() {
		return nil
	}

	voiceCache, err := cache.NewVoiceCache(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.Prefix,
		TTL:      cfg.TTL(),
	})
	if err != nil {
		log.Warn("Voice cache disabled: %v", err)

		return nil
	}

	log.Info("Voice cache enabled at %s", cfg.RedisAddr)

	return voiceCache
}

func newCatalog(client *tts.HTTPClient, voiceCache *cache.VoiceCache, cfg *config.Config, log *logger.Logger) *tts.Catalog {
	if voiceCache == nil {
		return tts.NewCatalog(client, nil, cfg.API.PreferredLocale, log)
	}

	return tts.NewCatalog(client, voiceCache, cfg.API.PreferredLocale, log)
}

// newWorker returns nil when the NATS worker is disabled.
func newWorker(
	ctx context.Context,
	cfg *config.Config,
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	client *tts.HTTPClient,
	voiceCache *cache.VoiceCache,
	log *logger.Logger,
) (*worker.NatsWorker, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}

	// Pipeline sources live in the NATS bucket even when the page keeps its
	// audio in memory.
	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker store: %w", err)
	}

	catalog := newCatalog(client, voiceCache, cfg, log)

	loadErr := catalog.Load(ctx)
	if loadErr != nil {
		log.Warn("Worker starts without a voice catalog: %v", loadErr)
	}

	return worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:       cfg.NATS.SynthesisSubject,
		Store:         store,
		Speech:        client,
		Voices:        catalog,
		EmbeddedPaths: cfg.API.EmbeddedAudioPaths,
		Logger:        log,
	}), nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "tolatu.log")
	if err != nil {
		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsConnection, jetstreamContext, err := connectNATS(cfg, finalLog)
	if err != nil {
		return err
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	store, err := openStore(cfg, jetstreamContext)
	if err != nil {
		return err
	}

	voiceCache := openCache(ctx, cfg.Cache, finalLog)
	if voiceCache != nil {
		defer func() { _ = voiceCache.Close() }()
	}

	client := tts.NewHTTPClient(cfg.API.BaseURL, cfg.API.Timeout())

	factory := func(ctx context.Context) *controller.Controller {
		ctrl := controller.New(controller.Options{
			Catalog:        newCatalog(client, voiceCache, cfg, finalLog),
			Speech:         client,
			Audio:          audio.NewManager(store, cfg.Audio.URLPrefix, cfg.API.EmbeddedAudioPaths),
			Logger:         finalLog,
			LongInputRunes: cfg.Server.LongInputRunes,
		})
		ctrl.LoadVoices(ctx)

		return ctrl
	}

	sessions := session.NewRegistry(factory, cfg.Server.SessionTTL(), finalLog)

	gin.SetMode(gin.ReleaseMode)

	server, err := web.New(web.Options{
		Addr:           cfg.Server.Addr,
		Logger:         finalLog,
		Sessions:       sessions,
		Store:          store,
		AudioPrefix:    cfg.Audio.URLPrefix,
		MaxImageBytes:  cfg.Server.MaxImageBytes,
		LongInputRunes: cfg.Server.LongInputRunes,
	})
	if err != nil {
		return fmt.Errorf("failed to build web server: %w", err)
	}

	natsWorker, err := newWorker(ctx, cfg, natsConnection, jetstreamContext, client, voiceCache, finalLog)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return server.Run(groupCtx) })
	group.Go(func() error { return sessions.Run(groupCtx, sweepInterval) })

	if natsWorker != nil {
		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	finalLog.System("tolatu started on %s (backend %s, audio store %s)",
		cfg.Server.Addr, client.BaseURL(), cfg.Audio.Store)

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}

	finalLog.System("tolatu stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
