package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"github.com/daijiaran/cinegrid/internal/adapter/repo"
	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/generation"
	"github.com/daijiaran/cinegrid/internal/http/handlers"
	httpapi "github.com/daijiaran/cinegrid/internal/http/httpapi"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/infra/credentials"
	"github.com/daijiaran/cinegrid/internal/infra/geoip"
	"github.com/daijiaran/cinegrid/internal/merge"
	"github.com/daijiaran/cinegrid/internal/providers/chat"
	"github.com/daijiaran/cinegrid/internal/providers/genai"
	imageprovider "github.com/daijiaran/cinegrid/internal/providers/image"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
	upscaleclient "github.com/daijiaran/cinegrid/internal/providers/upscale"
	"github.com/daijiaran/cinegrid/internal/providers/video"
	"github.com/daijiaran/cinegrid/internal/retry"
	"github.com/daijiaran/cinegrid/internal/storage"
	"github.com/daijiaran/cinegrid/internal/storyboard"
	"github.com/daijiaran/cinegrid/internal/upscale"
)

type providerKeys struct {
	gemini, jobs, chat string
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create storage path")
	}
	lock := flock.New(filepath.Join(cfg.StoragePath, ".cinegrid.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire workspace lock")
	}
	if !locked {
		logger.Fatal().Str("storage", cfg.StoragePath).Msg("another instance is using this storage path")
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}
	fetcher := storage.NewFetcher(nil, store)
	board := alerts.NewBoard(&logger)

	cardStore, keys, closeDB, err := openPersistence(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open persistence")
	}
	defer closeDB()

	poll := retry.Poll{
		MaxAttempts:          cfg.PollMaxAttempts,
		Interval:             cfg.PollInterval,
		LogEvery:             cfg.PollLogEvery,
		MaxConsecutiveErrors: 5,
		Logger:               &logger,
	}
	jobsClient := jobs.NewClient(jobs.Options{
		APIKey:          keys.jobs,
		BaseURL:         cfg.JobsBaseURL,
		ImageModel:      cfg.JobsImageModel,
		VideoModel:      cfg.JobsVideoModel,
		SubmitPath:      cfg.JobsSubmitPath,
		PollPath:        cfg.JobsPollPath,
		VideoSubmitPath: cfg.JobsVideoSubmitPath,
		VideoPollPath:   cfg.JobsVideoPollPath,
		Logger:          &logger,
		Poll:            &poll,
	})

	imageGen, err := buildImageGenerator(cfg, keys, jobsClient, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image generator")
	}
	var videoGen video.Generator = video.NewJobsGenerator(jobsClient)
	if cfg.VideoBackend == infra.VideoBackendMock {
		videoGen = video.NewMockGenerator(cfg.MockDelay, cfg.MockVideoURL)
	}
	if err := imageGen.Ready(); err != nil {
		logger.Warn().Err(err).Str("backend", imageGen.Name()).Msg("image backend not configured; submits will fail")
	}

	tasks := generation.New(generation.Options{
		Generator: imageGen,
		Store:     store,
		Fetcher:   fetcher,
		Alerts:    board,
		Logger:    &logger,
	})

	queue, results := upscale.NewQueue(), upscale.NewResults()
	upscaler := upscale.NewProcessor(upscale.ProcessorOptions{
		Queue:   queue,
		Results: results,
		Enhancer: upscaleclient.NewClient(upscaleclient.Options{
			Endpoint: cfg.UpscaleBaseURL,
			Quality:  cfg.UpscaleModelQuality,
			Logger:   &logger,
		}),
		Alerts:   board,
		Cooldown: cfg.UpscaleCooldown,
		Logger:   &logger,
	})

	merger := merge.NewEngine(merge.Options{
		Transcoder: merge.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
		Fetcher:    fetcher,
		Store:      store,
		WorkDir:    cfg.MergeWorkDir,
		Logger:     &logger,
	})
	cards := storyboard.NewManager(storyboard.Options{
		Store:     cardStore,
		Generator: videoGen,
		Merger:    merger,
		Alerts:    board,
		Logger:    &logger,
		Debounce:  cfg.CardSaveDebounce,

		ClipDuration: cfg.JobsVideoDuration,
		ClipAspect:   cfg.JobsVideoAspect,
	})
	if err := cards.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load storyboard")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	app := &handlers.App{
		Config:     cfg,
		Logger:     &logger,
		Background: ctx,
		Tasks:      tasks,
		Queue:      queue,
		Results:    results,
		Upscaler:   upscaler,
		Cards:      cards,
		Analyzer: chat.NewClient(chat.Options{
			APIKey:  keys.chat,
			Model:   cfg.ChatModel,
			BaseURL: cfg.ChatBaseURL,
			Logger:  &logger,
		}),
		Store:   store,
		Fetcher: fetcher,
		Alerts:  board,
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   resolver.Lookup(),
		StaticDir:       store.BasePath(),
	})
	server := infra.NewHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("image_backend", imageGen.Name()).
			Str("video_backend", videoGen.Name()).
			Msg("API listening")
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	tasks.Close()
	if err := cards.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush storyboard")
	}
	logger.Info().Msg("server stopped")
}

// openPersistence picks Postgres when DATABASE_URL is set and the local
// SQLite file otherwise. Provider keys missing from the environment are
// read from integration_tokens when Postgres is available.
func openPersistence(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.VideoCardRepository, providerKeys, func(), error) {
	keys := providerKeys{gemini: cfg.GeminiAPIKey, jobs: cfg.JobsAPIKey, chat: cfg.ChatAPIKey}
	if cfg.DatabaseURL == "" {
		cards, err := repo.OpenVideoCardSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, keys, nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("storyboard store: sqlite")
		return cards, keys, func() { _ = cards.Close() }, nil
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, keys, nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	cards := repo.NewVideoCardPG(runner)
	creds := credentials.NewStore(runner)
	for _, ensure := range []func(context.Context) error{cards.EnsureSchema, creds.EnsureSchema} {
		if err := ensure(ctx); err != nil {
			pool.Close()
			return nil, keys, nil, err
		}
	}
	for _, k := range []struct {
		provider string
		dst      *string
	}{
		{credentials.ProviderGemini, &keys.gemini},
		{credentials.ProviderJobs, &keys.jobs},
		{credentials.ProviderChat, &keys.chat},
	} {
		v, err := creds.Resolve(ctx, k.provider, *k.dst)
		if err != nil {
			logger.Warn().Err(err).Str("provider", k.provider).Msg("failed to read stored api key")
			continue
		}
		*k.dst = v
	}
	logger.Info().Msg("storyboard store: postgres")
	return cards, keys, pool.Close, nil
}

func buildImageGenerator(cfg *infra.Config, keys providerKeys, jobsClient *jobs.Client, logger *infra.Logger) (imageprovider.Generator, error) {
	switch cfg.ImageBackend {
	case infra.ImageBackendMock:
		return imageprovider.NewMockGenerator(cfg.MockDelay), nil
	case infra.ImageBackendJobs:
		return imageprovider.NewJobsGenerator(jobsClient), nil
	case infra.ImageBackendGemini:
		client, err := genai.NewClient(genai.Options{
			APIKey:  keys.gemini,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Stream:  true,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return imageprovider.NewGeminiGenerator(client), nil
	}
	return nil, errors.New("unsupported image backend " + string(cfg.ImageBackend))
}
