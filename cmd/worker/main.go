package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"server/internal/adapter/repo"
	"server/internal/admission"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/metrics"
	"server/internal/pipeline"
	"server/internal/providers/genai"
	imageprovider "server/internal/providers/image"
	videoprovider "server/internal/providers/video"
	"server/internal/scheduler"
	"server/internal/storage"
	"server/internal/transcoder"
	"server/internal/weather"
)

type jobWorker struct {
	ctx          context.Context
	ledger       domain.JobLedger
	engine       *pipeline.Engine
	admission    *admission.Controller
	pollInterval time.Duration
	logger       infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	ledger := repo.NewJobLedger(pool)
	weatherCache := repo.NewWeatherCache(pool)
	mediaCache := repo.NewMediaCache(pool)
	widgetCache := repo.NewWidgetCache(pool)

	var guard admission.InflightGuard = admission.NewMemoryGuard()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: invalid redis url")
		}
		guard = admission.NewRedisGuard(redis.NewClient(opts))
	}
	adm := admission.NewController(ledger, guard, cfg.Privileged, logger)

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	images, videos, err := buildGenerators(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure providers")
	}

	ffmpeg := transcoder.NewFFmpeg(cfg.FFmpegPath)
	if !ffmpeg.Available() {
		logger.Warn().Str("path", cfg.FFmpegPath).Msg("worker: ffmpeg not found, post-processing degraded")
	}

	engine := pipeline.NewEngine(pipeline.Deps{
		Ledger:       ledger,
		WeatherCache: weatherCache,
		MediaCache:   mediaCache,
		Weather: weather.NewClient(weather.Options{
			APIKey:  cfg.WeatherAPIKey,
			BaseURL: cfg.WeatherBaseURL,
		}),
		Images:     images,
		Videos:     videos,
		Transcoder: ffmpeg,
		Store:      store,
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
		Logger:     logger,
	})

	janitor := scheduler.NewJanitor(widgetCache, ledger, cfg.JanitorInterval, cfg.StuckJobThreshold, logger)
	if err := janitor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: janitor failed to start")
	}
	defer janitor.Stop()

	worker := &jobWorker{
		ctx:          ctx,
		ledger:       ledger,
		engine:       engine,
		admission:    adm,
		pollInterval: cfg.WorkerPollInterval,
		logger:       logger,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func buildGenerators(cfg *infra.Config, logger *infra.Logger) (imageprovider.Generator, videoprovider.Generator, error) {
	var client *genai.Client
	if cfg.ImageProvider == "gemini" || cfg.VideoProvider == "gemini" {
		var err error
		client, err = genai.NewClient(genai.Options{
			APIKey:  cfg.GenAPIKey,
			BaseURL: cfg.GenBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var images imageprovider.Generator = imageprovider.NewSyntheticGenerator()
	if cfg.ImageProvider == "gemini" {
		images = imageprovider.NewGeminiGenerator(client)
	}
	var videos videoprovider.Generator = videoprovider.NewSyntheticGenerator()
	if cfg.VideoProvider == "gemini" {
		videos = videoprovider.NewGeminiGenerator(client)
	}
	return images, videos, nil
}

// Run claims pending jobs until the context is cancelled.
func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		job, err := w.ledger.ClaimPending(w.ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: claim failed")
			}
			select {
			case <-w.ctx.Done():
				return w.ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.handleJob(job)
	}
}

func (w *jobWorker) handleJob(job *domain.Job) {
	w.logger.Info().Str("job_id", job.ID).Str("city", job.City).Str("type", string(job.Type)).Msg("worker: picked job")
	if err := w.engine.Run(w.ctx, job.ID); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job failed")
	}
	// The job is terminal either way; free the generation-key guard so the
	// next trigger for this city is admitted.
	w.admission.ReleaseGeneration(w.ctx, job.City, job.Type)
}
