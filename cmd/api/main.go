package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"server/internal/adapter/repo"
	"server/internal/admission"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/metrics"
	"server/internal/pipeline"
	"server/internal/providers/genai"
	imageprovider "server/internal/providers/image"
	videoprovider "server/internal/providers/video"
	"server/internal/storage"
	"server/internal/transcoder"
	"server/internal/weather"
	"server/internal/widget"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	ledger := repo.NewJobLedger(dbpool)
	weatherCache := repo.NewWeatherCache(dbpool)
	mediaCache := repo.NewMediaCache(dbpool)
	widgetCache := repo.NewWidgetCache(dbpool)

	var guard admission.InflightGuard = admission.NewMemoryGuard()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid redis url")
		}
		guard = admission.NewRedisGuard(redis.NewClient(opts))
		logger.Info().Msg("admission guard backed by redis")
	}
	adm := admission.NewController(ledger, guard, cfg.Privileged, logger)

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}

	weatherClient := weather.NewClient(weather.Options{
		APIKey:  cfg.WeatherAPIKey,
		BaseURL: cfg.WeatherBaseURL,
	})

	images, videos, err := buildGenerators(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init generation providers")
	}

	ffmpeg := transcoder.NewFFmpeg(cfg.FFmpegPath)
	if !ffmpeg.Available() {
		logger.Warn().Str("path", cfg.FFmpegPath).Msg("ffmpeg not found; serving unprocessed artifacts")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	engine := pipeline.NewEngine(pipeline.Deps{
		Ledger:       ledger,
		WeatherCache: weatherCache,
		MediaCache:   mediaCache,
		Weather:      weatherClient,
		Images:       images,
		Videos:       videos,
		Transcoder:   ffmpeg,
		Store:        store,
		Metrics:      m,
		Logger:       logger,
	})

	// With the inline pipeline each admitted job runs in its own goroutine;
	// otherwise jobs stay pending until a worker claims them.
	var onTrigger func(jobID string)
	if cfg.InlinePipeline {
		onTrigger = func(jobID string) {
			go func() {
				runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				defer cancel()
				if err := engine.Run(runCtx, jobID); err != nil {
					logger.Error().Err(err).Str("job_id", jobID).Msg("inline pipeline run failed")
				}
				if job, err := ledger.GetJob(runCtx, jobID); err == nil {
					adm.ReleaseGeneration(runCtx, job.City, job.Type)
				}
			}()
		}
	}

	negotiator := widget.NewNegotiator(widget.Deps{
		WeatherCache: weatherCache,
		MediaCache:   mediaCache,
		WidgetCache:  widgetCache,
		Weather:      weatherClient,
		Admission:    adm,
		Transcoder:   ffmpeg,
		Store:        store,
		Metrics:      m,
		Logger:       logger,
		OnTrigger:    onTrigger,
	})

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	app := handlers.NewApp(ledger, adm, negotiator, resolver, m, logger)
	app.OnTrigger = onTrigger

	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func buildGenerators(cfg *infra.Config, logger *infra.Logger) (imageprovider.Generator, videoprovider.Generator, error) {
	var client *genai.Client
	needClient := cfg.ImageProvider == "gemini" || cfg.VideoProvider == "gemini"
	if needClient {
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
