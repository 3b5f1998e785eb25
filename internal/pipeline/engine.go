package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/metrics"
	imageprovider "server/internal/providers/image"
	videoprovider "server/internal/providers/video"
	"server/internal/storage"
	"server/internal/transcoder"
	"server/internal/weather"
)

// Engine executes the ordered stage sequence against a job, checkpointing the
// stage in the ledger before each external call. There is no in-process retry
// loop: a failure, fatal or transient, fails the job, and retries are the
// business of whatever invokes Run.
type Engine struct {
	ledger       domain.JobLedger
	weatherCache domain.WeatherCache
	mediaCache   domain.MediaCache
	weather      weather.Provider
	images       imageprovider.Generator
	videos       videoprovider.Generator
	transcoder   transcoder.Transcoder
	store        storage.ObjectStore
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Ledger       domain.JobLedger
	WeatherCache domain.WeatherCache
	MediaCache   domain.MediaCache
	Weather      weather.Provider
	Images       imageprovider.Generator
	Videos       videoprovider.Generator
	Transcoder   transcoder.Transcoder
	Store        storage.ObjectStore
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// NewEngine wires a pipeline engine.
func NewEngine(deps Deps) *Engine {
	return &Engine{
		ledger:       deps.Ledger,
		weatherCache: deps.WeatherCache,
		mediaCache:   deps.MediaCache,
		weather:      deps.Weather,
		images:       deps.Images,
		videos:       deps.Videos,
		transcoder:   deps.Transcoder,
		store:        deps.Store,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
	}
}

// Run drives one job from pending to a terminal state. It is called exactly
// once per claimed job.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.ledger.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("job %s is %s, not pending", jobID, job.Status)
	}
	if err := e.ledger.StartJob(ctx, jobID); err != nil {
		return err
	}
	e.logger.Info().Str("job_id", jobID).Str("city", job.City).Str("job_type", string(job.Type)).Msg("pipeline: started")

	snapshot, err := e.resolveWeather(ctx, job)
	if err != nil {
		return e.fail(ctx, job, domain.StageFetchingWeather, err)
	}

	if err := e.ledger.UpdateStage(ctx, jobID, domain.StageGeneratingImage, domain.JobPatch{Weather: snapshot}); err != nil {
		return err
	}

	key := domain.MediaKeyFor(job.City, snapshot)
	entry, err := e.lookupMedia(ctx, key)
	if err != nil {
		return e.fail(ctx, job, domain.StageGeneratingImage, err)
	}

	cached := entry != nil
	var imageURL string
	if cached {
		imageURL = entry.ImageURL
		if job.Type == domain.JobTypeVideo && entry.VideoURL != "" && entry.AnimationStatus == domain.AnimationCompleted {
			// Short-circuit: the whole video already exists for this key.
			return e.complete(ctx, job, entry.VideoURL, snapshot, imageURL, true)
		}
	} else {
		imageURL, err = e.generateImage(ctx, job, snapshot, key)
		if err != nil {
			return e.fail(ctx, job, domain.StageGeneratingImage, err)
		}
	}

	if job.Type == domain.JobTypeImage {
		return e.complete(ctx, job, imageURL, snapshot, imageURL, cached)
	}

	videoURL, err := e.generateVideo(ctx, job, snapshot, key, imageURL)
	if err != nil {
		stage := domain.StageGeneratingVideo
		if errors.Is(err, errPostProcess) {
			stage = domain.StageProcessingVideo
		}
		return e.fail(ctx, job, stage, err)
	}
	return e.complete(ctx, job, videoURL, snapshot, imageURL, false)
}

// resolveWeather serves from the weather cache inside the freshness window
// and refetches past it. A stale entry is overwritten, never deleted.
func (e *Engine) resolveWeather(ctx context.Context, job *domain.Job) (*domain.WeatherSnapshot, error) {
	entry, err := e.weatherCache.Get(ctx, job.City)
	if err == nil && entry.Snapshot.Fresh(e.now()) {
		e.metrics.CacheLookup("weather", true)
		snapshot := entry.Snapshot
		return &snapshot, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn().Err(err).Str("city", job.City).Msg("pipeline: weather cache read failed")
	}
	e.metrics.CacheLookup("weather", false)

	snapshot, err := e.weather.Fetch(ctx, job.City, job.Country)
	if err != nil {
		return nil, err
	}
	if err := e.weatherCache.Upsert(ctx, job.City, *snapshot); err != nil {
		// Cache write failure must not fail the job; the snapshot is in hand.
		e.logger.Warn().Err(err).Str("city", job.City).Msg("pipeline: weather cache upsert failed")
	}
	return snapshot, nil
}

func (e *Engine) lookupMedia(ctx context.Context, key domain.MediaKey) (*domain.MediaCacheEntry, error) {
	entry, err := e.mediaCache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.metrics.CacheLookup("media", false)
			return nil, nil
		}
		return nil, err
	}
	e.metrics.CacheLookup("media", true)
	return entry, nil
}

func (e *Engine) generateImage(ctx context.Context, job *domain.Job, snapshot *domain.WeatherSnapshot, key domain.MediaKey) (string, error) {
	data, err := e.images.Generate(ctx, imageprovider.GenerateRequest{
		Prompt:    ScenePrompt(job.City, snapshot),
		City:      key.City,
		Category:  key.Category,
		TimeOfDay: key.TimeOfDay,
		RequestID: job.ID,
	})
	if err != nil {
		return "", err
	}
	imageURL, err := e.store.Put(ctx, mediaStorageKey(key, "scene.png"), data)
	if err != nil {
		return "", err
	}
	if err := e.mediaCache.Upsert(ctx, &domain.MediaCacheEntry{
		Key:             key,
		ImageURL:        imageURL,
		AnimationStatus: domain.AnimationNone,
	}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: media cache upsert failed")
	}
	return imageURL, nil
}

// errPostProcess marks failures from the post-process stage so Run records
// the right failing stage.
var errPostProcess = errors.New("post-process failed")

func (e *Engine) generateVideo(ctx context.Context, job *domain.Job, snapshot *domain.WeatherSnapshot, key domain.MediaKey, imageURL string) (string, error) {
	if err := e.ledger.UpdateStage(ctx, job.ID, domain.StageGeneratingVideo, domain.JobPatch{ImageURL: &imageURL}); err != nil {
		return "", err
	}
	if err := e.mediaCache.SetAnimationStatus(ctx, key, domain.AnimationProcessing, ""); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: animation status update failed")
	}

	clip, err := e.videos.Generate(ctx, videoprovider.GenerateRequest{
		Prompt:    AnimationPrompt(job.City, snapshot),
		ImageURL:  imageURL,
		City:      key.City,
		Category:  key.Category,
		TimeOfDay: key.TimeOfDay,
		RequestID: job.ID,
	})
	if err != nil {
		e.revertAnimation(ctx, key)
		return "", err
	}

	if err := e.ledger.UpdateStage(ctx, job.ID, domain.StageProcessingVideo, domain.JobPatch{}); err != nil {
		return "", err
	}
	processed, err := e.transcoder.LoopVideo(ctx, clip, transcoder.Params{Format: "mp4"})
	if err != nil {
		e.revertAnimation(ctx, key)
		return "", fmt.Errorf("%w: %v", errPostProcess, err)
	}
	videoURL, err := e.store.Put(ctx, mediaStorageKey(key, "loop.mp4"), processed)
	if err != nil {
		e.revertAnimation(ctx, key)
		return "", fmt.Errorf("%w: %v", errPostProcess, err)
	}
	if err := e.mediaCache.SetAnimationStatus(ctx, key, domain.AnimationCompleted, videoURL); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: animation status update failed")
	}
	return videoURL, nil
}

// revertAnimation marks the video half failed; the image half stays intact.
func (e *Engine) revertAnimation(ctx context.Context, key domain.MediaKey) {
	if err := e.mediaCache.SetAnimationStatus(ctx, key, domain.AnimationFailed, ""); err != nil {
		e.logger.Warn().Err(err).Msg("pipeline: animation revert failed")
	}
}

func (e *Engine) complete(ctx context.Context, job *domain.Job, artifactURL string, snapshot *domain.WeatherSnapshot, imageURL string, cached bool) error {
	if err := e.ledger.CompleteJob(ctx, job.ID, artifactURL, snapshot, imageURL, cached); err != nil {
		return err
	}
	e.metrics.JobTerminal(string(domain.JobStatusCompleted), string(job.Type))
	e.logger.Info().Str("job_id", job.ID).Bool("cached", cached).Msg("pipeline: completed")
	return nil
}

func (e *Engine) fail(ctx context.Context, job *domain.Job, stage domain.JobStage, cause error) error {
	if err := e.ledger.FailJob(ctx, job.ID, stage, cause.Error()); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: recording failure failed")
		return err
	}
	e.metrics.JobTerminal(string(domain.JobStatusFailed), string(job.Type))
	e.logger.Error().Err(cause).
		Str("job_id", job.ID).
		Str("stage", string(stage)).
		Bool("fatal", domain.IsFatalGeneration(cause)).
		Msg("pipeline: failed")
	return cause
}

func mediaStorageKey(key domain.MediaKey, name string) string {
	return fmt.Sprintf("media/%s/%s-%s/%s", key.City, key.Category, key.TimeOfDay, name)
}
