package widget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/admission"
	"server/internal/domain"
	"server/internal/metrics"
	"server/internal/storage"
	"server/internal/transcoder"
	"server/internal/weather"
)

// Tier identifies which artifact quality level answered a request.
type Tier int

const (
	TierRendered Tier = iota + 1
	TierVideo
	TierImage
	TierPlaceholder
)

// Cache lifetimes per tier, communicated to embedding clients.
const (
	renderedMaxAge = 10 * time.Minute
	videoMaxAge    = 5 * time.Minute
	imageMaxAge    = time.Minute
	retryAfterHint = 15 * time.Second
)

// Resolution is the negotiator's answer: the best available artifact plus
// the cache/progress metadata the endpoint exposes as headers.
type Resolution struct {
	Tier        Tier
	Body        []byte
	ContentType string
	WeatherHash string
	Cached      bool
	Generating  bool
	JobID       string
	MaxAge      time.Duration
	RetryAfter  time.Duration
}

// Negotiator picks the best cached tier for a city and triggers background
// generation for the missing tiers, never blocking the request on it.
type Negotiator struct {
	weatherCache domain.WeatherCache
	mediaCache   domain.MediaCache
	widgetCache  domain.WidgetCache
	weather      weather.Provider
	admission    *admission.Controller
	transcoder   transcoder.Transcoder
	store        storage.ObjectStore
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time

	// onTrigger, when set, is invoked with each newly admitted job id so a
	// single-binary deployment can run the pipeline in-process. Multi-node
	// deployments leave it nil and let workers claim the pending job.
	onTrigger func(jobID string)
}

// Deps bundles the negotiator's collaborators.
type Deps struct {
	WeatherCache domain.WeatherCache
	MediaCache   domain.MediaCache
	WidgetCache  domain.WidgetCache
	Weather      weather.Provider
	Admission    *admission.Controller
	Transcoder   transcoder.Transcoder
	Store        storage.ObjectStore
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	OnTrigger    func(jobID string)
}

// NewNegotiator wires a widget negotiator.
func NewNegotiator(deps Deps) *Negotiator {
	return &Negotiator{
		weatherCache: deps.WeatherCache,
		mediaCache:   deps.MediaCache,
		widgetCache:  deps.WidgetCache,
		weather:      deps.Weather,
		admission:    deps.Admission,
		transcoder:   deps.Transcoder,
		store:        deps.Store,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
		onTrigger:    deps.OnTrigger,
	}
}

// Resolve returns the best artifact currently available for the city, in
// strict tier order, triggering background work for anything below tier 1.
func (n *Negotiator) Resolve(ctx context.Context, city, country, ownerKeyHash string) (*Resolution, error) {
	snapshot, err := n.currentWeather(ctx, city, country)
	if err != nil {
		if domain.IsFatalGeneration(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCity, city)
		}
		return nil, err
	}
	hash := snapshot.Hash()

	if res := n.tryRendered(ctx, city, hash); res != nil {
		n.metrics.WidgetTier("rendered")
		return res, nil
	}

	key := domain.MediaKeyFor(city, snapshot)
	entry, err := n.mediaCache.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	n.metrics.CacheLookup("media", entry != nil)

	if entry != nil && entry.VideoURL != "" {
		if res := n.tryRenderFromVideo(ctx, city, hash, snapshot, entry); res != nil {
			n.metrics.WidgetTier("video")
			return res, nil
		}
	}

	if entry != nil && entry.ImageURL != "" {
		res := n.serveImage(ctx, city, country, hash, snapshot, entry, ownerKeyHash)
		n.metrics.WidgetTier("image")
		return res, nil
	}

	res := n.servePlaceholder(ctx, city, country, hash, snapshot, ownerKeyHash)
	n.metrics.WidgetTier("placeholder")
	return res, nil
}

// currentWeather serves from cache inside the freshness window, refetching
// past it.
func (n *Negotiator) currentWeather(ctx context.Context, city, country string) (*domain.WeatherSnapshot, error) {
	entry, err := n.weatherCache.Get(ctx, city)
	if err == nil && entry.Snapshot.Fresh(n.now()) {
		n.metrics.CacheLookup("weather", true)
		snapshot := entry.Snapshot
		return &snapshot, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		n.logger.Warn().Err(err).Str("city", city).Msg("widget: weather cache read failed")
	}
	n.metrics.CacheLookup("weather", false)

	snapshot, err := n.weather.Fetch(ctx, city, country)
	if err != nil {
		return nil, err
	}
	if err := n.weatherCache.Upsert(ctx, city, *snapshot); err != nil {
		n.logger.Warn().Err(err).Str("city", city).Msg("widget: weather cache upsert failed")
	}
	return snapshot, nil
}

// tryRendered is tier 1: a rendered artifact for the current weather-hash.
func (n *Negotiator) tryRendered(ctx context.Context, city, hash string) *Resolution {
	entry, err := n.widgetCache.Get(ctx, city, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			n.logger.Warn().Err(err).Str("city", city).Msg("widget: widget cache read failed")
		}
		n.metrics.CacheLookup("widget", false)
		return nil
	}
	if entry.Expired(n.now()) {
		n.metrics.CacheLookup("widget", false)
		return nil
	}
	body, err := n.store.Get(ctx, entry.ArtifactURL)
	if err != nil {
		n.logger.Warn().Err(err).Str("url", entry.ArtifactURL).Msg("widget: cached artifact unreadable")
		n.metrics.CacheLookup("widget", false)
		return nil
	}
	n.metrics.CacheLookup("widget", true)
	return &Resolution{
		Tier:        TierRendered,
		Body:        body,
		ContentType: entry.ContentType,
		WeatherHash: hash,
		Cached:      true,
		MaxAge:      renderedMaxAge,
	}
}

// tryRenderFromVideo is tier 2: a raw video exists, render the widget on the
// fly and cache it under the current hash.
func (n *Negotiator) tryRenderFromVideo(ctx context.Context, city, hash string, snapshot *domain.WeatherSnapshot, entry *domain.MediaCacheEntry) *Resolution {
	raw, err := n.store.Get(ctx, entry.VideoURL)
	if err != nil {
		n.logger.Warn().Err(err).Str("url", entry.VideoURL).Msg("widget: cached video unreadable")
		return nil
	}
	rendered, err := n.transcoder.RenderWidget(ctx, raw, transcoder.Params{
		OverlayText: OverlayText(city, snapshot),
		Width:       480,
		Height:      480,
	})
	if err != nil {
		if errors.Is(err, transcoder.ErrUnavailable) {
			// Degrade to the raw clip; nothing to cache under the hash.
			return &Resolution{
				Tier:        TierVideo,
				Body:        raw,
				ContentType: "video/mp4",
				WeatherHash: hash,
				MaxAge:      videoMaxAge,
			}
		}
		n.logger.Warn().Err(err).Str("city", city).Msg("widget: render failed")
		return nil
	}

	artifactURL, err := n.store.Put(ctx, fmt.Sprintf("widgets/%s/%s.apng", domain.NormalizeCity(city), hash), rendered)
	if err != nil {
		n.logger.Warn().Err(err).Str("city", city).Msg("widget: artifact store failed")
	} else {
		now := n.now()
		if err := n.widgetCache.Upsert(ctx, &domain.WidgetCacheEntry{
			City:        city,
			WeatherHash: hash,
			ArtifactURL: artifactURL,
			ContentType: "image/apng",
			CreatedAt:   now,
			ExpiresAt:   now.Add(domain.WidgetTTL),
		}); err != nil {
			n.logger.Warn().Err(err).Str("city", city).Msg("widget: widget cache upsert failed")
		}
	}

	return &Resolution{
		Tier:        TierVideo,
		Body:        rendered,
		ContentType: "image/apng",
		WeatherHash: hash,
		MaxAge:      videoMaxAge,
	}
}

// serveImage is tier 3: only a still exists; serve it overlaid and trigger
// the video generation in the background.
func (n *Negotiator) serveImage(ctx context.Context, city, country, hash string, snapshot *domain.WeatherSnapshot, entry *domain.MediaCacheEntry, ownerKeyHash string) *Resolution {
	jobID := n.trigger(ctx, city, country, ownerKeyHash, snapshot)

	res := &Resolution{
		Tier:        TierImage,
		ContentType: "image/png",
		WeatherHash: hash,
		Generating:  true,
		JobID:       jobID,
		MaxAge:      imageMaxAge,
	}
	raw, err := n.store.Get(ctx, entry.ImageURL)
	if err != nil {
		n.logger.Warn().Err(err).Str("url", entry.ImageURL).Msg("widget: cached image unreadable")
		res.Body = placeholderPNG(city, snapshot)
		return res
	}
	overlaid, err := n.transcoder.OverlayImage(ctx, raw, transcoder.Params{OverlayText: OverlayText(city, snapshot)})
	if err != nil {
		// Raw image is an acceptable fallback when the transcoder is absent.
		if !errors.Is(err, transcoder.ErrUnavailable) {
			n.logger.Warn().Err(err).Str("city", city).Msg("widget: overlay failed")
		}
		overlaid = raw
	}
	res.Body = overlaid
	return res
}

// servePlaceholder is tier 4: nothing cached; trigger generation and hand
// back a must-revalidate placeholder with a retry hint.
func (n *Negotiator) servePlaceholder(ctx context.Context, city, country, hash string, snapshot *domain.WeatherSnapshot, ownerKeyHash string) *Resolution {
	jobID := n.trigger(ctx, city, country, ownerKeyHash, snapshot)
	return &Resolution{
		Tier:        TierPlaceholder,
		Body:        placeholderPNG(city, snapshot),
		ContentType: "image/png",
		WeatherHash: hash,
		Generating:  true,
		JobID:       jobID,
		MaxAge:      0,
		RetryAfter:  retryAfterHint,
	}
}

// trigger admits a deduped background video generation for the city. Trigger
// failures are logged, never surfaced: the caller already has an artifact to
// serve.
func (n *Negotiator) trigger(ctx context.Context, city, country, ownerKeyHash string, snapshot *domain.WeatherSnapshot) string {
	jobID, reused, err := n.admission.AdmitGeneration(ctx, ownerKeyHash, city, country, domain.JobTypeVideo)
	if err != nil {
		n.logger.Error().Err(err).Str("city", city).Msg("widget: background trigger failed")
		return ""
	}
	n.metrics.Admission("generation_key", map[bool]string{true: "reused", false: "admitted"}[reused])
	if !reused && jobID != "" && n.onTrigger != nil {
		n.onTrigger(jobID)
	}
	return jobID
}

// OverlayText is the caption burned onto served artifacts.
func OverlayText(city string, w *domain.WeatherSnapshot) string {
	return fmt.Sprintf("%s  %s  %.0f°C", domain.DisplayCity(city), w.Condition, w.TempC)
}
