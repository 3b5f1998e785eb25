package widget

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/admission"
	"server/internal/domain"
	"server/internal/transcoder"
)

// ---- fakes ----

type fakeLedger struct {
	mu   sync.Mutex
	jobs []*domain.Job
}

func (f *fakeLedger) CreateJob(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	copied.Status = domain.JobStatusPending
	f.jobs = append(f.jobs, &copied)
	return nil
}

func (f *fakeLedger) ActiveJobForGenerationKey(ctx context.Context, city string, jobType domain.JobType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.jobs) - 1; i >= 0; i-- {
		j := f.jobs[i]
		if domain.NormalizeCity(j.City) == domain.NormalizeCity(city) && j.Type == jobType && !j.Terminal() {
			return j.ID, nil
		}
	}
	return "", domain.ErrNotFound
}

func (f *fakeLedger) ActiveJobForOwner(context.Context, string) (string, error) {
	return "", domain.ErrNotFound
}
func (f *fakeLedger) GetJob(context.Context, string) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeLedger) StartJob(context.Context, string) error { return nil }
func (f *fakeLedger) UpdateStage(context.Context, string, domain.JobStage, domain.JobPatch) error {
	return nil
}
func (f *fakeLedger) CompleteJob(context.Context, string, string, *domain.WeatherSnapshot, string, bool) error {
	return nil
}
func (f *fakeLedger) FailJob(context.Context, string, domain.JobStage, string) error { return nil }
func (f *fakeLedger) ClaimPending(context.Context) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeLedger) ResetForRetry(context.Context, string) error { return nil }

type memWeatherCache struct {
	mu      sync.Mutex
	entries map[string]domain.WeatherSnapshot
}

func (m *memWeatherCache) Get(ctx context.Context, city string) (*domain.WeatherCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[domain.NormalizeCity(city)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.WeatherCacheEntry{City: domain.NormalizeCity(city), Snapshot: s}, nil
}

func (m *memWeatherCache) Upsert(ctx context.Context, city string, s domain.WeatherSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]domain.WeatherSnapshot{}
	}
	m.entries[domain.NormalizeCity(city)] = s
	return nil
}

type memMediaCache struct {
	mu      sync.Mutex
	entries map[domain.MediaKey]*domain.MediaCacheEntry
}

func (m *memMediaCache) Get(ctx context.Context, key domain.MediaKey) (*domain.MediaCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *memMediaCache) Upsert(ctx context.Context, entry *domain.MediaCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[domain.MediaKey]*domain.MediaCacheEntry{}
	}
	copied := *entry
	m.entries[entry.Key] = &copied
	return nil
}

func (m *memMediaCache) SetAnimationStatus(ctx context.Context, key domain.MediaKey, status domain.AnimationStatus, videoURL string) error {
	return nil
}

type memWidgetCache struct {
	mu      sync.Mutex
	entries map[string]*domain.WidgetCacheEntry
}

func widgetKey(city, hash string) string { return domain.NormalizeCity(city) + "|" + hash }

func (m *memWidgetCache) Get(ctx context.Context, city, hash string) (*domain.WidgetCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[widgetKey(city, hash)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *memWidgetCache) Upsert(ctx context.Context, entry *domain.WidgetCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]*domain.WidgetCacheEntry{}
	}
	copied := *entry
	m.entries[widgetKey(entry.City, entry.WeatherHash)] = &copied
	return nil
}

func (m *memWidgetCache) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return "http://static.test/" + key, nil
}

func (m *memStore) Get(ctx context.Context, keyOrURL string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[strings.TrimPrefix(keyOrURL, "http://static.test/")]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

type fakeWeather struct {
	snapshot domain.WeatherSnapshot
	err      error
}

func (f *fakeWeather) Fetch(ctx context.Context, city, country string) (*domain.WeatherSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.snapshot
	if s.FetchedAt.IsZero() {
		s.FetchedAt = time.Now().UTC()
	}
	return &s, nil
}

type stubTranscoder struct {
	unavailable bool
}

func (s *stubTranscoder) OverlayImage(ctx context.Context, img []byte, _ transcoder.Params) ([]byte, error) {
	if s.unavailable {
		return nil, transcoder.ErrUnavailable
	}
	return append([]byte("overlay:"), img...), nil
}

func (s *stubTranscoder) LoopVideo(ctx context.Context, clip []byte, _ transcoder.Params) ([]byte, error) {
	if s.unavailable {
		return nil, transcoder.ErrUnavailable
	}
	return clip, nil
}

func (s *stubTranscoder) RenderWidget(ctx context.Context, media []byte, _ transcoder.Params) ([]byte, error) {
	if s.unavailable {
		return nil, transcoder.ErrUnavailable
	}
	return append([]byte("widget:"), media...), nil
}

// ---- harness ----

type harness struct {
	ledger     *fakeLedger
	weatherC   *memWeatherCache
	mediaC     *memMediaCache
	widgetC    *memWidgetCache
	store      *memStore
	weather    *fakeWeather
	transcoder *stubTranscoder
	negotiator *Negotiator
	snapshot   domain.WeatherSnapshot
}

func newHarness() *harness {
	h := &harness{
		ledger:     &fakeLedger{},
		weatherC:   &memWeatherCache{},
		mediaC:     &memMediaCache{},
		widgetC:    &memWidgetCache{},
		store:      &memStore{},
		transcoder: &stubTranscoder{},
		snapshot:   domain.WeatherSnapshot{Category: domain.CategoryRain, Condition: "Light rain", TempC: 18, IsDay: true},
	}
	h.weather = &fakeWeather{snapshot: h.snapshot}
	ctrl := admission.NewController(h.ledger, admission.NewMemoryGuard(), nil, zerolog.Nop())
	h.negotiator = NewNegotiator(Deps{
		WeatherCache: h.weatherC,
		MediaCache:   h.mediaC,
		WidgetCache:  h.widgetC,
		Weather:      h.weather,
		Admission:    ctrl,
		Transcoder:   h.transcoder,
		Store:        h.store,
		Logger:       zerolog.Nop(),
	})
	return h
}

func (h *harness) hash() string {
	s := h.snapshot
	return s.Hash()
}

func (h *harness) seedImage(t *testing.T, city string) string {
	t.Helper()
	key := domain.MediaKeyFor(city, &h.snapshot)
	url, err := h.store.Put(context.Background(), "media/"+key.City+"/scene.png", []byte("png-data"))
	if err != nil {
		t.Fatalf("seed image: %v", err)
	}
	h.mediaC.Upsert(context.Background(), &domain.MediaCacheEntry{Key: key, ImageURL: url, AnimationStatus: domain.AnimationNone})
	return url
}

func (h *harness) seedVideo(t *testing.T, city string) {
	t.Helper()
	imageURL := h.seedImage(t, city)
	key := domain.MediaKeyFor(city, &h.snapshot)
	videoURL, err := h.store.Put(context.Background(), "media/"+key.City+"/loop.mp4", []byte("mp4-data"))
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
	h.mediaC.Upsert(context.Background(), &domain.MediaCacheEntry{
		Key: key, ImageURL: imageURL, VideoURL: videoURL, AnimationStatus: domain.AnimationCompleted,
	})
}

// ---- tests ----

func TestTier1ServesRenderedArtifact(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	url, _ := h.store.Put(ctx, "widgets/paris/x.apng", []byte("apng-data"))
	h.widgetC.Upsert(ctx, &domain.WidgetCacheEntry{
		City: "Paris", WeatherHash: h.hash(), ArtifactURL: url, ContentType: "image/apng",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierRendered || !res.Cached || res.Generating {
		t.Fatalf("res = %+v", res)
	}
	if string(res.Body) != "apng-data" {
		t.Fatalf("body = %q", res.Body)
	}
	if len(h.ledger.jobs) != 0 {
		t.Fatal("tier 1 must not trigger generation")
	}
}

func TestExpiredWidgetEntryFallsThrough(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	url, _ := h.store.Put(ctx, "widgets/paris/x.apng", []byte("apng-data"))
	h.widgetC.Upsert(ctx, &domain.WidgetCacheEntry{
		City: "Paris", WeatherHash: h.hash(), ArtifactURL: url, ContentType: "image/apng",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	h.seedVideo(t, "Paris")

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierVideo {
		t.Fatalf("tier = %d, want %d (expired entry must be treated as absent)", res.Tier, TierVideo)
	}
}

func TestTier2RendersFromVideoAndCaches(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seedVideo(t, "Paris")

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierVideo || res.ContentType != "image/apng" {
		t.Fatalf("res = %+v", res)
	}
	if string(res.Body) != "widget:mp4-data" {
		t.Fatalf("body = %q", res.Body)
	}

	// Rendered artifact must now be cached; the next request is tier 1.
	res2, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if res2.Tier != TierRendered || !res2.Cached {
		t.Fatalf("res2 = %+v", res2)
	}
}

func TestTier2TranscoderUnavailableServesRawVideo(t *testing.T) {
	h := newHarness()
	h.transcoder.unavailable = true
	ctx := context.Background()
	h.seedVideo(t, "Paris")

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierVideo || res.ContentType != "video/mp4" {
		t.Fatalf("res = %+v", res)
	}
	if string(res.Body) != "mp4-data" {
		t.Fatalf("body = %q", res.Body)
	}
}

func TestTier3ImageOnlyTriggersOneVideoJob(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seedImage(t, "Paris")

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierImage || !res.Generating {
		t.Fatalf("res = %+v", res)
	}
	if string(res.Body) != "overlay:png-data" {
		t.Fatalf("body = %q", res.Body)
	}
	if res.JobID == "" {
		t.Fatal("expected a triggered job id")
	}

	active, err := h.ledger.ActiveJobForGenerationKey(ctx, "Paris", domain.JobTypeVideo)
	if err != nil || active != res.JobID {
		t.Fatalf("active = %q, %v; want %q", active, err, res.JobID)
	}

	// A second request must reuse the active job, not create another.
	res2, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if res2.JobID != res.JobID {
		t.Fatalf("second trigger created %q, want reuse of %q", res2.JobID, res.JobID)
	}
	if len(h.ledger.jobs) != 1 {
		t.Fatalf("jobs created = %d, want 1", len(h.ledger.jobs))
	}
}

func TestTier4NothingCachedServesPlaceholder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res, err := h.negotiator.Resolve(ctx, "Paris", "", "owner")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tier != TierPlaceholder || !res.Generating {
		t.Fatalf("res = %+v", res)
	}
	if res.RetryAfter <= 0 {
		t.Fatal("placeholder must carry a retry hint")
	}
	if res.MaxAge != 0 {
		t.Fatalf("placeholder max-age = %v, want 0", res.MaxAge)
	}
	if len(res.Body) == 0 || res.ContentType != "image/png" {
		t.Fatalf("placeholder body missing: %+v", res)
	}
	if len(h.ledger.jobs) != 1 {
		t.Fatalf("jobs created = %d, want 1", len(h.ledger.jobs))
	}
}

func TestInvalidCitySurfacesTypedError(t *testing.T) {
	h := newHarness()
	h.weather.err = domain.FatalGeneration("no matching location found for %q", "xyzzy123")

	_, err := h.negotiator.Resolve(context.Background(), "xyzzy123", "", "owner")
	if err == nil || !strings.Contains(err.Error(), "invalid city") {
		t.Fatalf("err = %v, want invalid city", err)
	}
}
