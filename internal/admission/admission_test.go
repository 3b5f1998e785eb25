package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// fakeLedger records created jobs and answers the two active-job lookups.
type fakeLedger struct {
	mu        sync.Mutex
	jobs      []*domain.Job
	createErr error
}

func (f *fakeLedger) CreateJob(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *job
	copied.Status = domain.JobStatusPending
	f.jobs = append(f.jobs, &copied)
	return nil
}

func (f *fakeLedger) ActiveJobForOwner(ctx context.Context, ownerKeyHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].OwnerKeyHash == ownerKeyHash && !f.jobs[i].Terminal() {
			return f.jobs[i].ID, nil
		}
	}
	return "", domain.ErrNotFound
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

func newController(ledger domain.JobLedger, privileged func(string) bool) *Controller {
	return NewController(ledger, NewMemoryGuard(), privileged, zerolog.Nop())
}

func TestAdmitOwnerJobRateLimitsSecondSubmission(t *testing.T) {
	ledger := &fakeLedger{}
	c := newController(ledger, nil)
	ctx := context.Background()

	first, err := c.AdmitOwnerJob(ctx, "owner-1", "Paris", "France", domain.JobTypeVideo)
	if err != nil {
		t.Fatalf("first admit: %v", err)
	}

	_, err = c.AdmitOwnerJob(ctx, "owner-1", "Paris", "France", domain.JobTypeVideo)
	var rateErr *domain.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("second admit err = %v, want RateLimitError", err)
	}
	if rateErr.ExistingJobID != first {
		t.Fatalf("ExistingJobID = %q, want %q", rateErr.ExistingJobID, first)
	}
}

func TestAdmitOwnerJobPrivilegedBypass(t *testing.T) {
	ledger := &fakeLedger{}
	c := newController(ledger, func(h string) bool { return h == "vip" })
	ctx := context.Background()

	if _, err := c.AdmitOwnerJob(ctx, "vip", "Paris", "", domain.JobTypeImage); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := c.AdmitOwnerJob(ctx, "vip", "Oslo", "", domain.JobTypeImage); err != nil {
		t.Fatalf("privileged second admit: %v", err)
	}
	if len(ledger.jobs) != 2 {
		t.Fatalf("jobs created = %d, want 2", len(ledger.jobs))
	}
}

func TestAdmitGenerationReusesActiveJob(t *testing.T) {
	ledger := &fakeLedger{}
	c := newController(ledger, nil)
	ctx := context.Background()

	first, reused, err := c.AdmitGeneration(ctx, "owner-1", "Paris", "", domain.JobTypeVideo)
	if err != nil || reused {
		t.Fatalf("first trigger: id=%q reused=%v err=%v", first, reused, err)
	}

	second, reused, err := c.AdmitGeneration(ctx, "owner-2", "  PARIS ", "", domain.JobTypeVideo)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if !reused || second != first {
		t.Fatalf("second trigger = (%q, reused=%v), want reuse of %q", second, reused, first)
	}
	if len(ledger.jobs) != 1 {
		t.Fatalf("jobs created = %d, want 1", len(ledger.jobs))
	}
}

func TestAdmitGenerationDistinctKeysBothRun(t *testing.T) {
	ledger := &fakeLedger{}
	c := newController(ledger, nil)
	ctx := context.Background()

	if _, _, err := c.AdmitGeneration(ctx, "o", "Paris", "", domain.JobTypeVideo); err != nil {
		t.Fatalf("paris: %v", err)
	}
	if _, _, err := c.AdmitGeneration(ctx, "o", "Oslo", "", domain.JobTypeVideo); err != nil {
		t.Fatalf("oslo: %v", err)
	}
	if _, _, err := c.AdmitGeneration(ctx, "o", "Paris", "", domain.JobTypeImage); err != nil {
		t.Fatalf("paris image: %v", err)
	}
	if len(ledger.jobs) != 3 {
		t.Fatalf("jobs created = %d, want 3", len(ledger.jobs))
	}
}

func TestAdmitGenerationCreateFailureReleasesGuard(t *testing.T) {
	ledger := &fakeLedger{createErr: domain.ErrStorage}
	c := newController(ledger, nil)
	ctx := context.Background()

	if _, _, err := c.AdmitGeneration(ctx, "o", "Paris", "", domain.JobTypeVideo); err == nil {
		t.Fatal("expected create failure")
	}

	// Guard must be free again so a later trigger can proceed.
	ledger.createErr = nil
	id, reused, err := c.AdmitGeneration(ctx, "o", "Paris", "", domain.JobTypeVideo)
	if err != nil || reused || id == "" {
		t.Fatalf("retry after failure: id=%q reused=%v err=%v", id, reused, err)
	}
}

func TestMemoryGuardExpiry(t *testing.T) {
	g := NewMemoryGuard()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	g.now = func() time.Time { return current }
	ctx := context.Background()

	ok, _ := g.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	ok, _ = g.Acquire(ctx, "k", time.Minute)
	if ok {
		t.Fatal("second acquire should fail while held")
	}
	current = base.Add(2 * time.Minute)
	ok, _ = g.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("acquire should succeed after expiry")
	}
}
