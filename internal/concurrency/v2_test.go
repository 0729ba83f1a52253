package concurrency

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
)

// memLimitV2Store — in-memory реализация StoreV2 с семантикой
// repo.LimitV2Repo: загрузка под общей блокировкой, изменения
// сохраняются, если fn вернула nil.
type memLimitV2Store struct {
	mu     sync.Mutex
	limits map[string]*domain.ConcurrencyLimitV2
}

func newMemLimitV2Store(limits ...*domain.ConcurrencyLimitV2) *memLimitV2Store {
	s := &memLimitV2Store{limits: make(map[string]*domain.ConcurrencyLimitV2)}
	for _, lim := range limits {
		s.limits[lim.Name] = lim
	}
	return s
}

func (s *memLimitV2Store) UpdateLimits(_ context.Context, names []string, fn func([]*domain.ConcurrencyLimitV2) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(names))
	var batch []*domain.ConcurrencyLimitV2
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		lim, ok := s.limits[name]
		if !ok {
			return ErrLimitNotFound
		}
		batch = append(batch, lim)
	}
	return fn(batch)
}

func v2Limit(name string, limit int, decay float64) *domain.ConcurrencyLimitV2 {
	return &domain.ConcurrencyLimitV2{
		ID:                 uuid.New(),
		Name:               name,
		Limit:              limit,
		SlotDecayPerSecond: decay,
		UpdatedAt:          time.Now(),
	}
}

// clock — управляемый источник времени для decay-тестов.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManagerV2(store StoreV2, c *clock) *ManagerV2 {
	cfg := ManagerV2Config{Store: store}
	if c != nil {
		cfg.Now = c.now
	}
	return NewManagerV2(cfg)
}

// --- Tests ---

func TestManagerV2_AcquireAllOrNothing(t *testing.T) {
	store := newMemLimitV2Store(v2Limit("api", 10, 0), v2Limit("db", 10, 0))
	m := newTestManagerV2(store, nil)

	acq, err := m.Acquire(context.Background(), []string{"api", "db"}, 3, ModeAllOrNothing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acq.Token == uuid.Nil {
		t.Error("acquisition should carry a lease token")
	}
	if acq.Acquired["api"] != 3 || acq.Acquired["db"] != 3 {
		t.Errorf("expected 3 slots on each limit, got %v", acq.Acquired)
	}
	if acq.TotalSlots() != 6 {
		t.Errorf("expected 6 total slots, got %d", acq.TotalSlots())
	}
	if store.limits["api"].ActiveSlots != 3 || store.limits["db"].ActiveSlots != 3 {
		t.Error("active slots not persisted")
	}
}

func TestManagerV2_AllOrNothingDenied(t *testing.T) {
	api := v2Limit("api", 10, 0)
	db := v2Limit("db", 2, 0)
	store := newMemLimitV2Store(api, db)
	m := newTestManagerV2(store, nil)

	_, err := m.Acquire(context.Background(), []string{"api", "db"}, 3, ModeAllOrNothing)
	ce, ok := AsCapacityError(err)
	if !ok {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if ce.Limit != "db" {
		t.Errorf("error should name the full limit, got %q", ce.Limit)
	}
	if ce.RetryAfter <= 0 {
		t.Error("capacity error should carry a retry-after hint")
	}

	// Ни один лимит не занят, отказ зафиксирован на заполненном.
	if api.ActiveSlots != 0 || db.ActiveSlots != 0 {
		t.Error("denied acquisition must not occupy slots")
	}
	if db.DeniedSlots != 3 {
		t.Errorf("expected 3 denied slots on db, got %d", db.DeniedSlots)
	}
	if api.DeniedSlots != 0 {
		t.Errorf("untouched limit should not record denials, got %d", api.DeniedSlots)
	}
}

func TestManagerV2_AcquireAsManyAsPossible(t *testing.T) {
	api := v2Limit("api", 10, 0)
	db := v2Limit("db", 2, 0)
	store := newMemLimitV2Store(api, db)
	m := newTestManagerV2(store, nil)

	acq, err := m.Acquire(context.Background(), []string{"api", "db"}, 5, ModeAsManyAsPossible)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acq.Acquired["api"] != 5 {
		t.Errorf("expected 5 slots on api, got %d", acq.Acquired["api"])
	}
	if acq.Acquired["db"] != 2 {
		t.Errorf("expected 2 slots on db, got %d", acq.Acquired["db"])
	}
}

func TestManagerV2_AsManyAsPossibleAllFull(t *testing.T) {
	api := v2Limit("api", 2, 0)
	api.ActiveSlots = 2
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, nil)

	_, err := m.Acquire(context.Background(), []string{"api"}, 1, ModeAsManyAsPossible)
	if _, ok := AsCapacityError(err); !ok {
		t.Fatalf("expected CapacityError when nothing can be taken, got %v", err)
	}
	if api.DeniedSlots != 1 {
		t.Errorf("expected 1 denied slot, got %d", api.DeniedSlots)
	}
}

func TestManagerV2_AcquireValidation(t *testing.T) {
	m := newTestManagerV2(newMemLimitV2Store(), nil)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, []string{"api"}, 0, ModeAllOrNothing); err != ErrInvalidSlots {
		t.Errorf("expected ErrInvalidSlots for 0 slots, got %v", err)
	}
	if _, err := m.Acquire(ctx, []string{"api"}, -1, ModeAllOrNothing); err != ErrInvalidSlots {
		t.Errorf("expected ErrInvalidSlots for negative slots, got %v", err)
	}
	if _, err := m.Acquire(ctx, nil, 1, ModeAllOrNothing); err == nil {
		t.Error("expected error for empty names")
	}
}

func TestManagerV2_UnknownLimit(t *testing.T) {
	m := newTestManagerV2(newMemLimitV2Store(v2Limit("api", 5, 0)), nil)

	_, err := m.Acquire(context.Background(), []string{"api", "missing"}, 1, ModeAllOrNothing)
	if err != ErrLimitNotFound {
		t.Errorf("expected ErrLimitNotFound, got %v", err)
	}
}

func TestManagerV2_ReleaseAcquisition(t *testing.T) {
	api := v2Limit("api", 10, 0)
	db := v2Limit("db", 2, 0)
	store := newMemLimitV2Store(api, db)
	m := newTestManagerV2(store, nil)
	ctx := context.Background()

	acq, err := m.Acquire(ctx, []string{"api", "db"}, 2, ModeAsManyAsPossible)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := m.ReleaseAcquisition(ctx, acq); err != nil {
		t.Fatalf("release: %v", err)
	}
	if api.ActiveSlots != 0 || db.ActiveSlots != 0 {
		t.Errorf("slots not fully released: api=%d db=%d", api.ActiveSlots, db.ActiveSlots)
	}
}

func TestManagerV2_ReleaseClampsAtZero(t *testing.T) {
	api := v2Limit("api", 5, 0)
	api.ActiveSlots = 1
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, nil)

	if err := m.Release(context.Background(), []string{"api"}, 10, uuid.New()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if api.ActiveSlots != 0 {
		t.Errorf("over-release should clamp at zero, got %d", api.ActiveSlots)
	}
}

func TestManagerV2_DecayFreesSlots(t *testing.T) {
	c := &clock{t: time.Now()}
	api := v2Limit("api", 4, 0.5)
	api.UpdatedAt = c.now()
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, c)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, []string{"api"}, 4, ModeAllOrNothing); err != nil {
		t.Fatalf("fill limit: %v", err)
	}
	if _, err := m.Acquire(ctx, []string{"api"}, 1, ModeAllOrNothing); !IsCapacity(err) {
		t.Fatalf("limit should be full, got %v", err)
	}

	// За 4 секунды при decay 0.5/s испаряются 2 слота.
	c.advance(4 * time.Second)
	acq, err := m.Acquire(ctx, []string{"api"}, 2, ModeAllOrNothing)
	if err != nil {
		t.Fatalf("decay should free 2 slots: %v", err)
	}
	if acq.Acquired["api"] != 2 {
		t.Errorf("expected 2 slots, got %d", acq.Acquired["api"])
	}
	if api.ActiveSlots != 4 {
		t.Errorf("expected limit full again, got %d active", api.ActiveSlots)
	}
}

// Частые обращения (чаще, чем испаряется один слот) не должны
// останавливать drain: дробный остаток decay копится между refresh.
func TestManagerV2_FrequentTouchStillDrains(t *testing.T) {
	c := &clock{t: time.Now()}
	api := v2Limit("api", 4, 0.5)
	api.UpdatedAt = c.now()
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, c)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, []string{"api"}, 4, ModeAllOrNothing); err != nil {
		t.Fatalf("fill limit: %v", err)
	}

	// Полный лимит опрашивается каждую секунду. При decay 0.5/s все
	// четыре слота испаряются за 8 секунд, сколько бы раз лимит ни
	// трогали по дороге.
	succeededAt := 0
	for i := 1; i <= 10; i++ {
		c.advance(time.Second)
		if _, err := m.Acquire(ctx, []string{"api"}, 4, ModeAllOrNothing); err == nil {
			succeededAt = i
			break
		} else if !IsCapacity(err) {
			t.Fatalf("unexpected acquire error: %v", err)
		}
	}

	if succeededAt != 8 {
		t.Errorf("expected drain to free the limit on second 8, got %d", succeededAt)
	}
}

func TestManagerV2_DecaySmoothsAverage(t *testing.T) {
	c := &clock{t: time.Now()}
	api := v2Limit("api", 10, 0.1)
	api.UpdatedAt = c.now()
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, c)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, []string{"api"}, 1, ModeAllOrNothing); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Слот занят 10 секунд при decay 0.1/s: среднее подтягивается
	// к 1 с весом 1-e^-1.
	c.advance(10 * time.Second)
	if err := m.Release(ctx, []string{"api"}, 1, uuid.New()); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := 1 - math.Exp(-1)
	if diff := math.Abs(api.AvgSlotsOccupied - want); diff > 1e-9 {
		t.Errorf("avg occupancy: want %.6f, got %.6f", want, api.AvgSlotsOccupied)
	}
}

func TestManagerV2_NoDecayNoDrain(t *testing.T) {
	c := &clock{t: time.Now()}
	api := v2Limit("api", 2, 0)
	api.UpdatedAt = c.now()
	store := newMemLimitV2Store(api)
	m := newTestManagerV2(store, c)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, []string{"api"}, 2, ModeAllOrNothing); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	c.advance(time.Hour)
	if _, err := m.Acquire(ctx, []string{"api"}, 1, ModeAllOrNothing); !IsCapacity(err) {
		t.Errorf("without decay slots must not evaporate, got %v", err)
	}
}
