package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
)

// memLimitStore — in-memory реализация Store с семантикой
// всё-или-ничего, как у repo.LimitRepo.
type memLimitStore struct {
	mu     sync.Mutex
	limits []*domain.ConcurrencyLimit
}

func newMemLimitStore(limits ...*domain.ConcurrencyLimit) *memLimitStore {
	return &memLimitStore{limits: limits}
}

func (s *memLimitStore) matched(tags []string) []*domain.ConcurrencyLimit {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	var out []*domain.ConcurrencyLimit
	for _, lim := range s.limits {
		if tagSet[lim.Tag] {
			out = append(out, lim)
		}
	}
	return out
}

func (s *memLimitStore) Acquire(_ context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matched(tags)

	// Сначала проверяем все, потом занимаем: всё-или-ничего.
	for _, lim := range matched {
		if !lim.Holds(occupant) && !lim.HasCapacity() {
			return nil, &CapacityError{Limit: lim.Tag}
		}
	}

	out := make([]domain.ConcurrencyLimit, 0, len(matched))
	for _, lim := range matched {
		lim.Acquire(occupant)
		out = append(out, *lim)
	}
	return out, nil
}

func (s *memLimitStore) Release(_ context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matched(tags)
	out := make([]domain.ConcurrencyLimit, 0, len(matched))
	for _, lim := range matched {
		lim.Release(occupant)
		out = append(out, *lim)
	}
	return out, nil
}

func v1Limit(tag string, limit int, occupants ...uuid.UUID) *domain.ConcurrencyLimit {
	return &domain.ConcurrencyLimit{
		ID:          uuid.New(),
		Tag:         tag,
		Limit:       limit,
		ActiveSlots: occupants,
	}
}

// --- Tests ---

func TestManager_TryAcquire(t *testing.T) {
	db := v1Limit("database", 2)
	gpu := v1Limit("gpu", 1)
	store := newMemLimitStore(db, gpu)
	m := NewManager(ManagerConfig{Store: store})

	occupant := uuid.New()
	if err := m.TryAcquire(context.Background(), []string{"database", "gpu"}, occupant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !db.Holds(occupant) || !gpu.Holds(occupant) {
		t.Error("occupant should hold a slot on both limits")
	}
}

func TestManager_TryAcquire_AllOrNothing(t *testing.T) {
	other := uuid.New()
	db := v1Limit("database", 5)
	gpu := v1Limit("gpu", 1, other)
	store := newMemLimitStore(db, gpu)
	m := NewManager(ManagerConfig{Store: store})

	occupant := uuid.New()
	err := m.TryAcquire(context.Background(), []string{"database", "gpu"}, occupant)

	ce, ok := AsCapacityError(err)
	if !ok {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if ce.Limit != "gpu" {
		t.Errorf("error should name the full limit, got %q", ce.Limit)
	}
	if ce.RetryAfter != defaultRetryAfter {
		t.Errorf("manager should fill the retry-after hint, got %v", ce.RetryAfter)
	}

	// Свободный лимит не должен остаться занятым.
	if db.Holds(occupant) {
		t.Error("partial acquisition leaked: database slot is held")
	}
}

func TestManager_TryAcquire_UnmatchedTags(t *testing.T) {
	store := newMemLimitStore(v1Limit("database", 1))
	m := NewManager(ManagerConfig{Store: store})

	// Теги без лимитов не ограничены.
	if err := m.TryAcquire(context.Background(), []string{"no-such-tag"}, uuid.New()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestManager_TryAcquire_Idempotent(t *testing.T) {
	db := v1Limit("database", 1)
	store := newMemLimitStore(db)
	m := NewManager(ManagerConfig{Store: store})

	occupant := uuid.New()
	ctx := context.Background()
	if err := m.TryAcquire(ctx, []string{"database"}, occupant); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// Повторный acquire того же владельца не ест второй слот.
	if err := m.TryAcquire(ctx, []string{"database"}, occupant); err != nil {
		t.Fatalf("repeated acquire should be a no-op: %v", err)
	}
	if len(db.ActiveSlots) != 1 {
		t.Errorf("expected 1 held slot, got %d", len(db.ActiveSlots))
	}
}

func TestManager_Release_Idempotent(t *testing.T) {
	occupant := uuid.New()
	db := v1Limit("database", 2, occupant)
	store := newMemLimitStore(db)
	m := NewManager(ManagerConfig{Store: store})

	ctx := context.Background()
	if err := m.Release(ctx, []string{"database"}, occupant); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, []string{"database"}, occupant); err != nil {
		t.Fatalf("double release should be a no-op: %v", err)
	}
	if len(db.ActiveSlots) != 0 {
		t.Errorf("expected 0 held slots, got %d", len(db.ActiveSlots))
	}
}

func TestManager_Acquire_BlocksUntilFree(t *testing.T) {
	holder := uuid.New()
	db := v1Limit("database", 1, holder)
	store := newMemLimitStore(db)
	m := NewManager(ManagerConfig{Store: store, RetryAfter: 20 * time.Millisecond})

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = m.Release(context.Background(), []string{"database"}, holder)
	}()

	occupant := uuid.New()
	if err := m.Acquire(context.Background(), []string{"database"}, occupant, 2*time.Second); err != nil {
		t.Fatalf("blocking acquire should succeed after release: %v", err)
	}
	if !db.Holds(occupant) {
		t.Error("occupant should hold the freed slot")
	}
}

func TestManager_Acquire_Timeout(t *testing.T) {
	db := v1Limit("database", 1, uuid.New())
	store := newMemLimitStore(db)
	m := NewManager(ManagerConfig{Store: store, RetryAfter: 20 * time.Millisecond})

	start := time.Now()
	err := m.Acquire(context.Background(), []string{"database"}, uuid.New(), 100*time.Millisecond)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("acquire overshot its timeout: %v", elapsed)
	}
}

func TestManager_Acquire_ContextCancelled(t *testing.T) {
	db := v1Limit("database", 1, uuid.New())
	store := newMemLimitStore(db)
	m := NewManager(ManagerConfig{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Acquire(ctx, []string{"database"}, uuid.New(), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIsCapacity(t *testing.T) {
	if !IsCapacity(&CapacityError{Limit: "database"}) {
		t.Error("CapacityError should be recognized")
	}
	if IsCapacity(errors.New("other")) {
		t.Error("plain errors are not capacity errors")
	}
	if IsCapacity(nil) {
		t.Error("nil is not a capacity error")
	}
}
