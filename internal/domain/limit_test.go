package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- ConcurrencyLimit (v1) ---

func TestConcurrencyLimit_Acquire(t *testing.T) {
	lim := &ConcurrencyLimit{Tag: "db", Limit: 2}
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	if !lim.Acquire(a) {
		t.Error("first acquire should succeed")
	}
	if !lim.Acquire(b) {
		t.Error("second acquire should succeed")
	}
	if lim.Acquire(c) {
		t.Error("third acquire should fail, limit is 2")
	}
	if len(lim.ActiveSlots) != 2 {
		t.Errorf("expected 2 active slots, got %d", len(lim.ActiveSlots))
	}
	if len(lim.ActiveSlots) > lim.Limit {
		t.Error("active slots must never exceed limit")
	}
}

func TestConcurrencyLimit_Acquire_Idempotent(t *testing.T) {
	lim := &ConcurrencyLimit{Tag: "db", Limit: 1}
	a := uuid.New()

	if !lim.Acquire(a) {
		t.Fatal("acquire should succeed")
	}
	// Повторный acquire тем же владельцем — no-op success.
	if !lim.Acquire(a) {
		t.Error("re-acquire by same occupant should succeed")
	}
	if len(lim.ActiveSlots) != 1 {
		t.Errorf("expected 1 active slot, got %d", len(lim.ActiveSlots))
	}
}

func TestConcurrencyLimit_ZeroLimit(t *testing.T) {
	lim := &ConcurrencyLimit{Tag: "blocked", Limit: 0}
	if lim.Acquire(uuid.New()) {
		t.Error("limit=0 should deny all acquisitions")
	}
}

func TestConcurrencyLimit_Release_Idempotent(t *testing.T) {
	lim := &ConcurrencyLimit{Tag: "db", Limit: 1}
	a := uuid.New()
	lim.Acquire(a)

	if !lim.Release(a) {
		t.Error("release of held slot should return true")
	}
	if lim.Release(a) {
		t.Error("double release should be a no-op")
	}
	if len(lim.ActiveSlots) != 0 {
		t.Errorf("expected 0 active slots, got %d", len(lim.ActiveSlots))
	}

	// Release чужого владельца тоже no-op.
	if lim.Release(uuid.New()) {
		t.Error("release of unknown occupant should be a no-op")
	}
}

// --- ConcurrencyLimitV2 ---

func TestConcurrencyLimitV2_TryAcquire(t *testing.T) {
	now := time.Now()
	lim := &ConcurrencyLimitV2{Name: "api", Limit: 3, UpdatedAt: now}

	if !lim.TryAcquire(2, now) {
		t.Error("acquire of 2/3 should succeed")
	}
	if lim.TryAcquire(2, now) {
		t.Error("acquire of 2 more should fail, only 1 free")
	}
	if lim.DeniedSlots != 2 {
		t.Errorf("expected 2 denied slots, got %d", lim.DeniedSlots)
	}
	if !lim.TryAcquire(1, now) {
		t.Error("acquire of last slot should succeed")
	}
	if lim.ActiveSlots != 3 {
		t.Errorf("expected 3 active slots, got %d", lim.ActiveSlots)
	}
	if lim.ActiveSlots > lim.Limit {
		t.Error("active slots must never exceed limit")
	}
}

func TestConcurrencyLimitV2_Release_ClampsAtZero(t *testing.T) {
	now := time.Now()
	lim := &ConcurrencyLimitV2{Name: "api", Limit: 3, ActiveSlots: 1, UpdatedAt: now}

	lim.ReleaseSlots(1, now)
	lim.ReleaseSlots(1, now) // double release

	if lim.ActiveSlots != 0 {
		t.Errorf("expected 0 active slots, got %d", lim.ActiveSlots)
	}
}

func TestConcurrencyLimitV2_Decay_DrainsSlots(t *testing.T) {
	start := time.Now()
	lim := &ConcurrencyLimitV2{
		Name:               "rate",
		Limit:              5,
		SlotDecayPerSecond: 0.5,
		UpdatedAt:          start,
	}

	if !lim.TryAcquire(4, start) {
		t.Fatal("acquire should succeed")
	}

	// Через 4 секунды decay 0.5/s должен освободить 2 слота.
	later := start.Add(4 * time.Second)
	if lim.Available(later) != 3 {
		t.Errorf("expected 3 available after decay, got %d", lim.Available(later))
	}

	if !lim.TryAcquire(3, later) {
		t.Error("acquire of 3 should succeed after decay")
	}
}

func TestConcurrencyLimitV2_Decay_AvgSlotsOccupied(t *testing.T) {
	start := time.Now()
	lim := &ConcurrencyLimitV2{
		Name:               "stats",
		Limit:              10,
		SlotDecayPerSecond: 0.1,
		UpdatedAt:          start,
	}

	// Занимаем 1 слот, ждём 10 секунд, освобождаем.
	if !lim.TryAcquire(1, start) {
		t.Fatal("acquire should succeed")
	}
	lim.ReleaseSlots(1, start.Add(10*time.Second))

	// Вклад в среднее пропорционален времени занятости:
	// avg = 0*exp(-0.1*10) + 1*(1-exp(-0.1*10)) = 1 - e^-1.
	want := 1 - math.Exp(-1)
	if math.Abs(lim.AvgSlotsOccupied-want) > 1e-9 {
		t.Errorf("expected avg %f, got %f", want, lim.AvgSlotsOccupied)
	}
	if lim.AvgSlotsOccupied == 0 {
		t.Error("avg must not reset to 0 instantaneously")
	}
}

func TestConcurrencyLimitV2_NoDecay_NoRefresh(t *testing.T) {
	start := time.Now()
	lim := &ConcurrencyLimitV2{Name: "plain", Limit: 2, UpdatedAt: start}

	lim.TryAcquire(2, start)
	later := start.Add(time.Hour)

	// Без decay слоты не испаряются.
	if lim.Available(later) != 0 {
		t.Errorf("expected 0 available, got %d", lim.Available(later))
	}
}
