package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/events"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// Mode — режим захвата слотов v2.
type Mode string

const (
	// ModeAllOrNothing — занять слоты на всех лимитах или ни на одном.
	ModeAllOrNothing Mode = "all_or_nothing"

	// ModeAsManyAsPossible — занять сколько получится на каждом лимите.
	ModeAsManyAsPossible Mode = "as_many_as_possible"
)

// StoreV2 — транзакционное хранилище v2-лимитов.
type StoreV2 interface {
	// UpdateLimits загружает лимиты names под блокировкой строк
	// (в порядке возрастания id), применяет fn и сохраняет изменения,
	// если fn вернула nil. Отсутствие любого из names — ErrLimitNotFound.
	UpdateLimits(ctx context.Context, names []string, fn func(limits []*domain.ConcurrencyLimitV2) error) error
}

// Acquisition — результат захвата слотов v2.
type Acquisition struct {
	// Token — opaque-токен, коррелирующий acquire с release
	// (в записях лимитов владельцы не хранятся).
	Token uuid.UUID `json:"token"`

	// Acquired — сколько слотов занято на каждом лимите.
	// В режиме all_or_nothing все значения равны запрошенному.
	Acquired map[string]int `json:"acquired"`

	// Limits — снимок лимитов после захвата.
	Limits []domain.ConcurrencyLimitV2 `json:"limits"`
}

// TotalSlots возвращает суммарно занятые слоты.
func (a *Acquisition) TotalSlots() int {
	var total int
	for _, n := range a.Acquired {
		total += n
	}
	return total
}

// ManagerV2 — менеджер слотов v2 (анонимные счётчики, decay).
type ManagerV2 struct {
	store   StoreV2
	emitter *events.Emitter
	logger  *slog.Logger

	retryAfter time.Duration
	now        func() time.Time

	// leases хранит события "acquired" по токену для follows.
	mu     sync.Mutex
	leases map[uuid.UUID]map[string]*events.Event
}

// ManagerV2Config — конфигурация ManagerV2.
type ManagerV2Config struct {
	Store   StoreV2
	Emitter *events.Emitter
	Logger  *slog.Logger

	// RetryAfter — подсказка задержки для WAIT (default: 5s).
	RetryAfter time.Duration

	// Now — источник времени (для тестов decay). Default: time.Now.
	Now func() time.Time
}

// NewManagerV2 создаёт ManagerV2.
func NewManagerV2(cfg ManagerV2Config) *ManagerV2 {
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ManagerV2{
		store:      cfg.Store,
		emitter:    cfg.Emitter,
		logger:     logger,
		retryAfter: retryAfter,
		now:        now,
		leases:     make(map[uuid.UUID]map[string]*events.Event),
	}
}

// Acquire занимает slots слотов на каждом из лимитов names.
//
// Никогда не блокирует: при нехватке возвращает *CapacityError с
// подсказкой RetryAfter, счётчики denied_slots у отказавших лимитов
// при этом фиксируются. Повтор — забота вызывающего.
func (m *ManagerV2) Acquire(ctx context.Context, names []string, slots int, mode Mode) (*Acquisition, error) {
	if slots <= 0 {
		return nil, ErrInvalidSlots
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no limit names given")
	}

	acq := &Acquisition{
		Token:    uuid.New(),
		Acquired: make(map[string]int),
	}
	var capErr *CapacityError

	err := m.store.UpdateLimits(ctx, names, func(limits []*domain.ConcurrencyLimitV2) error {
		now := m.now()

		switch mode {
		case ModeAsManyAsPossible:
			for _, lim := range limits {
				take := slots
				if free := lim.Available(now); free < take {
					take = free
				}
				if take > 0 && lim.TryAcquire(take, now) {
					acq.Acquired[lim.Name] = take
					acq.Limits = append(acq.Limits, *lim)
					continue
				}
				// Нечего взять — фиксируем отказ.
				lim.TryAcquire(slots, now)
				if capErr == nil {
					capErr = &CapacityError{Limit: lim.Name, RetryAfter: m.retryAfter}
				}
			}
			if len(acq.Acquired) > 0 {
				capErr = nil
			}

		default: // all_or_nothing
			for _, lim := range limits {
				if lim.Available(now) < slots {
					// Отказ фиксируется на заполненном лимите,
					// остальные не трогаем.
					lim.TryAcquire(slots, now)
					capErr = &CapacityError{Limit: lim.Name, RetryAfter: m.retryAfter}
					return nil
				}
			}
			for _, lim := range limits {
				lim.TryAcquire(slots, now)
				acq.Acquired[lim.Name] = slots
				acq.Limits = append(acq.Limits, *lim)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	if capErr != nil {
		telemetry.SlotAcquisitionsTotal.WithLabelValues("v2", "denied").Inc()
		return nil, capErr
	}

	telemetry.SlotAcquisitionsTotal.WithLabelValues("v2", "acquired").Inc()
	m.rememberLease(acq)

	m.logger.Debug("acquired v2 concurrency slots",
		"token", acq.Token,
		"slots", acq.TotalSlots(),
		"limits", len(acq.Acquired),
	)
	return acq, nil
}

// Release освобождает slots слотов на каждом из лимитов names.
// token связывает release с парным acquire в событиях; неизвестный
// token допустим (события просто не получат follows).
func (m *ManagerV2) Release(ctx context.Context, names []string, slots int, token uuid.UUID) error {
	counts := make(map[string]int, len(names))
	for _, name := range names {
		counts[name] = slots
	}
	return m.release(ctx, counts, token)
}

// ReleaseAcquisition освобождает ровно то, что было занято acq.
func (m *ManagerV2) ReleaseAcquisition(ctx context.Context, acq *Acquisition) error {
	return m.release(ctx, acq.Acquired, acq.Token)
}

func (m *ManagerV2) release(ctx context.Context, counts map[string]int, token uuid.UUID) error {
	if len(counts) == 0 {
		return nil
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	var released []domain.ConcurrencyLimitV2
	err := m.store.UpdateLimits(ctx, names, func(limits []*domain.ConcurrencyLimitV2) error {
		now := m.now()
		for _, lim := range limits {
			lim.ReleaseSlots(counts[lim.Name], now)
			released = append(released, *lim)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.emitLeaseReleased(released, counts, token)

	m.logger.Debug("released v2 concurrency slots", "token", token)
	return nil
}

// rememberLease публикует события "acquired" и запоминает их по токену.
func (m *ManagerV2) rememberLease(acq *Acquisition) {
	if len(acq.Limits) == 0 {
		return
	}

	byName := make(map[string]*events.Event, len(acq.Limits))
	for _, lim := range acq.Limits {
		ev := events.LimitV2Event(events.SlotAcquired, lim, acq.Limits, acq.Acquired[lim.Name], acq.Token, nil)
		byName[lim.Name] = ev
		m.emitter.Emit(ev)
	}

	m.mu.Lock()
	m.leases[acq.Token] = byName
	m.mu.Unlock()
}

// emitLeaseReleased публикует события "released" с follows на "acquired".
func (m *ManagerV2) emitLeaseReleased(limits []domain.ConcurrencyLimitV2, counts map[string]int, token uuid.UUID) {
	if len(limits) == 0 {
		return
	}

	m.mu.Lock()
	byName := m.leases[token]
	delete(m.leases, token)
	m.mu.Unlock()

	for _, lim := range limits {
		var follows *events.Event
		if byName != nil {
			follows = byName[lim.Name]
		}
		m.emitter.Emit(events.LimitV2Event(events.SlotReleased, lim, limits, counts[lim.Name], token, follows))
	}
}
