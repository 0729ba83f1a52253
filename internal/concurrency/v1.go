package concurrency

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/events"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// Интервалы по умолчанию.
const (
	// defaultRetryAfter — подсказка задержки при нехватке слотов.
	defaultRetryAfter = 5 * time.Second

	// minPollInterval — нижняя граница ожидания в блокирующем Acquire.
	minPollInterval = 200 * time.Millisecond
)

// Store — транзакционное хранилище v1-лимитов.
//
// Реализация (repo.LimitRepo) обязана выполнять Acquire одной
// транзакцией с блокировкой затронутых строк в порядке возрастания id:
// это исключает deadlock между конкурирующими multi-limit acquire.
type Store interface {
	// Acquire атомарно занимает по одному слоту в каждом лимите,
	// чей тег входит в tags. Всё-или-ничего: если хотя бы один лимит
	// заполнен, возвращается *CapacityError и ничего не занято.
	// Теги без лимитов игнорируются. Возвращает затронутые лимиты.
	Acquire(ctx context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error)

	// Release освобождает слоты occupant во всех лимитах tags.
	// Идемпотентен: отсутствие occupant в лимите — не ошибка.
	Release(ctx context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error)
}

// Manager — менеджер слотов v1 (по тегам, с владельцами).
type Manager struct {
	store   Store
	emitter *events.Emitter
	logger  *slog.Logger

	retryAfter time.Duration

	// acquired хранит события "acquired" для причинной связи follows
	// в парных "released" (occupant → limit id → событие).
	mu       sync.Mutex
	acquired map[uuid.UUID]map[uuid.UUID]*events.Event
}

// ManagerConfig — конфигурация Manager.
type ManagerConfig struct {
	Store   Store
	Emitter *events.Emitter // nil — события не публикуются
	Logger  *slog.Logger

	// RetryAfter — подсказка задержки для WAIT (default: 5s).
	RetryAfter time.Duration
}

// NewManager создаёт Manager.
func NewManager(cfg ManagerConfig) *Manager {
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:      cfg.Store,
		emitter:    cfg.Emitter,
		logger:     logger,
		retryAfter: retryAfter,
		acquired:   make(map[uuid.UUID]map[uuid.UUID]*events.Event),
	}
}

// TryAcquire занимает по слоту в каждом лимите с тегом из tags,
// не блокируясь. При нехватке слотов возвращает *CapacityError
// с рекомендуемой задержкой; ничего не остаётся занятым.
func (m *Manager) TryAcquire(ctx context.Context, tags []string, occupant uuid.UUID) error {
	if len(tags) == 0 {
		return nil
	}

	limits, err := m.store.Acquire(ctx, tags, occupant)
	if err != nil {
		if ce, ok := AsCapacityError(err); ok {
			if ce.RetryAfter <= 0 {
				ce.RetryAfter = m.retryAfter
			}
			telemetry.SlotAcquisitionsTotal.WithLabelValues("v1", "denied").Inc()
		}
		return err
	}

	telemetry.SlotAcquisitionsTotal.WithLabelValues("v1", "acquired").Inc()
	m.rememberAcquired(occupant, limits)

	m.logger.Debug("acquired concurrency slots",
		"task_run_id", occupant,
		"limits", len(limits),
	)
	return nil
}

// Acquire — блокирующий вариант TryAcquire: повторяет попытки с
// возрастающей задержкой, пока не получит слоты или не истечёт timeout.
func (m *Manager) Acquire(ctx context.Context, tags []string, occupant uuid.UUID, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	delay := minPollInterval
	for {
		err := m.TryAcquire(ctx, tags, occupant)
		if err == nil {
			return nil
		}

		ce, ok := AsCapacityError(err)
		if !ok {
			return err
		}

		if time.Now().After(deadline) {
			return ErrAcquireTimeout
		}

		wait := delay
		if ce.RetryAfter > 0 && ce.RetryAfter < wait {
			wait = ce.RetryAfter
		}
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > m.retryAfter {
			delay = m.retryAfter
		}
	}
}

// Release освобождает слоты occupant во всех лимитах tags.
// Идемпотентен: повторный release ничего не меняет.
func (m *Manager) Release(ctx context.Context, tags []string, occupant uuid.UUID) error {
	if len(tags) == 0 {
		return nil
	}

	limits, err := m.store.Release(ctx, tags, occupant)
	if err != nil {
		return err
	}

	m.emitReleased(occupant, limits)

	m.logger.Debug("released concurrency slots",
		"task_run_id", occupant,
		"limits", len(limits),
	)
	return nil
}

// rememberAcquired публикует события "acquired" и запоминает их
// для связи follows при release.
func (m *Manager) rememberAcquired(occupant uuid.UUID, limits []domain.ConcurrencyLimit) {
	if len(limits) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byLimit := m.acquired[occupant]
	if byLimit == nil {
		byLimit = make(map[uuid.UUID]*events.Event)
		m.acquired[occupant] = byLimit
	}

	for _, lim := range limits {
		ev := events.LimitEvent(events.SlotAcquired, lim, limits, occupant, nil)
		byLimit[lim.ID] = ev
		m.emitter.Emit(ev)
	}
}

// emitReleased публикует события "released" со ссылкой на парные "acquired".
func (m *Manager) emitReleased(occupant uuid.UUID, limits []domain.ConcurrencyLimit) {
	if len(limits) == 0 {
		return
	}

	m.mu.Lock()
	byLimit := m.acquired[occupant]
	delete(m.acquired, occupant)
	m.mu.Unlock()

	for _, lim := range limits {
		var follows *events.Event
		if byLimit != nil {
			follows = byLimit[lim.ID]
		}
		m.emitter.Emit(events.LimitEvent(events.SlotReleased, lim, limits, occupant, follows))
	}
}

// IsCapacity возвращает true, если err — нехватка слотов.
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}
