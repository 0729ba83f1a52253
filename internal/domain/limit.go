package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ConcurrencyLimit — лимит конкурентности v1.
//
// Слоты идентифицируются владельцами: каждый занятый слот хранит
// task_run_id занявшего его run. Это делает release идемпотентным —
// повторное освобождение того же владельца ничего не меняет.
//
// Инвариант: len(ActiveSlots) <= Limit.
type ConcurrencyLimit struct {
	// ID — уникальный идентификатор лимита.
	ID uuid.UUID `json:"id"`

	// Tag — тег, по которому лимит матчится с тегами task run.
	Tag string `json:"tag"`

	// Limit — максимум одновременно занятых слотов.
	// Limit=0 — тег полностью заблокирован.
	Limit int `json:"limit"`

	// ActiveSlots — task_run_id текущих владельцев слотов.
	ActiveSlots []uuid.UUID `json:"active_slots"`

	// CreatedAt — время создания лимита.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения слотов.
	UpdatedAt time.Time `json:"updated_at"`
}

// Holds возвращает true, если occupant уже занимает слот.
func (l *ConcurrencyLimit) Holds(occupant uuid.UUID) bool {
	for _, id := range l.ActiveSlots {
		if id == occupant {
			return true
		}
	}
	return false
}

// HasCapacity возвращает true, если есть свободный слот.
func (l *ConcurrencyLimit) HasCapacity() bool {
	return len(l.ActiveSlots) < l.Limit
}

// Acquire занимает слот для occupant.
// Возвращает false, если свободных слотов нет.
// Повторный Acquire тем же owner — no-op с результатом true.
func (l *ConcurrencyLimit) Acquire(occupant uuid.UUID) bool {
	if l.Holds(occupant) {
		return true
	}
	if !l.HasCapacity() {
		return false
	}
	l.ActiveSlots = append(l.ActiveSlots, occupant)
	return true
}

// Release освобождает слот occupant.
// Возвращает true, если слот действительно был занят.
// Отсутствующий occupant — no-op (идемпотентность против двойного release).
func (l *ConcurrencyLimit) Release(occupant uuid.UUID) bool {
	for i, id := range l.ActiveSlots {
		if id == occupant {
			l.ActiveSlots = append(l.ActiveSlots[:i], l.ActiveSlots[i+1:]...)
			return true
		}
	}
	return false
}

// ConcurrencyLimitV2 — лимит конкурентности v2.
//
// В отличие от v1, слоты анонимны: хранится только счётчик занятых.
// Пары acquire/release коррелируются через opaque-токен на уровне событий,
// а не в самой записи лимита.
//
// SlotDecayPerSecond задаёт скорость "испарения" занятых слотов —
// это превращает лимит в rate limiter: слоты освобождаются сами
// по мере течения времени. Той же константой экспоненциально
// сглаживается статистика AvgSlotsOccupied.
//
// Инвариант: 0 <= ActiveSlots <= Limit.
type ConcurrencyLimitV2 struct {
	// ID — уникальный идентификатор лимита.
	ID uuid.UUID `json:"id"`

	// Name — имя лимита (уникальное, по нему идёт acquire).
	Name string `json:"name"`

	// Limit — максимум одновременно занятых слотов.
	Limit int `json:"limit"`

	// ActiveSlots — занято слотов сейчас.
	ActiveSlots int `json:"active_slots"`

	// DeniedSlots — монотонный счётчик отказов (observability).
	// Сбрасывается только административно.
	DeniedSlots int `json:"denied_slots"`

	// SlotDecayPerSecond — скорость decay. 0 — decay выключен.
	SlotDecayPerSecond float64 `json:"slot_decay_per_second"`

	// AvgSlotsOccupied — экспоненциально сглаженная средняя занятость.
	// Read-only для клиентов; обновляется при каждом acquire/release.
	AvgSlotsOccupied float64 `json:"avg_slots_occupied"`

	// CreatedAt — время создания лимита.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего пересчёта decay/статистики.
	UpdatedAt time.Time `json:"updated_at"`
}

// refresh применяет decay за время, прошедшее с UpdatedAt.
//
// Занятые слоты убывают со скоростью SlotDecayPerSecond, а средняя
// занятость сглаживается с весом exp(-decay*elapsed): чем дольше лимит
// не трогали, тем сильнее старое значение вытесняется текущей занятостью.
//
// Испаряются только целые слоты, поэтому UpdatedAt продвигается лишь
// на время, «потраченное» на них: дробный остаток drain копится до
// следующего refresh. Иначе лимит, который трогают чаще чем раз в
// 1/decay секунд, не испарял бы слоты вовсе.
func (l *ConcurrencyLimitV2) refresh(now time.Time) {
	elapsed := now.Sub(l.UpdatedAt).Seconds()
	if elapsed <= 0 {
		return
	}

	if l.SlotDecayPerSecond <= 0 {
		l.UpdatedAt = now
		return
	}

	released := int(l.SlotDecayPerSecond * elapsed)
	if released == 0 {
		return
	}
	consumed := float64(released) / l.SlotDecayPerSecond

	// Сглаживаем среднюю занятость ДО испарения слотов:
	// вклад пропорционален тому, сколько времени слоты были заняты.
	beta := math.Exp(-l.SlotDecayPerSecond * consumed)
	l.AvgSlotsOccupied = l.AvgSlotsOccupied*beta + float64(l.ActiveSlots)*(1-beta)

	// Испаряем занятые слоты.
	l.ActiveSlots -= released
	if l.ActiveSlots < 0 {
		l.ActiveSlots = 0
	}

	l.UpdatedAt = l.UpdatedAt.Add(time.Duration(consumed * float64(time.Second)))
}

// TryAcquire пытается занять slots слотов на момент now.
// Возвращает true при успехе; при отказе увеличивает DeniedSlots.
// Decay пересчитывается в обоих случаях.
func (l *ConcurrencyLimitV2) TryAcquire(slots int, now time.Time) bool {
	l.refresh(now)

	if l.ActiveSlots+slots > l.Limit {
		l.DeniedSlots += slots
		return false
	}

	l.ActiveSlots += slots
	return true
}

// ReleaseSlots освобождает slots слотов на момент now.
// Освобождение сверх занятого обрезается до нуля (идемпотентность
// против двойного release после decay).
func (l *ConcurrencyLimitV2) ReleaseSlots(slots int, now time.Time) {
	l.refresh(now)

	l.ActiveSlots -= slots
	if l.ActiveSlots < 0 {
		l.ActiveSlots = 0
	}
}

// Available возвращает число свободных слотов на момент now
// без изменения лимита.
func (l *ConcurrencyLimitV2) Available(now time.Time) int {
	c := *l
	c.refresh(now)
	free := c.Limit - c.ActiveSlots
	if free < 0 {
		return 0
	}
	return free
}
