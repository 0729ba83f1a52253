package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunKind — вид run: flow или task.
type RunKind string

const (
	// RunKindFlow — выполнение целого flow.
	RunKindFlow RunKind = "flow"

	// RunKindTask — выполнение отдельной task внутри flow.
	RunKindTask RunKind = "task"
)

// Run — экземпляр выполнения flow или task.
//
// Run создаётся внешним слоем (API, scheduler) и после этого
// изменяется ТОЛЬКО через переходы состояний в orchestration.Engine.
// Прямых апдейтов статуса в обход движка нет.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Name — имя run (для людей и логов).
	Name string `json:"name"`

	// Kind — flow или task.
	Kind RunKind `json:"kind"`

	// ParentRunID — родительский flow run для task run.
	// Flow runs тоже могут быть вложенными (sub-flows).
	ParentRunID *uuid.UUID `json:"parent_run_id,omitempty"`

	// Tags — теги для матчинга лимитов конкурентности v1.
	Tags []string `json:"tags,omitempty"`

	// RunCount — сколько раз run входил в RUNNING.
	RunCount int `json:"run_count"`

	// MaxRetries — максимум повторных попыток после FAILED.
	// 0 — retry запрещены.
	MaxRetries int `json:"max_retries"`

	// RetryDelay — задержка перед повторной попыткой.
	RetryDelay time.Duration `json:"retry_delay,omitempty"`

	// CurrentStateID — ID последнего принятого состояния.
	CurrentStateID *uuid.UUID `json:"current_state_id,omitempty"`

	// CurrentStateType — тип последнего принятого состояния
	// (денормализация для выборок без join).
	CurrentStateType StateType `json:"current_state_type,omitempty"`

	// StateVersion — версия для optimistic concurrency control.
	// Инкрементируется при каждом принятом переходе; переход со
	// stale-версией отклоняется на уровне БД.
	StateVersion int `json:"state_version"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего принятого перехода.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTaskRun возвращает true для task run.
func (r *Run) IsTaskRun() bool {
	return r.Kind == RunKindTask
}

// IsFinished возвращает true, если run в финальном состоянии.
func (r *Run) IsFinished() bool {
	return r.CurrentStateType.IsTerminal()
}

// CanRetry возвращает true, если ещё остались попытки.
// RunCount считает входы в RUNNING; retry допустим, пока число
// попыток не превысило MaxRetries+1 (первая попытка не retry).
func (r *Run) CanRetry() bool {
	return r.MaxRetries > 0 && r.RunCount <= r.MaxRetries
}
