package domain

import (
	"time"

	"github.com/google/uuid"
)

// StateType — тип состояния run.
//
// Жизненный цикл (упрощённо):
//
//	SCHEDULED → PENDING → RUNNING → COMPLETED
//	                              ↘ FAILED (может быть retry → SCHEDULED)
//	                              ↘ CRASHED
//	          PENDING/RUNNING → PAUSED → RUNNING | CANCELLED
//	          (любое нефинальное) → CANCELLING → CANCELLED
type StateType string

const (
	// StateTypeScheduled — run запланирован на выполнение в будущем.
	StateTypeScheduled StateType = "SCHEDULED"

	// StateTypePending — run принят к выполнению, но ещё не стартовал.
	StateTypePending StateType = "PENDING"

	// StateTypeRunning — run выполняется.
	StateTypeRunning StateType = "RUNNING"

	// StateTypeCompleted — run успешно завершён.
	StateTypeCompleted StateType = "COMPLETED"

	// StateTypeFailed — run завершился с ошибкой.
	StateTypeFailed StateType = "FAILED"

	// StateTypeCancelled — run отменён.
	StateTypeCancelled StateType = "CANCELLED"

	// StateTypeCancelling — отмена запрошена, run ещё сворачивается.
	StateTypeCancelling StateType = "CANCELLING"

	// StateTypeCrashed — run упал по внешней причине (инфраструктура, OOM).
	StateTypeCrashed StateType = "CRASHED"

	// StateTypePaused — run приостановлен и ждёт возобновления.
	StateTypePaused StateType = "PAUSED"
)

// IsTerminal возвращает true, если тип состояния финальный.
// Из финального состояния переходы запрещены (кроме force).
func (t StateType) IsTerminal() bool {
	switch t {
	case StateTypeCompleted, StateTypeFailed, StateTypeCancelled, StateTypeCrashed:
		return true
	default:
		return false
	}
}

// IsValid возвращает true, если тип состояния известен.
func (t StateType) IsValid() bool {
	switch t {
	case StateTypeScheduled, StateTypePending, StateTypeRunning,
		StateTypeCompleted, StateTypeFailed, StateTypeCancelled,
		StateTypeCancelling, StateTypeCrashed, StateTypePaused:
		return true
	default:
		return false
	}
}

// ResultRef — ссылка на результат run, хранящийся вне БД.
// Например: "s3://bucket/runs/abc/result.json".
type ResultRef string

// StateDetails — дополнительные данные состояния.
type StateDetails struct {
	// ScheduledTime — когда run должен стартовать (для SCHEDULED).
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	// PauseTimeout — дедлайн возобновления для PAUSED.
	PauseTimeout *time.Time `json:"pause_timeout,omitempty"`

	// RetryCount — номер попытки, породившей это состояние.
	RetryCount int `json:"retry_count,omitempty"`

	// TransitionID — ключ идемпотентности перехода.
	// Два предложения с одинаковым TransitionID считаются дубликатами.
	TransitionID string `json:"transition_id,omitempty"`
}

// State — иммутабельный снимок жизненного цикла run.
//
// State никогда не изменяется после создания: каждый принятый переход
// создаёт новую запись, история состояний append-only.
// Равенство состояний — по ID, не структурное.
type State struct {
	// ID — уникальный идентификатор состояния.
	ID uuid.UUID `json:"id"`

	// Type — тип состояния.
	Type StateType `json:"type"`

	// Name — человекочитаемое имя.
	// Обычно совпадает с типом, но может уточнять его:
	// "AwaitingRetry" (SCHEDULED), "Late" (SCHEDULED).
	Name string `json:"name"`

	// Timestamp — момент создания состояния.
	Timestamp time.Time `json:"timestamp"`

	// Message — пояснение (причина отмены, текст ошибки и т.п.).
	Message string `json:"message,omitempty"`

	// Data — ссылка на результат, если состояние его несёт.
	Data *ResultRef `json:"data,omitempty"`

	// Details — дополнительные данные состояния.
	Details StateDetails `json:"details,omitempty"`
}

// NewState создаёт состояние указанного типа.
func NewState(t StateType) *State {
	return &State{
		ID:        uuid.New(),
		Type:      t,
		Name:      string(t),
		Timestamp: time.Now().UTC(),
	}
}

// Scheduled создаёт состояние SCHEDULED со временем старта.
func Scheduled(at time.Time) *State {
	s := NewState(StateTypeScheduled)
	s.Details.ScheduledTime = &at
	return s
}

// AwaitingRetry создаёт SCHEDULED-состояние для повторной попытки.
func AwaitingRetry(at time.Time, attempt int) *State {
	s := Scheduled(at)
	s.Name = "AwaitingRetry"
	s.Details.RetryCount = attempt
	return s
}

// Late создаёт SCHEDULED-состояние "Late" для просроченного run.
func Late(scheduledFor time.Time) *State {
	s := Scheduled(scheduledFor)
	s.Name = "Late"
	return s
}

// Pending создаёт состояние PENDING.
func Pending() *State { return NewState(StateTypePending) }

// Running создаёт состояние RUNNING.
func Running() *State { return NewState(StateTypeRunning) }

// Completed создаёт состояние COMPLETED с опциональной ссылкой на результат.
func Completed(data *ResultRef) *State {
	s := NewState(StateTypeCompleted)
	s.Data = data
	return s
}

// Failed создаёт состояние FAILED с сообщением об ошибке.
func Failed(message string) *State {
	s := NewState(StateTypeFailed)
	s.Message = message
	return s
}

// Crashed создаёт состояние CRASHED с сообщением.
func Crashed(message string) *State {
	s := NewState(StateTypeCrashed)
	s.Message = message
	return s
}

// Cancelling создаёт состояние CANCELLING.
func Cancelling() *State { return NewState(StateTypeCancelling) }

// Cancelled создаёт состояние CANCELLED.
func Cancelled(message string) *State {
	s := NewState(StateTypeCancelled)
	s.Message = message
	return s
}

// Paused создаёт состояние PAUSED с опциональным дедлайном возобновления.
func Paused(timeout *time.Time) *State {
	s := NewState(StateTypePaused)
	s.Details.PauseTimeout = timeout
	return s
}

// IsTerminal возвращает true, если состояние финальное.
func (s *State) IsTerminal() bool {
	return s.Type.IsTerminal()
}

// Copy возвращает копию состояния с новым ID и временем.
// Используется, когда правило переписывает предложенное состояние.
func (s *State) Copy() *State {
	c := *s
	c.ID = uuid.New()
	c.Timestamp = time.Now().UTC()
	return &c
}
