package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
)

// Run DTOs

// CreateRunRequest — запрос на создание run.
// ScheduledTime задан — run создаётся в SCHEDULED, иначе в PENDING.
type CreateRunRequest struct {
	Name          string     `json:"name"`
	Kind          string     `json:"kind"`
	ParentRunID   *uuid.UUID `json:"parent_run_id,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	MaxRetries    int        `json:"max_retries,omitempty"`
	RetryDelaySec int        `json:"retry_delay_sec,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Kind             string     `json:"kind"`
	ParentRunID      *uuid.UUID `json:"parent_run_id,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	RunCount         int        `json:"run_count"`
	MaxRetries       int        `json:"max_retries"`
	CurrentStateType string     `json:"current_state_type,omitempty"`
	StateVersion     int        `json:"state_version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r *domain.Run) RunResponse {
	return RunResponse{
		ID:               r.ID,
		Name:             r.Name,
		Kind:             string(r.Kind),
		ParentRunID:      r.ParentRunID,
		Tags:             r.Tags,
		RunCount:         r.RunCount,
		MaxRetries:       r.MaxRetries,
		CurrentStateType: string(r.CurrentStateType),
		StateVersion:     r.StateVersion,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// State DTOs

// StateInput — предлагаемое состояние в set_state.
type StateInput struct {
	Type          string     `json:"type"`
	Name          string     `json:"name,omitempty"`
	Message       string     `json:"message,omitempty"`
	Data          *string    `json:"data,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	PauseTimeout  *time.Time `json:"pause_timeout,omitempty"`
	TransitionID  string     `json:"transition_id,omitempty"`
}

// ToDomain строит domain.State из входных данных.
func (in *StateInput) ToDomain() (*domain.State, error) {
	t := domain.StateType(in.Type)
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown state type %q", in.Type)
	}

	s := domain.NewState(t)
	if in.Name != "" {
		s.Name = in.Name
	}
	s.Message = in.Message
	if in.Data != nil {
		ref := domain.ResultRef(*in.Data)
		s.Data = &ref
	}
	s.Details.ScheduledTime = in.ScheduledTime
	s.Details.PauseTimeout = in.PauseTimeout
	s.Details.TransitionID = in.TransitionID
	return s, nil
}

// StateResponse — ответ с состоянием.
type StateResponse struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	Timestamp     time.Time  `json:"timestamp"`
	Message       string     `json:"message,omitempty"`
	Data          *string    `json:"data,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	RetryCount    int        `json:"retry_count,omitempty"`
	TransitionID  string     `json:"transition_id,omitempty"`
}

// StateFromDomain конвертирует domain.State в StateResponse.
func StateFromDomain(s *domain.State) StateResponse {
	resp := StateResponse{
		ID:            s.ID,
		Type:          string(s.Type),
		Name:          s.Name,
		Timestamp:     s.Timestamp,
		Message:       s.Message,
		ScheduledTime: s.Details.ScheduledTime,
		RetryCount:    s.Details.RetryCount,
		TransitionID:  s.Details.TransitionID,
	}
	if s.Data != nil {
		data := string(*s.Data)
		resp.Data = &data
	}
	return resp
}

// SetStateRequest — запрос на переход состояния.
type SetStateRequest struct {
	State StateInput `json:"state"`
	Force bool       `json:"force,omitempty"`
}

// SetStateResponse — исход предложенного перехода.
type SetStateResponse struct {
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	RetryAfterSec float64        `json:"retry_after_sec,omitempty"`
	State         *StateResponse `json:"state,omitempty"`
}

// Concurrency limit v1 DTOs

// CreateLimitRequest — запрос на создание v1-лимита.
type CreateLimitRequest struct {
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

// LimitResponse — ответ с v1-лимитом.
type LimitResponse struct {
	ID          uuid.UUID   `json:"id"`
	Tag         string      `json:"tag"`
	Limit       int         `json:"limit"`
	ActiveSlots []uuid.UUID `json:"active_slots"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// LimitFromDomain конвертирует domain.ConcurrencyLimit в LimitResponse.
func LimitFromDomain(l *domain.ConcurrencyLimit) LimitResponse {
	slots := l.ActiveSlots
	if slots == nil {
		slots = []uuid.UUID{}
	}
	return LimitResponse{
		ID:          l.ID,
		Tag:         l.Tag,
		Limit:       l.Limit,
		ActiveSlots: slots,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// MutateSlotsRequest — запрос на захват/освобождение v1-слотов.
// Wait=true — ждать свободных слотов до TimeoutSec (только increment).
type MutateSlotsRequest struct {
	Names      []string  `json:"names"`
	TaskRunID  uuid.UUID `json:"task_run_id"`
	Wait       bool      `json:"wait,omitempty"`
	TimeoutSec int       `json:"timeout_sec,omitempty"`
}

// Concurrency limit v2 DTOs

// CreateLimitV2Request — запрос на создание v2-лимита.
type CreateLimitV2Request struct {
	Name               string  `json:"name"`
	Limit              int     `json:"limit"`
	SlotDecayPerSecond float64 `json:"slot_decay_per_second,omitempty"`
}

// UpdateLimitV2Request — запрос на изменение определения v2-лимита.
type UpdateLimitV2Request struct {
	Limit              *int     `json:"limit,omitempty"`
	SlotDecayPerSecond *float64 `json:"slot_decay_per_second,omitempty"`
	ResetDenied        bool     `json:"reset_denied,omitempty"`
}

// LimitV2Response — ответ с v2-лимитом.
type LimitV2Response struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Limit              int       `json:"limit"`
	ActiveSlots        int       `json:"active_slots"`
	DeniedSlots        int       `json:"denied_slots"`
	SlotDecayPerSecond float64   `json:"slot_decay_per_second"`
	AvgSlotsOccupied   float64   `json:"avg_slots_occupied"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LimitV2FromDomain конвертирует domain.ConcurrencyLimitV2 в LimitV2Response.
func LimitV2FromDomain(l *domain.ConcurrencyLimitV2) LimitV2Response {
	return LimitV2Response{
		ID:                 l.ID,
		Name:               l.Name,
		Limit:              l.Limit,
		ActiveSlots:        l.ActiveSlots,
		DeniedSlots:        l.DeniedSlots,
		SlotDecayPerSecond: l.SlotDecayPerSecond,
		AvgSlotsOccupied:   l.AvgSlotsOccupied,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

// IncrementV2Request — запрос на захват v2-слотов.
type IncrementV2Request struct {
	Names []string `json:"names"`
	Slots int      `json:"slots"`
	Mode  string   `json:"mode,omitempty"`
}

// IncrementV2Response — результат захвата v2-слотов.
type IncrementV2Response struct {
	Token    uuid.UUID         `json:"token"`
	Acquired map[string]int    `json:"acquired"`
	Limits   []LimitV2Response `json:"limits"`
}

// DecrementV2Request — запрос на освобождение v2-слотов.
type DecrementV2Request struct {
	Names []string  `json:"names"`
	Slots int       `json:"slots"`
	Token uuid.UUID `json:"token,omitempty"`
}
