package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestration"
)

// CreateRun создаёт run в начальном состоянии.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	kind := domain.RunKind(req.Kind)
	if kind != domain.RunKindFlow && kind != domain.RunKindTask {
		BadRequest(w, "kind must be flow or task")
		return
	}

	run := &domain.Run{
		ID:          uuid.New(),
		Name:        req.Name,
		Kind:        kind,
		ParentRunID: req.ParentRunID,
		Tags:        req.Tags,
		MaxRetries:  req.MaxRetries,
		RetryDelay:  time.Duration(req.RetryDelaySec) * time.Second,
	}

	var initial *domain.State
	if req.ScheduledTime != nil {
		initial = domain.Scheduled(*req.ScheduledTime)
	} else {
		initial = domain.Pending()
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Начальное состояние тоже идёт через движок: история run
	// начинается с принятого перехода, а не с прямой записи.
	res, err := h.engine.ProposeState(r.Context(), run.ID, initial, false)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if !res.Accepted() {
		InternalError(w, h.logger, errors.New("initial transition rejected: "+res.Reason))
		return
	}

	created, err := h.runRepo.GetRun(r.Context(), run.ID)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Created(w, RunFromDomain(created))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(run))
}

// ListRunStates возвращает историю состояний run.
// GET /api/v1/runs/{id}/states
func (h *Handler) ListRunStates(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runRepo.GetRun(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	states, err := h.runRepo.ListStates(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StateResponse, len(states))
	for i := range states {
		result[i] = StateFromDomain(&states[i])
	}

	List(w, result, len(result))
}

// SetRunState предлагает движку переход состояния run.
// POST /api/v1/runs/{id}/set_state
func (h *Handler) SetRunState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	proposed, err := req.State.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	h.propose(w, r, id, proposed, req.Force)
}

// CancelRun отменяет run.
// Выполняющийся run переводится в CANCELLING (дожидаемся сворачивания),
// не стартовавший — сразу в CANCELLED.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	var proposed *domain.State
	if run.CurrentStateType == domain.StateTypeRunning {
		proposed = domain.Cancelling()
	} else {
		proposed = domain.Cancelled("cancelled by user")
	}

	h.propose(w, r, id, proposed, false)
}

// propose вызывает движок и транслирует исход в HTTP ответ.
func (h *Handler) propose(w http.ResponseWriter, r *http.Request, id uuid.UUID, proposed *domain.State, force bool) {
	res, err := h.engine.ProposeState(r.Context(), id, proposed, force)
	if err != nil {
		switch {
		case errors.Is(err, orchestration.ErrRunNotFound):
			NotFound(w, "run not found")
		case errors.Is(err, orchestration.ErrInvalidState):
			BadRequest(w, err.Error())
		case errors.Is(err, orchestration.ErrStateConflict):
			Conflict(w, "concurrent transition, reload the run and retry")
		case errors.Is(err, orchestration.ErrAborted):
			InternalError(w, h.logger, err)
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	resp := SetStateResponse{
		Status:        string(res.Status),
		Reason:        res.Reason,
		RetryAfterSec: res.RetryAfter.Seconds(),
	}
	if res.State != nil {
		st := StateFromDomain(res.State)
		resp.State = &st
	}

	switch res.Status {
	case orchestration.StatusAccept:
		Created(w, resp)
	default:
		// REJECT и WAIT — корректные исходы, не ошибки HTTP.
		Success(w, resp)
	}
}
