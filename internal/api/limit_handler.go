package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/domain"
)

// defaultAcquireTimeout — таймаут блокирующего захвата по умолчанию.
const defaultAcquireTimeout = 30 * time.Second

// ListLimits возвращает все v1-лимиты.
// GET /api/v1/concurrency_limits
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.limitRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]LimitResponse, len(limits))
	for i := range limits {
		result[i] = LimitFromDomain(&limits[i])
	}

	List(w, result, len(result))
}

// CreateLimit создаёт v1-лимит.
// POST /api/v1/concurrency_limits
func (h *Handler) CreateLimit(w http.ResponseWriter, r *http.Request) {
	var req CreateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Tag == "" {
		BadRequest(w, "tag is required")
		return
	}
	if req.Limit < 0 {
		BadRequest(w, "limit must be non-negative")
		return
	}

	lim := &domain.ConcurrencyLimit{
		ID:    uuid.New(),
		Tag:   req.Tag,
		Limit: req.Limit,
	}

	if err := h.limitRepo.Create(r.Context(), lim); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, LimitFromDomain(lim))
}

// GetLimit возвращает v1-лимит по тегу.
// GET /api/v1/concurrency_limits/{tag}
func (h *Handler) GetLimit(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	lim, err := h.limitRepo.GetByTag(r.Context(), tag)
	if HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	Success(w, LimitFromDomain(lim))
}

// DeleteLimit удаляет v1-лимит.
// Занятые слоты пропадают вместе с лимитом: next acquire по этому
// тегу становится неограниченным.
// DELETE /api/v1/concurrency_limits/{tag}
func (h *Handler) DeleteLimit(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	if err := h.limitRepo.Delete(r.Context(), tag); HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	NoContent(w)
}

// IncrementLimits занимает по слоту в каждом лимите с тегом из names.
// POST /api/v1/concurrency_limits/increment
func (h *Handler) IncrementLimits(w http.ResponseWriter, r *http.Request) {
	var req MutateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if len(req.Names) == 0 {
		BadRequest(w, "names is required")
		return
	}
	if req.TaskRunID == uuid.Nil {
		BadRequest(w, "task_run_id is required")
		return
	}

	var err error
	if req.Wait {
		timeout := defaultAcquireTimeout
		if req.TimeoutSec > 0 {
			timeout = time.Duration(req.TimeoutSec) * time.Second
		}
		err = h.slots.Acquire(r.Context(), req.Names, req.TaskRunID, timeout)
	} else {
		err = h.slots.TryAcquire(r.Context(), req.Names, req.TaskRunID)
	}

	if err != nil {
		if ce, ok := concurrency.AsCapacityError(err); ok {
			Locked(w, ce.Error(), ce.RetryAfter)
			return
		}
		if errors.Is(err, concurrency.ErrAcquireTimeout) {
			Locked(w, err.Error(), 0)
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// DecrementLimits освобождает слоты task run во всех лимитах names.
// Идемпотентен: повторный вызов — no-op.
// POST /api/v1/concurrency_limits/decrement
func (h *Handler) DecrementLimits(w http.ResponseWriter, r *http.Request) {
	var req MutateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if len(req.Names) == 0 {
		BadRequest(w, "names is required")
		return
	}
	if req.TaskRunID == uuid.Nil {
		BadRequest(w, "task_run_id is required")
		return
	}

	if err := h.slots.Release(r.Context(), req.Names, req.TaskRunID); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
