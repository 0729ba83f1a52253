package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/repo"
)

// ListLimitsV2 возвращает все v2-лимиты.
// GET /api/v1/v2/concurrency_limits
func (h *Handler) ListLimitsV2(w http.ResponseWriter, r *http.Request) {
	limits, err := h.limitV2Repo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]LimitV2Response, len(limits))
	for i := range limits {
		result[i] = LimitV2FromDomain(&limits[i])
	}

	List(w, result, len(result))
}

// CreateLimitV2 создаёт v2-лимит.
// POST /api/v1/v2/concurrency_limits
func (h *Handler) CreateLimitV2(w http.ResponseWriter, r *http.Request) {
	var req CreateLimitV2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Limit < 0 {
		BadRequest(w, "limit must be non-negative")
		return
	}
	if req.SlotDecayPerSecond < 0 {
		BadRequest(w, "slot_decay_per_second must be non-negative")
		return
	}

	lim := &domain.ConcurrencyLimitV2{
		ID:                 uuid.New(),
		Name:               req.Name,
		Limit:              req.Limit,
		SlotDecayPerSecond: req.SlotDecayPerSecond,
	}

	if err := h.limitV2Repo.Create(r.Context(), lim); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, LimitV2FromDomain(lim))
}

// GetLimitV2 возвращает v2-лимит по имени.
// GET /api/v1/v2/concurrency_limits/{name}
func (h *Handler) GetLimitV2(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	lim, err := h.limitV2Repo.GetByName(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	Success(w, LimitV2FromDomain(lim))
}

// UpdateLimitV2 изменяет определение v2-лимита.
// Уже занятые слоты при уменьшении Limit не освобождаются: лимит
// просто перестаёт выдавать новые, пока занятость не спадёт.
// PATCH /api/v1/v2/concurrency_limits/{name}
func (h *Handler) UpdateLimitV2(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req UpdateLimitV2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	current, err := h.limitV2Repo.GetByName(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	limit := current.Limit
	if req.Limit != nil {
		if *req.Limit < 0 {
			BadRequest(w, "limit must be non-negative")
			return
		}
		limit = *req.Limit
	}

	decay := current.SlotDecayPerSecond
	if req.SlotDecayPerSecond != nil {
		if *req.SlotDecayPerSecond < 0 {
			BadRequest(w, "slot_decay_per_second must be non-negative")
			return
		}
		decay = *req.SlotDecayPerSecond
	}

	if err := h.limitV2Repo.UpdateDefinition(r.Context(), name, limit, decay, req.ResetDenied); HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	updated, err := h.limitV2Repo.GetByName(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	Success(w, LimitV2FromDomain(updated))
}

// DeleteLimitV2 удаляет v2-лимит.
// DELETE /api/v1/v2/concurrency_limits/{name}
func (h *Handler) DeleteLimitV2(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.limitV2Repo.Delete(r.Context(), name); HandleRepoError(w, h.logger, err, "concurrency limit not found") {
		return
	}

	NoContent(w)
}

// IncrementLimitsV2 занимает слоты на лимитах names.
// POST /api/v1/v2/concurrency_limits/increment
func (h *Handler) IncrementLimitsV2(w http.ResponseWriter, r *http.Request) {
	var req IncrementV2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if len(req.Names) == 0 {
		BadRequest(w, "names is required")
		return
	}

	mode := concurrency.ModeAllOrNothing
	if req.Mode != "" {
		mode = concurrency.Mode(req.Mode)
		if mode != concurrency.ModeAllOrNothing && mode != concurrency.ModeAsManyAsPossible {
			BadRequest(w, "mode must be all_or_nothing or as_many_as_possible")
			return
		}
	}

	acq, err := h.slotsV2.Acquire(r.Context(), req.Names, req.Slots, mode)
	if err != nil {
		switch {
		case errors.Is(err, concurrency.ErrInvalidSlots):
			BadRequest(w, err.Error())
		case errors.Is(err, concurrency.ErrLimitNotFound):
			NotFound(w, "concurrency limit not found")
		default:
			if ce, ok := concurrency.AsCapacityError(err); ok {
				Locked(w, ce.Error(), ce.RetryAfter)
				return
			}
			InternalError(w, h.logger, err)
		}
		return
	}

	resp := IncrementV2Response{
		Token:    acq.Token,
		Acquired: acq.Acquired,
		Limits:   make([]LimitV2Response, len(acq.Limits)),
	}
	for i := range acq.Limits {
		resp.Limits[i] = LimitV2FromDomain(&acq.Limits[i])
	}

	Success(w, resp)
}

// DecrementLimitsV2 освобождает слоты на лимитах names.
// POST /api/v1/v2/concurrency_limits/decrement
func (h *Handler) DecrementLimitsV2(w http.ResponseWriter, r *http.Request) {
	var req DecrementV2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if len(req.Names) == 0 {
		BadRequest(w, "names is required")
		return
	}
	if req.Slots <= 0 {
		BadRequest(w, "slots must be positive")
		return
	}

	err := h.slotsV2.Release(r.Context(), req.Names, req.Slots, req.Token)
	if err != nil {
		if errors.Is(err, concurrency.ErrLimitNotFound) || errors.Is(err, repo.ErrNotFound) {
			NotFound(w, "concurrency limit not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
