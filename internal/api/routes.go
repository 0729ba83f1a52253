package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/states", chain(http.HandlerFunc(h.ListRunStates)))
	mux.Handle("POST /api/v1/runs/{id}/set_state", chain(http.HandlerFunc(h.SetRunState)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Concurrency limits v1
	mux.Handle("GET /api/v1/concurrency_limits", chain(http.HandlerFunc(h.ListLimits)))
	mux.Handle("POST /api/v1/concurrency_limits", chain(http.HandlerFunc(h.CreateLimit)))
	mux.Handle("GET /api/v1/concurrency_limits/{tag}", chain(http.HandlerFunc(h.GetLimit)))
	mux.Handle("DELETE /api/v1/concurrency_limits/{tag}", chain(http.HandlerFunc(h.DeleteLimit)))
	mux.Handle("POST /api/v1/concurrency_limits/increment", chain(http.HandlerFunc(h.IncrementLimits)))
	mux.Handle("POST /api/v1/concurrency_limits/decrement", chain(http.HandlerFunc(h.DecrementLimits)))

	// Concurrency limits v2
	mux.Handle("GET /api/v1/v2/concurrency_limits", chain(http.HandlerFunc(h.ListLimitsV2)))
	mux.Handle("POST /api/v1/v2/concurrency_limits", chain(http.HandlerFunc(h.CreateLimitV2)))
	mux.Handle("GET /api/v1/v2/concurrency_limits/{name}", chain(http.HandlerFunc(h.GetLimitV2)))
	mux.Handle("PATCH /api/v1/v2/concurrency_limits/{name}", chain(http.HandlerFunc(h.UpdateLimitV2)))
	mux.Handle("DELETE /api/v1/v2/concurrency_limits/{name}", chain(http.HandlerFunc(h.DeleteLimitV2)))
	mux.Handle("POST /api/v1/v2/concurrency_limits/increment", chain(http.HandlerFunc(h.IncrementLimitsV2)))
	mux.Handle("POST /api/v1/v2/concurrency_limits/decrement", chain(http.HandlerFunc(h.DecrementLimitsV2)))
}
