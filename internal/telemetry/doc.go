// Package telemetry обеспечивает наблюдаемость оркестрации.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики переходов, слотов и событий
//
// Server и sweeper используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
