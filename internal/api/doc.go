// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, движок, менеджеры слотов)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - run_handler.go      — обработчики для /runs (включая set_state)
//   - limit_handler.go    — обработчики v1-лимитов конкурентности
//   - limit_v2_handler.go — обработчики v2-лимитов конкурентности
//
// Все переходы состояний идут через orchestration.Engine; API не
// пишет состояния напрямую. Нехватка слотов отдаётся как 423 Locked
// с заголовком Retry-After.
package api
