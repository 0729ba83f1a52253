// Package services содержит фоновые сервисы вокруг движка оркестрации.
//
// Структура:
//   - maintenance.go — периодические джобы обслуживания (cron):
//     пометка просроченных runs, добивание зависших отмен,
//     сбор осиротевших слотов, gauge занятости
//   - proposals.go   — асинхронный приём предложений переходов
//     из очереди proposals.pending
//
// Оба сервиса не пишут состояния напрямую: любой переход идёт
// через orchestration.Engine.
package services
