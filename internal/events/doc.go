// Package events — best-effort эмиссия событий оркестрации.
//
// События (смена состояния run, занятие/освобождение слотов) — это
// побочный канал наблюдаемости, отвязанный от транзакционного ядра:
// Emit никогда не возвращает ошибку и никогда не блокирует вызывающего.
// Неудачная публикация логируется и забывается — событие не может
// провалить переход, который его породил.
package events
