package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Cadence/internal/telemetry"
)

// publishTimeout — максимум времени на одну публикацию.
const publishTimeout = 5 * time.Second

// Publisher — транспорт для публикации событий.
// Реализация: mq.Publisher (RabbitMQ).
type Publisher interface {
	PublishEvent(ctx context.Context, ev *Event) error
}

// Emitter публикует события асинхронно и best-effort.
//
// Emit возвращается немедленно; публикация идёт в отдельной горутине
// с таймаутом. Ошибки публикации только логируются.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

// NewEmitter создаёт Emitter.
// pub может быть nil — тогда события молча отбрасываются
// (режим без RabbitMQ).
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger}
}

// Emit отправляет событие. Никогда не блокирует и не возвращает ошибку.
func (e *Emitter) Emit(ev *Event) {
	if e == nil || e.pub == nil || ev == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := e.pub.PublishEvent(ctx, ev); err != nil {
			e.logger.Warn("failed to emit event",
				"event", ev.Event,
				"event_id", ev.ID,
				"error", err,
			)
			return
		}
		telemetry.EventsEmittedTotal.WithLabelValues(ev.Event).Inc()
	}()
}

// EmitAll отправляет несколько событий.
func (e *Emitter) EmitAll(evs ...*Event) {
	for _, ev := range evs {
		e.Emit(ev)
	}
}
