package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestration"
)

const (
	// maxProposalAttempts — предел кругов предложения по очереди
	// при исходе WAIT. Дальше — DLQ.
	maxProposalAttempts = 10

	// defaultWaitRetry — задержка перед повторной публикацией,
	// если движок не подсказал свою.
	defaultWaitRetry = 5 * time.Second

	// maxWaitRetry — потолок задержки повторной публикации.
	maxWaitRetry = 30 * time.Second

	// republishTimeout — таймаут самой публикации.
	republishTimeout = 5 * time.Second
)

// ProposalPublisher публикует предложение обратно в очередь.
// Реализуется mq.Publisher.
type ProposalPublisher interface {
	PublishProposal(ctx context.Context, payload mq.ProposalPayload) error
}

// ProposalIntake — асинхронный приём предложений переходов из очереди.
//
// Дублирующаяся доставка безопасна: Engine отклоняет повторы по
// State.ID и TransitionID. Конфликт версий — повод для redelivery,
// отклонение правилом — финальный исход. WAIT (нет слотов) — не исход:
// предложение публикуется заново с задержкой, пока не исчерпает
// maxProposalAttempts.
type ProposalIntake struct {
	engine    StateProposer
	publisher ProposalPublisher
	consumer  *mq.Consumer
	logger    *slog.Logger
}

// NewProposalIntake создаёт ProposalIntake, читающий proposals.pending.
func NewProposalIntake(conn *mq.Connection, engine StateProposer, publisher ProposalPublisher, logger *slog.Logger) *ProposalIntake {
	p := &ProposalIntake{
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}

	p.consumer = mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueProposalsPending),
		Handler:  p.handle,
		Prefetch: 10,
	})

	return p
}

// Start запускает потребление. Блокирует до отмены ctx.
func (p *ProposalIntake) Start(ctx context.Context) error {
	return p.consumer.Start(ctx)
}

// Stop останавливает потребление.
func (p *ProposalIntake) Stop() {
	p.consumer.Stop()
}

// handle обрабатывает одно предложение.
func (p *ProposalIntake) handle(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ProposalPayload](&msg.Message)
	if err != nil {
		// Неразборчивое предложение ретраить бессмысленно.
		return fmt.Errorf("%w: malformed proposal %s: %v", mq.ErrDrop, msg.Message.ID, err)
	}

	if payload.State == nil {
		return fmt.Errorf("%w: proposal %s has no state", mq.ErrDrop, msg.Message.ID)
	}

	res, err := p.engine.ProposeState(ctx, payload.RunID, payload.State, payload.Force)
	if err != nil {
		switch {
		case errors.Is(err, orchestration.ErrRunNotFound):
			// Run удалён — предложение устарело.
			return fmt.Errorf("%w: proposal for unknown run %s", mq.ErrDrop, payload.RunID)

		case errors.Is(err, orchestration.ErrStateConflict):
			// Проигранный CAS: вернуть в очередь и попробовать ещё раз.
			return fmt.Errorf("state conflict for run %s: %w", payload.RunID, err)

		default:
			return fmt.Errorf("propose state for run %s: %w", payload.RunID, err)
		}
	}

	if res.Status == orchestration.StatusWait {
		return p.rescheduleWait(payload, res)
	}

	p.logger.Debug("proposal processed",
		"run_id", payload.RunID,
		"status", res.Status,
		"to", payload.State.Type,
	)
	return nil
}

// rescheduleWait публикует WAIT-предложение заново с задержкой.
//
// Текущее сообщение подтверждается сразу (nil), чтобы не держать
// prefetch-слот на время ожидания; повторная публикация идёт отдельной
// горутиной. Исчерпание попыток — в DLQ.
func (p *ProposalIntake) rescheduleWait(payload mq.ProposalPayload, res *orchestration.Result) error {
	if payload.Attempt+1 >= maxProposalAttempts {
		return fmt.Errorf("%w: proposal for run %s still waiting after %d attempts",
			mq.ErrDrop, payload.RunID, maxProposalAttempts)
	}

	delay := res.RetryAfter
	if delay <= 0 {
		delay = defaultWaitRetry
	}
	if delay > maxWaitRetry {
		delay = maxWaitRetry
	}

	next := payload
	next.Attempt++

	p.logger.Debug("proposal waiting, republishing",
		"run_id", payload.RunID,
		"attempt", next.Attempt,
		"delay", delay,
	)

	go func() {
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), republishTimeout)
		defer cancel()

		if err := p.publisher.PublishProposal(ctx, next); err != nil {
			p.logger.Error("failed to republish waiting proposal",
				"run_id", next.RunID,
				"attempt", next.Attempt,
				"error", err,
			)
		}
	}()

	return nil
}
