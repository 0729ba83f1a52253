package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/events"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	// MessageTypeProposal — предложение перехода состояния run.
	MessageTypeProposal MessageType = "proposal.state"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ProposalPayload — payload предложения перехода.
//
// Идемпотентность повторной доставки обеспечивает сам Engine:
// State.ID и TransitionID стабильны между доставками одного
// и того же сообщения.
type ProposalPayload struct {
	RunID uuid.UUID     `json:"run_id"`
	State *domain.State `json:"state"`
	Force bool          `json:"force,omitempty"`

	// Attempt — номер попытки. Растёт при повторной публикации
	// после WAIT; ограничивает число кругов по очереди.
	Attempt int `json:"attempt,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.publishRaw(ctx, exchange, routingKey, msg.ID, msg.Timestamp, body)
}

// PublishProposal публикует предложение перехода состояния.
// Потребитель: cadence-server (асинхронный приём в Engine).
func (p *Publisher) PublishProposal(ctx context.Context, payload ProposalPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProposal,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeProposals, RoutingKeyPropose, msg)
}

// PublishEvent публикует событие оркестрации в topic-обменник.
// Routing key — имя события; тело — событие как есть, без конверта.
// Реализует events.Publisher.
func (p *Publisher) PublishEvent(ctx context.Context, ev *events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.publishRaw(ctx, ExchangeEvents, RoutingKey(ev.Event), ev.ID.String(), ev.Occurred, body)
}

func (p *Publisher) publishRaw(ctx context.Context, exchange Exchange, routingKey RoutingKey, id string, ts time.Time, body []byte) error {
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    id,
				Timestamp:    ts,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", id,
		)

		return nil
	})
}
