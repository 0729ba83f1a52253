package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeEvents — topic-обменник событий оркестрации.
	// Routing key — имя события (cadence.run.state-change и т.д.);
	// потребители привязывают свои очереди по нужным паттернам.
	ExchangeEvents Exchange = "cadence.events"

	// ExchangeProposals — предложения переходов состояний.
	ExchangeProposals Exchange = "cadence.proposals"

	// ExchangeDLQ — dead letter exchange.
	ExchangeDLQ Exchange = "cadence.dlq"
)

// Queues — имена очередей.
const (
	// QueueProposalsPending — входящие предложения переходов.
	// Потребитель: сервер (асинхронный приём в Engine).
	QueueProposalsPending Queue = "proposals.pending"

	// QueueDLQProposals — предложения, не прошедшие обработку.
	QueueDLQProposals Queue = "dlq.proposals"
)

// Routing keys.
const (
	RoutingKeyPropose      RoutingKey = "propose"
	RoutingKeyDLQProposals RoutingKey = "proposals"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентна: повторный вызов на существующей топологии безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeProposals, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Предложения после исчерпания retry уходят в DLQ.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQProposals),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueProposalsPending, dlqArgs},
		{QueueDLQProposals, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueProposalsPending, RoutingKeyPropose, ExchangeProposals},
		{QueueDLQProposals, RoutingKeyDLQProposals, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Cadence RabbitMQ Topology:

    cadence.events (topic)
    └── [routing: имя события; очереди объявляют сами потребители]

    cadence.proposals (direct)
    └── proposals.pending [routing: propose]
            Consumer: cadence-server
            DLQ: dlq.proposals

    cadence.dlq (direct)
    └── dlq.proposals [routing: proposals]
            Manual processing
  `
}
