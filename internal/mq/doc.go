// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений и событий
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - proposal.state — предложение перехода состояния run
//
// Exchanges:
//   - cadence.events    — события оркестрации (topic, routing key = имя события)
//   - cadence.proposals — предложения переходов
//   - cadence.dlq       — dead letter queue
//
// События публикуются best-effort через events.Emitter: доставка
// не гарантируется и не блокирует оркестрацию.
package mq
