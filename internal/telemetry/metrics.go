package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрации. Регистрируются в default registry,
// отдаются через /metrics (promhttp).
var (
	// TransitionsTotal — счётчик переходов по виду run и исходу
	// (ACCEPT/REJECT/WAIT/ABORT/CONFLICT).
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence",
		Name:      "transitions_total",
		Help:      "State transition proposals by run kind and outcome.",
	}, []string{"kind", "outcome"})

	// SlotAcquisitionsTotal — счётчик попыток занять слоты по версии
	// менеджера и исходу (acquired/denied).
	SlotAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence",
		Name:      "slot_acquisitions_total",
		Help:      "Concurrency slot acquisition attempts by manager version and outcome.",
	}, []string{"version", "outcome"})

	// ActiveSlots — текущая занятость лимитов.
	// Обновляется сэмплером в cadence-sweeper.
	ActiveSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cadence",
		Name:      "active_slots",
		Help:      "Currently occupied concurrency slots per limit.",
	}, []string{"version", "limit"})

	// EventsEmittedTotal — счётчик опубликованных событий по имени.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence",
		Name:      "events_emitted_total",
		Help:      "Orchestration events published to the bus.",
	}, []string{"event"})
)
