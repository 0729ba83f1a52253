package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestration"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// Параметры по умолчанию.
const (
	// defaultLateAfter — насколько run должен просрочить scheduled_time,
	// чтобы считаться Late.
	defaultLateAfter = 15 * time.Second

	// defaultCancellingTimeout — сколько run может висеть в CANCELLING,
	// прежде чем sweeper добьёт его до CANCELLED.
	defaultCancellingTimeout = 5 * time.Minute

	// defaultBatchSize — runs за один проход.
	defaultBatchSize = 100
)

// RunStore — доступ sweeper'а к runs.
// Реализация: repo.RunRepo.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetState(ctx context.Context, id uuid.UUID) (*domain.State, error)
	ListByStateType(ctx context.Context, t domain.StateType, olderThan time.Time, limit int) ([]domain.Run, error)
	ListScheduledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error)
}

// StateProposer — доступ sweeper'а к движку переходов.
// Реализация: orchestration.Engine.
type StateProposer interface {
	ProposeState(ctx context.Context, runID uuid.UUID, proposed *domain.State, force bool) (*orchestration.Result, error)
}

// LimitStore — доступ sweeper'а к v1-лимитам.
// Реализация: repo.LimitRepo.
type LimitStore interface {
	List(ctx context.Context) ([]domain.ConcurrencyLimit, error)
	Release(ctx context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error)
}

// LimitV2Store — доступ sweeper'а к v2-лимитам.
// Реализация: repo.LimitV2Repo.
type LimitV2Store interface {
	List(ctx context.Context) ([]domain.ConcurrencyLimitV2, error)
}

// Maintenance — фоновые джобы обслуживания оркестрации.
type Maintenance struct {
	runs     RunStore
	engine   StateProposer
	limits   LimitStore
	limitsV2 LimitV2Store
	logger   *slog.Logger

	lateAfter         time.Duration
	cancellingTimeout time.Duration
	batchSize         int

	cron *cron.Cron
}

// Config — конфигурация Maintenance.
type Config struct {
	Runs     RunStore
	Engine   StateProposer
	Limits   LimitStore
	LimitsV2 LimitV2Store
	Logger   *slog.Logger

	// LateAfter — допуск просрочки перед пометкой Late (default: 15s).
	LateAfter time.Duration

	// CancellingTimeout — таймаут сворачивания CANCELLING (default: 5m).
	CancellingTimeout time.Duration

	// BatchSize — runs за один проход (default: 100).
	BatchSize int
}

// New создаёт Maintenance.
func New(cfg Config) *Maintenance {
	lateAfter := cfg.LateAfter
	if lateAfter <= 0 {
		lateAfter = defaultLateAfter
	}

	cancellingTimeout := cfg.CancellingTimeout
	if cancellingTimeout <= 0 {
		cancellingTimeout = defaultCancellingTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Maintenance{
		runs:              cfg.Runs,
		engine:            cfg.Engine,
		limits:            cfg.Limits,
		limitsV2:          cfg.LimitsV2,
		logger:            logger,
		lateAfter:         lateAfter,
		cancellingTimeout: cancellingTimeout,
		batchSize:         batchSize,
	}
}

// Start регистрирует джобы и запускает расписание.
// Останавливается через Stop.
func (m *Maintenance) Start(ctx context.Context) error {
	m.cron = cron.New()

	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{"@every 15s", "mark-late-runs", m.MarkLateRuns},
		{"@every 1m", "cancellation-cleanup", m.CancellationCleanup},
		{"@every 1m", "reap-orphaned-slots", m.ReapOrphanedSlots},
		{"@every 30s", "sample-slot-gauges", m.SampleSlotGauges},
	}

	for _, j := range jobs {
		job := j
		_, err := m.cron.AddFunc(job.spec, func() {
			if err := job.run(ctx); err != nil {
				m.logger.Error("maintenance job failed",
					"job", job.name,
					"error", err,
				)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule job %s: %w", job.name, err)
		}
	}

	m.cron.Start()
	m.logger.Info("maintenance jobs started", "jobs", len(jobs))
	return nil
}

// Stop останавливает расписание и дожидается текущих джоб.
func (m *Maintenance) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// MarkLateRuns помечает просроченные SCHEDULED runs состоянием "Late".
//
// Run считается просроченным, если scheduled_time + LateAfter в прошлом,
// а run всё ещё в SCHEDULED. Пометка — обычный переход через движок,
// имя состояния меняется на "Late", scheduled_time сохраняется.
func (m *Maintenance) MarkLateRuns(ctx context.Context) error {
	now := time.Now().UTC()

	// Выборка по scheduled_time, не по updated_at: просроченный run
	// остаётся просроченным, даже если его только что трогали.
	runs, err := m.runs.ListScheduledBefore(ctx, now.Add(-m.lateAfter), m.batchSize)
	if err != nil {
		return fmt.Errorf("list scheduled runs: %w", err)
	}

	var marked int
	for i := range runs {
		run := &runs[i]
		if run.CurrentStateID == nil {
			continue
		}

		state, err := m.runs.GetState(ctx, *run.CurrentStateID)
		if err != nil {
			m.logger.Error("failed to load run state", "run_id", run.ID, "error", err)
			continue
		}

		// Уже помечен — не трогаем.
		if state.Name == "Late" {
			continue
		}
		if state.Details.ScheduledTime == nil {
			continue
		}
		if now.Before(state.Details.ScheduledTime.Add(m.lateAfter)) {
			continue
		}

		res, err := m.engine.ProposeState(ctx, run.ID, domain.Late(*state.Details.ScheduledTime), false)
		if err != nil {
			m.logger.Error("failed to mark run late", "run_id", run.ID, "error", err)
			continue
		}
		if res.Accepted() {
			marked++
		}
	}

	if marked > 0 {
		m.logger.Info("marked late runs", "count", marked)
	}
	return nil
}

// CancellationCleanup добивает зависшие CANCELLING runs до CANCELLED.
// Run, не свернувшийся за CancellingTimeout, считается потерянным.
func (m *Maintenance) CancellationCleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cancellingTimeout)

	runs, err := m.runs.ListByStateType(ctx, domain.StateTypeCancelling, cutoff, m.batchSize)
	if err != nil {
		return fmt.Errorf("list cancelling runs: %w", err)
	}

	var cleaned int
	for i := range runs {
		run := &runs[i]

		res, err := m.engine.ProposeState(ctx, run.ID,
			domain.Cancelled("cancellation timed out"), false)
		if err != nil {
			m.logger.Error("failed to finish cancellation", "run_id", run.ID, "error", err)
			continue
		}
		if res.Accepted() {
			cleaned++
		}
	}

	if cleaned > 0 {
		m.logger.Info("cleaned up stuck cancellations", "count", cleaned)
	}
	return nil
}

// ReapOrphanedSlots освобождает v1-слоты, чьи владельцы уже финальны
// или удалены. Осиротевшие слоты появляются, если процесс упал между
// захватом слота и коммитом перехода из RUNNING.
func (m *Maintenance) ReapOrphanedSlots(ctx context.Context) error {
	limits, err := m.limits.List(ctx)
	if err != nil {
		return fmt.Errorf("list concurrency limits: %w", err)
	}

	var reaped int
	for i := range limits {
		lim := &limits[i]

		for _, occupant := range lim.ActiveSlots {
			run, err := m.runs.GetRun(ctx, occupant)
			switch {
			case err == nil && !run.IsFinished():
				continue
			case err != nil && !isNotFound(err):
				m.logger.Error("failed to check slot occupant",
					"limit", lim.Tag,
					"task_run_id", occupant,
					"error", err,
				)
				continue
			}

			if _, err := m.limits.Release(ctx, []string{lim.Tag}, occupant); err != nil {
				m.logger.Error("failed to reap orphaned slot",
					"limit", lim.Tag,
					"task_run_id", occupant,
					"error", err,
				)
				continue
			}
			reaped++
		}
	}

	if reaped > 0 {
		m.logger.Info("reaped orphaned slots", "count", reaped)
	}
	return nil
}

// SampleSlotGauges обновляет gauge занятости слотов.
func (m *Maintenance) SampleSlotGauges(ctx context.Context) error {
	limits, err := m.limits.List(ctx)
	if err != nil {
		return fmt.Errorf("list concurrency limits: %w", err)
	}
	for i := range limits {
		telemetry.ActiveSlots.WithLabelValues("v1", limits[i].Tag).
			Set(float64(len(limits[i].ActiveSlots)))
	}

	limitsV2, err := m.limitsV2.List(ctx)
	if err != nil {
		return fmt.Errorf("list v2 concurrency limits: %w", err)
	}
	now := time.Now()
	for i := range limitsV2 {
		lim := &limitsV2[i]
		telemetry.ActiveSlots.WithLabelValues("v2", lim.Name).
			Set(float64(lim.Limit - lim.Available(now)))
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
