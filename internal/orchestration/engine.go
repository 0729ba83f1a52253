package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/events"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// Store — доступ движка к хранилищу runs.
//
// Реализация: repo.RunRepo. CommitTransition обязан выполнять
// вставку состояния и обновление run одной транзакцией с CAS по
// expectedVersion; при конфликте версий — repo.ErrVersionConflict.
type Store interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetState(ctx context.Context, id uuid.UUID) (*domain.State, error)
	CommitTransition(ctx context.Context, run *domain.Run, state *domain.State, expectedVersion int) error
}

// Engine — движок переходов состояний.
//
// Единственная точка записи состояний run: все переходы, включая
// привилегированные (cancel, force), идут через ProposeState.
type Engine struct {
	store   Store
	rules   []Rule
	emitter *events.Emitter
	logger  *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	Store Store

	// Rules — конвейер правил. Обычно CorePolicy(slots).
	Rules []Rule

	// Emitter — эмиттер событий (nil — события не публикуются).
	Emitter *events.Emitter

	Logger *slog.Logger
}

// NewEngine создаёт Engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:   cfg.Store,
		rules:   cfg.Rules,
		emitter: cfg.Emitter,
		logger:  logger,
	}
}

// ProposeState предлагает движку перевести run в состояние proposed.
//
// Результат описывает исход: ACCEPT с принятым состоянием (возможно,
// переписанным правилами), REJECT с причиной, WAIT с рекомендуемой
// задержкой или ABORT при внутренней ошибке конвейера.
//
// force=true пропускает конвейер целиком (административный override
// для вывода run из финальных состояний и ручного вмешательства).
//
// Ошибки: ErrRunNotFound, ErrInvalidState, ErrStateConflict (нужно
// перечитать run и повторить), обёрнутый ErrAborted.
func (e *Engine) ProposeState(ctx context.Context, runID uuid.UUID, proposed *domain.State, force bool) (*Result, error) {
	if proposed == nil || !proposed.Type.IsValid() {
		return nil, ErrInvalidState
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run: %w", err)
	}

	var current *domain.State
	if run.CurrentStateID != nil {
		current, err = e.store.GetState(ctx, *run.CurrentStateID)
		if err != nil {
			return nil, fmt.Errorf("load current state: %w", err)
		}
	}

	t := &Transition{
		Run:      run,
		Current:  current,
		Proposed: proposed,
		Force:    force,
	}

	var fired []Rule
	if !force {
		for _, r := range e.rules {
			if !r.Applies(t.CurrentType(), t.Proposed.Type) {
				continue
			}

			if err := r.BeforeTransition(ctx, t); err != nil {
				e.rollback(ctx, t)
				e.count(run, StatusAbort)
				e.logger.Error("orchestration rule failed",
					"run_id", run.ID,
					"rule", r.Name(),
					"error", err,
				)
				return &Result{Status: StatusAbort, Reason: r.Name()},
					fmt.Errorf("%w: rule %s: %v", ErrAborted, r.Name(), err)
			}
			fired = append(fired, r)

			if t.decided() {
				break
			}
		}

		switch t.status {
		case StatusReject:
			e.rollback(ctx, t)
			e.count(run, StatusReject)
			e.logger.Debug("transition rejected",
				"run_id", run.ID,
				"rule", t.rejectedBy,
				"reason", t.reason,
			)
			return &Result{Status: StatusReject, State: current, Reason: t.reason}, nil

		case StatusWait:
			e.rollback(ctx, t)
			e.count(run, StatusWait)
			return &Result{Status: StatusWait, Reason: t.reason, RetryAfter: t.retryAfter}, nil
		}
	}

	// Коммит: новая запись истории + CAS указателя текущего состояния.
	expected := run.StateVersion
	stateID := t.Proposed.ID
	run.CurrentStateID = &stateID
	run.CurrentStateType = t.Proposed.Type
	run.StateVersion++

	if err := e.store.CommitTransition(ctx, run, t.Proposed, expected); err != nil {
		e.rollback(ctx, t)
		if errors.Is(err, repo.ErrVersionConflict) {
			e.count(run, "CONFLICT")
			return nil, fmt.Errorf("%w: run %s", ErrStateConflict, run.ID)
		}
		// Повторная доставка уже принятого перехода. Правило
		// prevent-duplicate-transitions видит только текущее состояние,
		// поэтому дубликат, пришедший после промежуточного перехода,
		// ловится историей при коммите. Исход тот же — REJECT.
		if errors.Is(err, repo.ErrDuplicateState) {
			e.count(run, StatusReject)
			e.logger.Debug("transition rejected",
				"run_id", run.ID,
				"rule", "duplicate-state-id",
				"reason", "state was already accepted",
			)
			return &Result{Status: StatusReject, State: current, Reason: "state was already accepted"}, nil
		}
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	// After-хуки: переход уже зафиксирован, ошибки только логируются.
	for _, r := range fired {
		if err := r.AfterTransition(ctx, t); err != nil {
			e.logger.Warn("after-transition hook failed",
				"run_id", run.ID,
				"rule", r.Name(),
				"error", err,
			)
		}
	}

	e.emitter.Emit(events.RunStateChange(run, current, t.Proposed))
	e.count(run, StatusAccept)

	e.logger.Info("state transition accepted",
		"run_id", run.ID,
		"from", t.CurrentType(),
		"to", t.Proposed.Type,
		"state_name", t.Proposed.Name,
		"forced", force,
	)

	return &Result{Status: StatusAccept, State: t.Proposed}, nil
}

// rollback выполняет компенсации правил и логирует их ошибки.
func (e *Engine) rollback(ctx context.Context, t *Transition) {
	for _, err := range t.rollback(ctx) {
		e.logger.Warn("transition rollback failed",
			"run_id", t.Run.ID,
			"error", err,
		)
	}
}

// count инкрементирует метрику переходов.
func (e *Engine) count(run *domain.Run, outcome Status) {
	telemetry.TransitionsTotal.WithLabelValues(string(run.Kind), string(outcome)).Inc()
}
