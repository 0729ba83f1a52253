package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/domain"
)

// defaultRetryDelay — задержка перед повторной попыткой task run,
// если у run не задана своя.
const defaultRetryDelay = 30 * time.Second

// SlotGranter — неблокирующий доступ к слотам v1 для правил конвейера.
// Реализация: concurrency.Manager.
type SlotGranter interface {
	TryAcquire(ctx context.Context, tags []string, occupant uuid.UUID) error
	Release(ctx context.Context, tags []string, occupant uuid.UUID) error
}

// noopRule — база для правил без одного из хуков.
type noopRule struct{}

func (noopRule) BeforeTransition(context.Context, *Transition) error { return nil }
func (noopRule) AfterTransition(context.Context, *Transition) error  { return nil }

// --- PreventDuplicateTransitions ---

// PreventDuplicateTransitions отклоняет повторное предложение того же
// перехода: то же состояние по ID или тот же TransitionID, что у
// текущего состояния. Защита от ретраев клиентов и повторной доставки
// сообщений.
type PreventDuplicateTransitions struct{ noopRule }

func (PreventDuplicateTransitions) Name() string { return "prevent-duplicate-transitions" }

func (PreventDuplicateTransitions) Applies(from, to domain.StateType) bool { return true }

func (r PreventDuplicateTransitions) BeforeTransition(_ context.Context, t *Transition) error {
	if t.Current == nil {
		return nil
	}
	if t.Proposed.ID == t.Current.ID {
		t.Reject(r.Name(), "state was already accepted")
		return nil
	}
	if id := t.Proposed.Details.TransitionID; id != "" && id == t.Current.Details.TransitionID {
		t.Reject(r.Name(), fmt.Sprintf("transition %q was already applied", id))
	}
	return nil
}

// --- EnforceCancellingExit ---

// EnforceCancellingExit — единственный допустимый выход из CANCELLING
// это CANCELLED.
type EnforceCancellingExit struct{ noopRule }

func (EnforceCancellingExit) Name() string { return "enforce-cancelling-exit" }

func (EnforceCancellingExit) Applies(from, to domain.StateType) bool {
	return from == domain.StateTypeCancelling
}

func (r EnforceCancellingExit) BeforeTransition(_ context.Context, t *Transition) error {
	if t.Proposed.Type != domain.StateTypeCancelled {
		t.Reject(r.Name(), fmt.Sprintf("run is cancelling, cannot enter %s", t.Proposed.Type))
	}
	return nil
}

// --- PreventTerminalTransitions ---

// PreventTerminalTransitions отклоняет любые переходы из финального
// состояния. Обойти можно только административным force, который
// пропускает конвейер целиком.
type PreventTerminalTransitions struct{ noopRule }

func (PreventTerminalTransitions) Name() string { return "prevent-terminal-transitions" }

func (PreventTerminalTransitions) Applies(from, to domain.StateType) bool {
	return from.IsTerminal()
}

func (r PreventTerminalTransitions) BeforeTransition(_ context.Context, t *Transition) error {
	t.Reject(r.Name(), fmt.Sprintf("run already finished in %s", t.CurrentType()))
	return nil
}

// --- EnforcePauseEntry ---

// EnforcePauseEntry — PAUSED достижим только из RUNNING или PENDING.
type EnforcePauseEntry struct{ noopRule }

func (EnforcePauseEntry) Name() string { return "enforce-pause-entry" }

func (EnforcePauseEntry) Applies(from, to domain.StateType) bool {
	return to == domain.StateTypePaused
}

func (r EnforcePauseEntry) BeforeTransition(_ context.Context, t *Transition) error {
	switch t.CurrentType() {
	case domain.StateTypeRunning, domain.StateTypePending:
		return nil
	default:
		t.Reject(r.Name(), fmt.Sprintf("cannot pause run in %s", t.CurrentType()))
		return nil
	}
}

// --- EnforcePauseExit ---

// EnforcePauseExit — из PAUSED можно только в RUNNING (resume)
// или CANCELLED.
type EnforcePauseExit struct{ noopRule }

func (EnforcePauseExit) Name() string { return "enforce-pause-exit" }

func (EnforcePauseExit) Applies(from, to domain.StateType) bool {
	return from == domain.StateTypePaused
}

func (r EnforcePauseExit) BeforeTransition(_ context.Context, t *Transition) error {
	switch t.Proposed.Type {
	case domain.StateTypeRunning, domain.StateTypeCancelled:
		return nil
	default:
		t.Reject(r.Name(), fmt.Sprintf("paused run can only resume or cancel, not enter %s", t.Proposed.Type))
		return nil
	}
}

// --- RetryFailedTaskRuns ---

// RetryFailedTaskRuns переписывает FAILED task run в SCHEDULED
// "AwaitingRetry", пока попытки не исчерпаны. Последующие правила
// видят уже переписанное состояние.
type RetryFailedTaskRuns struct{ noopRule }

func (RetryFailedTaskRuns) Name() string { return "retry-failed-task-runs" }

func (RetryFailedTaskRuns) Applies(from, to domain.StateType) bool {
	return from == domain.StateTypeRunning && to == domain.StateTypeFailed
}

func (r RetryFailedTaskRuns) BeforeTransition(_ context.Context, t *Transition) error {
	if !t.Run.IsTaskRun() || !t.Run.CanRetry() {
		return nil
	}

	delay := t.Run.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	retry := domain.AwaitingRetry(time.Now().UTC().Add(delay), t.Run.RunCount)
	retry.Message = t.Proposed.Message
	t.RewriteProposed(retry)
	return nil
}

// --- SecureTaskSlots ---

// SecureTaskSlots занимает слоты лимитов v1 при входе task run в
// RUNNING: по одному слоту в каждом лимите, чей тег есть у run,
// атомарно всё-или-ничего. Нет свободного слота — WAIT с подсказкой
// задержки; движок не блокируется, повтор за вызывающим.
type SecureTaskSlots struct {
	noopRule
	Slots SlotGranter
}

func (SecureTaskSlots) Name() string { return "secure-task-slots" }

func (SecureTaskSlots) Applies(from, to domain.StateType) bool {
	return to == domain.StateTypeRunning
}

func (r SecureTaskSlots) BeforeTransition(ctx context.Context, t *Transition) error {
	if r.Slots == nil || !t.Run.IsTaskRun() || len(t.Run.Tags) == 0 {
		return nil
	}

	run := t.Run
	err := r.Slots.TryAcquire(ctx, run.Tags, run.ID)
	if err == nil {
		// Если переход в итоге не зафиксируется, слоты нужно вернуть.
		t.OnRollback(func(ctx context.Context) error {
			return r.Slots.Release(ctx, run.Tags, run.ID)
		})
		return nil
	}

	if ce, ok := concurrency.AsCapacityError(err); ok {
		t.Wait(r.Name(), fmt.Sprintf("concurrency limit %q is full", ce.Limit), ce.RetryAfter)
		return nil
	}
	return err
}

// --- IncrementRunCount ---

// IncrementRunCount увеличивает счётчик попыток при входе в RUNNING.
type IncrementRunCount struct{ noopRule }

func (IncrementRunCount) Name() string { return "increment-run-count" }

func (IncrementRunCount) Applies(from, to domain.StateType) bool {
	return to == domain.StateTypeRunning
}

func (IncrementRunCount) BeforeTransition(_ context.Context, t *Transition) error {
	t.Run.RunCount++
	return nil
}

// --- ReleaseTaskSlots ---

// ReleaseTaskSlots освобождает слоты v1 при выходе task run из RUNNING.
// Работает после коммита: переход уже принят, release идемпотентен —
// даже если событие придёт дважды, слоты не уйдут в минус.
type ReleaseTaskSlots struct {
	noopRule
	Slots SlotGranter
}

func (ReleaseTaskSlots) Name() string { return "release-task-slots" }

func (ReleaseTaskSlots) Applies(from, to domain.StateType) bool {
	return from == domain.StateTypeRunning && to != domain.StateTypeRunning
}

func (r ReleaseTaskSlots) AfterTransition(ctx context.Context, t *Transition) error {
	if r.Slots == nil || !t.Run.IsTaskRun() || len(t.Run.Tags) == 0 {
		return nil
	}
	return r.Slots.Release(ctx, t.Run.Tags, t.Run.ID)
}

// CorePolicy возвращает конвейер правил в фиксированном порядке.
//
// Порядок существенен: валидационные правила идут раньше переписывающих,
// захват слотов — раньше инкремента счётчика попыток. Правила видят
// переписанные состояния предыдущих правил в рамках одного прохода.
func CorePolicy(slots SlotGranter) []Rule {
	return []Rule{
		PreventDuplicateTransitions{},
		EnforceCancellingExit{},
		PreventTerminalTransitions{},
		EnforcePauseEntry{},
		EnforcePauseExit{},
		RetryFailedTaskRuns{},
		SecureTaskSlots{Slots: slots},
		IncrementRunCount{},
		ReleaseTaskSlots{Slots: slots},
	}
}
