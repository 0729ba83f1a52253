package orchestration

import (
	"context"
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// Rule — правило оркестрации.
//
// Правила stateless: всё необходимое они читают из Transition и
// пишут туда же. Правило может пропустить переход без изменений,
// переписать предложенное состояние (последующие правила видят
// переписанную версию), отклонить переход или вернуть WAIT.
//
// BeforeTransition вызывается до коммита; ошибка из него прерывает
// весь переход (ABORT). AfterTransition вызывается после коммита
// только у правил, чей BeforeTransition отработал; его ошибки
// логируются и не откатывают уже зафиксированный переход.
type Rule interface {
	// Name — имя правила для логов и причин отклонения.
	Name() string

	// Applies — интересует ли правило переход from → to.
	// from пустой для первого состояния run.
	Applies(from, to domain.StateType) bool

	// BeforeTransition — хук до коммита.
	BeforeTransition(ctx context.Context, t *Transition) error

	// AfterTransition — хук после коммита (side effects).
	AfterTransition(ctx context.Context, t *Transition) error
}

// Transition — контекст одного перехода, передаваемый правилам.
type Transition struct {
	// Run — run, чьё состояние меняется. Правила могут менять
	// счётчики run (RunCount); изменения попадают в коммит.
	Run *domain.Run

	// Current — текущее состояние run (nil для первого перехода).
	Current *domain.State

	// Proposed — предложенное состояние. Правила могут его
	// переписать через RewriteProposed.
	Proposed *domain.State

	// Force — административный override (конвейер пропущен целиком,
	// правила его не видят; поле оставлено для after-хуков).
	Force bool

	status     Status
	reason     string
	rejectedBy string
	retryAfter time.Duration
	cleanups   []func(context.Context) error
}

// CurrentType возвращает тип текущего состояния или "" для нового run.
func (t *Transition) CurrentType() domain.StateType {
	if t.Current == nil {
		return ""
	}
	return t.Current.Type
}

// RewriteProposed заменяет предложенное состояние.
// Последующие правила в этом же проходе видят замену.
func (t *Transition) RewriteProposed(s *domain.State) {
	t.Proposed = s
}

// Reject отклоняет переход с причиной.
func (t *Transition) Reject(rule, reason string) {
	t.status = StatusReject
	t.rejectedBy = rule
	t.reason = reason
}

// Wait сигнализирует, что ресурс недоступен и вызывающему стоит
// повторить попытку после after.
func (t *Transition) Wait(rule, reason string, after time.Duration) {
	t.status = StatusWait
	t.rejectedBy = rule
	t.reason = reason
	t.retryAfter = after
}

// OnRollback регистрирует компенсацию побочного эффекта before-хука
// (например, освобождение занятых слотов). Компенсации выполняются
// в обратном порядке, если переход в итоге не зафиксирован.
func (t *Transition) OnRollback(fn func(context.Context) error) {
	t.cleanups = append(t.cleanups, fn)
}

// decided возвращает true, если какое-то правило уже решило судьбу
// перехода и конвейер нужно остановить.
func (t *Transition) decided() bool {
	return t.status == StatusReject || t.status == StatusWait
}

// rollback выполняет зарегистрированные компенсации в обратном порядке.
func (t *Transition) rollback(ctx context.Context) []error {
	var errs []error
	for i := len(t.cleanups) - 1; i >= 0; i-- {
		if err := t.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.cleanups = nil
	return errs
}
