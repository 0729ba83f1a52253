package orchestration

import (
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// Status — исход оркестрации перехода.
type Status string

const (
	// StatusAccept — переход принят и зафиксирован.
	// Принятое состояние может отличаться от предложенного:
	// правила могут его переписать.
	StatusAccept Status = "ACCEPT"

	// StatusReject — правило наложило вето на переход.
	StatusReject Status = "REJECT"

	// StatusWait — ресурс недоступен (нет слота), вызывающий
	// повторяет попытку сам после RetryAfter.
	StatusWait Status = "WAIT"

	// StatusAbort — неожиданная ошибка внутри конвейера,
	// переход прерван, ничего не записано.
	StatusAbort Status = "ABORT"
)

// Result — результат оркестрации перехода.
type Result struct {
	// Status — исход: ACCEPT, REJECT, WAIT или ABORT.
	Status Status `json:"status"`

	// State — принятое состояние (для ACCEPT).
	// Для REJECT — текущее состояние run, если оно известно.
	State *domain.State `json:"state,omitempty"`

	// Reason — причина REJECT/WAIT/ABORT.
	Reason string `json:"reason,omitempty"`

	// RetryAfter — рекомендуемая задержка перед повтором (для WAIT).
	// Кривая backoff — забота вызывающего, это только подсказка.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Accepted возвращает true, если переход принят.
func (r *Result) Accepted() bool {
	return r.Status == StatusAccept
}
