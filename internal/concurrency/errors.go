package concurrency

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки менеджеров слотов.
var (
	// ErrLimitNotFound — лимит с таким тегом/именем не существует.
	ErrLimitNotFound = errors.New("concurrency limit not found")

	// ErrAcquireTimeout — блокирующий acquire не уложился в timeout.
	ErrAcquireTimeout = errors.New("slot acquisition timed out")

	// ErrInvalidSlots — запрошено некорректное число слотов.
	ErrInvalidSlots = errors.New("requested slots must be positive")
)

// CapacityError — свободных слотов нет.
//
// Возвращается синхронно в неблокирующем режиме; RetryAfter — подсказка,
// через сколько имеет смысл повторить (кривая backoff — дело вызывающего).
type CapacityError struct {
	// Limit — имя или тег лимита, на котором не хватило слотов.
	Limit string

	// RetryAfter — рекомендуемая задержка перед повтором.
	RetryAfter time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no free slots on concurrency limit %q", e.Limit)
}

// AsCapacityError возвращает CapacityError из цепочки err, если он там есть.
func AsCapacityError(err error) (*CapacityError, bool) {
	var ce *CapacityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
