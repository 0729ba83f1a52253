package orchestration

import "errors"

// Ошибки движка.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidState — предложенное состояние некорректно
	// (nil или неизвестный тип).
	ErrInvalidState = errors.New("invalid proposed state")

	// ErrStateConflict — optimistic lock: текущее состояние run
	// изменилось между чтением и коммитом. Вызывающий перечитывает
	// run и повторяет переход.
	ErrStateConflict = errors.New("state version conflict")

	// ErrAborted — правило упало с неожиданной ошибкой, переход
	// прерван, ничего не записано.
	ErrAborted = errors.New("orchestration aborted")
)
