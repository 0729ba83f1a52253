package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict — optimistic lock: версия состояния run
	// изменилась между чтением и коммитом перехода.
	ErrVersionConflict = errors.New("state version conflict")

	// ErrDuplicateState — состояние с таким ID уже есть в истории run.
	// Признак повторной доставки того же перехода.
	ErrDuplicateState = errors.New("state already persisted")
)
