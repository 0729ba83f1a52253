package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cadence/internal/domain"
)

// RunRepo — репозиторий runs и append-only истории их состояний.
//
// Схема (концептуально):
//
//	runs(id, name, kind, parent_run_id, tags text[], run_count,
//	     max_retries, retry_delay_sec, current_state_id,
//	     current_state_type, state_version, created_at, updated_at)
//	run_states(id, run_id, type, name, timestamp, message, data_ref,
//	     details jsonb) — append-only, записи никогда не изменяются.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (id, name, kind, parent_run_id, tags, run_count,
		                  max_retries, retry_delay_sec, state_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Name,
		run.Kind,
		nullUUID(run.ParentRunID),
		run.Tags,
		run.RunCount,
		run.MaxRetries,
		int(run.RetryDelay.Seconds()),
		run.StateVersion,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, name, kind, parent_run_id, tags, run_count, max_retries,
		       retry_delay_sec, current_state_id, current_state_type,
		       state_version, created_at, updated_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetState возвращает состояние по ID.
func (r *RunRepo) GetState(ctx context.Context, id uuid.UUID) (*domain.State, error) {
	query := `
		SELECT id, type, name, timestamp, message, data_ref, details
		FROM run_states
		WHERE id = $1
	`
	return scanState(r.pool.QueryRow(ctx, query, id))
}

// ListStates возвращает историю состояний run в порядке принятия.
func (r *RunRepo) ListStates(ctx context.Context, runID uuid.UUID) ([]domain.State, error) {
	query := `
		SELECT id, type, name, timestamp, message, data_ref, details
		FROM run_states
		WHERE run_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []domain.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// ListByStateType возвращает runs в указанном типе состояния,
// не обновлявшиеся с olderThan. Используется maintenance-джобами.
func (r *RunRepo) ListByStateType(ctx context.Context, t domain.StateType, olderThan time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT id, name, kind, parent_run_id, tags, run_count, max_retries,
		       retry_delay_sec, current_state_id, current_state_type,
		       state_version, created_at, updated_at
		FROM runs
		WHERE current_state_type = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, t, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by state type: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListScheduledBefore возвращает SCHEDULED runs, чьё scheduled_time
// раньше cutoff и которые ещё не помечены как Late. Фильтр идёт по
// самому scheduled_time из текущего состояния: недавно обновлённый,
// но давно просроченный run тоже попадает в выборку.
func (r *RunRepo) ListScheduledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT r.id, r.name, r.kind, r.parent_run_id, r.tags, r.run_count,
		       r.max_retries, r.retry_delay_sec, r.current_state_id,
		       r.current_state_type, r.state_version, r.created_at, r.updated_at
		FROM runs r
		JOIN run_states s ON s.id = r.current_state_id
		WHERE r.current_state_type = $1
		  AND s.name <> 'Late'
		  AND (s.details->>'scheduled_time')::timestamptz <= $2
		ORDER BY (s.details->>'scheduled_time')::timestamptz ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.StateTypeScheduled, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CommitTransition фиксирует принятый переход одной транзакцией:
// вставляет новую запись истории и обновляет указатель текущего
// состояния run с CAS по expectedVersion.
//
// Если версия ушла вперёд (конкурирующий переход успел раньше),
// возвращает ErrVersionConflict и ничего не записывает. Если состояние
// с таким ID уже в истории — ErrDuplicateState.
func (r *RunRepo) CommitTransition(ctx context.Context, run *domain.Run, state *domain.State, expectedVersion int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	detailsJSON, err := json.Marshal(state.Details)
	if err != nil {
		return fmt.Errorf("marshal state details: %w", err)
	}

	insertState := `
		INSERT INTO run_states (id, run_id, type, name, timestamp, message, data_ref, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, insertState,
		state.ID,
		run.ID,
		state.Type,
		state.Name,
		state.Timestamp,
		nullString(state.Message),
		nullRef(state.Data),
		detailsJSON,
	)
	if err != nil {
		// Повторная доставка уже принятого перехода: история
		// append-only, первичный ключ run_states ловит дубликат.
		if isUniqueViolation(err) {
			return ErrDuplicateState
		}
		return fmt.Errorf("insert state: %w", err)
	}

	updateRun := `
		UPDATE runs
		SET current_state_id = $2, current_state_type = $3,
		    state_version = state_version + 1, run_count = $4, updated_at = now()
		WHERE id = $1 AND state_version = $5
	`
	result, err := tx.Exec(ctx, updateRun,
		run.ID,
		state.ID,
		state.Type,
		run.RunCount,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Helpers ---

// scanRun сканирует строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var retryDelaySec int
	var stateType *string

	err := row.Scan(
		&run.ID,
		&run.Name,
		&run.Kind,
		&run.ParentRunID,
		&run.Tags,
		&run.RunCount,
		&run.MaxRetries,
		&retryDelaySec,
		&run.CurrentStateID,
		&stateType,
		&run.StateVersion,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.RetryDelay = time.Duration(retryDelaySec) * time.Second
	if stateType != nil {
		run.CurrentStateType = domain.StateType(*stateType)
	}
	return &run, nil
}

// scanState сканирует строку в State.
func scanState(row pgx.Row) (*domain.State, error) {
	var st domain.State
	var message *string
	var dataRef *string
	var detailsJSON []byte

	err := row.Scan(
		&st.ID,
		&st.Type,
		&st.Name,
		&st.Timestamp,
		&message,
		&dataRef,
		&detailsJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}

	if message != nil {
		st.Message = *message
	}
	if dataRef != nil {
		ref := domain.ResultRef(*dataRef)
		st.Data = &ref
	}
	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &st.Details); err != nil {
			return nil, fmt.Errorf("unmarshal state details: %w", err)
		}
	}
	return &st, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullRef возвращает nil для отсутствующей ссылки на результат.
func nullRef(ref *domain.ResultRef) *string {
	if ref == nil {
		return nil
	}
	s := string(*ref)
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
