package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/domain"
)

// LimitRepo — репозиторий лимитов конкурентности v1.
//
// Схема:
//
//	concurrency_limits(id, tag unique, "limit", active_slots text[],
//	                   created_at, updated_at)
//
// active_slots хранит task_run_id владельцев как текст.
type LimitRepo struct {
	pool *pgxpool.Pool
}

// NewLimitRepo создаёт новый LimitRepo.
func NewLimitRepo(pool *pgxpool.Pool) *LimitRepo {
	return &LimitRepo{pool: pool}
}

// Create создаёт лимит.
func (r *LimitRepo) Create(ctx context.Context, lim *domain.ConcurrencyLimit) error {
	query := `
		INSERT INTO concurrency_limits (id, tag, "limit", active_slots, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		lim.ID,
		lim.Tag,
		lim.Limit,
		occupantStrings(lim.ActiveSlots),
		lim.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert limit: %w", err)
	}
	return nil
}

// GetByTag возвращает лимит по тегу.
func (r *LimitRepo) GetByTag(ctx context.Context, tag string) (*domain.ConcurrencyLimit, error) {
	query := `
		SELECT id, tag, "limit", active_slots, created_at, updated_at
		FROM concurrency_limits
		WHERE tag = $1
	`
	return scanLimit(r.pool.QueryRow(ctx, query, tag))
}

// List возвращает все лимиты.
func (r *LimitRepo) List(ctx context.Context) ([]domain.ConcurrencyLimit, error) {
	query := `
		SELECT id, tag, "limit", active_slots, created_at, updated_at
		FROM concurrency_limits
		ORDER BY tag ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	defer rows.Close()

	var limits []domain.ConcurrencyLimit
	for rows.Next() {
		lim, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		limits = append(limits, *lim)
	}
	return limits, rows.Err()
}

// Delete удаляет лимит по тегу. Занятые слоты пропадают вместе с ним.
func (r *LimitRepo) Delete(ctx context.Context, tag string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM concurrency_limits WHERE tag = $1`, tag)
	if err != nil {
		return fmt.Errorf("delete limit: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Acquire атомарно занимает по слоту в каждом лимите с тегом из tags.
//
// Всё-или-ничего: строки блокируются FOR UPDATE в порядке возрастания
// id (канонический порядок против deadlock между конкурирующими
// multi-limit acquire); если хотя бы один лимит заполнен, транзакция
// откатывается и возвращается *concurrency.CapacityError.
//
// Теги без лимитов игнорируются. Повторный acquire того же occupant —
// no-op (идемпотентность).
func (r *LimitRepo) Acquire(ctx context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	limits, err := lockLimits(ctx, tx, tags)
	if err != nil {
		return nil, err
	}

	var changed []domain.ConcurrencyLimit
	for i := range limits {
		lim := &limits[i]
		if lim.Holds(occupant) {
			continue
		}
		if !lim.Acquire(occupant) {
			return nil, &concurrency.CapacityError{Limit: lim.Tag}
		}
		changed = append(changed, *lim)
	}

	if err := updateSlots(ctx, tx, changed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return limits, nil
}

// Release освобождает слоты occupant во всех лимитах tags.
// Идемпотентен: отсутствие occupant — не ошибка.
func (r *LimitRepo) Release(ctx context.Context, tags []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	limits, err := lockLimits(ctx, tx, tags)
	if err != nil {
		return nil, err
	}

	var changed []domain.ConcurrencyLimit
	for i := range limits {
		lim := &limits[i]
		if lim.Release(occupant) {
			changed = append(changed, *lim)
		}
	}

	if err := updateSlots(ctx, tx, changed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return limits, nil
}

// --- Helpers ---

// lockLimits читает лимиты по тегам с блокировкой строк.
// ORDER BY id задаёт канонический порядок блокировок.
func lockLimits(ctx context.Context, tx pgx.Tx, tags []string) ([]domain.ConcurrencyLimit, error) {
	query := `
		SELECT id, tag, "limit", active_slots, created_at, updated_at
		FROM concurrency_limits
		WHERE tag = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, tags)
	if err != nil {
		return nil, fmt.Errorf("lock limits: %w", err)
	}
	defer rows.Close()

	var limits []domain.ConcurrencyLimit
	for rows.Next() {
		lim, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		limits = append(limits, *lim)
	}
	return limits, rows.Err()
}

// updateSlots сохраняет изменённые active_slots.
func updateSlots(ctx context.Context, tx pgx.Tx, changed []domain.ConcurrencyLimit) error {
	for _, lim := range changed {
		_, err := tx.Exec(ctx,
			`UPDATE concurrency_limits SET active_slots = $2, updated_at = now() WHERE id = $1`,
			lim.ID,
			occupantStrings(lim.ActiveSlots),
		)
		if err != nil {
			return fmt.Errorf("update limit %s: %w", lim.Tag, err)
		}
	}
	return nil
}

// scanLimit сканирует строку в ConcurrencyLimit.
func scanLimit(row pgx.Row) (*domain.ConcurrencyLimit, error) {
	var lim domain.ConcurrencyLimit
	var occupants []string

	err := row.Scan(
		&lim.ID,
		&lim.Tag,
		&lim.Limit,
		&occupants,
		&lim.CreatedAt,
		&lim.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan limit: %w", err)
	}

	for _, s := range occupants {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse occupant %q: %w", s, err)
		}
		lim.ActiveSlots = append(lim.ActiveSlots, id)
	}
	return &lim, nil
}

// occupantStrings сериализует владельцев слотов для text[].
func occupantStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// isUniqueViolation возвращает true для нарушения уникальности (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
