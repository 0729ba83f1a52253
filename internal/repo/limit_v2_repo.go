package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/domain"
)

// LimitV2Repo — репозиторий лимитов конкурентности v2.
//
// Схема:
//
//	concurrency_limits_v2(id, name unique, "limit", active_slots int,
//	    denied_slots int, avg_slots_occupied float8,
//	    slot_decay_per_second float8, created_at, updated_at)
type LimitV2Repo struct {
	pool *pgxpool.Pool
}

// NewLimitV2Repo создаёт новый LimitV2Repo.
func NewLimitV2Repo(pool *pgxpool.Pool) *LimitV2Repo {
	return &LimitV2Repo{pool: pool}
}

// Create создаёт лимит v2.
func (r *LimitV2Repo) Create(ctx context.Context, lim *domain.ConcurrencyLimitV2) error {
	query := `
		INSERT INTO concurrency_limits_v2
			(id, name, "limit", active_slots, denied_slots,
			 avg_slots_occupied, slot_decay_per_second, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		lim.ID,
		lim.Name,
		lim.Limit,
		lim.ActiveSlots,
		lim.DeniedSlots,
		lim.AvgSlotsOccupied,
		lim.SlotDecayPerSecond,
		lim.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert limit v2: %w", err)
	}
	return nil
}

// GetByName возвращает лимит по имени.
func (r *LimitV2Repo) GetByName(ctx context.Context, name string) (*domain.ConcurrencyLimitV2, error) {
	query := limitV2Select + ` WHERE name = $1`
	return scanLimitV2(r.pool.QueryRow(ctx, query, name))
}

// List возвращает все лимиты v2.
func (r *LimitV2Repo) List(ctx context.Context) ([]domain.ConcurrencyLimitV2, error) {
	rows, err := r.pool.Query(ctx, limitV2Select+` ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list limits v2: %w", err)
	}
	defer rows.Close()

	var limits []domain.ConcurrencyLimitV2
	for rows.Next() {
		lim, err := scanLimitV2(rows)
		if err != nil {
			return nil, err
		}
		limits = append(limits, *lim)
	}
	return limits, rows.Err()
}

// UpdateDefinition обновляет административные поля лимита
// (limit, slot_decay_per_second) и опционально сбрасывает denied_slots.
func (r *LimitV2Repo) UpdateDefinition(ctx context.Context, name string, limit int, decay float64, resetDenied bool) error {
	query := `
		UPDATE concurrency_limits_v2
		SET "limit" = $2, slot_decay_per_second = $3,
		    denied_slots = CASE WHEN $4 THEN 0 ELSE denied_slots END,
		    updated_at = now()
		WHERE name = $1
	`
	result, err := r.pool.Exec(ctx, query, name, limit, decay, resetDenied)
	if err != nil {
		return fmt.Errorf("update limit v2: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет лимит по имени.
func (r *LimitV2Repo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM concurrency_limits_v2 WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete limit v2: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLimits загружает лимиты names под блокировкой строк (в порядке
// возрастания id), применяет fn и сохраняет изменения, если fn вернула
// nil. Отсутствие любого из names — concurrency.ErrLimitNotFound.
func (r *LimitV2Repo) UpdateLimits(ctx context.Context, names []string, fn func(limits []*domain.ConcurrencyLimitV2) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := limitV2Select + `
		WHERE name = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, names)
	if err != nil {
		return fmt.Errorf("lock limits v2: %w", err)
	}

	var limits []*domain.ConcurrencyLimitV2
	for rows.Next() {
		lim, err := scanLimitV2(rows)
		if err != nil {
			rows.Close()
			return err
		}
		limits = append(limits, lim)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(limits) != len(uniqueNames(names)) {
		return concurrency.ErrLimitNotFound
	}

	if err := fn(limits); err != nil {
		return err
	}

	for _, lim := range limits {
		_, err := tx.Exec(ctx, `
			UPDATE concurrency_limits_v2
			SET active_slots = $2, denied_slots = $3,
			    avg_slots_occupied = $4, updated_at = $5
			WHERE id = $1
		`,
			lim.ID,
			lim.ActiveSlots,
			lim.DeniedSlots,
			lim.AvgSlotsOccupied,
			lim.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update limit v2 %s: %w", lim.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Helpers ---

const limitV2Select = `
	SELECT id, name, "limit", active_slots, denied_slots,
	       avg_slots_occupied, slot_decay_per_second, created_at, updated_at
	FROM concurrency_limits_v2`

// scanLimitV2 сканирует строку в ConcurrencyLimitV2.
func scanLimitV2(row pgx.Row) (*domain.ConcurrencyLimitV2, error) {
	var lim domain.ConcurrencyLimitV2

	err := row.Scan(
		&lim.ID,
		&lim.Name,
		&lim.Limit,
		&lim.ActiveSlots,
		&lim.DeniedSlots,
		&lim.AvgSlotsOccupied,
		&lim.SlotDecayPerSecond,
		&lim.CreatedAt,
		&lim.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan limit v2: %w", err)
	}
	return &lim, nil
}

// uniqueNames убирает дубликаты, сохраняя порядок не обязательно.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
