package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"masterchain.app/orchestrator/internal/model"
)

// PostgresHistory archives finished jobs to the job_history table.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

const archiveQuery = `
INSERT INTO job_history (id, owner_id, operation, tier, status, error_code, total_cost, step_count, result_ref, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

func (h *PostgresHistory) Archive(ctx context.Context, summary model.JobSummary) error {
	_, err := h.pool.Exec(ctx, archiveQuery,
		summary.ID,
		summary.OwnerID,
		string(summary.Operation),
		summary.Tier,
		string(summary.Status),
		string(summary.ErrorCode),
		summary.TotalCost,
		summary.StepCount,
		summary.ResultRef,
		summary.CreatedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("archiving job %d: %w", summary.ID, err)
	}
	return nil
}

func (h *PostgresHistory) ListByOwner(ctx context.Context, ownerID string, filter HistoryFilter) ([]model.JobSummary, error) {
	query := `
SELECT id, owner_id, operation, tier, status, error_code, total_cost, step_count, result_ref, created_at, finished_at
FROM job_history
WHERE owner_id = $1`
	args := []any{ownerID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Operation != "" {
		args = append(args, string(filter.Operation))
		query += fmt.Sprintf(" AND operation = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", ownerID, err)
	}
	defer rows.Close()

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.JobSummary, error) {
		var s model.JobSummary
		var operation, status, errorCode string
		err := row.Scan(&s.ID, &s.OwnerID, &operation, &s.Tier, &status, &errorCode,
			&s.TotalCost, &s.StepCount, &s.ResultRef, &s.CreatedAt, &s.FinishedAt)
		s.Operation = model.Operation(operation)
		s.Status = model.JobStatus(status)
		s.ErrorCode = model.ErrorCode(errorCode)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning history rows: %w", err)
	}
	return summaries, nil
}

// MemoryHistory is the HistoryStore used in development and tests when no
// database is configured.
type MemoryHistory struct {
	mu      sync.RWMutex
	byOwner map[string][]model.JobSummary
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{byOwner: make(map[string][]model.JobSummary)}
}

func (h *MemoryHistory) Archive(_ context.Context, summary model.JobSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.byOwner[summary.OwnerID] {
		if existing.ID == summary.ID {
			return nil
		}
	}
	h.byOwner[summary.OwnerID] = append(h.byOwner[summary.OwnerID], summary)
	return nil
}

func (h *MemoryHistory) ListByOwner(_ context.Context, ownerID string, filter HistoryFilter) ([]model.JobSummary, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []model.JobSummary
	for _, s := range h.byOwner[ownerID] {
		if !matchesFilter(s, filter) {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFilter(s model.JobSummary, filter HistoryFilter) bool {
	if filter.Status != "" && s.Status != filter.Status {
		return false
	}
	if filter.Operation != "" && s.Operation != filter.Operation {
		return false
	}
	if filter.Since != nil && s.CreatedAt.Before(*filter.Since) {
		return false
	}
	return true
}

var (
	_ HistoryStore = (*PostgresHistory)(nil)
	_ HistoryStore = (*MemoryHistory)(nil)
)
