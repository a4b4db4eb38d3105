package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

type planRepository struct {
	db DBTX
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db DBTX) repository.PlanRepository {
	return &planRepository{db: db}
}

const planColumns = `p.id, p.title, p.description, p.destination, p.visibility, p.max_members, p.owner_id,
	p.start_date, p.end_date, p.status, p.started_at, p.completed_at, p.cancelled_at,
	p.cancellation_reason, p.created_at, p.updated_at`

func scanPlan(row rowScanner) (*models.Plan, error) {
	plan := &models.Plan{}
	var startedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&plan.ID,
		&plan.Title,
		&plan.Description,
		&plan.Destination,
		&plan.Visibility,
		&plan.MaxMembers,
		&plan.OwnerID,
		&plan.StartDate,
		&plan.EndDate,
		&plan.Status,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&plan.CancellationReason,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.StartedAt = timePtr(startedAt)
	plan.CompletedAt = timePtr(completedAt)
	plan.CancelledAt = timePtr(cancelledAt)
	return plan, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *planRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	query := `
		INSERT INTO plans (title, description, destination, visibility, max_members, owner_id,
			start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	out := *plan
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.UpdatedAt = out.CreatedAt

	err := r.db.QueryRowContext(ctx, query,
		out.Title,
		out.Description,
		out.Destination,
		out.Visibility,
		out.MaxMembers,
		out.OwnerID,
		out.StartDate,
		out.EndDate,
		out.Status,
		out.CreatedAt,
		out.UpdatedAt,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	return &out, nil
}

func (r *planRepository) get(ctx context.Context, id int64, suffix string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p WHERE p.id = $1` + suffix

	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get plan %d: %w", id, err)
	}
	return plan, nil
}

func (r *planRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	return r.get(ctx, id, "")
}

func (r *planRepository) LockByID(ctx context.Context, id int64) (*models.Plan, error) {
	return r.get(ctx, id, ` FOR UPDATE`)
}

func (r *planRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	query := `
		UPDATE plans
		SET title = $2, description = $3, destination = $4, visibility = $5, max_members = $6,
			start_date = $7, end_date = $8, status = $9, started_at = $10, completed_at = $11,
			cancelled_at = $12, cancellation_reason = $13, updated_at = $14
		WHERE id = $1`

	out := *plan
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		out.ID,
		out.Title,
		out.Description,
		out.Destination,
		out.Visibility,
		out.MaxMembers,
		out.StartDate,
		out.EndDate,
		out.Status,
		out.StartedAt,
		out.CompletedAt,
		out.CancelledAt,
		out.CancellationReason,
		out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, fmt.Errorf("failed to update plan %d: %w", out.ID, err)
	}

	return &out, nil
}

func (r *planRepository) list(ctx context.Context, what, query string, args ...any) ([]*models.Plan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s plans: %w", what, err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}

	return plans, nil
}

// limitClause renders LIMIT/OFFSET; a zero limit means no limit.
func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func (r *planRepository) FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p
		WHERE p.status = $1 AND p.start_date <= $2
		ORDER BY p.start_date, p.id` + limitClause(limit, 0)
	return r.list(ctx, "due to start", query, models.PlanStatusNew, now)
}

func (r *planRepository) FindDueToComplete(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p
		WHERE p.status = $1 AND p.end_date <= $2
		ORDER BY p.end_date, p.id` + limitClause(limit, 0)
	return r.list(ctx, "due to complete", query, models.PlanStatusInProgress, now)
}

func (r *planRepository) FindCurrentByUser(ctx context.Context, userID int64) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p
		JOIN memberships m ON m.plan_id = p.id
		WHERE m.user_id = $1 AND m.status = ANY($2) AND p.status = ANY($3)
		ORDER BY p.start_date, p.id
		LIMIT 1`

	plans, err := r.list(ctx, "current", query,
		userID,
		pq.Array(statusStrings(models.CurrentMembershipStatuses)),
		pq.Array([]string{string(models.PlanStatusNew), string(models.PlanStatusInProgress)}),
	)
	if err != nil || len(plans) == 0 {
		return nil, err
	}
	return plans[0], nil
}

func (r *planRepository) ListDiscoverable(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p
		WHERE p.status = $1 AND p.visibility = $2
			AND ($3::text = '' OR p.destination ILIKE '%' || $3::text || '%')
			AND ($5::text = '' OR p.title ILIKE '%' || $5::text || '%'
				OR p.description ILIKE '%' || $5::text || '%'
				OR p.destination ILIKE '%' || $5::text || '%')
			AND NOT EXISTS (SELECT 1 FROM memberships m WHERE m.plan_id = p.id AND m.user_id = $4)
		ORDER BY p.start_date, p.id` + limitClause(filters.Limit, filters.Offset)

	return r.list(ctx, "discoverable", query,
		models.PlanStatusNew,
		models.PlanVisibilityPublic,
		likePattern(filters.Destination),
		userID,
		likePattern(filters.Keyword),
	)
}

func (r *planRepository) ListHistory(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans p
		JOIN memberships m ON m.plan_id = p.id
		WHERE m.user_id = $1 AND (p.status = ANY($2) OR m.status = ANY($3))
		ORDER BY p.start_date DESC, p.id` + limitClause(filters.Limit, filters.Offset)

	return r.list(ctx, "history", query,
		userID,
		pq.Array([]string{string(models.PlanStatusCompleted), string(models.PlanStatusCancelled)}),
		pq.Array(statusStrings(models.ClosedMembershipStatuses)),
	)
}

// likePattern escapes LIKE wildcards so user input matches literally.
func likePattern(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(s))
}

func statusStrings(statuses []models.MembershipStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
