package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

type membershipRepository struct {
	db DBTX
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db DBTX) repository.MembershipRepository {
	return &membershipRepository{db: db}
}

const membershipColumns = `m.id, m.user_id, m.plan_id, m.status, m.applied_at, m.invited_at, m.accepted_at,
	m.refused_at, m.cancelled_at, m.response_message, m.created_at, m.updated_at`

func membershipDest(m *models.Membership, applied, invited, accepted, refused, cancelled *sql.NullTime) []any {
	return []any{
		&m.ID,
		&m.UserID,
		&m.PlanID,
		&m.Status,
		applied,
		invited,
		accepted,
		refused,
		cancelled,
		&m.ResponseMessage,
		&m.CreatedAt,
		&m.UpdatedAt,
	}
}

func scanMembership(row rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	var applied, invited, accepted, refused, cancelled sql.NullTime
	if err := row.Scan(membershipDest(m, &applied, &invited, &accepted, &refused, &cancelled)...); err != nil {
		return nil, err
	}
	m.AppliedAt = timePtr(applied)
	m.InvitedAt = timePtr(invited)
	m.AcceptedAt = timePtr(accepted)
	m.RefusedAt = timePtr(refused)
	m.CancelledAt = timePtr(cancelled)
	return m, nil
}

func (r *membershipRepository) Create(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	query := `
		INSERT INTO memberships (user_id, plan_id, status, applied_at, invited_at, accepted_at,
			refused_at, cancelled_at, response_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	out := *m
	out.User = nil
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.UpdatedAt = out.CreatedAt

	err := r.db.QueryRowContext(ctx, query,
		out.UserID,
		out.PlanID,
		out.Status,
		out.AppliedAt,
		out.InvitedAt,
		out.AcceptedAt,
		out.RefusedAt,
		out.CancelledAt,
		out.ResponseMessage,
		out.CreatedAt,
		out.UpdatedAt,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	return &out, nil
}

func (r *membershipRepository) Get(ctx context.Context, userID, planID int64) (*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships m WHERE m.user_id = $1 AND m.plan_id = $2`

	m, err := scanMembership(r.db.QueryRowContext(ctx, query, userID, planID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (r *membershipRepository) Update(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	query := `
		UPDATE memberships
		SET status = $2, applied_at = $3, invited_at = $4, accepted_at = $5, refused_at = $6,
			cancelled_at = $7, response_message = $8, updated_at = $9
		WHERE id = $1`

	out := *m
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		out.ID,
		out.Status,
		out.AppliedAt,
		out.InvitedAt,
		out.AcceptedAt,
		out.RefusedAt,
		out.CancelledAt,
		out.ResponseMessage,
		out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, fmt.Errorf("failed to update membership %d: %w", out.ID, err)
	}

	return &out, nil
}

func (r *membershipRepository) CountByStatus(ctx context.Context, planID int64, statuses []models.MembershipStatus) (int, error) {
	query := `SELECT COUNT(*) FROM memberships WHERE plan_id = $1 AND status = ANY($2)`

	var n int
	if err := r.db.QueryRowContext(ctx, query, planID, pq.Array(statusStrings(statuses))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return n, nil
}

func (r *membershipRepository) ListByPlan(ctx context.Context, planID int64, statuses []models.MembershipStatus) ([]*models.Membership, error) {
	query := `SELECT ` + membershipColumns + `, ` + prefixed("u", userColumns) + `
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.plan_id = $1 AND m.status = ANY($2)
		ORDER BY m.created_at, m.id`

	rows, err := r.db.QueryContext(ctx, query, planID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		m := &models.Membership{User: &models.User{}}
		var applied, invited, accepted, refused, cancelled sql.NullTime
		var email sql.NullString
		u := m.User
		dest := membershipDest(m, &applied, &invited, &accepted, &refused, &cancelled)
		dest = append(dest,
			&u.ID, &u.TelegramID, &u.ChatID, &u.TelegramUsername, &u.FirstName, &u.LastName,
			&email, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.AppliedAt = timePtr(applied)
		m.InvitedAt = timePtr(invited)
		m.AcceptedAt = timePtr(accepted)
		m.RefusedAt = timePtr(refused)
		m.CancelledAt = timePtr(cancelled)
		u.Email = email.String
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return out, nil
}

func (r *membershipRepository) HasCurrentPlan(ctx context.Context, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM memberships m
			JOIN plans p ON p.id = m.plan_id
			WHERE m.user_id = $1 AND m.status = ANY($2) AND p.status = ANY($3)
		)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query,
		userID,
		pq.Array(statusStrings(models.CurrentMembershipStatuses)),
		pq.Array([]string{string(models.PlanStatusNew), string(models.PlanStatusInProgress)}),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check current plan: %w", err)
	}
	return exists, nil
}
