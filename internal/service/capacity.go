package service

import (
	"context"
	"fmt"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

// IsFull reports whether a plan with activeCount active members (owner
// included) has reached its capacity.
func IsFull(plan *models.Plan, activeCount int) bool {
	return activeCount >= plan.MaxMembers
}

func activeCount(ctx context.Context, tx repository.Tx, planID int64) (int, error) {
	n, err := tx.Memberships().CountByStatus(ctx, planID, models.ActiveMembershipStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to count active members of plan %d: %w", planID, err)
	}
	return n, nil
}

// isFull counts active members inside tx. The caller must hold the plan lock
// for the answer to stay true until commit.
func isFull(ctx context.Context, tx repository.Tx, plan *models.Plan) (bool, error) {
	n, err := activeCount(ctx, tx, plan.ID)
	if err != nil {
		return false, err
	}
	return IsFull(plan, n), nil
}
