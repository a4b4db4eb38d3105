package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

func isOwner(plan *models.Plan, userID int64) bool {
	return plan.OwnerID == userID
}

func requireOwner(plan *models.Plan, userID int64) error {
	if !isOwner(plan, userID) {
		return ErrNotOwner
	}
	return nil
}

// canView reports whether a user may see a plan and its member list.
// Private plans are visible only to users related to them.
func canView(plan *models.Plan, m *models.Membership) bool {
	return plan.Visibility == models.PlanVisibilityPublic || m != nil
}

// IsActiveMember reports whether the user is the owner or an accepted member
// of the plan. Plan-scoped features gate on this.
func (s *Service) IsActiveMember(ctx context.Context, userID, planID int64) (bool, error) {
	m, err := s.store.Memberships().Get(ctx, userID, planID)
	if err != nil {
		return false, s.wrap(err, "failed to load membership", logrus.Fields{"user_id": userID, "plan_id": planID})
	}
	return m != nil && m.Status.IsActive(), nil
}

// lockPlan locks the plan row for the rest of the transaction.
func lockPlan(ctx context.Context, tx repository.Tx, planID int64) (*models.Plan, error) {
	plan, err := tx.Plans().LockByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock plan %d: %w", planID, err)
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// lockUser locks a user row. Always call it after lockPlan.
func lockUser(ctx context.Context, tx repository.Tx, userID int64) (*models.User, error) {
	user, err := tx.Users().LockByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
