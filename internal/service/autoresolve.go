package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
)

// CheckCapacity refuses every pending request of the plan if it is full.
// It runs inside the caller's transaction, which must hold the plan lock, and
// returns the memberships it refused.
func (s *Service) CheckCapacity(ctx context.Context, tx repository.Tx, plan *models.Plan) ([]*models.Membership, error) {
	full, err := isFull(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	if !full {
		return nil, nil
	}
	return s.refusePending(ctx, tx, plan, "capacity")
}

// ResolveAllPending refuses every pending request of the plan. Same locking
// rules as CheckCapacity.
func (s *Service) ResolveAllPending(ctx context.Context, tx repository.Tx, plan *models.Plan) ([]*models.Membership, error) {
	return s.refusePending(ctx, tx, plan, "closed")
}

func (s *Service) refusePending(ctx context.Context, tx repository.Tx, plan *models.Plan, trigger string) ([]*models.Membership, error) {
	pending, err := tx.Memberships().ListByPlan(ctx, plan.ID, models.PendingMembershipStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests of plan %d: %w", plan.ID, err)
	}

	now := s.now()
	refused := make([]*models.Membership, 0, len(pending))
	for _, m := range pending {
		to, _ := m.Status.Refused()
		next, err := m.Transition(to, now, "")
		if err != nil {
			return nil, err
		}
		updated, err := tx.Memberships().Update(ctx, &next)
		if err != nil {
			return nil, fmt.Errorf("failed to refuse membership %d: %w", m.ID, err)
		}
		s.metrics.Transition("membership", string(to))
		refused = append(refused, updated)
	}

	s.metrics.AutoRefused(trigger, len(refused))
	if len(refused) > 0 {
		s.logger.WithFields(logrus.Fields{
			"plan_id": plan.ID,
			"trigger": trigger,
			"refused": len(refused),
		}).Info("Auto-refused pending requests")
	}
	return refused, nil
}

func autoRefusedEvents(plan *models.Plan, refused []*models.Membership) []notify.Event {
	events := make([]notify.Event, 0, len(refused))
	for _, m := range refused {
		events = append(events, notify.Event{
			Type:      models.EventRequestAutoRefused,
			UserID:    m.UserID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
		})
	}
	return events
}
