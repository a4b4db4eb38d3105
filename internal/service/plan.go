package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
)

// CreatePlanInput is the data needed to create a travel plan.
type CreatePlanInput struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"max=2000"`
	Destination string                `json:"destination" validate:"required,max=200"`
	Visibility  models.PlanVisibility `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE"`
	MaxMembers  int                   `json:"max_members" validate:"gte=1,lte=100"`
	StartDate   time.Time             `json:"start_date" validate:"required"`
	EndDate     time.Time             `json:"end_date" validate:"required,gtefield=StartDate"`
}

// PlanDetails is a plan as seen by one viewer.
type PlanDetails struct {
	Plan            *models.Plan            `json:"plan"`
	ActiveMembers   int                     `json:"active_members"`
	PendingRequests int                     `json:"pending_requests"`
	ViewerStatus    models.MembershipStatus `json:"viewer_status,omitempty"`
}

// IsFull reports whether the plan has reached capacity.
func (d *PlanDetails) IsFull() bool {
	return IsFull(d.Plan, d.ActiveMembers)
}

// CreatePlan creates a plan owned by ownerID. The owner must not already have
// a current plan.
func (s *Service) CreatePlan(ctx context.Context, ownerID int64, in CreatePlanInput) (*models.Plan, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Destination = strings.TrimSpace(in.Destination)
	in.Description = strings.TrimSpace(in.Description)
	if in.Visibility == "" {
		in.Visibility = models.PlanVisibilityPublic
	}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	now := s.now()
	if !in.StartDate.After(now) {
		return nil, apperr.Validation("validation failed", map[string]string{"start_date": "must be in the future"})
	}

	var out *models.Plan
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		if _, err := lockUser(ctx, tx, ownerID); err != nil {
			return nil, err
		}
		has, err := hasCurrentPlan(ctx, tx, ownerID)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, ErrAlreadyHasCurrentPlan
		}

		out, err = tx.Plans().Create(ctx, &models.Plan{
			Title:       in.Title,
			Description: in.Description,
			Destination: in.Destination,
			Visibility:  in.Visibility,
			MaxMembers:  in.MaxMembers,
			OwnerID:     ownerID,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			Status:      models.PlanStatusNew,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create plan: %w", err)
		}

		owned, err := models.NewMembership(ownerID, out.ID, models.MembershipOwned, now)
		if err != nil {
			return nil, err
		}
		if _, err := createMembership(ctx, tx, &owned); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to create plan", logrus.Fields{"owner_id": ownerID})
	}

	s.logger.WithFields(logrus.Fields{"owner_id": ownerID, "plan_id": out.ID}).Infof("Created plan %q", out.Title)
	return out, nil
}

// movePlan applies a plan transition and stores it.
func (s *Service) movePlan(ctx context.Context, tx repository.Tx, plan *models.Plan, next models.PlanStatus, reason string) (*models.Plan, error) {
	moved, err := plan.Transition(next, s.now(), reason)
	if err != nil {
		return nil, ErrIllegalPlanState.WithCause(err)
	}
	updated, err := tx.Plans().Update(ctx, &moved)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan %d: %w", plan.ID, err)
	}
	s.metrics.Transition("plan", string(next))
	return updated, nil
}

// memberEvents builds one event per active member, skipping skipUserID.
func memberEvents(ctx context.Context, tx repository.Tx, plan *models.Plan, typ models.NotificationEvent, detail string, skipUserID int64) ([]notify.Event, error) {
	members, err := tx.Memberships().ListByPlan(ctx, plan.ID, models.ActiveMembershipStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of plan %d: %w", plan.ID, err)
	}
	events := make([]notify.Event, 0, len(members))
	for _, m := range members {
		if m.UserID == skipUserID {
			continue
		}
		events = append(events, notify.Event{
			Type:      typ,
			UserID:    m.UserID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
			Detail:    detail,
		})
	}
	return events, nil
}

// startLocked moves a locked NEW plan to IN_PROGRESS, refusing every pending
// request first.
func (s *Service) startLocked(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error) {
	if plan.Status != models.PlanStatusNew {
		return nil, nil, ErrIllegalPlanState
	}
	refused, err := s.ResolveAllPending(ctx, tx, plan)
	if err != nil {
		return nil, nil, err
	}
	started, err := s.movePlan(ctx, tx, plan, models.PlanStatusInProgress, "")
	if err != nil {
		return nil, nil, err
	}
	events, err := memberEvents(ctx, tx, started, models.EventPlanStarted, "", 0)
	if err != nil {
		return nil, nil, err
	}
	return started, append(events, autoRefusedEvents(started, refused)...), nil
}

// completeLocked moves a locked IN_PROGRESS plan to COMPLETED.
func (s *Service) completeLocked(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error) {
	completed, err := s.movePlan(ctx, tx, plan, models.PlanStatusCompleted, "")
	if err != nil {
		return nil, nil, err
	}
	events, err := memberEvents(ctx, tx, completed, models.EventPlanCompleted, "", 0)
	if err != nil {
		return nil, nil, err
	}
	return completed, events, nil
}

// ownerAction runs fn on the locked plan after checking ownerID owns it.
func (s *Service) ownerAction(ctx context.Context, ownerID, planID int64, action string,
	fn func(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error),
) (*models.Plan, error) {
	var out *models.Plan
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		plan, err := lockPlan(ctx, tx, planID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(plan, ownerID); err != nil {
			return nil, err
		}
		var events []notify.Event
		out, events, err = fn(ctx, tx, plan)
		return events, err
	})
	fields := logrus.Fields{"owner_id": ownerID, "plan_id": planID, "action": action}
	if err != nil {
		return nil, s.wrap(err, "failed to "+action+" plan", fields)
	}
	s.logger.WithFields(fields).Infof("Plan is now %s", out.Status)
	return out, nil
}

// CancelPlan cancels a NEW plan. Pending requests are refused and active
// members are told why.
func (s *Service) CancelPlan(ctx context.Context, ownerID, planID int64, reason string) (*models.Plan, error) {
	reason = strings.TrimSpace(reason)
	return s.ownerAction(ctx, ownerID, planID, "cancel", func(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error) {
		if plan.Status != models.PlanStatusNew {
			return nil, nil, ErrIllegalPlanState
		}
		refused, err := s.ResolveAllPending(ctx, tx, plan)
		if err != nil {
			return nil, nil, err
		}
		cancelled, err := s.movePlan(ctx, tx, plan, models.PlanStatusCancelled, reason)
		if err != nil {
			return nil, nil, err
		}
		events, err := memberEvents(ctx, tx, cancelled, models.EventPlanCancelled, reason, ownerID)
		if err != nil {
			return nil, nil, err
		}
		return cancelled, append(events, autoRefusedEvents(cancelled, refused)...), nil
	})
}

// StartPlan starts a NEW plan ahead of its start date.
func (s *Service) StartPlan(ctx context.Context, ownerID, planID int64) (*models.Plan, error) {
	return s.ownerAction(ctx, ownerID, planID, "start", s.startLocked)
}

// CompletePlan completes an IN_PROGRESS plan ahead of its end date.
func (s *Service) CompletePlan(ctx context.Context, ownerID, planID int64) (*models.Plan, error) {
	return s.ownerAction(ctx, ownerID, planID, "complete", s.completeLocked)
}

// ---------------------------------------------------------------------------
// queries
// ---------------------------------------------------------------------------

func (s *Service) details(ctx context.Context, plan *models.Plan, viewer *models.Membership) (*PlanDetails, error) {
	members := s.store.Memberships()
	active, err := members.CountByStatus(ctx, plan.ID, models.ActiveMembershipStatuses)
	if err != nil {
		return nil, err
	}
	pending, err := members.CountByStatus(ctx, plan.ID, models.PendingMembershipStatuses)
	if err != nil {
		return nil, err
	}
	d := &PlanDetails{Plan: plan, ActiveMembers: active, PendingRequests: pending}
	if viewer != nil {
		d.ViewerStatus = viewer.Status
	}
	return d, nil
}

// viewablePlan loads a plan and the viewer's membership. Private plans the
// viewer is unrelated to are reported as not found.
func (s *Service) viewablePlan(ctx context.Context, viewerID, planID int64) (*models.Plan, *models.Membership, error) {
	plan, err := s.store.Plans().GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, ErrPlanNotFound
	}
	m, err := s.store.Memberships().Get(ctx, viewerID, planID)
	if err != nil {
		return nil, nil, err
	}
	if !canView(plan, m) {
		return nil, nil, ErrPlanNotFound
	}
	return plan, m, nil
}

// GetPlan returns a plan with its member counts and the viewer's status.
func (s *Service) GetPlan(ctx context.Context, viewerID, planID int64) (*PlanDetails, error) {
	fields := logrus.Fields{"user_id": viewerID, "plan_id": planID}
	plan, m, err := s.viewablePlan(ctx, viewerID, planID)
	if err != nil {
		return nil, s.wrap(err, "failed to load plan", fields)
	}
	d, err := s.details(ctx, plan, m)
	if err != nil {
		return nil, s.wrap(err, "failed to count plan members", fields)
	}
	return d, nil
}

// CurrentPlan returns the user's NEW or IN_PROGRESS plan, or nil.
func (s *Service) CurrentPlan(ctx context.Context, userID int64) (*PlanDetails, error) {
	fields := logrus.Fields{"user_id": userID}
	plan, err := s.store.Plans().FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, s.wrap(err, "failed to load current plan", fields)
	}
	if plan == nil {
		return nil, nil
	}
	m, err := s.store.Memberships().Get(ctx, userID, plan.ID)
	if err != nil {
		return nil, s.wrap(err, "failed to load membership", fields)
	}
	d, err := s.details(ctx, plan, m)
	if err != nil {
		return nil, s.wrap(err, "failed to count plan members", fields)
	}
	return d, nil
}

// ListDiscoverable lists public NEW plans the user has no relationship with.
func (s *Service) ListDiscoverable(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	if filters.Limit <= 0 || filters.Limit > 50 {
		filters.Limit = 20
	}
	plans, err := s.store.Plans().ListDiscoverable(ctx, userID, filters)
	if err != nil {
		return nil, s.wrap(err, "failed to list plans", logrus.Fields{"user_id": userID})
	}
	return plans, nil
}

// HistoryPlans lists completed or cancelled plans the user took part in, and
// plans where the user's request was cancelled or refused.
func (s *Service) HistoryPlans(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	if filters.Limit <= 0 || filters.Limit > 50 {
		filters.Limit = 20
	}
	plans, err := s.store.Plans().ListHistory(ctx, userID, filters)
	if err != nil {
		return nil, s.wrap(err, "failed to list plan history", logrus.Fields{"user_id": userID})
	}
	return plans, nil
}

// ListMembers returns the active members of a plan the viewer can see.
func (s *Service) ListMembers(ctx context.Context, viewerID, planID int64) ([]*models.Membership, error) {
	fields := logrus.Fields{"user_id": viewerID, "plan_id": planID}
	if _, _, err := s.viewablePlan(ctx, viewerID, planID); err != nil {
		return nil, s.wrap(err, "failed to load plan", fields)
	}
	members, err := s.store.Memberships().ListByPlan(ctx, planID, models.ActiveMembershipStatuses)
	if err != nil {
		return nil, s.wrap(err, "failed to list members", fields)
	}
	return members, nil
}

// ListPending returns the pending applications and invitations of a plan.
// Only the owner may see them.
func (s *Service) ListPending(ctx context.Context, ownerID, planID int64) ([]*models.Membership, error) {
	fields := logrus.Fields{"user_id": ownerID, "plan_id": planID}
	plan, err := s.store.Plans().GetByID(ctx, planID)
	if err != nil {
		return nil, s.wrap(err, "failed to load plan", fields)
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if err := requireOwner(plan, ownerID); err != nil {
		return nil, err
	}
	pending, err := s.store.Memberships().ListByPlan(ctx, planID, models.PendingMembershipStatuses)
	if err != nil {
		return nil, s.wrap(err, "failed to list pending requests", fields)
	}
	return pending, nil
}
