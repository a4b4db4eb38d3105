package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
)

// Decision is the answer to a pending application or invitation.
type Decision string

const (
	Accept Decision = "ACCEPT"
	Refuse Decision = "REFUSE"
)

// ParseDecision accepts ACCEPT/REFUSE in any case.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case Accept, Refuse:
		return d, nil
	}
	return "", apperr.Validation("decision must be ACCEPT or REFUSE", map[string]string{"decision": s})
}

func (d Decision) valid() error {
	_, err := ParseDecision(string(d))
	return err
}

// createMembership inserts a membership, mapping a uniqueness violation to
// ErrAlreadyRelated.
func createMembership(ctx context.Context, tx repository.Tx, m *models.Membership) (*models.Membership, error) {
	created, err := tx.Memberships().Create(ctx, m)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrAlreadyRelated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return created, nil
}

func hasCurrentPlan(ctx context.Context, tx repository.Tx, userID int64) (bool, error) {
	has, err := tx.Memberships().HasCurrentPlan(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check current plan of user %d: %w", userID, err)
	}
	return has, nil
}

func existingMembership(ctx context.Context, tx repository.Tx, userID, planID int64) (*models.Membership, error) {
	m, err := tx.Memberships().Get(ctx, userID, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return m, nil
}

// transition moves m to next and stores it.
func (s *Service) transition(ctx context.Context, tx repository.Tx, m *models.Membership, next models.MembershipStatus, message string) (*models.Membership, error) {
	moved, err := m.Transition(next, s.now(), message)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidState, "ILLEGAL_TRANSITION", err.Error())
	}
	updated, err := tx.Memberships().Update(ctx, &moved)
	if err != nil {
		return nil, fmt.Errorf("failed to update membership %d: %w", m.ID, err)
	}
	s.metrics.Transition("membership", string(next))
	return updated, nil
}

// requireJoinable checks the plan can take one more active member.
func requireJoinable(ctx context.Context, tx repository.Tx, plan *models.Plan) error {
	if plan.Status != models.PlanStatusNew {
		return ErrPlanNotOpen
	}
	full, err := isFull(ctx, tx, plan)
	if err != nil {
		return err
	}
	if full {
		return ErrPlanFull
	}
	return nil
}

// Apply creates an application from userID to a public, open plan.
func (s *Service) Apply(ctx context.Context, userID, planID int64) (*models.Membership, error) {
	var out *models.Membership
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		plan, err := lockPlan(ctx, tx, planID)
		if err != nil {
			return nil, err
		}
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return nil, err
		}

		has, err := hasCurrentPlan(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, ErrAlreadyHasCurrentPlan
		}
		if !plan.IsOpenForApplication() {
			return nil, ErrPlanNotOpen
		}
		full, err := isFull(ctx, tx, plan)
		if err != nil {
			return nil, err
		}
		if full {
			return nil, ErrPlanFull
		}
		existing, err := existingMembership(ctx, tx, userID, planID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrAlreadyRelated
		}

		m, err := models.NewMembership(userID, planID, models.MembershipApplied, s.now())
		if err != nil {
			return nil, err
		}
		out, err = createMembership(ctx, tx, &m)
		if err != nil {
			return nil, err
		}
		s.metrics.Transition("membership", string(models.MembershipApplied))

		return []notify.Event{{
			Type:      models.EventApplicationReceived,
			UserID:    plan.OwnerID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
			Actor:     user.DisplayName(),
		}}, nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to apply to plan", logrus.Fields{"user_id": userID, "plan_id": planID})
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "plan_id": planID}).Info("Application created")
	return out, nil
}

// CancelApplication withdraws the user's pending application.
func (s *Service) CancelApplication(ctx context.Context, userID, planID int64) (*models.Membership, error) {
	var out *models.Membership
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		if _, err := lockPlan(ctx, tx, planID); err != nil {
			return nil, err
		}
		m, err := existingMembership(ctx, tx, userID, planID)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Status != models.MembershipApplied {
			return nil, ErrNoPendingApplication
		}
		out, err = s.transition(ctx, tx, m, models.MembershipAppliedCancelled, "")
		return nil, err
	})
	if err != nil {
		return nil, s.wrap(err, "failed to cancel application", logrus.Fields{"user_id": userID, "plan_id": planID})
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "plan_id": planID}).Info("Application cancelled")
	return out, nil
}

// Invite creates an invitation from the plan owner to inviteeID.
func (s *Service) Invite(ctx context.Context, ownerID, planID, inviteeID int64) (*models.Membership, error) {
	var out *models.Membership
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		plan, err := lockPlan(ctx, tx, planID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(plan, ownerID); err != nil {
			return nil, err
		}
		if err := requireJoinable(ctx, tx, plan); err != nil {
			return nil, err
		}

		// lock order is plan then invitee; the owner row is only read
		owner, err := tx.Users().GetByID(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load owner %d: %w", ownerID, err)
		}
		if owner == nil {
			return nil, ErrUserNotFound
		}
		if _, err := lockUser(ctx, tx, inviteeID); err != nil {
			return nil, err
		}

		has, err := hasCurrentPlan(ctx, tx, inviteeID)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, ErrInviteeHasCurrentPlan
		}
		existing, err := existingMembership(ctx, tx, inviteeID, planID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrAlreadyRelated
		}

		m, err := models.NewMembership(inviteeID, planID, models.MembershipInvited, s.now())
		if err != nil {
			return nil, err
		}
		out, err = createMembership(ctx, tx, &m)
		if err != nil {
			return nil, err
		}
		s.metrics.Transition("membership", string(models.MembershipInvited))

		return []notify.Event{{
			Type:      models.EventInvitationCreated,
			UserID:    inviteeID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
			Actor:     owner.DisplayName(),
		}}, nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to invite user", logrus.Fields{"plan_id": planID, "invitee_id": inviteeID})
	}

	s.logger.WithFields(logrus.Fields{"plan_id": planID, "invitee_id": inviteeID}).Info("Invitation created")
	return out, nil
}

// HandleApplication lets the owner accept or refuse a pending application.
// Accepting may fill the plan, in which case every other pending request is
// refused in the same transaction.
func (s *Service) HandleApplication(ctx context.Context, ownerID, planID, applicantID int64, decision Decision, message string) (*models.Membership, error) {
	if err := decision.valid(); err != nil {
		return nil, err
	}

	var out *models.Membership
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		plan, err := lockPlan(ctx, tx, planID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(plan, ownerID); err != nil {
			return nil, err
		}
		m, err := existingMembership(ctx, tx, applicantID, planID)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Status != models.MembershipApplied {
			return nil, ErrNoPendingApplication
		}

		next, event := models.MembershipAppliedRefused, models.EventApplicationRefused
		if decision == Accept {
			if err := requireJoinable(ctx, tx, plan); err != nil {
				return nil, err
			}
			next, event = models.MembershipAppliedAccepted, models.EventApplicationAccepted
		}
		if _, err := lockUser(ctx, tx, applicantID); err != nil {
			return nil, err
		}

		out, err = s.transition(ctx, tx, m, next, message)
		if err != nil {
			return nil, err
		}

		events := []notify.Event{{
			Type:      event,
			UserID:    applicantID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
			Detail:    message,
		}}
		if decision == Accept {
			refused, err := s.onAccept(ctx, tx, plan)
			if err != nil {
				return nil, err
			}
			events = append(events, autoRefusedEvents(plan, refused)...)
		}
		return events, nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to handle application", logrus.Fields{"plan_id": planID, "applicant_id": applicantID})
	}

	s.logger.WithFields(logrus.Fields{
		"plan_id":      planID,
		"applicant_id": applicantID,
		"status":       out.Status,
	}).Info("Application handled")
	return out, nil
}

// HandleInvitation lets the invited user accept or refuse.
func (s *Service) HandleInvitation(ctx context.Context, userID, planID int64, decision Decision, message string) (*models.Membership, error) {
	if err := decision.valid(); err != nil {
		return nil, err
	}

	var out *models.Membership
	err := s.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
		plan, err := lockPlan(ctx, tx, planID)
		if err != nil {
			return nil, err
		}
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		m, err := existingMembership(ctx, tx, userID, planID)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Status != models.MembershipInvited {
			return nil, ErrNoPendingInvitation
		}

		next, event := models.MembershipInvitedRefused, models.EventInvitationRefused
		if decision == Accept {
			if err := requireJoinable(ctx, tx, plan); err != nil {
				return nil, err
			}
			next, event = models.MembershipInvitedAccepted, models.EventInvitationAccepted
		}

		out, err = s.transition(ctx, tx, m, next, message)
		if err != nil {
			return nil, err
		}

		events := []notify.Event{{
			Type:      event,
			UserID:    plan.OwnerID,
			PlanID:    plan.ID,
			PlanTitle: plan.Title,
			Actor:     user.DisplayName(),
			Detail:    message,
		}}
		if decision == Accept {
			refused, err := s.onAccept(ctx, tx, plan)
			if err != nil {
				return nil, err
			}
			events = append(events, autoRefusedEvents(plan, refused)...)
		}
		return events, nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to handle invitation", logrus.Fields{"plan_id": planID, "user_id": userID})
	}

	s.logger.WithFields(logrus.Fields{
		"plan_id": planID,
		"user_id": userID,
		"status":  out.Status,
	}).Info("Invitation handled")
	return out, nil
}

// onAccept is the post-condition hook run after every acceptance.
func (s *Service) onAccept(ctx context.Context, tx repository.Tx, plan *models.Plan) ([]*models.Membership, error) {
	return s.CheckCapacity(ctx, tx, plan)
}
