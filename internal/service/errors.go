package service

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
)

// Reason-specific errors. Each also matches its kind sentinel in apperr.
var (
	ErrAlreadyHasCurrentPlan = apperr.New(apperr.KindConflict, "ALREADY_HAS_CURRENT_PLAN", "you already have a current travel plan")
	ErrInviteeHasCurrentPlan = apperr.New(apperr.KindConflict, "INVITEE_HAS_CURRENT_PLAN", "the invited user already has a current travel plan")
	ErrPlanNotOpen           = apperr.New(apperr.KindConflict, "PLAN_NOT_OPEN", "the plan is not open for new members")
	ErrPlanFull              = apperr.New(apperr.KindConflict, "PLAN_FULL", "the plan has reached its member limit")
	ErrAlreadyRelated        = apperr.New(apperr.KindConflict, "ALREADY_RELATED", "the user already has a relationship with this plan")
	ErrEmailTaken            = apperr.New(apperr.KindConflict, "EMAIL_TAKEN", "that email belongs to another user")

	ErrNotOwner = apperr.New(apperr.KindForbidden, "NOT_OWNER", "only the plan owner can do this")

	ErrNoPendingApplication = apperr.New(apperr.KindInvalidState, "NO_PENDING_APPLICATION", "there is no pending application")
	ErrNoPendingInvitation  = apperr.New(apperr.KindInvalidState, "NO_PENDING_INVITATION", "there is no pending invitation")
	ErrIllegalPlanState     = apperr.New(apperr.KindInvalidState, "ILLEGAL_PLAN_TRANSITION", "the plan cannot move to that status")

	ErrPlanNotFound = apperr.New(apperr.KindNotFound, "PLAN_NOT_FOUND", "travel plan not found")
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
)

// wrap classifies err for the caller. apperr errors pass through; anything
// else is an internal failure and gets logged.
func (s *Service) wrap(err error, msg string, fields logrus.Fields) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.WithFields(fields).WithError(err).Error(msg)
	return apperr.Internal(err, msg)
}
