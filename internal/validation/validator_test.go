package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/apperr"
)

type tripInput struct {
	Title      string    `json:"title" validate:"required,max=10"`
	MaxMembers int       `json:"max_members" validate:"gte=1"`
	Visibility string    `json:"visibility" validate:"oneof=PUBLIC PRIVATE"`
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v := New()
	now := time.Now()

	err := v.Validate(tripInput{
		Title:      "",
		MaxMembers: 0,
		Visibility: "SECRET",
		StartDate:  now,
		EndDate:    now.Add(-time.Hour),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	details, ok := appErr.Details.(map[string]string)
	require.True(t, ok)

	assert.Equal(t, "is required", details["title"])
	assert.Equal(t, "must be greater than or equal to 1", details["max_members"])
	assert.Equal(t, "must be one of: PUBLIC PRIVATE", details["visibility"])
	assert.Equal(t, "must not be before StartDate", details["end_date"])
}

func TestValidateAcceptsGoodInput(t *testing.T) {
	now := time.Now()
	err := New().Validate(tripInput{
		Title:      "Alps",
		MaxMembers: 4,
		Visibility: "PUBLIC",
		StartDate:  now,
		EndDate:    now.Add(time.Hour),
	})
	assert.NoError(t, err)
}
