package engine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/booking-engine/engine"
)

func TestKindOf_ClassifiesEveryStructuredError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want engine.Kind
	}{
		{"nil", nil, engine.KindNone},
		{"validation", engine.Invalid("quantity", "must be positive"), engine.KindValidation},
		{"insufficient", &engine.InsufficientInventoryError{SecurityID: "ACME", Available: 1, Requested: 2}, engine.KindInsufficientInventory},
		{"transition", &engine.StateTransitionError{Operation: "void", EntityID: "b1", Axis: "voided", Current: "true"}, engine.KindInvalidTransition},
		{"not found", &engine.NotFoundError{Kind: "booking", ID: "b1"}, engine.KindNotFound},
		{"permission", &engine.PermissionDeniedError{ActorID: "u1", Role: "viewer", Action: "void_booking"}, engine.KindPermissionDenied},
		{"cas", fmt.Errorf("booking b1: %w", engine.ErrConcurrentModification), engine.KindConcurrentModification},
		{"invariant", &engine.InvariantError{SecurityID: "ACME", Operation: "release"}, engine.KindInvariantViolation},
		{"settlement", &engine.SettlementConfigError{Setting: "pool_percent"}, engine.KindSettlementConfig},
		{"unknown", errors.New("disk on fire"), engine.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, engine.KindOf(tc.err))
		})
	}
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	// GIVEN: An insufficient inventory error wrapped twice
	inner := &engine.InsufficientInventoryError{SecurityID: "ACME", Available: 0, Requested: 5}
	err := fmt.Errorf("approve: %w", fmt.Errorf("reserve: %w", inner))

	// THEN: Both the kind and the structured details are reachable
	assert.Equal(t, engine.KindInsufficientInventory, engine.KindOf(err))
	var target *engine.InsufficientInventoryError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, int64(5), target.Requested)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, engine.IsRetryable(engine.ErrConcurrentModification))
	assert.True(t, engine.IsRetryable(&engine.InsufficientInventoryError{}))
	assert.False(t, engine.IsRetryable(engine.Invalid("x", "y")))

	assert.True(t, engine.IsClientError(engine.Invalid("x", "y")))
	assert.False(t, engine.IsClientError(errors.New("boom")))

	assert.True(t, engine.IsNotFound(&engine.NotFoundError{Kind: "security", ID: "X"}))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "quantity: must be positive", engine.Invalid("quantity", "must be positive").Error())
	assert.Equal(t, `booking "b1" not found`, (&engine.NotFoundError{Kind: "booking", ID: "b1"}).Error())
	assert.Equal(t,
		"insufficient inventory for ACME: available 400, requested 600",
		(&engine.InsufficientInventoryError{SecurityID: "ACME", Available: 400, Requested: 600}).Error())
}
