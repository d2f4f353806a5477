package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("load request: %w", NotFound("leave_request_not_found", "leave request not found"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestErrorsIsMatchesCodeWhenSet(t *testing.T) {
	err := Conflict("duplicate_transaction", "transaction id reused")

	assert.True(t, errors.Is(err, Conflict("duplicate_transaction", "")))
	assert.False(t, errors.Is(err, Conflict("invalid_transition", "")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := UpstreamUnavailable("time management", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
	assert.Equal(t, "time management", err.Details["source"])
	assert.Nil(t, Wrap(nil, KindInternal, "x", "y"))
}

func TestInsufficientBalanceDetails(t *testing.T) {
	err := InsufficientBalance("5", "7")

	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, "5", err.Details["available"])
	assert.Equal(t, "7", err.Details["requested"])
	assert.True(t, IsClientError(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, IsClientError(errors.New("boom")))
}
