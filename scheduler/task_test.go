package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusSuccessful.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusRetry.Terminal())
}

func TestRetryWrapsCause(t *testing.T) {
	cause := errors.New("attempt 1")
	err := Retry(cause)

	assert.True(t, IsRetry(err))
	assert.Equal(t, "scheduler: retry requested: attempt 1", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRetryWithNilCause(t *testing.T) {
	err := Retry(nil)
	assert.True(t, IsRetry(err))
	assert.Equal(t, "scheduler: retry requested", err.Error())
}

func TestIsRetryFalseForOtherErrors(t *testing.T) {
	assert.False(t, IsRetry(errors.New("not a retry")))
	assert.False(t, IsRetry(ErrNotFound))
}
