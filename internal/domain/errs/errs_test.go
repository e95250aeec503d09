package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionErrorRetryable(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("run: %w", &SubmissionError{Retryable: true, Err: base})

	assert.True(t, IsRetryableSubmission(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsRetryableSubmission(&SubmissionError{Status: 400, Err: base}))
	assert.False(t, IsRetryableSubmission(base))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "submit backtest: status 502: bad gateway",
		(&SubmissionError{Status: 502, Err: errors.New("bad gateway")}).Error())
	assert.Equal(t, "malformed fragment: missing seq", Malformed("missing seq", nil).Error())
	assert.Contains(t, (&SubscriptionError{Transport: "redis", Attempts: 3, Err: errors.New("eof")}).Error(), "after 3 attempts")
}
