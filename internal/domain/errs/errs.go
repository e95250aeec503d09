// Package errs holds the error taxonomy of a backtest run. Only submission
// and render failures are hard failures; the rest degrade into a partial result.
package errs

import (
	"errors"
	"fmt"

	"QuantGate/internal/domain/models"
)

// ErrTimeoutExpired marks the listening window elapsing before a terminal fragment.
var ErrTimeoutExpired = errors.New("listening window elapsed before a terminal fragment")

// SubmissionError is returned when the executor did not accept a job.
type SubmissionError struct {
	Status    int
	Retryable bool
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("submit backtest: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("submit backtest: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SubscriptionError reports a broker that stayed unreachable.
type SubscriptionError struct {
	Transport string
	Attempts  int
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s subscription failed after %d attempts: %v", e.Transport, e.Attempts, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// MalformedFragmentError is logged and the message dropped.
type MalformedFragmentError struct {
	Reason string
	Err    error
}

func (e *MalformedFragmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed fragment: %s: %v", e.Reason, e.Err)
	}
	return "malformed fragment: " + e.Reason
}

func (e *MalformedFragmentError) Unwrap() error { return e.Err }

// Malformed builds a MalformedFragmentError.
func Malformed(reason string, err error) *MalformedFragmentError {
	return &MalformedFragmentError{Reason: reason, Err: err}
}

// RenderError keeps the aggregated data so the caller can retry rendering.
type RenderError struct {
	Result models.AggregatedResult
	Err    error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render chart: %v", e.Err) }

func (e *RenderError) Unwrap() error { return e.Err }

// IsRetryableSubmission reports whether err is a submission failure worth retrying.
func IsRetryableSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Retryable
}
