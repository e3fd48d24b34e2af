package verifier

import (
	"errors"
	"fmt"
)

// SetupError is an error that prevented the checks from running at all,
// such as an unusable configuration.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup error: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func NewSetupError(err error) *SetupError {
	return &SetupError{Err: err}
}

// IsSetupError checks if the error is or wraps a SetupError
func IsSetupError(err error) bool {
	var setupErr *SetupError
	return err != nil && errors.As(err, &setupErr)
}

// VerificationFailedError reports a completed run with at least one failed check.
type VerificationFailedError struct {
	Passed int
	Failed int
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification failed: %d passed, %d failed", e.Passed, e.Failed)
}

func NewVerificationFailedError(passed, failed int) *VerificationFailedError {
	return &VerificationFailedError{Passed: passed, Failed: failed}
}

// IsVerificationFailedError checks if the error is or wraps a VerificationFailedError
func IsVerificationFailedError(err error) bool {
	var failedErr *VerificationFailedError
	return err != nil && errors.As(err, &failedErr)
}
