package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a check failed
type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindConnectivity ErrorKind = "connectivity"
	KindSchema       ErrorKind = "schema"
	KindStartup      ErrorKind = "startup"
	KindAssertion    ErrorKind = "assertion"
	KindSecurity     ErrorKind = "security"
	KindUnknown      ErrorKind = "unknown"
)

// CheckError is a failure raised by a check, tagged with its kind
type CheckError struct {
	Kind ErrorKind
	Err  error
}

func (e *CheckError) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return e.Err.Error()
}

// Unwrap implements the errors.Unwrap interface
func (e *CheckError) Unwrap() error {
	return e.Err
}

func newCheckError(kind ErrorKind, format string, args ...any) *CheckError {
	return &CheckError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NewConfigError reports a required configuration value that is absent.
func NewConfigError(format string, args ...any) *CheckError {
	return newCheckError(KindConfig, format, args...)
}

// NewConnectivityError reports a network or database connection failure.
func NewConnectivityError(format string, args ...any) *CheckError {
	return newCheckError(KindConnectivity, format, args...)
}

// NewSchemaError reports an expected table or column that is absent.
func NewSchemaError(format string, args ...any) *CheckError {
	return newCheckError(KindSchema, format, args...)
}

// NewStartupError reports that the service under test could not be brought up.
func NewStartupError(format string, args ...any) *CheckError {
	return newCheckError(KindStartup, format, args...)
}

// NewAssertionError reports a response that diverges from the documented contract.
func NewAssertionError(format string, args ...any) *CheckError {
	return newCheckError(KindAssertion, format, args...)
}

// NewSecurityError reports a weak security posture.
func NewSecurityError(format string, args ...any) *CheckError {
	return newCheckError(KindSecurity, format, args...)
}

// KindOf returns the kind of the first CheckError in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var checkErr *CheckError
	if errors.As(err, &checkErr) {
		return checkErr.Kind
	}
	return KindUnknown
}
