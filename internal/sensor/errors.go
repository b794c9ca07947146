package sensor

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes location acquisition failures.
type ErrorCode string

const (
	// CodeTimeout means the fetch did not produce a fix within the
	// request's timeout.
	CodeTimeout ErrorCode = "LOCATION_TIMEOUT"

	// CodeUnavailable means the sensor produced no fix for a reason other
	// than timeout or permissions (airplane mode, no provider).
	CodeUnavailable ErrorCode = "LOCATION_UNAVAILABLE"

	// CodePermissionDenied means the platform denied location access.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// LocationError is the typed failure returned by a Provider. Acquisition
// failures never change engine state; callers decide whether to retry.
type LocationError struct {
	Code    ErrorCode
	Message string
}

func (e *LocationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTimeout returns a LocationError with CodeTimeout.
func NewTimeout(msg string) *LocationError {
	return &LocationError{Code: CodeTimeout, Message: msg}
}

// NewUnavailable returns a LocationError with CodeUnavailable.
func NewUnavailable(msg string) *LocationError {
	return &LocationError{Code: CodeUnavailable, Message: msg}
}

// NewPermissionDenied returns a LocationError with CodePermissionDenied.
func NewPermissionDenied(msg string) *LocationError {
	return &LocationError{Code: CodePermissionDenied, Message: msg}
}

// IsTimeout reports whether err is a LocationError with CodeTimeout.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	var le *LocationError
	return errors.As(err, &le) && le.Code == CodeTimeout
}

// IsPermissionDenied reports whether err is a LocationError with
// CodePermissionDenied.
func IsPermissionDenied(err error) bool {
	var le *LocationError
	return errors.As(err, &le) && le.Code == CodePermissionDenied
}
