package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies a failed completion call.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureRateLimited
	FailureAuth
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureAuth:
		return "auth"
	default:
		return "other"
	}
}

// APIError is a non-success response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Kind       FailureKind
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.Provider, e.StatusCode, e.Message)
}

func newAPIError(provider string, status int, message string) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: status,
		Kind:       kindForStatus(status),
		Message:    message,
	}
}

func kindForStatus(status int) FailureKind {
	switch status {
	case http.StatusTooManyRequests:
		return FailureRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	default:
		return FailureOther
	}
}

// Classify returns the failure kind of err. Errors that did not come from a
// provider response are FailureOther.
func Classify(err error) FailureKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return FailureOther
}
