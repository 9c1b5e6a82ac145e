package storage

import (
	"errors"
	"fmt"
	"net/http"
)

type FetchErrorType string

const (
	FetchUnauthorised       FetchErrorType = "Unauthorised"
	FetchRequestError       FetchErrorType = "RequestError"
	FetchServiceUnavailable FetchErrorType = "ServiceUnavailable"
	FetchUnexpectedStatus   FetchErrorType = "UnexpectedStatus"
	FetchNetworkError       FetchErrorType = "NetworkError"
	FetchDecodeError        FetchErrorType = "DecodeError"
)

type FetchError struct {
	Type       FetchErrorType
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("storage: %s for %s", e.Type, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FetchErrorTypeOf extracts the fetch error type from a wrapped error chain.
func FetchErrorTypeOf(err error) (FetchErrorType, bool) {
	var ferr *FetchError
	if errors.As(err, &ferr) {
		return ferr.Type, true
	}
	return "", false
}

func classifyStatus(code int) FetchErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FetchUnauthorised
	case code == http.StatusTooManyRequests || code >= 500:
		return FetchServiceUnavailable
	case code >= 400:
		return FetchRequestError
	default:
		return FetchUnexpectedStatus
	}
}

// Retryable reports whether a failed storage request may succeed when repeated.
func Retryable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	typ, ok := FetchErrorTypeOf(err)
	if !ok {
		return false
	}
	switch typ {
	case FetchNetworkError, FetchServiceUnavailable, FetchUnexpectedStatus:
		return true
	default:
		return false
	}
}
