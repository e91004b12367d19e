// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kaggle

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrAuthenticationFailed is returned when no usable credentials are found
	// or the API rejects them.
	ErrAuthenticationFailed = errors.New("kaggle: authentication failed")

	// ErrNotFound is returned when the competition does not exist or its
	// rules have not been accepted.
	ErrNotFound = errors.New("kaggle: competition not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("kaggle: rate limited")
)

// APIError represents a non-2xx answer from the Kaggle API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kaggle API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("kaggle API error %d: %s", e.StatusCode, e.Status)
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrAuthenticationFailed
	case 404:
		return target == ErrNotFound
	case 429:
		return target == ErrRateLimited
	default:
		return false
	}
}

// CredentialsError explains why credentials could not be loaded.
type CredentialsError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CredentialsError) Error() string {
	msg := "kaggle credentials: " + e.Reason
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialsError) Unwrap() error {
	return e.Err
}

// Is reports every credentials problem as an authentication failure.
func (e *CredentialsError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}
