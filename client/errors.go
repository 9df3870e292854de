// Package client is the Go SDK for the Ripple API. It mirrors the backend's
// tables into ordered view collections, applies user actions optimistically,
// and reconciles them against the server's change-event stream.
package client

import "fmt"

// ValidationError reports input rejected before any request was issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// AuthSessionError reports a missing, expired, or rejected session.
type AuthSessionError struct {
	Reason string
}

func (e *AuthSessionError) Error() string {
	return fmt.Sprintf("auth session: %s", e.Reason)
}

// PermissionError reports an action the backend refused for the current user.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// RequestError reports a network or backend failure. The originating
// optimistic patch, if any, must be rolled back by the caller.
type RequestError struct {
	Status int
	Code   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	return fmt.Sprintf("request failed: status %d (%s)", e.Status, e.Code)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
