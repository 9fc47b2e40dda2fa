// Package queue implements the L2 approval queue: pending human gates for
// write actions, their TTL lifecycle, and execution of approved entries.
package queue

import (
	"errors"
)

var (
	// ErrRequestNotFound is returned when no entry matches the request id.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrRequestNotPending is returned when a transition targets an entry
	// already in a terminal status. Terminal statuses are sticky.
	ErrRequestNotPending = errors.New("approval request is not pending")

	// ErrRequestExpired is returned when an approve call arrives at or after
	// expires_at. The entry transitions to expired as a side effect.
	ErrRequestExpired = errors.New("approval request expired")
)

// ListOptions bounds queue listing queries.
type ListOptions struct {
	// Limit caps the number of entries returned; 0 applies the default.
	Limit int

	// RunbookID, when set, restricts results to one runbook.
	RunbookID string
}

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 50
