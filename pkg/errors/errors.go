// Package errors holds the sentinel errors shared across the engine. Callers
// wrap them with fmt.Errorf("...: %w", ErrX) and match with errors.Is; the
// control API maps each sentinel to an HTTP status.
package errors

import "errors"

var (
	// ErrNotFound reports a missing campaign, call or statistics row.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lifecycle transition that does not apply to the
	// campaign's current state.
	ErrConflict = errors.New("conflict")
	// ErrValidation reports bad caller input or an unstartable campaign.
	ErrValidation = errors.New("validation error")
	// ErrUnavailable reports a backing component that is not configured or
	// not reachable.
	ErrUnavailable = errors.New("service unavailable")
	// ErrConfiguration reports deployment data the engine cannot dial with,
	// such as an assistant without an outbound trunk.
	ErrConfiguration = errors.New("configuration error")
)
