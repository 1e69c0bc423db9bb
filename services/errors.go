package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	// ErrNotClaimable covers both refinements below, so callers that do not
	// care why a claim was refused can match on it alone.
	ErrNotClaimable   = errors.New("not claimable")
	ErrNotCompleted   = fmt.Errorf("%w: not completed", ErrNotClaimable)
	ErrAlreadyClaimed = fmt.Errorf("%w: already claimed", ErrNotClaimable)

	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrLedgerRejected     = errors.New("ledger rejected request")
	ErrAccountUnavailable = errors.New("ledger account unavailable")
)

// LedgerError describes a failed call to the token ledger.
type LedgerError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *LedgerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger %s: %s", e.Op, e.Message)
}

// Unwrap exposes both the classification sentinel and the transport cause.
func (e *LedgerError) Unwrap() []error {
	kind := ErrLedgerUnavailable
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		kind = ErrLedgerRejected
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
