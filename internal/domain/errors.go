package domain

import "errors"

// Validation errors. These are caller mistakes: rejected immediately, never
// retried, mapped to 4xx by the HTTP layer.
var (
	ErrExpired         = errors.New("permit expired")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidQuestion = errors.New("invalid question")
	ErrBadSignature    = errors.New("bad signature")
	ErrReplayed        = errors.New("replayed or stale permit")
)

// Ledger rejections. The ledger refused the state transition; terminal,
// surfaced with the rejection reason, never retried.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrMarketNotFound  = errors.New("market not found")
	ErrMarketClosed    = errors.New("market closed")
	ErrMarketResolved  = errors.New("market resolved")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrBettingOpen     = errors.New("betting still open")
	ErrNotResolved     = errors.New("market not resolved")
	ErrNothingToClaim  = errors.New("nothing to claim")
	ErrInvalidEndTime  = errors.New("invalid end time")
	ErrLedgerRejected  = errors.New("ledger rejected")
)

// Transient and terminal relay errors.
var (
	ErrNetwork             = errors.New("network error")
	ErrUnderpriced         = errors.New("transaction underpriced")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrRelayFailed         = errors.New("relay failed")
	ErrJobCancelled        = errors.New("job cancelled")
)

// Everything else.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvariant   = errors.New("invariant violation")
	ErrRateLimited = errors.New("rate limited")
	ErrUnsupported = errors.New("unsupported in this mode")
)

// IsValidation reports whether err belongs to the validation class: the
// request was malformed before any submission happened.
func IsValidation(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidQuestion) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrReplayed)
}

// IsLedgerRejected reports whether err is a terminal rejection by the ledger
// state machine. These consume the assigned sequence number and are never
// retried with the same signature.
func IsLedgerRejected(err error) bool {
	return errors.Is(err, ErrLedgerRejected) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrMarketNotFound) ||
		errors.Is(err, ErrMarketClosed) ||
		errors.Is(err, ErrMarketResolved) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrBettingOpen) ||
		errors.Is(err, ErrNotResolved) ||
		errors.Is(err, ErrNothingToClaim) ||
		errors.Is(err, ErrInvalidEndTime) ||
		IsValidation(err)
}

// IsTransient reports whether err is worth retrying with the same sequence
// number after a backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrUnderpriced)
}
