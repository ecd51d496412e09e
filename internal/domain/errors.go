package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrLockLost      = errors.New("lock lost")
	ErrInvalidInput  = errors.New("invalid input")
)

// Settlement error kinds. Specific errors below wrap exactly one of these.
var (
	ErrDecode         = errors.New("choice decode failed")
	ErrTallyMismatch  = errors.New("tally mismatch")
	ErrPrecondition   = errors.New("precondition failed")
	ErrAlreadyClaimed = errors.New("reward already claimed")
)

var (
	ErrAlreadyFinalized = fmt.Errorf("%w: market already finalized", ErrPrecondition)
	ErrNotEnded         = fmt.Errorf("%w: market has not ended yet", ErrPrecondition)
	ErrNotFinalized     = fmt.Errorf("%w: market is not finalized", ErrPrecondition)
	ErrNoTickets        = fmt.Errorf("%w: market has no tickets", ErrPrecondition)
	ErrEmptyPool        = fmt.Errorf("%w: market pool is empty", ErrPrecondition)
	ErrNoStake          = fmt.Errorf("%w: participant has no stake", ErrPrecondition)
	ErrNoWinningTickets = fmt.Errorf("%w: participant has no winning tickets", ErrPrecondition)
	ErrZeroClaim        = fmt.Errorf("%w: computed claim amount is zero", ErrPrecondition)
	ErrMarketClosed     = fmt.Errorf("%w: market is closed for ticket purchases", ErrPrecondition)

	ErrNoAccount          = fmt.Errorf("%w: no ticket account for participant", ErrNotFound)
	ErrNoMeta             = fmt.Errorf("%w: market metadata", ErrNotFound)
	ErrInconsistentTotals = fmt.Errorf("%w: side totals inconsistent with ledger totals", ErrTallyMismatch)
	ErrBadSignature       = fmt.Errorf("%w: proposal signature rejected", ErrUnauthorized)

	ErrInvalidMarketKey  = errors.New("market encryption key is malformed")
	ErrInsufficientFunds = errors.New("market treasury has insufficient funds")
	ErrOverflow          = errors.New("arithmetic overflow")

	// ErrLedgerUnavailable marks ledger transport failures; the attempt is
	// safe to retry.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)
