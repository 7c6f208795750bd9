package domain

import "errors"

// Every failure is a typed rejection of a single operation; nothing is
// silently swallowed and no partial state change survives a rejected call.
var (
	// Authorization
	ErrUnauthorized = errors.New("unauthorized")

	// Configuration
	ErrInvalidFeeBps  = errors.New("fee bps out of range")
	ErrProtocolPaused = errors.New("protocol is paused")

	// Scheduling
	ErrInvalidSchedule   = errors.New("invalid round schedule")
	ErrJoinWindowClosed  = errors.New("join window closed")
	ErrTooEarlyToLock    = errors.New("too early to lock")
	ErrLockWindowExpired = errors.New("lock window expired")
	ErrTooEarlyToSettle  = errors.New("too early to settle")

	// State
	ErrRoundNotOpen        = errors.New("round is not open")
	ErrRoundAlreadyLocked  = errors.New("round already locked")
	ErrRoundAlreadySettled = errors.New("round already settled")
	ErrRoundNotSettled     = errors.New("round not settled")
	ErrAlreadyClaimed      = errors.New("position already claimed")
	ErrNothingToClaim      = errors.New("nothing to claim")

	// Validation
	ErrInvalidSide          = errors.New("invalid side")
	ErrInvalidStake         = errors.New("invalid stake")
	ErrPositionSideMismatch = errors.New("position side mismatch")
	ErrPositionUserMismatch = errors.New("position user mismatch")
	ErrVaultRoundMismatch   = errors.New("vault round mismatch")

	// Arithmetic
	ErrMathOverflow = errors.New("math overflow")

	// Oracle
	ErrInvalidOraclePrice      = errors.New("invalid oracle price")
	ErrUnexpectedOracleAccount = errors.New("unexpected oracle account")
	ErrInvalidOracleOwner      = errors.New("invalid oracle owner")
	ErrStaleOraclePrice        = errors.New("stale oracle price")

	// Liquidity. Should be unreachable while the conservation invariant
	// holds; triggering it signals a bookkeeping bug upstream.
	ErrInsufficientVaultLiquidity = errors.New("insufficient vault liquidity")

	// Infrastructure
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
)
