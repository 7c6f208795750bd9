package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// RoundStore persists rounds, their side-vaults, and positions. Every
// ApplyX method commits all mutations of one engine operation in a single
// database transaction: either the whole operation's state change lands or
// none of it does.
type RoundStore interface {
	// Create inserts a round together with its two zero-balance vaults.
	Create(ctx context.Context, round Round, vaults [2]Vault) error
	Get(ctx context.Context, key common.Hash) (Round, error)
	List(ctx context.Context, opts ListOpts) ([]Round, error)
	// ListLockable returns open rounds whose lock window contains now.
	ListLockable(ctx context.Context, now int64) ([]Round, error)
	// ListSettleable returns unsettled rounds whose end time has passed.
	ListSettleable(ctx context.Context, now int64) ([]Round, error)

	// ApplyJoin persists a join by crediting the stake to the stored side
	// total, position amount, and side-vault balance. The credits are
	// relative to the stored rows, not the caller's snapshot, so joins that
	// raced past the distributed lock still accumulate instead of
	// overwriting each other.
	ApplyJoin(ctx context.Context, round Round, pos Position, stake uint64) error
	// ApplyLock persists the captured start price and the Open->Locked
	// transition, guarded on the round still being open.
	ApplyLock(ctx context.Context, round Round) error
	// ApplySettle persists the settlement outputs, the transition to
	// Settled, and the fee debits taken from each vault.
	ApplySettle(ctx context.Context, round Round, feeFromUp, feeFromDown uint64) error
	// ApplyClaim marks the position claimed (guarded on claimed=false) and
	// debits the payout from each vault.
	ApplyClaim(ctx context.Context, pos Position, payFromUp, payFromDown uint64) error
}

// PositionStore reads positions.
type PositionStore interface {
	Get(ctx context.Context, key common.Hash) (Position, error)
	ListByRound(ctx context.Context, round common.Hash, opts ListOpts) ([]Position, error)
	ListByUser(ctx context.Context, user common.Address, opts ListOpts) ([]Position, error)
}

// VaultStore reads vault balances.
type VaultStore interface {
	Get(ctx context.Context, key common.Hash) (Vault, error)
	// Pair returns the Up and Down vaults of a round, in that order.
	Pair(ctx context.Context, round common.Hash) (Vault, Vault, error)
}

// ProtocolConfigStore persists the singleton protocol config. Init fails
// with ErrAlreadyExists once a config row is present; there is no
// reinitialization path.
type ProtocolConfigStore interface {
	Init(ctx context.Context, cfg ProtocolConfig) error
	Get(ctx context.Context) (ProtocolConfig, error)
	Update(ctx context.Context, cfg ProtocolConfig) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
