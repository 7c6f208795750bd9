package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a participant's cumulative stake on one side of one round. A
// user holds at most one position per (round, side); holding both sides of
// the same round is two independent positions. The side is fixed by the first
// join and the claimed flag flips exactly once.
type Position struct {
	Key       common.Hash
	Round     common.Hash
	User      common.Address
	Side      Side
	Amount    uint64
	Claimed   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vault is the escrow balance holding all stakes for one side of one round.
// The two vaults of a round are credited independently on join but drained
// jointly (Up first, then Down) for fees and payouts.
type Vault struct {
	Key     common.Hash
	Round   common.Hash
	Side    Side
	Balance uint64
}
