// Package domain defines the core records, events, and store interfaces of
// the settlement engine: rounds, vaults, positions, and the protocol config.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side identifies which outcome of a round a stake backs.
type Side uint8

const (
	SideUp   Side = 0
	SideDown Side = 1
	// SideNone marks a round with no winning side (push / no contest).
	SideNone Side = 255
)

// String returns the lowercase name of the side.
func (s Side) String() string {
	switch s {
	case SideUp:
		return "up"
	case SideDown:
		return "down"
	case SideNone:
		return "none"
	default:
		return "invalid"
	}
}

// Valid reports whether the side is one a participant may stake on.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// ParseSide converts a string ("up"/"down") into a Side.
func ParseSide(v string) (Side, error) {
	switch v {
	case "up", "Up", "UP":
		return SideUp, nil
	case "down", "Down", "DOWN":
		return SideDown, nil
	default:
		return SideNone, ErrInvalidSide
	}
}

// RoundStatus is the lifecycle state of a round. Status only ever advances:
// Open -> Locked -> Settled, or Open -> Settled when the lock window was
// missed entirely.
type RoundStatus string

const (
	RoundOpen    RoundStatus = "open"
	RoundLocked  RoundStatus = "locked"
	RoundSettled RoundStatus = "settled"
)

// LockGraceSeconds is the width of the window after lock_ts during which a
// lock call is still accepted, to absorb caller scheduling latency.
const LockGraceSeconds int64 = 45

// Round is one up/down prediction contest with its own schedule and pools.
type Round struct {
	Key           common.Hash
	Market        uint8
	RoundID       int64
	FeedID        common.Hash
	OracleAccount string // base58 address of the bound price account
	LockTS        int64  // unix seconds; join window closes here
	EndTS         int64  // unix seconds; settlement becomes legal here
	StartPrice    int64
	EndPrice      int64
	Expo          int32
	Status        RoundStatus
	Winner        Side
	UpTotal       uint64
	DownTotal     uint64
	FeeLamports   uint64
	Distributable uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Total returns the combined pool of both sides with an overflow check.
func (r *Round) Total() (uint64, error) {
	return CheckedAdd(r.UpTotal, r.DownTotal)
}

// SideTotal returns the aggregated stake for one side.
func (r *Round) SideTotal(s Side) uint64 {
	if s == SideUp {
		return r.UpTotal
	}
	return r.DownTotal
}

// LockWindowOpen reports whether now falls inside [lock_ts, lock_ts+grace].
func (r *Round) LockWindowOpen(now int64) bool {
	return now >= r.LockTS && now <= r.LockTS+LockGraceSeconds
}

// CheckedAdd adds two lamport amounts, failing on wrap-around. Arithmetic
// faults are fatal to the calling operation, never saturated.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub subtracts b from a, failing on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}
