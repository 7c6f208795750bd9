package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps is the hard cap on the protocol fee rate (15%).
const MaxFeeBps uint16 = 1_500

// BpsDenominator converts basis points into a fraction of the pool.
const BpsDenominator uint64 = 10_000

// ProtocolConfig is the process-wide singleton controlling fees, pause state,
// the treasury destination, and the oracle identity. It is created once and
// mutated only by the admin.
type ProtocolConfig struct {
	Admin             common.Address
	Treasury          common.Address
	OracleProgram     string // base58 program id that must own price accounts
	FeeBps            uint16
	OracleMaxAgeSlots uint64 // staleness bound in publish-slot units
	Paused            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks the invariants the config must hold at all times.
func (c *ProtocolConfig) Validate() error {
	if c.FeeBps > MaxFeeBps {
		return ErrInvalidFeeBps
	}
	return nil
}
