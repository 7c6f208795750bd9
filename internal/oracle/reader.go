package oracle

import (
	"context"
	"fmt"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// Account is a price feed account as fetched from the chain: its address,
// its owning program, its raw data, and the slot the node observed when
// serving it.
type Account struct {
	Address string // base58
	Owner   string // base58 program id
	Data    []byte
	Slot    uint64 // current slot at fetch time, used for staleness
}

// FeedSource fetches price feed accounts by address.
type FeedSource interface {
	Fetch(ctx context.Context, address string) (Account, error)
}

// Price is a validated oracle price observation.
type Price struct {
	Price int64
	Expo  int32
}

// Reader fetches and validates oracle prices for rounds. Each read verifies
// the fetched account against the address the round was bound to at creation
// and the configured oracle program, which defends against substitution of
// an attacker-supplied account.
type Reader struct {
	source FeedSource
}

// NewReader creates a Reader on top of the given feed source.
func NewReader(source FeedSource) *Reader {
	return &Reader{source: source}
}

// Read fetches boundAccount and returns its aggregate price. It fails with
// ErrUnexpectedOracleAccount or ErrInvalidOracleOwner on identity mismatch,
// ErrInvalidOraclePrice on an unparseable or non-trading payload, and
// ErrStaleOraclePrice when the publish slot is older than maxAgeSlots.
func (r *Reader) Read(ctx context.Context, boundAccount, expectedProgram string, maxAgeSlots uint64) (Price, error) {
	acct, err := r.source.Fetch(ctx, boundAccount)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: fetch %s: %w", boundAccount, err)
	}

	if acct.Address != boundAccount {
		return Price{}, domain.ErrUnexpectedOracleAccount
	}
	if acct.Owner != expectedProgram {
		return Price{}, domain.ErrInvalidOracleOwner
	}

	parsed, ok := ParsePythPriceAccount(acct.Data)
	if !ok {
		return Price{}, domain.ErrInvalidOraclePrice
	}
	if parsed.Status != StatusTrading {
		return Price{}, domain.ErrInvalidOraclePrice
	}

	var age uint64
	if acct.Slot > parsed.PubSlot {
		age = acct.Slot - parsed.PubSlot
	}
	if age > maxAgeSlots {
		return Price{}, domain.ErrStaleOraclePrice
	}

	return Price{Price: parsed.Price, Expo: parsed.Expo}, nil
}
