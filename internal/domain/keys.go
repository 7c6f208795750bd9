package domain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Record keys are derived deterministically from public identifiers so any
// caller can recompute the address of a round, vault, or position without a
// lookup table. Each key is the keccak-256 hash of a tag byte-string and the
// seed tuple, mirroring the seed scheme used on chain.

var (
	roundSeed    = []byte("round")
	vaultSeed    = []byte("vault")
	positionSeed = []byte("position")
)

// RoundKey derives the record key for (market, roundID).
func RoundKey(market uint8, roundID int64) common.Hash {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], uint64(roundID))
	return crypto.Keccak256Hash(roundSeed, []byte{market}, id[:])
}

// VaultKey derives the record key for one side-vault of a round.
func VaultKey(round common.Hash, side Side) common.Hash {
	return crypto.Keccak256Hash(vaultSeed, round.Bytes(), []byte{byte(side)})
}

// PositionKey derives the record key for a user's stake on one side of a
// round.
func PositionKey(round common.Hash, user common.Address, side Side) common.Hash {
	return crypto.Keccak256Hash(positionSeed, round.Bytes(), user.Bytes(), []byte{byte(side)})
}
