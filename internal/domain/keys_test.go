package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRoundKeyDeterministic(t *testing.T) {
	a := RoundKey(1, 42)
	b := RoundKey(1, 42)
	if a != b {
		t.Errorf("RoundKey not deterministic: %s != %s", a.Hex(), b.Hex())
	}
	if a == (common.Hash{}) {
		t.Error("RoundKey returned the zero hash")
	}
}

func TestKeyDistinctness(t *testing.T) {
	round := RoundKey(1, 42)
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	keys := map[common.Hash]string{
		round:                              "round(1,42)",
		RoundKey(1, 43):                    "round(1,43)",
		RoundKey(2, 42):                    "round(2,42)",
		VaultKey(round, SideUp):            "vault up",
		VaultKey(round, SideDown):          "vault down",
		PositionKey(round, user, SideUp):   "position up",
		PositionKey(round, user, SideDown): "position down",
	}
	if len(keys) != 7 {
		t.Fatalf("expected 7 distinct keys, got %d: %v", len(keys), keys)
	}
}

func TestPositionKeyVariesByUser(t *testing.T) {
	round := RoundKey(1, 42)
	u1 := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	u2 := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	if PositionKey(round, u1, SideUp) == PositionKey(round, u2, SideUp) {
		t.Error("position keys of different users collide")
	}
}
