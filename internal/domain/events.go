package domain

import "github.com/ethereum/go-ethereum/common"

// Signal bus channels carrying engine events.
const (
	ChannelRounds = "rounds"
	ChannelClaims = "claims"
)

// StreamName returns the durable stream that mirrors a pub/sub channel.
// Every published event is also appended there so consumers can replay what
// they missed while disconnected.
func StreamName(channel string) string {
	return "stream:" + channel
}

// Event names. One event is emitted per successful state-changing operation;
// together with the records themselves they form the durable audit trail.
const (
	EventRoundCreated = "round_created"
	EventRoundJoined  = "round_joined"
	EventRoundLocked  = "round_locked"
	EventRoundSettled = "round_settled"
	EventClaimed      = "claimed"
)

// RoundCreatedEvent is emitted when the admin opens a new round.
type RoundCreatedEvent struct {
	Event   string      `json:"event"`
	Round   common.Hash `json:"round"`
	RoundID int64       `json:"round_id"`
	Market  uint8       `json:"market"`
	LockTS  int64       `json:"lock_ts"`
	EndTS   int64       `json:"end_ts"`
}

// RoundJoinedEvent is emitted for every accepted stake.
type RoundJoinedEvent struct {
	Event    string         `json:"event"`
	Round    common.Hash    `json:"round"`
	User     common.Address `json:"user"`
	Side     string         `json:"side"`
	Lamports uint64         `json:"lamports"`
}

// RoundLockedEvent is emitted when the start price is captured.
type RoundLockedEvent struct {
	Event      string      `json:"event"`
	Round      common.Hash `json:"round"`
	StartPrice int64       `json:"start_price"`
	Expo       int32       `json:"expo"`
	LockedAt   int64       `json:"locked_at"`
}

// RoundSettledEvent is emitted when the outcome and fee are finalized.
type RoundSettledEvent struct {
	Event         string      `json:"event"`
	Round         common.Hash `json:"round"`
	Winner        string      `json:"winner_side"`
	StartPrice    int64       `json:"start_price"`
	EndPrice      int64       `json:"end_price"`
	FeeLamports   uint64      `json:"fee_lamports"`
	Distributable uint64      `json:"distributable_lamports"`
	SettledAt     int64       `json:"settled_at"`
}

// ClaimedEvent is emitted for every claim, including zero payouts on losing
// sides.
type ClaimedEvent struct {
	Event  string         `json:"event"`
	Round  common.Hash    `json:"round"`
	User   common.Address `json:"user"`
	Side   string         `json:"side"`
	Stake  uint64         `json:"stake"`
	Payout uint64         `json:"payout"`
}
