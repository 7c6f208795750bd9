package service

import (
	"math/bits"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// Proportion returns floor(numerator * totalOut / totalIn). The intermediate
// product is computed in 128 bits so it cannot wrap before the divide; the
// call fails only when the quotient itself does not fit in 64 bits. Any zero
// input yields zero.
//
// Floor division means a sum of shares is <= totalOut; the residual dust
// stays behind permanently.
func Proportion(numerator, totalOut, totalIn uint64) (uint64, error) {
	if numerator == 0 || totalOut == 0 || totalIn == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(numerator, totalOut)
	if hi >= totalIn {
		return 0, domain.ErrMathOverflow
	}
	quo, _ := bits.Div64(hi, lo, totalIn)
	return quo, nil
}

// ComputeFee splits the combined pool into the protocol fee,
// floor(total * feeBps / 10000), and the distributable remainder.
func ComputeFee(total uint64, feeBps uint16) (fee, distributable uint64, err error) {
	fee, err = Proportion(total, uint64(feeBps), domain.BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	distributable, err = domain.CheckedSub(total, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, distributable, nil
}

// DetermineWinner picks the winning side of a locked round from its captured
// prices. A round with an empty side or no price movement has no winner; the
// pool is refunded pro-rata net of fee.
func DetermineWinner(r domain.Round) domain.Side {
	if r.UpTotal == 0 || r.DownTotal == 0 {
		return domain.SideNone
	}
	switch {
	case r.EndPrice == r.StartPrice:
		return domain.SideNone
	case r.EndPrice > r.StartPrice:
		return domain.SideUp
	default:
		return domain.SideDown
	}
}

// ClaimPayout computes the payout owed to a position of a settled round. A
// push refunds every position pro-rata against the combined pool; a winning
// position takes its share of the distributable pool against the winning
// side's total; a losing position gets nothing.
func ClaimPayout(r domain.Round, p domain.Position) (uint64, error) {
	switch {
	case r.Winner == domain.SideNone:
		total, err := r.Total()
		if err != nil {
			return 0, err
		}
		return Proportion(p.Amount, r.Distributable, total)
	case p.Side == r.Winner:
		return Proportion(p.Amount, r.Distributable, r.SideTotal(r.Winner))
	default:
		return 0, nil
	}
}

// SplitWithdrawal drains amount from the vault pair, Up vault first and Down
// vault for any remainder. The two pools are accounted jointly for fees and
// push refunds even though they are held as separate balances. A remainder
// still owed after both vaults are drained means upstream bookkeeping broke
// conservation.
func SplitWithdrawal(upBalance, downBalance, amount uint64) (fromUp, fromDown uint64, err error) {
	if amount == 0 {
		return 0, 0, nil
	}
	fromUp = min(amount, upBalance)
	remainder := amount - fromUp
	fromDown = min(remainder, downBalance)
	if remainder-fromDown > 0 {
		return 0, 0, domain.ErrInsufficientVaultLiquidity
	}
	return fromUp, fromDown, nil
}
