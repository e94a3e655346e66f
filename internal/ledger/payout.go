package ledger

import "math/big"

// payoutFor computes the claimable amount for a winning stake given the
// frozen resolution-time pools: stake + stake * losing / winning, with
// truncating integer division. The truncation remainder stays in the pool
// unclaimed, so the sum of all payouts can never exceed winning + losing.
//
// A zero winning pool means nobody can claim through this formula; the
// degenerate case is handled by the refund path in Claim.
func payoutFor(stake, winning, losing *big.Int) *big.Int {
	if winning.Sign() == 0 {
		return new(big.Int)
	}
	share := new(big.Int).Mul(stake, losing)
	share.Quo(share, winning)
	return share.Add(share, stake)
}
