// Package domain defines the core types shared across the relay: markets,
// bets, permits, relay jobs, and the error taxonomy the HTTP layer maps onto
// status codes.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Market is one binary prediction market. Pool totals are expressed in token
// base units and are monotonically non-decreasing until resolution, after
// which they are frozen.
type Market struct {
	ID       uint64    `json:"marketId"`
	Question string    `json:"question"`
	EndTime  time.Time `json:"endTime"`
	TotalYes *big.Int  `json:"totalYes"`
	TotalNo  *big.Int  `json:"totalNo"`
	Resolved bool      `json:"resolved"`
	Outcome  bool      `json:"outcome"`
	Active   bool      `json:"active"`
}

// Open reports whether the betting window is still open at t.
func (m Market) Open(t time.Time) bool {
	return !m.Resolved && t.Before(m.EndTime)
}

// Pool returns the pool total for the given side. The returned value must be
// treated as read-only.
func (m Market) Pool(side bool) *big.Int {
	if side {
		return m.TotalYes
	}
	return m.TotalNo
}

// Bet is one bettor's accumulated position on one side of a market. Repeated
// bets on the same side accumulate into a single record; a bettor may hold
// positions on both sides at once.
type Bet struct {
	MarketID uint64         `json:"marketId"`
	Bettor   common.Address `json:"bettor"`
	Side     bool           `json:"side"` // true = YES
	Amount   *big.Int       `json:"amount"`
	Claimed  bool           `json:"claimed"`
}

// Position is the per-bettor view the frontend renders: both sides of a
// market plus whether the payout was already claimed.
type Position struct {
	MarketID  uint64         `json:"marketId"`
	Bettor    common.Address `json:"bettor"`
	YesAmount *big.Int       `json:"yesAmount"`
	NoAmount  *big.Int       `json:"noAmount"`
	Claimed   bool           `json:"claimed"`
}
