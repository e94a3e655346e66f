// Package ledger implements the market state machine: per-market pools, bet
// records, the one-way resolution transition, and payout computation. It is
// the sole owner of pool totals and resolution state; every mutation goes
// through its validated entry points.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
)

// PermitVerifier re-checks a permit's signature at mutation time. The
// embedded ledger plays the role of the token contract here: the relay's
// pre-submission validation is advisory, this check is authoritative.
type PermitVerifier interface {
	VerifySignature(p domain.Permit) error
}

// Config holds the ledger's policy knobs.
type Config struct {
	// Operator is the only identity allowed to create and resolve markets.
	Operator common.Address

	// AllowEarlyResolve permits resolution before the betting window closes.
	// Default false: resolving an open market fails with BettingStillOpen.
	AllowEarlyResolve bool
}

type betKey struct {
	bettor common.Address
	side   bool
}

// slot is one market's state plus its own lock. Bets on different markets
// never contend; resolve and claim on the same market serialize with bets.
type slot struct {
	mu     sync.Mutex
	market domain.Market
	bets   map[betKey]*domain.Bet
}

// Ledger is an arena of market slots addressed by sequential integer id.
type Ledger struct {
	cfg      Config
	verifier PermitVerifier
	now      func() time.Time

	mu      sync.RWMutex // guards the arena itself, not slot contents
	markets []*slot

	nonceMu sync.Mutex
	nonces  map[common.Address]*big.Int
}

// New creates an empty Ledger. verifier may be nil, in which case
// BetWithPermit trusts the caller's signature check.
func New(cfg Config, verifier PermitVerifier) *Ledger {
	return &Ledger{
		cfg:      cfg,
		verifier: verifier,
		now:      time.Now,
		nonces:   make(map[common.Address]*big.Int),
	}
}

// SetClock overrides the ledger's clock. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// SetVerifier installs the permit signature verifier. Called once at wire
// time to break the construction cycle between ledger and validator.
func (l *Ledger) SetVerifier(v PermitVerifier) { l.verifier = v }

// CreateMarket appends a new open market and returns its id. Only the
// operator may call it.
func (l *Ledger) CreateMarket(ctx context.Context, caller common.Address, question string, endTime time.Time) (uint64, error) {
	if caller != l.cfg.Operator {
		return 0, fmt.Errorf("ledger: create market by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if !endTime.After(l.now()) {
		return 0, fmt.Errorf("ledger: end time %s is not in the future: %w", endTime, domain.ErrInvalidEndTime)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := uint64(len(l.markets))
	l.markets = append(l.markets, &slot{
		market: domain.Market{
			ID:       id,
			Question: question,
			EndTime:  endTime,
			TotalYes: new(big.Int),
			TotalNo:  new(big.Int),
			Active:   true,
		},
		bets: make(map[betKey]*domain.Bet),
	})
	return id, nil
}

func (l *Ledger) slot(id uint64) (*slot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id >= uint64(len(l.markets)) {
		return nil, fmt.Errorf("ledger: market %d: %w", id, domain.ErrMarketNotFound)
	}
	return l.markets[id], nil
}

// PlaceBet credits amount to one side's pool and upserts the bettor's record.
// This is the only path that increases pool totals. No mutation happens
// unless every check passes.
func (l *Ledger) PlaceBet(ctx context.Context, marketID uint64, side bool, amount *big.Int, bettor common.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: bet amount must be positive: %w", domain.ErrInvalidAmount)
	}

	s, err := l.slot(marketID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return l.placeBetLocked(s, side, amount, bettor)
}

// placeBetLocked applies the bet under the slot lock.
func (l *Ledger) placeBetLocked(s *slot, side bool, amount *big.Int, bettor common.Address) error {
	if s.market.Resolved {
		return fmt.Errorf("ledger: market %d: %w", s.market.ID, domain.ErrMarketResolved)
	}
	if !l.now().Before(s.market.EndTime) {
		return fmt.Errorf("ledger: market %d: %w", s.market.ID, domain.ErrMarketClosed)
	}

	s.market.Pool(side).Add(s.market.Pool(side), amount)

	key := betKey{bettor: bettor, side: side}
	if b, ok := s.bets[key]; ok {
		b.Amount.Add(b.Amount, amount)
	} else {
		s.bets[key] = &domain.Bet{
			MarketID: s.market.ID,
			Bettor:   bettor,
			Side:     side,
			Amount:   new(big.Int).Set(amount),
		}
	}
	return nil
}

// BetWithPermit is the gasless bet entry point: it re-verifies the permit,
// consumes the owner's nonce, and places the bet, all atomically with
// respect to concurrent bets, resolution, and other permits from the same
// owner. A failed call leaves nonce and pools untouched.
func (l *Ledger) BetWithPermit(ctx context.Context, p domain.Permit, marketID uint64, side bool) error {
	if p.Value == nil || p.Value.Sign() <= 0 {
		return fmt.Errorf("ledger: permit value must be positive: %w", domain.ErrInvalidAmount)
	}
	if p.Deadline <= uint64(l.now().Unix()) {
		return fmt.Errorf("ledger: permit deadline passed: %w", domain.ErrExpired)
	}
	if l.verifier != nil {
		if err := l.verifier.VerifySignature(p); err != nil {
			return fmt.Errorf("ledger: permit signature: %w", err)
		}
	}

	s, err := l.slot(marketID)
	if err != nil {
		return err
	}

	// Lock order: slot before nonce table, everywhere.
	s.mu.Lock()
	defer s.mu.Unlock()
	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()

	current := l.nonceLocked(p.Owner)
	if p.Nonce == nil || current.Cmp(p.Nonce) != 0 {
		return fmt.Errorf("ledger: permit nonce %s is not current (%s): %w", p.Nonce, current, domain.ErrReplayed)
	}

	if err := l.placeBetLocked(s, side, p.Value, p.Owner); err != nil {
		return err
	}
	current.Add(current, big.NewInt(1))
	return nil
}

// ResolveMarket fixes a market's outcome. One-way: the second call fails with
// AlreadyResolved and changes nothing. Resolution verifies the pool-sum
// invariant before freezing the pools.
func (l *Ledger) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, outcome bool) error {
	if caller != l.cfg.Operator {
		return fmt.Errorf("ledger: resolve market by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}

	s, err := l.slot(marketID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.market.Resolved {
		return fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrAlreadyResolved)
	}
	if !l.cfg.AllowEarlyResolve && l.now().Before(s.market.EndTime) {
		return fmt.Errorf("ledger: market %d closes at %s: %w", marketID, s.market.EndTime, domain.ErrBettingOpen)
	}
	if err := checkPoolSums(s); err != nil {
		return err
	}

	s.market.Resolved = true
	s.market.Outcome = outcome
	s.market.Active = false
	return nil
}

// Claim pays out the bettor's winning stake, or refunds their losing stake
// when the winning pool is empty. Exactly-once: the claimed flag flips under
// the slot lock, so concurrent claims cannot both succeed.
func (l *Ledger) Claim(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error) {
	s, err := l.slot(marketID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.market.Resolved {
		return nil, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrNotResolved)
	}

	winning := s.market.Pool(s.market.Outcome)
	losing := s.market.Pool(!s.market.Outcome)

	// Degenerate market: nobody bet the winning side. Losing stakes are
	// refunded in full instead of being stranded.
	if winning.Sign() == 0 {
		b, ok := s.bets[betKey{bettor: bettor, side: !s.market.Outcome}]
		if !ok || b.Claimed {
			return nil, fmt.Errorf("ledger: market %d bettor %s: %w", marketID, bettor.Hex(), domain.ErrNothingToClaim)
		}
		b.Claimed = true
		return new(big.Int).Set(b.Amount), nil
	}

	b, ok := s.bets[betKey{bettor: bettor, side: s.market.Outcome}]
	if !ok || b.Claimed {
		return nil, fmt.Errorf("ledger: market %d bettor %s: %w", marketID, bettor.Hex(), domain.ErrNothingToClaim)
	}
	b.Claimed = true
	return payoutFor(b.Amount, winning, losing), nil
}

// PayoutPreview computes what Claim would pay without mutating anything.
func (l *Ledger) PayoutPreview(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error) {
	s, err := l.slot(marketID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.market.Resolved {
		return nil, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrNotResolved)
	}

	winning := s.market.Pool(s.market.Outcome)
	losing := s.market.Pool(!s.market.Outcome)

	if winning.Sign() == 0 {
		if b, ok := s.bets[betKey{bettor: bettor, side: !s.market.Outcome}]; ok && !b.Claimed {
			return new(big.Int).Set(b.Amount), nil
		}
		return new(big.Int), nil
	}
	if b, ok := s.bets[betKey{bettor: bettor, side: s.market.Outcome}]; ok && !b.Claimed {
		return payoutFor(b.Amount, winning, losing), nil
	}
	return new(big.Int), nil
}

// Nonce returns the owner's current permit nonce. Implements the validator's
// NonceSource.
func (l *Ledger) Nonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()
	return new(big.Int).Set(l.nonceLocked(owner)), nil
}

func (l *Ledger) nonceLocked(owner common.Address) *big.Int {
	n, ok := l.nonces[owner]
	if !ok {
		n = new(big.Int)
		l.nonces[owner] = n
	}
	return n
}

// GetMarket returns a snapshot of one market.
func (l *Ledger) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	s, err := l.slot(marketID)
	if err != nil {
		return domain.Market{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotMarket(s.market), nil
}

// ListMarkets returns snapshots of every market in id order.
func (l *Ledger) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	l.mu.RLock()
	slots := make([]*slot, len(l.markets))
	copy(slots, l.markets)
	l.mu.RUnlock()

	out := make([]domain.Market, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, snapshotMarket(s.market))
		s.mu.Unlock()
	}
	return out, nil
}

// GetMarketCount returns the number of markets ever created.
func (l *Ledger) GetMarketCount(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.markets)), nil
}

// GetUserBets returns the bettor's position on one market: both side totals
// plus whether a payout was already claimed.
func (l *Ledger) GetUserBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error) {
	s, err := l.slot(marketID)
	if err != nil {
		return domain.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := domain.Position{
		MarketID:  marketID,
		Bettor:    bettor,
		YesAmount: new(big.Int),
		NoAmount:  new(big.Int),
	}
	if b, ok := s.bets[betKey{bettor: bettor, side: true}]; ok {
		pos.YesAmount.Set(b.Amount)
		pos.Claimed = pos.Claimed || b.Claimed
	}
	if b, ok := s.bets[betKey{bettor: bettor, side: false}]; ok {
		pos.NoAmount.Set(b.Amount)
		pos.Claimed = pos.Claimed || b.Claimed
	}
	return pos, nil
}

// Bets returns a snapshot of every bet on a market, for settlement archival.
func (l *Ledger) Bets(ctx context.Context, marketID uint64) ([]domain.Bet, error) {
	s, err := l.slot(marketID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		cp := *b
		cp.Amount = new(big.Int).Set(b.Amount)
		out = append(out, cp)
	}
	return out, nil
}

// checkPoolSums verifies that each pool equals the sum of its recorded bets.
// A mismatch is an invariant violation: surfaced, never repaired.
func checkPoolSums(s *slot) error {
	sumYes, sumNo := new(big.Int), new(big.Int)
	for _, b := range s.bets {
		if b.Side {
			sumYes.Add(sumYes, b.Amount)
		} else {
			sumNo.Add(sumNo, b.Amount)
		}
	}
	if sumYes.Cmp(s.market.TotalYes) != 0 || sumNo.Cmp(s.market.TotalNo) != 0 {
		return fmt.Errorf("ledger: market %d pools (%s/%s) do not match bet sums (%s/%s): %w",
			s.market.ID, s.market.TotalYes, s.market.TotalNo, sumYes, sumNo, domain.ErrInvariant)
	}
	return nil
}

func snapshotMarket(m domain.Market) domain.Market {
	cp := m
	cp.TotalYes = new(big.Int).Set(m.TotalYes)
	cp.TotalNo = new(big.Int).Set(m.TotalNo)
	return cp
}
