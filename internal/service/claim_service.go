package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
)

// Claimer settles a bettor's payout on a resolved market. Embedded ledger
// only; chain-mode claims go through the bettor's own wallet.
type Claimer interface {
	Claim(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error)
	PayoutPreview(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error)
}

// ClaimService handles payout claims and previews.
type ClaimService struct {
	claimer Claimer // nil in chain mode
	bus     domain.Broadcaster
	logger  *slog.Logger
}

// NewClaimService creates a ClaimService. claimer and bus may be nil.
func NewClaimService(claimer Claimer, bus domain.Broadcaster, logger *slog.Logger) *ClaimService {
	return &ClaimService{
		claimer: claimer,
		bus:     bus,
		logger:  logger.With(slog.String("component", "claim_service")),
	}
}

// Claim pays out the bettor's settled stake on a resolved market.
func (s *ClaimService) Claim(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error) {
	if s.claimer == nil {
		return nil, fmt.Errorf("claim_service: claim: %w", domain.ErrUnsupported)
	}

	amount, err := s.claimer.Claim(ctx, marketID, bettor)
	if err != nil {
		return nil, fmt.Errorf("claim_service: claim %d/%s: %w", marketID, bettor.Hex(), err)
	}

	s.logger.InfoContext(ctx, "claim paid",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", bettor.Hex()),
		slog.String("amount", amount.String()),
	)
	if s.bus != nil {
		s.bus.Broadcast(domain.Event{
			Type:     domain.EventClaimPaid,
			MarketID: marketID,
			Bettor:   bettor.Hex(),
			Amount:   amount.String(),
			At:       time.Now().UTC(),
		})
	}
	return amount, nil
}

// Preview computes what Claim would pay without settling anything.
func (s *ClaimService) Preview(ctx context.Context, marketID uint64, bettor common.Address) (*big.Int, error) {
	if s.claimer == nil {
		return nil, fmt.Errorf("claim_service: preview: %w", domain.ErrUnsupported)
	}
	amount, err := s.claimer.PayoutPreview(ctx, marketID, bettor)
	if err != nil {
		return nil, fmt.Errorf("claim_service: preview %d/%s: %w", marketID, bettor.Hex(), err)
	}
	return amount, nil
}
