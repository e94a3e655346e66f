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

// MarketReader serves market state queries. Implemented by the embedded
// ledger and the chain client.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID uint64) (domain.Market, error)
	ListMarkets(ctx context.Context) ([]domain.Market, error)
	GetMarketCount(ctx context.Context) (uint64, error)
}

// MarketAdmin mutates market lifecycle state. Only the embedded ledger
// implements it; in chain mode these operations stay with the operator's
// own wallet.
type MarketAdmin interface {
	CreateMarket(ctx context.Context, caller common.Address, question string, endTime time.Time) (uint64, error)
	ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, outcome bool) error
}

// PositionReader serves per-bettor position queries. Embedded ledger only.
type PositionReader interface {
	GetUserBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error)
	Bets(ctx context.Context, marketID uint64) ([]domain.Bet, error)
}

// FeeReader reads the contract's fee percentage. Chain client only; the
// embedded ledger charges no fee and carries no such field.
type FeeReader interface {
	FeePercentage(ctx context.Context) (*big.Int, error)
}

// SettlementArchiver writes a resolved market's settlement record to object
// storage. Implemented by the S3 archiver.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, m domain.Market, bets []domain.Bet, resolvedAt time.Time) error
}

// MarketService handles market lifecycle and queries.
type MarketService struct {
	reader    MarketReader
	admin     MarketAdmin    // nil in chain mode
	positions PositionReader // nil in chain mode
	archiver  SettlementArchiver
	fees      FeeReader // nil in embedded mode
	operator  common.Address
	bus       domain.Broadcaster
	logger    *slog.Logger
}

// SetFeeReader attaches the chain-mode fee source.
func (s *MarketService) SetFeeReader(r FeeReader) {
	s.fees = r
}

// NewMarketService creates a MarketService. admin, positions, archiver, and
// bus may each be nil; the corresponding operations then report unsupported
// or are skipped.
func NewMarketService(
	reader MarketReader,
	admin MarketAdmin,
	positions PositionReader,
	archiver SettlementArchiver,
	operator common.Address,
	bus domain.Broadcaster,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		reader:    reader,
		admin:     admin,
		positions: positions,
		archiver:  archiver,
		operator:  operator,
		bus:       bus,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// Create opens a new market.
func (s *MarketService) Create(ctx context.Context, question string, endTime time.Time) (uint64, error) {
	if s.admin == nil {
		return 0, fmt.Errorf("market_service: create: %w", domain.ErrUnsupported)
	}
	if question == "" {
		return 0, fmt.Errorf("market_service: question must not be empty: %w", domain.ErrInvalidQuestion)
	}

	id, err := s.admin.CreateMarket(ctx, s.operator, question, endTime)
	if err != nil {
		return 0, fmt.Errorf("market_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", id),
		slog.String("question", question),
		slog.Time("end_time", endTime),
	)
	if s.bus != nil {
		s.bus.Broadcast(domain.Event{
			Type:     domain.EventMarketCreated,
			MarketID: id,
			At:       time.Now().UTC(),
		})
	}
	return id, nil
}

// Resolve fixes a market's outcome and archives its settlement. Archival is
// best effort: a storage failure never unwinds the resolution.
func (s *MarketService) Resolve(ctx context.Context, marketID uint64, outcome bool) error {
	if s.admin == nil {
		return fmt.Errorf("market_service: resolve: %w", domain.ErrUnsupported)
	}

	if err := s.admin.ResolveMarket(ctx, s.operator, marketID, outcome); err != nil {
		return fmt.Errorf("market_service: resolve: %w", err)
	}
	resolvedAt := time.Now().UTC()

	s.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", marketID),
		slog.Bool("outcome", outcome),
	)
	if s.bus != nil {
		s.bus.Broadcast(domain.Event{
			Type:     domain.EventMarketResolved,
			MarketID: marketID,
			Outcome:  &outcome,
			At:       resolvedAt,
		})
	}

	s.archiveSettlement(ctx, marketID, resolvedAt)
	return nil
}

func (s *MarketService) archiveSettlement(ctx context.Context, marketID uint64, resolvedAt time.Time) {
	if s.archiver == nil || s.positions == nil {
		return
	}

	m, err := s.reader.GetMarket(ctx, marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement archive: read market failed",
			slog.Uint64("market_id", marketID), slog.String("error", err.Error()))
		return
	}
	bets, err := s.positions.Bets(ctx, marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement archive: read bets failed",
			slog.Uint64("market_id", marketID), slog.String("error", err.Error()))
		return
	}
	if err := s.archiver.ArchiveSettlement(ctx, m, bets, resolvedAt); err != nil {
		s.logger.WarnContext(ctx, "settlement archive: upload failed",
			slog.Uint64("market_id", marketID), slog.String("error", err.Error()))
	}
}

// Get returns one market.
func (s *MarketService) Get(ctx context.Context, marketID uint64) (domain.Market, error) {
	m, err := s.reader.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %d: %w", marketID, err)
	}
	return m, nil
}

// List returns all markets in id order.
func (s *MarketService) List(ctx context.Context) ([]domain.Market, error) {
	ms, err := s.reader.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return ms, nil
}

// Count returns the number of markets ever created.
func (s *MarketService) Count(ctx context.Context) (uint64, error) {
	n, err := s.reader.GetMarketCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return n, nil
}

// Fee returns the contract's fee percentage. Unsupported in embedded mode,
// where payouts are fee-free by construction.
func (s *MarketService) Fee(ctx context.Context) (*big.Int, error) {
	if s.fees == nil {
		return nil, fmt.Errorf("market_service: fee: %w", domain.ErrUnsupported)
	}
	fee, err := s.fees.FeePercentage(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: fee: %w", err)
	}
	return fee, nil
}

// UserBets returns the bettor's position on one market.
func (s *MarketService) UserBets(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error) {
	if s.positions == nil {
		return domain.Position{}, fmt.Errorf("market_service: user bets: %w", domain.ErrUnsupported)
	}
	pos, err := s.positions.GetUserBets(ctx, marketID, bettor)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: user bets %d/%s: %w", marketID, bettor.Hex(), err)
	}
	return pos, nil
}
