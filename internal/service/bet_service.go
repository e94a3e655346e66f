// Package service composes the validator, submitter, ledger, and storage
// layers into the operations the HTTP handlers expose.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
	"github.com/trustbet/relayd/internal/permit"
)

// BetSubmitter queues a relay job and blocks until a terminal result.
// Implemented by relay.Submitter.
type BetSubmitter interface {
	Submit(ctx context.Context, job domain.RelayJob) (domain.Receipt, error)
}

// BetRequest is one gasless bet as received from a client: the bet
// parameters plus the signed permit authorizing the stake transfer.
type BetRequest struct {
	MarketID uint64
	Side     bool
	Amount   *big.Int
	Bettor   common.Address
	Deadline uint64
	Nonce    *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// BetService validates incoming bets and relays them through the submitter.
type BetService struct {
	validator *permit.Validator
	submitter BetSubmitter
	// spender is the market contract address every accepted permit must
	// authorize.
	spender common.Address
	bus     domain.Broadcaster
	logger  *slog.Logger
}

// NewBetService creates a BetService. bus may be nil.
func NewBetService(
	validator *permit.Validator,
	submitter BetSubmitter,
	spender common.Address,
	bus domain.Broadcaster,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		validator: validator,
		submitter: submitter,
		spender:   spender,
		bus:       bus,
		logger:    logger.With(slog.String("component", "bet_service")),
	}
}

// PlaceBet validates the permit and relays the bet. Validation failures
// return before anything is queued; submission failures carry the relay
// error taxonomy through unchanged.
func (s *BetService) PlaceBet(ctx context.Context, req BetRequest) (domain.Receipt, error) {
	p := domain.Permit{
		Owner:    req.Bettor,
		Spender:  s.spender,
		Value:    req.Amount,
		Nonce:    req.Nonce,
		Deadline: req.Deadline,
		V:        req.V,
		R:        req.R,
		S:        req.S,
	}

	if _, err := s.validator.Validate(ctx, p); err != nil {
		return domain.Receipt{}, fmt.Errorf("bet_service: validate: %w", err)
	}

	job := domain.RelayJob{
		MarketID: req.MarketID,
		Side:     req.Side,
		Amount:   req.Amount,
		Bettor:   req.Bettor,
		Deadline: req.Deadline,
		Nonce:    req.Nonce,
		V:        req.V,
		R:        req.R,
		S:        req.S,
	}

	receipt, err := s.submitter.Submit(ctx, job)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("bet_service: submit: %w", err)
	}

	if s.bus != nil && !receipt.Duplicate {
		side := req.Side
		s.bus.Broadcast(domain.Event{
			Type:     domain.EventBetPlaced,
			MarketID: req.MarketID,
			Bettor:   req.Bettor.Hex(),
			Side:     &side,
			Amount:   req.Amount.String(),
			TxHash:   receipt.TxHash.Hex(),
			At:       time.Now().UTC(),
		})
	}

	return receipt, nil
}
