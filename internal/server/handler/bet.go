package handler

import (
	"log/slog"
	"net/http"

	"github.com/trustbet/relayd/internal/service"
)

// BetHandler accepts gasless bets and relays them.
type BetHandler struct {
	bets   *service.BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets *service.BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

// betRequest is the wire format of a gasless bet: bet parameters plus the
// signed permit. Amounts and nonces travel as base-10 strings so browser
// clients never lose precision to float64.
type betRequest struct {
	MarketID uint64 `json:"marketId"`
	Side     bool   `json:"side"`
	Amount   string `json:"amount"`
	Bettor   string `json:"bettor"`
	Deadline uint64 `json:"deadline"`
	Nonce    string `json:"nonce"`
	V        uint8  `json:"v"`
	R        string `json:"r"`
	S        string `json:"s"`
}

// betResponse reports the relayed transaction.
type betResponse struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash"`
	MarketID  uint64 `json:"marketId"`
	Sequence  uint64 `json:"sequence"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PlaceBet validates the permit and relays the bet, blocking until the
// submission reaches a terminal status.
// POST /api/bet
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bettor, err := parseAddress(req.Bettor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sigR, err := parseHash32(req.R)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sigS, err := parseHash32(req.S)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.bets.PlaceBet(r.Context(), service.BetRequest{
		MarketID: req.MarketID,
		Side:     req.Side,
		Amount:   amount,
		Bettor:   bettor,
		Deadline: req.Deadline,
		Nonce:    nonce,
		V:        req.V,
		R:        sigR,
		S:        sigS,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "bet rejected",
			slog.Uint64("market_id", req.MarketID),
			slog.String("bettor", req.Bettor),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, betResponse{
		Success:   true,
		TxHash:    receipt.TxHash.Hex(),
		MarketID:  receipt.MarketID,
		Sequence:  receipt.Sequence,
		Duplicate: receipt.Duplicate,
	})
}
