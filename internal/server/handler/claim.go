package handler

import (
	"log/slog"
	"net/http"

	"github.com/trustbet/relayd/internal/service"
)

// ClaimHandler settles payouts on resolved markets.
type ClaimHandler struct {
	claims *service.ClaimService
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(claims *service.ClaimService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, logger: logger}
}

type claimRequest struct {
	MarketID uint64 `json:"marketId"`
	Bettor   string `json:"bettor"`
}

// Claim pays out the bettor's settled stake.
// POST /api/claim
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bettor, err := parseAddress(req.Bettor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.claims.Claim(r.Context(), req.MarketID, bettor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId": req.MarketID,
		"bettor":   bettor.Hex(),
		"amount":   amount.String(),
	})
}

// Preview computes what Claim would pay without settling anything.
// GET /api/markets/{id}/payout?bettor=0x...
func (h *ClaimHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bettor, err := parseAddress(r.URL.Query().Get("bettor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.claims.Preview(r.Context(), id, bettor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId": id,
		"bettor":   bettor.Hex(),
		"amount":   amount.String(),
	})
}
