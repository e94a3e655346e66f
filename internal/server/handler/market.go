package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/trustbet/relayd/internal/domain"
	"github.com/trustbet/relayd/internal/service"
)

// MarketHandler serves market queries and the operator's lifecycle
// endpoints.
type MarketHandler struct {
	markets *service.MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets *service.MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// marketJSON is the wire format of a market. Pools travel as base-10
// strings.
type marketJSON struct {
	ID       uint64 `json:"id"`
	Question string `json:"question"`
	EndTime  int64  `json:"endTime"`
	TotalYes string `json:"totalYes"`
	TotalNo  string `json:"totalNo"`
	Resolved bool   `json:"resolved"`
	Outcome  bool   `json:"outcome"`
	Active   bool   `json:"active"`
}

func toMarketJSON(m domain.Market) marketJSON {
	return marketJSON{
		ID:       m.ID,
		Question: m.Question,
		EndTime:  m.EndTime.Unix(),
		TotalYes: m.TotalYes.String(),
		TotalNo:  m.TotalNo.String(),
		Resolved: m.Resolved,
		Outcome:  m.Outcome,
		Active:   m.Active,
	}
}

// ListMarkets returns every market in id order.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ms, err := h.markets.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]marketJSON, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMarketJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out,
		"count":   len(out),
	})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketJSON(m))
}

// GetUserBets returns a bettor's position on one market.
// GET /api/markets/{id}/bets?bettor=0x...
func (h *MarketHandler) GetUserBets(w http.ResponseWriter, r *http.Request) {
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

	pos, err := h.markets.UserBets(r.Context(), id, bettor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId":  pos.MarketID,
		"bettor":    pos.Bettor.Hex(),
		"yesAmount": pos.YesAmount.String(),
		"noAmount":  pos.NoAmount.String(),
		"claimed":   pos.Claimed,
	})
}

// GetFee returns the contract's fee percentage. Chain mode only; payouts
// themselves are fee-free.
// GET /api/fee
func (h *MarketHandler) GetFee(w http.ResponseWriter, r *http.Request) {
	fee, err := h.markets.Fee(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feePercentage": fee.String()})
}

// createMarketRequest is the operator's market creation payload. EndTime is
// a Unix timestamp in seconds.
type createMarketRequest struct {
	Question string `json:"question"`
	EndTime  int64  `json:"endTime"`
}

// CreateMarket opens a new market.
// POST /api/admin/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.markets.Create(r.Context(), req.Question, time.Unix(req.EndTime, 0).UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// resolveMarketRequest fixes the market outcome.
type resolveMarketRequest struct {
	Outcome bool `json:"outcome"`
}

// ResolveMarket resolves a market to its final outcome.
// POST /api/admin/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req resolveMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.markets.Resolve(r.Context(), id, req.Outcome); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"resolved": true,
		"outcome":  req.Outcome,
	})
}
