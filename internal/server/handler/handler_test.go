package handler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trustbet/relayd/internal/domain"
	"github.com/trustbet/relayd/internal/ledger"
	"github.com/trustbet/relayd/internal/permit"
	"github.com/trustbet/relayd/internal/relay"
	"github.com/trustbet/relayd/internal/service"
)

var (
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testSpender  = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

// stack is a full embedded pipeline behind the handlers: ledger, validator,
// endpoint, submitter, services.
type stack struct {
	bets    *BetHandler
	markets *MarketHandler
	claims  *ClaimHandler

	ledger *ledger.Ledger
	valid  *permit.Validator
	key    *ecdsa.PrivateKey
	bettor common.Address

	now *time.Time
}

func newStack(t *testing.T) *stack {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	led := ledger.New(ledger.Config{Operator: testOperator}, nil)
	led.SetClock(clock)

	valid := permit.NewValidator(permit.Domain{
		Name:              "Wrapped TRUST",
		Version:           "1",
		ChainID:           big.NewInt(13579),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000070c1"),
	}, led)
	valid.SetClock(clock)
	led.SetVerifier(valid)

	submitter := relay.NewSubmitter(ledger.NewEndpoint(led, testSpender), nil, nil, relay.Config{
		MaxAttempts:    1,
		RetryBaseDelay: time.Millisecond,
		ConfirmTimeout: time.Second,
		QueueSize:      8,
	}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = submitter.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	key, err := ethcrypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("load key: %v", err)
	}

	logger := slog.Default()
	s := &stack{
		bets:    NewBetHandler(service.NewBetService(valid, submitter, testSpender, nil, logger), logger),
		markets: NewMarketHandler(service.NewMarketService(led, led, led, nil, testOperator, nil, logger), logger),
		claims:  NewClaimHandler(service.NewClaimService(led, nil, logger), logger),
		ledger:  led,
		valid:   valid,
		key:     key,
		bettor:  ethcrypto.PubkeyToAddress(key.PublicKey),
		now:     &now,
	}
	return s
}

func (s *stack) createMarket(t *testing.T, question string) uint64 {
	t.Helper()
	id, err := s.ledger.CreateMarket(context.Background(), testOperator, question, s.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return id
}

// signedBet builds the JSON body of a gasless bet with a genuine signature.
func (s *stack) signedBet(t *testing.T, marketID uint64, amount string, nonce int64) []byte {
	t.Helper()

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		t.Fatalf("bad amount %q", amount)
	}
	p := domain.Permit{
		Owner:    s.bettor,
		Spender:  testSpender,
		Value:    value,
		Nonce:    big.NewInt(nonce),
		Deadline: uint64(s.now.Add(30 * time.Minute).Unix()),
	}
	sig, err := ethcrypto.Sign(s.valid.Digest(p), s.key)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}

	body, err := json.Marshal(map[string]any{
		"marketId": marketID,
		"side":     true,
		"amount":   amount,
		"bettor":   s.bettor.Hex(),
		"deadline": p.Deadline,
		"nonce":    fmt.Sprintf("%d", nonce),
		"v":        sig[64] + 27,
		"r":        "0x" + hex.EncodeToString(sig[0:32]),
		"s":        "0x" + hex.EncodeToString(sig[32:64]),
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func postJSON(handler http.HandlerFunc, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func getWithID(handler http.HandlerFunc, target, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestPlaceBet_OK(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "will it rain")

	w := postJSON(s.bets.PlaceBet, "/api/bet", s.signedBet(t, id, "100", 0))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success  bool   `json:"success"`
		TxHash   string `json:"txHash"`
		MarketID uint64 `json:"marketId"`
	}
	decodeBody(t, w, &resp)
	if !resp.Success || resp.TxHash == "" || resp.MarketID != id {
		t.Errorf("response = %+v", resp)
	}

	m, err := s.ledger.GetMarket(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.TotalYes.Int64() != 100 {
		t.Errorf("TotalYes = %s, want 100", m.TotalYes)
	}
}

func TestPlaceBet_BadRequests(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"garbage body", []byte("{")},
		{"unknown field", []byte(`{"marketId":0,"bogus":true}`)},
		{"bad address", []byte(`{"marketId":0,"side":true,"amount":"10","bettor":"nope","deadline":1,"nonce":"0","v":27,"r":"0x00","s":"0x00"}`)},
		{"bad amount", []byte(`{"marketId":0,"side":true,"amount":"-10","bettor":"0x0000000000000000000000000000000000000a11","deadline":1,"nonce":"0","v":27,"r":"0x00","s":"0x00"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(s.bets.PlaceBet, "/api/bet", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestPlaceBet_ExpiredPermit(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "q")

	body := s.signedBet(t, id, "100", 0)
	// Rewind the deadline below the clock by tampering, which also breaks the
	// signature; send an honestly-signed expired permit instead.
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatal(err)
	}

	p := domain.Permit{
		Owner:    s.bettor,
		Spender:  testSpender,
		Value:    big.NewInt(100),
		Nonce:    big.NewInt(0),
		Deadline: uint64(s.now.Unix()) - 10,
	}
	sig, err := ethcrypto.Sign(s.valid.Digest(p), s.key)
	if err != nil {
		t.Fatal(err)
	}
	req["deadline"] = p.Deadline
	req["v"] = sig[64] + 27
	req["r"] = "0x" + hex.EncodeToString(sig[0:32])
	req["s"] = "0x" + hex.EncodeToString(sig[32:64])
	body, _ = json.Marshal(req)

	w := postJSON(s.bets.PlaceBet, "/api/bet", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestPlaceBet_StaleNonce(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "q")

	if w := postJSON(s.bets.PlaceBet, "/api/bet", s.signedBet(t, id, "100", 0)); w.Code != http.StatusOK {
		t.Fatalf("first bet: status = %d, body %s", w.Code, w.Body.String())
	}

	// Nonce 0 was consumed; a second permit signed over it is stale.
	w := postJSON(s.bets.PlaceBet, "/api/bet", s.signedBet(t, id, "50", 0))
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}

	// The next nonce works.
	if w := postJSON(s.bets.PlaceBet, "/api/bet", s.signedBet(t, id, "50", 1)); w.Code != http.StatusOK {
		t.Errorf("second bet: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestGetMarket(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "will it rain")

	w := getWithID(s.markets.GetMarket, "/api/markets/0", fmt.Sprint(id))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var m struct {
		ID       uint64 `json:"id"`
		Question string `json:"question"`
		TotalYes string `json:"totalYes"`
		Active   bool   `json:"active"`
	}
	decodeBody(t, w, &m)
	if m.ID != id || m.Question != "will it rain" || m.TotalYes != "0" || !m.Active {
		t.Errorf("market = %+v", m)
	}

	if w := getWithID(s.markets.GetMarket, "/api/markets/99", "99"); w.Code != http.StatusNotFound {
		t.Errorf("unknown market: status = %d, want 404", w.Code)
	}
	if w := getWithID(s.markets.GetMarket, "/api/markets/x", "x"); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", w.Code)
	}
}

func TestListMarkets(t *testing.T) {
	s := newStack(t)
	s.createMarket(t, "one")
	s.createMarket(t, "two")

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	w := httptest.NewRecorder()
	s.markets.ListMarkets(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Markets []json.RawMessage `json:"markets"`
		Count   int               `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || len(resp.Markets) != 2 {
		t.Errorf("count = %d, markets = %d, want 2", resp.Count, len(resp.Markets))
	}
}

func TestCreateMarket(t *testing.T) {
	s := newStack(t)

	endTime := s.now.Add(time.Hour).Unix()
	w := postJSON(s.markets.CreateMarket, "/api/admin/markets",
		[]byte(fmt.Sprintf(`{"question":"new market","endTime":%d}`, endTime)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// Empty question is rejected before it reaches the ledger.
	w = postJSON(s.markets.CreateMarket, "/api/admin/markets",
		[]byte(fmt.Sprintf(`{"question":"","endTime":%d}`, endTime)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question: status = %d, want 400", w.Code)
	}

	// Past end time is a ledger rejection.
	w = postJSON(s.markets.CreateMarket, "/api/admin/markets",
		[]byte(`{"question":"too late","endTime":1}`))
	if w.Code != http.StatusConflict {
		t.Errorf("past end time: status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
}

func TestResolveClaimFlow(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "flow")

	// Bettor stakes 100 YES via the relay; seed 50 NO directly.
	if w := postJSON(s.bets.PlaceBet, "/api/bet", s.signedBet(t, id, "100", 0)); w.Code != http.StatusOK {
		t.Fatalf("bet: status = %d, body %s", w.Code, w.Body.String())
	}
	loser := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	if err := s.ledger.PlaceBet(context.Background(), id, false, big.NewInt(50), loser); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	// Resolving while betting is open is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/markets/0/resolve", bytes.NewReader([]byte(`{"outcome":true}`)))
	req.SetPathValue("id", fmt.Sprint(id))
	w := httptest.NewRecorder()
	s.markets.ResolveMarket(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("early resolve: status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}

	*s.now = s.now.Add(2 * time.Hour)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/markets/0/resolve", bytes.NewReader([]byte(`{"outcome":true}`)))
	req.SetPathValue("id", fmt.Sprint(id))
	w = httptest.NewRecorder()
	s.markets.ResolveMarket(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body %s", w.Code, w.Body.String())
	}

	// Preview, then claim: 100 + 100*50/100 = 150.
	preq := httptest.NewRequest(http.MethodGet, "/api/markets/0/payout?bettor="+s.bettor.Hex(), nil)
	preq.SetPathValue("id", fmt.Sprint(id))
	pw := httptest.NewRecorder()
	s.claims.Preview(pw, preq)
	if pw.Code != http.StatusOK {
		t.Fatalf("preview: status = %d, body %s", pw.Code, pw.Body.String())
	}
	var preview struct {
		Amount string `json:"amount"`
	}
	decodeBody(t, pw, &preview)
	if preview.Amount != "150" {
		t.Errorf("preview amount = %s, want 150", preview.Amount)
	}

	body := []byte(fmt.Sprintf(`{"marketId":%d,"bettor":"%s"}`, id, s.bettor.Hex()))
	cw := postJSON(s.claims.Claim, "/api/claim", body)
	if cw.Code != http.StatusOK {
		t.Fatalf("claim: status = %d, body %s", cw.Code, cw.Body.String())
	}
	var claim struct {
		Amount string `json:"amount"`
	}
	decodeBody(t, cw, &claim)
	if claim.Amount != "150" {
		t.Errorf("claim amount = %s, want 150", claim.Amount)
	}

	// Second claim conflicts.
	if cw := postJSON(s.claims.Claim, "/api/claim", body); cw.Code != http.StatusConflict {
		t.Errorf("second claim: status = %d, want 409 (body %s)", cw.Code, cw.Body.String())
	}
}

func TestGetUserBets(t *testing.T) {
	s := newStack(t)
	id := s.createMarket(t, "positions")

	bettor := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	if err := s.ledger.PlaceBet(context.Background(), id, true, big.NewInt(30), bettor); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0/bets?bettor="+bettor.Hex(), nil)
	req.SetPathValue("id", fmt.Sprint(id))
	w := httptest.NewRecorder()
	s.markets.GetUserBets(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var pos struct {
		YesAmount string `json:"yesAmount"`
		NoAmount  string `json:"noAmount"`
		Claimed   bool   `json:"claimed"`
	}
	decodeBody(t, w, &pos)
	if pos.YesAmount != "30" || pos.NoAmount != "0" || pos.Claimed {
		t.Errorf("position = %+v", pos)
	}

	// Missing bettor query parameter.
	req = httptest.NewRequest(http.MethodGet, "/api/markets/0/bets", nil)
	req.SetPathValue("id", fmt.Sprint(id))
	w = httptest.NewRecorder()
	s.markets.GetUserBets(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing bettor: status = %d, want 400", w.Code)
	}
}

type feeSource struct{}

func (feeSource) FeePercentage(context.Context) (*big.Int, error) {
	return big.NewInt(3), nil
}

func TestGetFee(t *testing.T) {
	s := newStack(t)

	// Embedded mode carries no fee source.
	req := httptest.NewRequest(http.MethodGet, "/api/fee", nil)
	w := httptest.NewRecorder()
	s.markets.GetFee(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("embedded fee: status = %d, want 501", w.Code)
	}

	// With a fee source the percentage travels as a base-10 string.
	s.markets.markets.SetFeeReader(feeSource{})
	req = httptest.NewRequest(http.MethodGet, "/api/fee", nil)
	w = httptest.NewRecorder()
	s.markets.GetFee(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fee: status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		FeePercentage string `json:"feePercentage"`
	}
	decodeBody(t, w, &resp)
	if resp.FeePercentage != "3" {
		t.Errorf("feePercentage = %q, want \"3\"", resp.FeePercentage)
	}
}

func TestChainModeUnsupported(t *testing.T) {
	logger := slog.Default()
	// Chain mode wires no admin, positions, or claimer.
	markets := NewMarketHandler(service.NewMarketService(newStack(t).ledger, nil, nil, nil, testOperator, nil, logger), logger)
	claims := NewClaimHandler(service.NewClaimService(nil, nil, logger), logger)

	w := postJSON(markets.CreateMarket, "/api/admin/markets", []byte(`{"question":"q","endTime":2000000000}`))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("create: status = %d, want 501", w.Code)
	}

	w = postJSON(claims.Claim, "/api/claim", []byte(`{"marketId":0,"bettor":"0x0000000000000000000000000000000000000a11"}`))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("claim: status = %d, want 501", w.Code)
	}
}
