// Package handler implements the HTTP API surface of the relayer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
)

// maxBodyBytes bounds request bodies; every payload here is small.
const maxBodyBytes = 1 << 16

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps an error from the service layer onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps the domain error taxonomy onto HTTP status codes:
// validation failures are 4xx and never retried, ledger rejections are
// conflicts, transient relay failures tell the client to retry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMarketNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrReplayed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsLedgerRejected(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case domain.IsTransient(err), errors.Is(err, domain.ErrRelayFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID extracts a numeric {id} path parameter using Go 1.22+ routing.
func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id %q", raw)
	}
	return id, nil
}

// parseAddress validates and decodes a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount decodes a positive base-10 token amount.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// parseNonce decodes a non-negative base-10 permit nonce.
func parseNonce(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid nonce %q", s)
	}
	return n, nil
}

// parseHash32 decodes a 0x-prefixed 32-byte hex value (permit r and s).
func parseHash32(s string) ([32]byte, error) {
	if !(len(s) == 66 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')) {
		return [32]byte{}, fmt.Errorf("invalid 32-byte hex value %q", s)
	}
	b, err := hexDecode(s[2:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid 32-byte hex value %q", s)
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func hexDecode(s string) ([]byte, error) {
	h := common.FromHex("0x" + s)
	if len(h) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(h))
	}
	return h, nil
}
