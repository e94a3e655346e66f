package chain

import (
	"errors"
	"testing"

	"github.com/trustbet/relayd/internal/domain"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"underpriced", "transaction underpriced", domain.ErrUnderpriced},
		{"replacement", "replacement transaction underpriced", domain.ErrUnderpriced},
		{"reverted", "execution reverted: market closed", domain.ErrLedgerRejected},
		{"invalid opcode", "invalid opcode: INVALID", domain.ErrLedgerRejected},
		{"connection refused", "dial tcp: connection refused", domain.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySendError(errors.New(tt.msg))
			if !errors.Is(got, tt.want) {
				t.Errorf("classifySendError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestIsSlotTaken(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"nonce too low", true},
		{"already known", true},
		{"transaction underpriced", false},
		{"dial tcp: connection refused", false},
		{"execution reverted", false},
	}
	for _, tt := range tests {
		if got := isSlotTaken(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isSlotTaken(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIsRevert(t *testing.T) {
	if !isRevert(errors.New("execution reverted")) {
		t.Error("execution reverted not recognised")
	}
	if isRevert(errors.New("connection reset")) {
		t.Error("network error misread as revert")
	}
}
