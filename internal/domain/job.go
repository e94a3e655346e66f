package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobStatus is the lifecycle of a relay job. Transitions:
// pending -> submitted -> confirmed | failed. Failed jobs are terminal; the
// submitter never silently retries a job past its attempt budget.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSubmitted JobStatus = "submitted"
	JobConfirmed JobStatus = "confirmed"
	JobFailed    JobStatus = "failed"
)

// RelayJob is one user-authorized bet queued for on-chain submission through
// the relayer identity.
type RelayJob struct {
	ID       string         `json:"id"`
	MarketID uint64         `json:"marketId"`
	Side     bool           `json:"side"`
	Amount   *big.Int       `json:"amount"`
	Bettor   common.Address `json:"bettor"`
	Deadline uint64         `json:"deadline"`
	// Nonce is the permit nonce the bettor signed over; the ledger is
	// authoritative for whether it is still current at submission time.
	Nonce *big.Int `json:"nonce"`

	// Signature components of the permit authorizing the stake transfer.
	V uint8    `json:"v"`
	R [32]byte `json:"-"`
	S [32]byte `json:"-"`

	Status   JobStatus `json:"status"`
	Sequence uint64    `json:"sequence"`
	// HasSequence distinguishes an assigned sequence 0 from "not yet assigned".
	HasSequence bool        `json:"hasSequence"`
	Attempts    int         `json:"attempts"`
	TxHash      common.Hash `json:"txHash"`
	FailReason  string      `json:"failReason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// SigHash returns the permit-signature identity of the job, the key under
// which confirmed receipts are cached for duplicate-relay detection.
func (j RelayJob) SigHash() common.Hash {
	p := Permit{V: j.V, R: j.R, S: j.S}
	return p.SigHash()
}

// Receipt is the terminal result of a confirmed submission.
type Receipt struct {
	TxHash   common.Hash `json:"txHash"`
	Sequence uint64      `json:"sequence"`
	MarketID uint64      `json:"marketId"`
	// Duplicate is set when the receipt was served from the idempotency
	// cache rather than a fresh submission.
	Duplicate bool `json:"duplicate,omitempty"`
}

// EventType labels messages pushed to websocket subscribers.
type EventType string

const (
	EventBetPlaced      EventType = "bet_placed"
	EventMarketCreated  EventType = "market_created"
	EventMarketResolved EventType = "market_resolved"
	EventClaimPaid      EventType = "claim_paid"
)

// Event is one market lifecycle notification broadcast to UI clients.
type Event struct {
	Type     EventType `json:"type"`
	MarketID uint64    `json:"marketId"`
	Bettor   string    `json:"bettor,omitempty"`
	Side     *bool     `json:"side,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Outcome  *bool     `json:"outcome,omitempty"`
	TxHash   string    `json:"txHash,omitempty"`
	At       time.Time `json:"at"`
}
