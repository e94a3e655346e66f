package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trustbet/relayd/internal/domain"
)

// Endpoint adapts the in-process Ledger to the relay submitter's endpoint
// contract, playing the role of the remote chain in embedded mode. It
// enforces the same sequencing discipline a real chain endpoint would:
// exactly one submission per sequence number, in order.
type Endpoint struct {
	ledger  *Ledger
	spender common.Address

	mu       sync.Mutex
	next     uint64
	receipts map[common.Hash]domain.Receipt
}

// NewEndpoint wraps the ledger in a submission endpoint starting at
// sequence 0. spender is the market contract address permits are issued to.
func NewEndpoint(l *Ledger, spender common.Address) *Endpoint {
	return &Endpoint{
		ledger:   l,
		spender:  spender,
		receipts: make(map[common.Hash]domain.Receipt),
	}
}

// PendingSequence returns the next sequence number the endpoint will accept.
func (e *Endpoint) PendingSequence(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next, nil
}

// SubmitBet applies the job's bet through BetWithPermit. The sequence number
// is consumed whether the ledger accepts or rejects the bet; only a sequence
// mismatch leaves it unconsumed.
func (e *Endpoint) SubmitBet(ctx context.Context, sequence uint64, job domain.RelayJob) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sequence != e.next {
		return common.Hash{}, fmt.Errorf("ledger: endpoint expects sequence %d, got %d: %w",
			e.next, sequence, domain.ErrInvariant)
	}
	e.next++

	txHash := e.txHash(sequence, job)

	p := domain.Permit{
		Owner:    job.Bettor,
		Spender:  e.spender,
		Value:    job.Amount,
		Nonce:    job.Nonce,
		Deadline: job.Deadline,
		V:        job.V,
		R:        job.R,
		S:        job.S,
	}

	if err := e.ledger.BetWithPermit(ctx, p, job.MarketID, job.Side); err != nil {
		return txHash, fmt.Errorf("%w: %v", domain.ErrLedgerRejected, err)
	}

	e.receipts[txHash] = domain.Receipt{
		TxHash:   txHash,
		Sequence: sequence,
		MarketID: job.MarketID,
	}
	return txHash, nil
}

// WaitConfirmed returns the receipt for a submitted hash. Embedded
// submissions confirm synchronously, so this never blocks.
func (e *Endpoint) WaitConfirmed(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[txHash]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("ledger: no receipt for %s: %w", txHash.Hex(), domain.ErrNotFound)
	}
	return r, nil
}

// txHash derives a deterministic per-submission hash from the sequence
// number and the permit signature.
func (e *Endpoint) txHash(sequence uint64, job domain.RelayJob) common.Hash {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	sig := job.SigHash()
	return ethcrypto.Keccak256Hash([]byte("trustbet/embedded-tx"), seq[:], sig[:])
}
