package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Permit is an ephemeral ERC-2612 authorization: the owner signs an off-chain
// message allowing the spender to move Value tokens until Deadline. It is
// never persisted; replay protection is the ledger's nonce counter, not ours.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline uint64 // unix seconds

	V uint8
	R [32]byte
	S [32]byte
}

// SigHash returns a stable identity for the permit's signature, used to
// detect duplicate relay requests for the same authorization.
func (p Permit) SigHash() common.Hash {
	buf := make([]byte, 0, 65)
	buf = append(buf, p.R[:]...)
	buf = append(buf, p.S[:]...)
	buf = append(buf, p.V)
	return crypto.Keccak256Hash(buf)
}
