// Package permit validates user-signed ERC-2612 authorizations before they
// are handed to the relay submitter. Validation is a pure check: the permit
// nonce is consumed by the ledger, never here, so a permit that passes can
// still be legitimately rejected later if superseded.
package permit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trustbet/relayd/internal/domain"
)

// EIP-712 type hashes, pre-computed keccak256 of the canonical type strings.
var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// ERC-2612 Permit struct.
	permitTypeHash = ethcrypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
)

// NonceSource exposes the ledger's authoritative replay-protection counter
// for an owner. Implemented by the embedded ledger and the chain client.
type NonceSource interface {
	Nonce(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Domain identifies the signing domain of the staking token whose permits we
// accept: its name, version, chain, and contract address.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Validated is a permit that passed structural, expiry, signature, and nonce
// currency checks. Digest is the EIP-712 digest the signature was checked
// against.
type Validated struct {
	domain.Permit
	Digest common.Hash
}

// Validator checks permits against one signing domain and one nonce source.
type Validator struct {
	domainSep []byte
	nonces    NonceSource
	now       func() time.Time
}

// NewValidator creates a Validator for the given signing domain.
func NewValidator(d Domain, nonces NonceSource) *Validator {
	return &Validator{
		domainSep: buildDomainSeparator(d),
		nonces:    nonces,
		now:       time.Now,
	}
}

// SetClock overrides the validator's clock. Tests only.
func (v *Validator) SetClock(now func() time.Time) { v.now = now }

// Validate runs the checks in order: expiry, amount, signature recovery,
// nonce currency. It has no side effects.
func (v *Validator) Validate(ctx context.Context, p domain.Permit) (Validated, error) {
	if p.Deadline <= uint64(v.now().Unix()) {
		return Validated{}, fmt.Errorf("permit: deadline %d passed: %w", p.Deadline, domain.ErrExpired)
	}
	if p.Value == nil || p.Value.Sign() <= 0 {
		return Validated{}, fmt.Errorf("permit: value must be positive: %w", domain.ErrInvalidAmount)
	}
	if p.Nonce == nil {
		return Validated{}, fmt.Errorf("permit: missing nonce: %w", domain.ErrReplayed)
	}

	digest := v.Digest(p)
	recovered, err := recoverSigner(digest, p.V, p.R, p.S)
	if err != nil {
		return Validated{}, fmt.Errorf("permit: recover signer: %w", domain.ErrBadSignature)
	}
	if recovered != p.Owner {
		return Validated{}, fmt.Errorf("permit: signer %s does not match owner %s: %w",
			recovered.Hex(), p.Owner.Hex(), domain.ErrBadSignature)
	}

	current, err := v.nonces.Nonce(ctx, p.Owner)
	if err != nil {
		return Validated{}, fmt.Errorf("permit: fetch nonce for %s: %w", p.Owner.Hex(), err)
	}
	if current.Cmp(p.Nonce) != 0 {
		return Validated{}, fmt.Errorf("permit: nonce %s is not current (%s): %w",
			p.Nonce, current, domain.ErrReplayed)
	}

	return Validated{Permit: p, Digest: common.BytesToHash(digest)}, nil
}

// VerifySignature checks only that the permit's signature recovers to its
// claimed owner under the validator's domain. No expiry or nonce checks; the
// ledger uses this as its authoritative signature re-check at mutation time.
func (v *Validator) VerifySignature(p domain.Permit) error {
	recovered, err := recoverSigner(v.Digest(p), p.V, p.R, p.S)
	if err != nil {
		return fmt.Errorf("permit: recover signer: %w", domain.ErrBadSignature)
	}
	if recovered != p.Owner {
		return fmt.Errorf("permit: signer %s does not match owner %s: %w",
			recovered.Hex(), p.Owner.Hex(), domain.ErrBadSignature)
	}
	return nil
}

// Digest computes the EIP-712 digest of p under the validator's domain:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (v *Validator) Digest(p domain.Permit) []byte {
	structHash := ethcrypto.Keccak256(concat(
		permitTypeHash,
		common.LeftPadBytes(p.Owner.Bytes(), 32),
		common.LeftPadBytes(p.Spender.Bytes(), 32),
		uint256Bytes(p.Value),
		uint256Bytes(p.Nonce),
		uint256Bytes(new(big.Int).SetUint64(p.Deadline)),
	))
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, v.domainSep, structHash))
}

// recoverSigner runs ecrecover on a 32-byte digest with an r||s||v signature.
// v is accepted in either {0,1} or {27,28} form.
func recoverSigner(digest []byte, v uint8, r, s [32]byte) (common.Address, error) {
	recID := v
	if recID >= 27 {
		recID -= 27
	}
	if !ethcrypto.ValidateSignatureValues(recID, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}, fmt.Errorf("signature values out of range")
	}

	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = recID

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// buildDomainSeparator hashes the EIP-712 domain struct.
func buildDomainSeparator(d Domain) []byte {
	return ethcrypto.Keccak256(concat(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		uint256Bytes(d.ChainID),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	))
}

// uint256Bytes returns the 32-byte big-endian encoding of n (nil treated as 0).
func uint256Bytes(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concat(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
