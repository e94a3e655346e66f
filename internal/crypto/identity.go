// Package crypto provides the relayer's signing identity and encrypted
// key-file handling.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Identity is the relayer's owned signing identity. It is constructed once at
// startup and injected into the components that need it; nothing else in the
// process touches the private key.
type Identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewIdentity creates an Identity from a hex-encoded secp256k1 private key
// (with or without 0x prefix).
func NewIdentity(privateKeyHex string) (*Identity, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Identity{
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the identity's key.
func (id *Identity) Address() common.Address {
	return id.address
}

// Key exposes the underlying private key for transaction signing.
func (id *Identity) Key() *ecdsa.PrivateKey {
	return id.key
}

// SignDigest signs a 32-byte digest and returns the 65-byte r||s||v
// signature with v normalised to {27,28}.
func (id *Identity) SignDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, id.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
