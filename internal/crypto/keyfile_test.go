package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundtrip(t *testing.T) {
	data, err := EncryptPrivateKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	if strings.Contains(string(data), testKeyHex) {
		t.Fatal("keyfile contains the plaintext key")
	}

	got, err := DecryptPrivateKey(data, "hunter2")
	if err != nil {
		t.Fatalf("DecryptPrivateKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("decrypted key = %s, want %s", got, testKeyHex)
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	data, err := EncryptPrivateKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	if _, err := DecryptPrivateKey(data, "hunter3"); err == nil {
		t.Error("decrypt with wrong password succeeded")
	}
}

func TestEncrypt_Rejections(t *testing.T) {
	if _, err := EncryptPrivateKey(testKeyHex, ""); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := EncryptPrivateKey("not-hex", "pw"); err == nil {
		t.Error("non-hex key accepted")
	}
	if _, err := EncryptPrivateKey("abcd", "pw"); err == nil {
		t.Error("short key accepted")
	}
}

func TestLoadPrivateKey_RawHex(t *testing.T) {
	got, err := LoadPrivateKey(KeySource{RawHex: "0x" + testKeyHex})
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("key = %s, want %s (0x prefix stripped)", got, testKeyHex)
	}

	if _, err := LoadPrivateKey(KeySource{RawHex: "zz"}); err == nil {
		t.Error("invalid hex accepted")
	}
}

func TestLoadPrivateKey_EncryptedFile(t *testing.T) {
	data, err := EncryptPrivateKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "relayer.key")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}

	got, err := LoadPrivateKey(KeySource{EncryptedPath: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("key = %s, want %s", got, testKeyHex)
	}
}

func TestLoadPrivateKey_NoSource(t *testing.T) {
	if _, err := LoadPrivateKey(KeySource{}); err == nil {
		t.Error("empty key source accepted")
	}
}

func TestIdentity(t *testing.T) {
	id, err := NewIdentity("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if id.Address() == (common.Address{}) {
		t.Error("derived address is zero")
	}

	digest := make([]byte, 32)
	digest[31] = 1
	sig, err := id.SignDigest(digest)
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("recovery id = %d, want 27 or 28", sig[64])
	}

	if _, err := NewIdentity("nope"); err == nil {
		t.Error("invalid key accepted")
	}
}
