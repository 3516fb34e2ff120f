package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func testSeedHex(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	seed := bytes.Repeat([]byte{0x42}, ed25519.SeedSize)
	return hex.EncodeToString(seed), ed25519.NewKeyFromSeed(seed)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	seedHex, want := testSeedHex(t)

	blob, err := EncryptKey(seedHex, "correct horse")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if !got.Equal(want) {
		t.Error("decrypted key does not match original")
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	seedHex, _ := testSeedHex(t)
	blob, err := EncryptKey(seedHex, "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected decryption failure with wrong password")
	}
}

func TestEncryptAcceptsFullSecretKey(t *testing.T) {
	_, key := testSeedHex(t)
	blob, err := EncryptKey(hex.EncodeToString(key), "pw")
	if err != nil {
		t.Fatalf("EncryptKey with 64-byte key: %v", err)
	}
	got, err := DecryptKey(blob, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(key) {
		t.Error("round trip through 64-byte form lost key material")
	}
}

func TestEncryptRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey("deadbeef", "pw"); err == nil {
		t.Error("expected error for short key")
	}
	seedHex, _ := testSeedHex(t)
	if _, err := EncryptKey(seedHex, ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	seedHex, want := testSeedHex(t)

	// Raw key wins.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + seedHex})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if !got.Equal(want) {
		t.Error("raw key mismatch")
	}

	// Encrypted file path.
	blob, err := EncryptKey(seedHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey encrypted: %v", err)
	}
	if !got.Equal(want) {
		t.Error("encrypted key mismatch")
	}

	// No source configured.
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("expected error when no key source is set")
	}
}

func TestSignerSignVerify(t *testing.T) {
	_, key := testSeedHex(t)
	s, err := NewSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("swap transaction payload")
	sig := s.Sign(msg)
	if !ed25519.Verify(key.Public().(ed25519.PublicKey), msg, sig) {
		t.Error("signature does not verify")
	}
	if s.PublicKey() != hex.EncodeToString(key.Public().(ed25519.PublicKey)) {
		t.Error("public key encoding mismatch")
	}
}
