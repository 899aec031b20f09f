package keyring

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	sealed, err := Seal(priv, "correct horse battery staple")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got, err := Open(sealed, "correct horse battery staple")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, priv) {
		t.Fatalf("round-tripped key does not match original")
	}
}

func TestOpenRejectsWrongPassphrase(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	sealed, _ := Seal(priv, "right passphrase")

	if _, err := Open(sealed, "wrong passphrase"); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}
