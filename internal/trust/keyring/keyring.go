// Package keyring provides at-rest encryption for the Trust engine's root
// Ed25519 signing key, directly grounded on internal/security/vault's
// master-key handling: an operator passphrase is stretched with argon2
// into a key-encryption key, which wraps the signing key under AES-256-GCM.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrDecryptionFailed is returned when the stored ciphertext cannot be
// authenticated against the derived key — wrong passphrase or corrupted
// file.
var ErrDecryptionFailed = errors.New("keyring: decryption failed")

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Sealed is the on-disk representation of an encrypted root key.
type Sealed struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts priv under a key derived from passphrase, ready to be
// persisted (e.g. to a file or the keystore's backing store).
func Seal(priv ed25519.PrivateKey, passphrase string) (Sealed, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Sealed{}, err
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return Sealed{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, priv, nil)
	return Sealed{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts a Sealed root key using passphrase.
func Open(s Sealed, passphrase string) (ed25519.PrivateKey, error) {
	key := deriveKey(passphrase, s.Salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return ed25519.PrivateKey(plain), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Marshal/Unmarshal convert a Sealed to and from JSON for file-based
// storage, mirroring vault.VaultEntry's JSON-at-rest convention.
func (s Sealed) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func Unmarshal(data []byte) (Sealed, error) {
	var s Sealed
	err := json.Unmarshal(data, &s)
	return s, err
}
