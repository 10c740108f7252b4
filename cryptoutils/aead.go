package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

const (
	// SymmetricKeySize is the byte length of derived AEAD keys.
	SymmetricKeySize = chacha20poly1305.KeySize

	// NonceSize is the byte length of the nonce prepended to ciphertexts.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the AEAD authentication tag overhead.
	TagSize = chacha20poly1305.Overhead
)

// DeriveKey expands secret material into a 32-byte AEAD key via HKDF-SHA256.
// The label provides domain separation; salt may be nil.
func DeriveKey(secret, salt []byte, label string) ([SymmetricKeySize]byte, error) {
	var key [SymmetricKeySize]byte
	r := hkdf.New(sha256.New, secret, salt, []byte(label))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("%w: hkdf expand for %q: %v", interfaces.ErrCryptoFailure, label, err)
	}
	return key, nil
}

// SealBytes encrypts plaintext under key with a fresh random nonce.
// Output layout: nonce || ciphertext || tag. aad is authenticated but not
// encrypted and must be presented unchanged to OpenBytes.
func SealBytes(key [SymmetricKeySize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: aead init: %v", interfaces.ErrCryptoFailure, err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out[:NonceSize]); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", interfaces.ErrCryptoFailure, err)
	}

	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// OpenBytes decrypts a SealBytes ciphertext. Authentication failure, a
// wrong key or a truncated buffer all map to ErrCryptoFailure; no partial
// plaintext is ever returned.
func OpenBytes(key [SymmetricKeySize]byte, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: sealed buffer too short: %d bytes", interfaces.ErrCryptoFailure, len(sealed))
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: aead init: %v", interfaces.ErrCryptoFailure, err)
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authenticated decryption: %v", interfaces.ErrCryptoFailure, err)
	}
	return plaintext, nil
}
