// Package seedexchange implements the protocol that moves the consensus
// seed between two enclaves. The sender encrypts seed values to the
// recipient's public key using X25519 agreement with its own registration
// key; the recipient mirrors the agreement to decrypt. Ciphertexts are
// fixed-size, and the one-byte length discriminator at the head of a blob
// is the only signal for whether one or two seeds follow - external
// producers depend on this exact format.
package seedexchange

import (
	"context"
	"fmt"

	"github.com/ruteri/tee-enclave-bootstrap/cryptoutils"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
)

const (
	// SingleEncryptedSeedSize is the exact byte length of one encrypted
	// seed value: nonce, seed body and authentication tag.
	SingleEncryptedSeedSize = cryptoutils.NonceSize + interfaces.SeedSize + cryptoutils.TagSize

	// DoubleEncryptedSeedSize is the length discriminator for a blob
	// carrying both genesis and current seeds.
	DoubleEncryptedSeedSize = 2 * SingleEncryptedSeedSize

	// InputBlobSize is the exact size of the encrypted-seed buffer a host
	// passes to node initialization: the length byte plus room for two
	// ciphertexts. Blobs carrying a single seed are padded to this size.
	InputBlobSize = 1 + DoubleEncryptedSeedSize
)

// exchangeKeyLabel domain-separates seed-exchange keys from every other
// HKDF consumer. Wire constant.
const exchangeKeyLabel = "consensus-seed-exchange/v1"

// Selector names which seed values a blob should carry.
type Selector int

const (
	// SelectGenesis requests the genesis seed only.
	SelectGenesis Selector = iota

	// SelectGenesisAndCurrent requests both seed values.
	SelectGenesisAndCurrent
)

// EncryptSeed encrypts the selected seed value(s) for recipient and
// returns the wire blob: one length byte followed by one or two
// fixed-size ciphertexts.
//
// When the selector requests the current seed and none exists, the call
// fails with ErrSeedMissing unless allowCurrentAbsent permits emitting a
// genesis-only blob.
func EncryptSeed(ctx context.Context, vault *keyvault.Vault, recipient interfaces.PublicKey, sel Selector, allowCurrentAbsent bool) ([]byte, error) {
	kp, err := vault.RegistrationKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading registration key: %w", err)
	}
	key, err := exchangeKey(kp, recipient)
	if err != nil {
		return nil, err
	}

	genesis, err := vault.GenesisSeed(ctx)
	if err != nil {
		return nil, err
	}
	genesisCT, err := encryptSeedValue(key, genesis)
	if err != nil {
		return nil, err
	}

	cts := [][]byte{genesisCT}
	if sel == SelectGenesisAndCurrent {
		current, err := vault.CurrentSeed(ctx)
		switch {
		case err == nil:
			currentCT, err := encryptSeedValue(key, current)
			if err != nil {
				return nil, err
			}
			cts = append(cts, currentCT)
		case allowCurrentAbsent:
			// Genesis-only blob; the recipient infers the shape from the
			// length byte.
		default:
			return nil, err
		}
	}

	return buildBlob(cts), nil
}

// DecryptSeed recovers one seed value from a single fixed-size ciphertext
// addressed to this enclave, using the vault's registration key and the
// sender's public key. Authentication failure maps to ErrCryptoFailure; a
// ciphertext of any other size is rejected with ErrBadLength before any
// cryptography runs.
func DecryptSeed(ctx context.Context, vault *keyvault.Vault, sender interfaces.PublicKey, ciphertext []byte) (interfaces.Seed, error) {
	if len(ciphertext) != SingleEncryptedSeedSize {
		return interfaces.Seed{}, fmt.Errorf("%w: ciphertext is %d bytes, want %d", interfaces.ErrBadLength, len(ciphertext), SingleEncryptedSeedSize)
	}

	kp, err := vault.RegistrationKey(ctx)
	if err != nil {
		return interfaces.Seed{}, fmt.Errorf("loading registration key: %w", err)
	}
	key, err := exchangeKey(kp, sender)
	if err != nil {
		return interfaces.Seed{}, err
	}

	plaintext, err := cryptoutils.OpenBytes(key, ciphertext, nil)
	if err != nil {
		return interfaces.Seed{}, err
	}
	return interfaces.NewSeedFromBytes(plaintext)
}

// SplitBlob validates a blob's length discriminator and returns the
// ciphertexts it carries. The blob may be padded past its declared length;
// only the declared prefix is read. Any discriminator other than the
// one-seed or two-seed constant is rejected with ErrBadLength.
func SplitBlob(blob []byte) ([][]byte, error) {
	if len(blob) < 1+SingleEncryptedSeedSize {
		return nil, fmt.Errorf("%w: blob is %d bytes", interfaces.ErrBadLength, len(blob))
	}

	declared := int(blob[0])
	switch declared {
	case SingleEncryptedSeedSize, DoubleEncryptedSeedSize:
	default:
		return nil, fmt.Errorf("%w: length discriminator %d, want %d or %d", interfaces.ErrBadLength, declared, SingleEncryptedSeedSize, DoubleEncryptedSeedSize)
	}
	if len(blob) < 1+declared {
		return nil, fmt.Errorf("%w: blob truncated: %d bytes, declared %d", interfaces.ErrBadLength, len(blob), declared)
	}

	var cts [][]byte
	for off := 1; off < 1+declared; off += SingleEncryptedSeedSize {
		cts = append(cts, blob[off:off+SingleEncryptedSeedSize])
	}
	return cts, nil
}

func buildBlob(cts [][]byte) []byte {
	total := 0
	for _, ct := range cts {
		total += len(ct)
	}

	blob := make([]byte, 1, 1+total)
	blob[0] = byte(total)
	for _, ct := range cts {
		blob = append(blob, ct...)
	}
	return blob
}

func encryptSeedValue(key [cryptoutils.SymmetricKeySize]byte, seed interfaces.Seed) ([]byte, error) {
	ct, err := cryptoutils.SealBytes(key, seed.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	if len(ct) != SingleEncryptedSeedSize {
		return nil, fmt.Errorf("%w: unexpected ciphertext size %d", interfaces.ErrCryptoFailure, len(ct))
	}
	return ct, nil
}

// exchangeKey derives the symmetric transport key from an X25519 agreement
// between our key pair and the peer's public key. Both directions of the
// protocol derive the same key.
func exchangeKey(kp *cryptoutils.KeyPair, peer interfaces.PublicKey) ([cryptoutils.SymmetricKeySize]byte, error) {
	shared, err := kp.SharedSecret(peer)
	if err != nil {
		return [cryptoutils.SymmetricKeySize]byte{}, err
	}
	return cryptoutils.DeriveKey(shared, nil, exchangeKeyLabel)
}
