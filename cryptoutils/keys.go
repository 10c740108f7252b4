package cryptoutils

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// KeyPair wraps an X25519 private key together with its public key. It is
// used both as a node's long-lived registration identity and for the
// ephemeral and derived key-agreement keys of the seed-exchange protocol.
type KeyPair struct {
	priv *ecdh.PrivateKey
	pub  interfaces.PublicKey
}

// GenerateKeyPair creates a fresh X25519 key pair from enclave-local entropy.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 key generation: %v", interfaces.ErrCryptoFailure, err)
	}
	return newKeyPair(priv)
}

// KeyPairFromSecret builds a key pair deterministically from 32 bytes of
// secret material. The same secret always yields the same key pair.
func KeyPairFromSecret(secret [32]byte) (*KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(secret[:])
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 key from secret: %v", interfaces.ErrCryptoFailure, err)
	}
	return newKeyPair(priv)
}

// KeyPairFromBytes restores a key pair from a serialized private key,
// typically read back from the sealed store.
func KeyPairFromBytes(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: private key must be 32 bytes, got %d", interfaces.ErrInvalidInput, len(b))
	}
	var secret [32]byte
	copy(secret[:], b)
	return KeyPairFromSecret(secret)
}

func newKeyPair(priv *ecdh.PrivateKey) (*KeyPair, error) {
	pub, err := interfaces.NewPublicKeyFromBytes(priv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// Public returns the public half of the key pair.
func (kp *KeyPair) Public() interfaces.PublicKey {
	return kp.pub
}

// Bytes returns the raw private key for sealing. Callers must never let
// these bytes cross the trust boundary unencrypted.
func (kp *KeyPair) Bytes() []byte {
	return kp.priv.Bytes()
}

// SharedSecret performs X25519 key agreement with the peer public key.
func (kp *KeyPair) SharedSecret(peer interfaces.PublicKey) ([]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: bad peer public key: %v", interfaces.ErrCryptoFailure, err)
	}
	shared, err := kp.priv.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 agreement: %v", interfaces.ErrCryptoFailure, err)
	}
	return shared, nil
}
