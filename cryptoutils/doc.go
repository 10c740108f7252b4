// Package cryptoutils provides the cryptographic primitives used by the
// trust-bootstrapping core: X25519 key pairs for node identity and seed
// exchange, HKDF-based key derivation, and authenticated encryption
// helpers shared by the sealed store and the seed-exchange protocol.
//
// All key agreement uses X25519 (crypto/ecdh). All symmetric encryption
// uses ChaCha20-Poly1305 with a random 96-bit nonce prepended to the
// ciphertext. Derivation uses HKDF-SHA256 with explicit domain-separation
// labels so that no two components can ever derive the same key from the
// same input material.
package cryptoutils
