// Package sealing persists secrets bound to the enclave identity. Records
// are encrypted with keys obtained from a KeyProvider, which models the
// hardware key-request facility: the same enclave (measurement and signer)
// always recovers the same keys, any other environment recovers nothing.
//
// Two record formats exist. The legacy format (v1) is a bare version byte
// followed by the ciphertext; the current format (v2) adds a magic header
// and uses a separate sealing key. Migrate converts one record at a time
// from v1 to v2 and is safe to re-run.
package sealing

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// KeyProvider yields 128-bit keys bound to the current enclave identity.
// Implementations wrap the hardware key-request facility or simulate it
// from configured root entropy.
type KeyProvider interface {
	// SealingKey returns the record sealing key for the given format
	// version. Version changes imply a different key so that resealing
	// under a new policy actually re-encrypts.
	SealingKey(version uint8) ([16]byte, error)

	// DeriveKey derives a key from a fixed string label. The label fills
	// the hardware key-request identity slot; a label longer than the slot
	// indicates a build-time misconfiguration and panics.
	DeriveKey(label string) [16]byte
}

// SimulatedKeyProvider derives keys from configured root entropy mixed with
// the enclave measurement and signer. It stands in for the hardware
// key-request facility outside real enclaves and in tests.
type SimulatedKeyProvider struct {
	root        []byte
	measurement []byte
	signer      []byte
}

// NewSimulatedKeyProvider creates a provider from root entropy and the
// simulated enclave identity. Root entropy must be at least 16 bytes.
func NewSimulatedKeyProvider(root, measurement, signer []byte) (*SimulatedKeyProvider, error) {
	if len(root) < 16 {
		return nil, fmt.Errorf("%w: sealing root entropy must be at least 16 bytes", interfaces.ErrInvalidInput)
	}
	return &SimulatedKeyProvider{root: root, measurement: measurement, signer: signer}, nil
}

// SealingKey derives the record sealing key for a format version.
func (p *SimulatedKeyProvider) SealingKey(version uint8) ([16]byte, error) {
	return p.DeriveKey(fmt.Sprintf("record-seal.%d", version)), nil
}

// DeriveKey derives a 128-bit key from a label, binding it to the enclave
// measurement and signer the way a MRENCLAVE|MRSIGNER key request would.
func (p *SimulatedKeyProvider) DeriveKey(label string) [16]byte {
	if len(label) > interfaces.SealedKeyLabelSlot {
		panic(fmt.Sprintf("key derivation label %q exceeds %d-byte key request slot", label, interfaces.SealedKeyLabelSlot))
	}

	mac := hmac.New(sha256.New, p.root)
	mac.Write(p.measurement)
	mac.Write(p.signer)
	mac.Write([]byte(label))

	var key [16]byte
	copy(key[:], mac.Sum(nil))
	return key
}
