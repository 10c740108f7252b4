package interfaces

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// PublicKeySize is the byte length of an X25519 public key.
	PublicKeySize = 32

	// SeedSize is the byte length of a consensus seed value.
	SeedSize = 32

	// SealedKeyLabelSlot is the byte capacity of a hardware key-request
	// label. Derivation labels longer than this cannot be expressed in a
	// key request and indicate a build-time misconfiguration.
	SealedKeyLabelSlot = 32
)

// PublicKey is a raw X25519 public key used as a node's network identity
// and as key-agreement material for seed exchange.
type PublicKey [PublicKeySize]byte

// NewPublicKeyFromBytes converts a raw byte slice into a PublicKey.
func NewPublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidInput, PublicKeySize, len(b))
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

// NewPublicKeyFromHex parses a hex-encoded public key, with or without a 0x prefix.
func NewPublicKeyFromHex(s string) (PublicKey, error) {
	clean := strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: invalid hex public key: %v", ErrInvalidInput, err)
	}
	return NewPublicKeyFromBytes(b)
}

// String returns the hex representation of the public key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Bytes returns the raw 32-byte key.
func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

// IsZero reports whether the key is all zeroes.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Seed is a fixed-length consensus seed value.
type Seed [SeedSize]byte

// NewSeedFromBytes converts a raw byte slice into a Seed.
func NewSeedFromBytes(b []byte) (Seed, error) {
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidInput, SeedSize, len(b))
	}
	var s Seed
	copy(s[:], b)
	return s, nil
}

// Equal compares two seeds in constant time.
func (s Seed) Equal(other Seed) bool {
	return subtle.ConstantTimeCompare(s[:], other[:]) == 1
}

// Bytes returns the raw seed bytes.
func (s Seed) Bytes() []byte {
	return s[:]
}

// ConsensusSeedPair holds the genesis seed, fixed at chain founding, and the
// active current seed. Genesis never changes once set; current is replaced
// only through a guarded set operation.
type ConsensusSeedPair struct {
	Genesis Seed
	Current Seed
}

// ReportFlags selects which attestation schemes run and whether the report
// binds the migration key instead of the registration key. The host ABI
// packs these into a single uint32 for compatibility.
type ReportFlags struct {
	SkipEPID  bool
	SkipDCAP  bool
	Migration bool
}

const (
	reportFlagSkipEPID  = 1 << 0
	reportFlagSkipDCAP  = 1 << 1
	reportFlagMigration = 1 << 4
)

// ParseReportFlags decodes the packed host representation.
func ParseReportFlags(raw uint32) ReportFlags {
	return ReportFlags{
		SkipEPID:  raw&reportFlagSkipEPID != 0,
		SkipDCAP:  raw&reportFlagSkipDCAP != 0,
		Migration: raw&reportFlagMigration != 0,
	}
}

// Raw returns the packed host representation of the flags.
func (f ReportFlags) Raw() uint32 {
	var raw uint32
	if f.SkipEPID {
		raw |= reportFlagSkipEPID
	}
	if f.SkipDCAP {
		raw |= reportFlagSkipDCAP
	}
	if f.Migration {
		raw |= reportFlagMigration
	}
	return raw
}

// Validate rejects flag combinations that cannot produce any evidence.
func (f ReportFlags) Validate() error {
	if f.SkipEPID && f.SkipDCAP {
		return errors.New("both attestation schemes disabled")
	}
	return nil
}
