package interfaces

import "errors"

var (
	// ErrInvalidInput is returned when untrusted input crossing the host
	// boundary is malformed, mis-sized or missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBadLength is returned when an encrypted-seed blob carries a length
	// discriminator other than the accepted one-seed or two-seed constants.
	ErrBadLength = errors.New("encrypted seed has bad length")

	// ErrCryptoFailure is returned when key generation, encryption or
	// decryption fails, including authentication-tag mismatches.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrSeedMissing is returned when an operation requires a consensus seed
	// that has not been created or received yet.
	ErrSeedMissing = errors.New("consensus seed missing")

	// ErrSeedExists is returned when a bootstrap attempts to create a genesis
	// seed over an already-established one.
	ErrSeedExists = errors.New("consensus seed already exists")

	// ErrSeedMismatch is returned when a seed update names a genesis value
	// other than the one this node is sealed to.
	ErrSeedMismatch = errors.New("genesis seed mismatch")

	// ErrSealingFailure is returned when a sealed record cannot be read or
	// written.
	ErrSealingFailure = errors.New("sealing storage failure")

	// ErrAttestationFailure is returned when hardware report or quote
	// generation fails.
	ErrAttestationFailure = errors.New("attestation failed")

	// ErrMigrationFailure is returned when a legacy-format sealed record
	// cannot be converted to the current format.
	ErrMigrationFailure = errors.New("sealed record migration failed")

	// ErrRecordNotFound is returned by storage backends and the sealed store
	// when a named record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
