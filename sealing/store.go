package sealing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-enclave-bootstrap/cryptoutils"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

const (
	formatLegacy  uint8 = 1
	formatCurrent uint8 = 2
)

// recordMagic prefixes every current-format record. Legacy records start
// with the bare version byte instead.
var recordMagic = []byte("SEAL")

// Store encrypts named records with enclave-identity-bound keys and
// persists them through a storage backend. It implements
// interfaces.SealedStore.
type Store struct {
	backend interfaces.Backend
	keys    KeyProvider
	log     *slog.Logger
}

// NewStore creates a sealed store over the given backend and key provider.
func NewStore(backend interfaces.Backend, keys KeyProvider, log *slog.Logger) *Store {
	return &Store{backend: backend, keys: keys, log: log}
}

// Seal encrypts plaintext in the current format and persists it under name,
// replacing any previous record.
func (s *Store) Seal(ctx context.Context, name string, plaintext []byte) error {
	record, err := s.encode(name, plaintext)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, name, record); err != nil {
		return fmt.Errorf("%w: writing %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return nil
}

// Unseal reads and decrypts the record stored under name. Both legacy and
// current formats are accepted. Returns ErrRecordNotFound if the record
// does not exist.
func (s *Store) Unseal(ctx context.Context, name string) ([]byte, error) {
	record, err := s.backend.Get(ctx, name)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %s: %v", interfaces.ErrSealingFailure, name, err)
	}

	version, err := recordVersion(record)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return s.decode(name, version, record)
}

// Exists reports whether a record is stored under name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := s.backend.Has(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: checking %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return ok, nil
}

// Delete removes the record stored under name, reporting whether one was
// present. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := s.backend.Delete(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: deleting %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return existed, nil
}

// Migrate rewrites the record under name from the legacy to the current
// format. A missing record or one already in the current format is a
// no-op. Any decryption or persistence error aborts with
// ErrMigrationFailure, leaving the stored record untouched.
func (s *Store) Migrate(ctx context.Context, name string) error {
	record, err := s.backend.Get(ctx, name)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		s.log.Debug("Migration skipping absent record", slog.String("name", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", interfaces.ErrMigrationFailure, name, err)
	}

	version, err := recordVersion(record)
	if err != nil {
		return fmt.Errorf("%w: record %s: %v", interfaces.ErrMigrationFailure, name, err)
	}
	if version == formatCurrent {
		s.log.Debug("Record already in current format", slog.String("name", name))
		return nil
	}

	plaintext, err := s.decode(name, version, record)
	if err != nil {
		return fmt.Errorf("%w: decrypting legacy %s: %v", interfaces.ErrMigrationFailure, name, err)
	}

	if err := s.Seal(ctx, name, plaintext); err != nil {
		return fmt.Errorf("%w: rewriting %s: %v", interfaces.ErrMigrationFailure, name, err)
	}

	s.log.Info("Migrated sealed record", slog.String("name", name))
	return nil
}

// encode seals plaintext in the current format:
// "SEAL" | version | nonce | ciphertext.
func (s *Store) encode(name string, plaintext []byte) ([]byte, error) {
	key, err := s.recordKey(name, formatCurrent)
	if err != nil {
		return nil, err
	}

	sealed, err := cryptoutils.SealBytes(key, plaintext, recordAAD(name, formatCurrent))
	if err != nil {
		return nil, fmt.Errorf("%w: sealing %s: %v", interfaces.ErrSealingFailure, name, err)
	}

	record := make([]byte, 0, len(recordMagic)+1+len(sealed))
	record = append(record, recordMagic...)
	record = append(record, formatCurrent)
	return append(record, sealed...), nil
}

// decode decrypts a record of a known version.
func (s *Store) decode(name string, version uint8, record []byte) ([]byte, error) {
	key, err := s.recordKey(name, version)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	switch version {
	case formatCurrent:
		sealed = record[len(recordMagic)+1:]
	case formatLegacy:
		sealed = record[1:]
	}

	plaintext, err := cryptoutils.OpenBytes(key, sealed, recordAAD(name, version))
	if err != nil {
		return nil, fmt.Errorf("%w: unsealing %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return plaintext, nil
}

// recordKey expands the version's 128-bit hardware sealing key into the
// record AEAD key.
func (s *Store) recordKey(name string, version uint8) ([cryptoutils.SymmetricKeySize]byte, error) {
	hwKey, err := s.keys.SealingKey(version)
	if err != nil {
		return [cryptoutils.SymmetricKeySize]byte{}, fmt.Errorf("%w: sealing key v%d: %v", interfaces.ErrSealingFailure, version, err)
	}
	return cryptoutils.DeriveKey(hwKey[:], nil, fmt.Sprintf("sealed-record/v%d", version))
}

func recordAAD(name string, version uint8) []byte {
	return []byte(fmt.Sprintf("%s|%d", name, version))
}

// recordVersion classifies a stored record as legacy or current.
func recordVersion(record []byte) (uint8, error) {
	if len(record) > len(recordMagic)+1 && bytes.Equal(record[:len(recordMagic)], recordMagic) && record[len(recordMagic)] == formatCurrent {
		return formatCurrent, nil
	}
	if len(record) > 1 && record[0] == formatLegacy {
		return formatLegacy, nil
	}
	return 0, errors.New("unrecognized record format")
}

// SealLegacy writes a record in the legacy v1 format. It exists so tests
// and migration tooling can produce pre-upgrade records.
func (s *Store) SealLegacy(ctx context.Context, name string, plaintext []byte) error {
	key, err := s.recordKey(name, formatLegacy)
	if err != nil {
		return err
	}

	sealed, err := cryptoutils.SealBytes(key, plaintext, recordAAD(name, formatLegacy))
	if err != nil {
		return fmt.Errorf("%w: sealing %s: %v", interfaces.ErrSealingFailure, name, err)
	}

	record := append([]byte{formatLegacy}, sealed...)
	if err := s.backend.Put(ctx, name, record); err != nil {
		return fmt.Errorf("%w: writing %s: %v", interfaces.ErrSealingFailure, name, err)
	}
	return nil
}
