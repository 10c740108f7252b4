// Package keyvault owns the node's cryptographic identity and the chain's
// consensus seed. It enforces the lifecycle ordering the rest of the system
// depends on: a registration key exists before any seed is exchanged, both
// seed values exist before master keys are derived, and the genesis seed is
// immutable once set.
package keyvault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/tee-enclave-bootstrap/cryptoutils"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// Sealed record names owned by the vault.
const (
	RecordRegistrationKey = "registration-key.sealed"
	RecordSeedGenesis     = "consensus-seed-genesis.sealed"
	RecordSeedCurrent     = "consensus-seed-current.sealed"
	RecordMasterPubkeys   = "master-pubkeys.sealed"
)

// Vault manages the registration key, the consensus seed pair and the
// derived master keys, persisting secrets through the sealed store. It is
// not safe for concurrent use; the host serializes calls into the enclave.
type Vault struct {
	store interfaces.SealedStore
	log   *slog.Logger

	regKey *cryptoutils.KeyPair
	master *MasterKeys
}

// NewVault creates a vault over the given sealed store.
func NewVault(store interfaces.SealedStore, log *slog.Logger) *Vault {
	return &Vault{store: store, log: log}
}

// CreateRegistrationKey generates a fresh registration key pair and seals
// it, overwriting any prior key.
func (v *Vault) CreateRegistrationKey(ctx context.Context) (*cryptoutils.KeyPair, error) {
	kp, err := cryptoutils.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := v.store.Seal(ctx, RecordRegistrationKey, kp.Bytes()); err != nil {
		return nil, err
	}

	v.regKey = kp
	v.log.Debug("Created registration key", slog.String("pubkey", kp.Public().String()))
	return kp, nil
}

// RegistrationKey loads the sealed registration key. Returns
// ErrRecordNotFound if none has been created.
func (v *Vault) RegistrationKey(ctx context.Context) (*cryptoutils.KeyPair, error) {
	if v.regKey != nil {
		return v.regKey, nil
	}

	raw, err := v.store.Unseal(ctx, RecordRegistrationKey)
	if err != nil {
		return nil, err
	}
	kp, err := cryptoutils.KeyPairFromBytes(raw)
	if err != nil {
		return nil, err
	}

	v.regKey = kp
	return kp, nil
}

// ResealRegistrationKey rewrites the sealed registration key under the
// current sealing policy without changing key material. Called when the
// enclave security version changes. A missing key is acceptable only at
// first boot and is a no-op.
func (v *Vault) ResealRegistrationKey(ctx context.Context) error {
	raw, err := v.store.Unseal(ctx, RecordRegistrationKey)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		v.log.Debug("No registration key to reseal")
		return nil
	}
	if err != nil {
		return err
	}
	return v.store.Seal(ctx, RecordRegistrationKey, raw)
}

// CreateConsensusSeed generates the genesis seed from enclave-local entropy
// and seals it as both genesis and current. Valid only on the bootstrap
// path: an existing seed is never silently discarded.
func (v *Vault) CreateConsensusSeed(ctx context.Context) error {
	exists, err := v.store.Exists(ctx, RecordSeedGenesis)
	if err != nil {
		return err
	}
	if exists {
		return interfaces.ErrSeedExists
	}

	var seed interfaces.Seed
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return fmt.Errorf("%w: seed generation: %v", interfaces.ErrCryptoFailure, err)
	}

	if err := v.store.Seal(ctx, RecordSeedGenesis, seed.Bytes()); err != nil {
		return err
	}
	if err := v.store.Seal(ctx, RecordSeedCurrent, seed.Bytes()); err != nil {
		return err
	}

	v.master = nil
	v.log.Info("Created genesis consensus seed")
	return nil
}

// AdoptConsensusSeed installs a seed pair received from a peer, sealing
// both values. Used on the joining-node path after any stale local seed
// has been deleted; the bootstrap path never calls this.
func (v *Vault) AdoptConsensusSeed(ctx context.Context, pair interfaces.ConsensusSeedPair) error {
	if err := v.store.Seal(ctx, RecordSeedGenesis, pair.Genesis.Bytes()); err != nil {
		return err
	}
	if err := v.store.Seal(ctx, RecordSeedCurrent, pair.Current.Bytes()); err != nil {
		return err
	}

	v.master = nil
	v.log.Info("Adopted consensus seed pair from peer")
	return nil
}

// SetConsensusSeed installs newCurrent as the active seed after verifying,
// in constant time, that expectedGenesis matches the sealed genesis seed.
// The genesis record is never touched.
func (v *Vault) SetConsensusSeed(ctx context.Context, expectedGenesis, newCurrent interfaces.Seed) error {
	genesis, err := v.GenesisSeed(ctx)
	if err != nil {
		return err
	}
	if !genesis.Equal(expectedGenesis) {
		return interfaces.ErrSeedMismatch
	}

	if err := v.store.Seal(ctx, RecordSeedCurrent, newCurrent.Bytes()); err != nil {
		return err
	}

	// Master keys are a cache over the current seed; invalidate.
	v.master = nil
	v.log.Info("Installed new current consensus seed")
	return nil
}

// GenesisSeed returns the sealed genesis seed.
func (v *Vault) GenesisSeed(ctx context.Context) (interfaces.Seed, error) {
	return v.unsealSeed(ctx, RecordSeedGenesis)
}

// CurrentSeed returns the sealed current seed.
func (v *Vault) CurrentSeed(ctx context.Context) (interfaces.Seed, error) {
	return v.unsealSeed(ctx, RecordSeedCurrent)
}

// ConsensusSeed returns the sealed seed pair. Fails with ErrSeedMissing if
// the node has never created or received a seed.
func (v *Vault) ConsensusSeed(ctx context.Context) (interfaces.ConsensusSeedPair, error) {
	genesis, err := v.GenesisSeed(ctx)
	if err != nil {
		return interfaces.ConsensusSeedPair{}, err
	}
	current, err := v.CurrentSeed(ctx)
	if err != nil {
		return interfaces.ConsensusSeedPair{}, err
	}
	return interfaces.ConsensusSeedPair{Genesis: genesis, Current: current}, nil
}

// DeleteConsensusSeed removes both seed records, reporting whether any was
// present. Used before adopting a fresh seed during node initialization;
// nothing to delete is not an error.
func (v *Vault) DeleteConsensusSeed(ctx context.Context) bool {
	deletedGenesis, err := v.store.Delete(ctx, RecordSeedGenesis)
	if err != nil {
		v.log.Warn("Failed to delete genesis seed record", "err", err)
	}
	deletedCurrent, err := v.store.Delete(ctx, RecordSeedCurrent)
	if err != nil {
		v.log.Warn("Failed to delete current seed record", "err", err)
	}

	v.master = nil
	return deletedGenesis || deletedCurrent
}

// GenerateConsensusMasterKeys derives the master key set from the current
// seed and seals the public components for external consumption. Fails
// with ErrSeedMissing before any seed exists.
func (v *Vault) GenerateConsensusMasterKeys(ctx context.Context) error {
	current, err := v.CurrentSeed(ctx)
	if err != nil {
		return err
	}

	master, err := DeriveMasterKeys(current)
	if err != nil {
		return err
	}

	pubJSON, err := master.PublicKeys().MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: encoding master public keys: %v", interfaces.ErrCryptoFailure, err)
	}
	if err := v.store.Seal(ctx, RecordMasterPubkeys, pubJSON); err != nil {
		return err
	}

	v.master = master
	v.log.Info("Derived consensus master keys",
		slog.String("seed_exchange_pubkey", master.SeedExchange.Public().String()))
	return nil
}

// MasterKeys returns the derived master key set, deriving it on demand if
// a consensus seed is present.
func (v *Vault) MasterKeys(ctx context.Context) (*MasterKeys, error) {
	if v.master != nil {
		return v.master, nil
	}

	current, err := v.CurrentSeed(ctx)
	if err != nil {
		return nil, err
	}
	master, err := DeriveMasterKeys(current)
	if err != nil {
		return nil, err
	}

	v.master = master
	return master, nil
}

// SeedExchangeKey returns the master seed-exchange key pair from the
// derived key set. Seed exchange itself runs over registration keys;
// this key identifies the chain's derived key set to external parties.
func (v *Vault) SeedExchangeKey(ctx context.Context) (*cryptoutils.KeyPair, error) {
	master, err := v.MasterKeys(ctx)
	if err != nil {
		return nil, err
	}
	return master.SeedExchange, nil
}

func (v *Vault) unsealSeed(ctx context.Context, record string) (interfaces.Seed, error) {
	raw, err := v.store.Unseal(ctx, record)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return interfaces.Seed{}, fmt.Errorf("%w: %s", interfaces.ErrSeedMissing, record)
	}
	if err != nil {
		return interfaces.Seed{}, err
	}
	return interfaces.NewSeedFromBytes(raw)
}
