package keyvault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
	"github.com/ruteri/tee-enclave-bootstrap/storage"
)

func testVault(t *testing.T) (*Vault, interfaces.SealedStore) {
	t.Helper()
	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte("m"), []byte("s"))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := sealing.NewStore(storage.NewMemoryBackend(), keys, log)
	return NewVault(store, log), store
}

func TestRegistrationKeyPersists(t *testing.T) {
	vault, store := testVault(t)
	ctx := context.Background()

	kp, err := vault.CreateRegistrationKey(ctx)
	require.NoError(t, err)

	// A fresh vault over the same store loads the same key.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reloaded := NewVault(store, log)
	kp2, err := reloaded.RegistrationKey(ctx)
	require.NoError(t, err)
	require.Equal(t, kp.Public(), kp2.Public())
}

func TestResealRegistrationKey(t *testing.T) {
	ctx := context.Background()
	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte("m"), []byte("s"))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := storage.NewMemoryBackend()
	store := sealing.NewStore(backend, keys, log)
	vault := NewVault(store, log)

	// Nothing to reseal at first boot, and no record appears.
	require.NoError(t, vault.ResealRegistrationKey(ctx))
	exists, err := store.Exists(ctx, RecordRegistrationKey)
	require.NoError(t, err)
	require.False(t, exists)

	kp, err := vault.CreateRegistrationKey(ctx)
	require.NoError(t, err)
	before, err := backend.Get(ctx, RecordRegistrationKey)
	require.NoError(t, err)

	require.NoError(t, vault.ResealRegistrationKey(ctx))

	// The sealed record is rewritten but the key material is unchanged.
	after, err := backend.Get(ctx, RecordRegistrationKey)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	reloaded := NewVault(store, log)
	kp2, err := reloaded.RegistrationKey(ctx)
	require.NoError(t, err)
	require.Equal(t, kp.Public(), kp2.Public())
}

func TestRegistrationKeyMissing(t *testing.T) {
	vault, _ := testVault(t)

	_, err := vault.RegistrationKey(context.Background())
	require.True(t, errors.Is(err, interfaces.ErrRecordNotFound))
}

func TestCreateConsensusSeedOnce(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.CreateConsensusSeed(ctx))

	pair, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, pair.Genesis.Equal(pair.Current))

	// A second bootstrap must never discard the established seed.
	err = vault.CreateConsensusSeed(ctx)
	require.True(t, errors.Is(err, interfaces.ErrSeedExists))

	pairAfter, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, pair.Genesis.Equal(pairAfter.Genesis))
}

func TestSetConsensusSeedGuardsGenesis(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.CreateConsensusSeed(ctx))
	before, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)

	var wrongGenesis, newCurrent interfaces.Seed
	wrongGenesis[0] = 0xAA
	newCurrent[0] = 0xBB

	// Mismatched genesis is rejected and state is unchanged.
	err = vault.SetConsensusSeed(ctx, wrongGenesis, newCurrent)
	require.True(t, errors.Is(err, interfaces.ErrSeedMismatch))

	after, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, before.Current.Equal(after.Current))

	// Matching genesis installs the new current seed, genesis untouched.
	require.NoError(t, vault.SetConsensusSeed(ctx, before.Genesis, newCurrent))
	after, err = vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, after.Current.Equal(newCurrent))
	require.True(t, after.Genesis.Equal(before.Genesis))
}

func TestSetConsensusSeedRequiresGenesis(t *testing.T) {
	vault, _ := testVault(t)

	var seed interfaces.Seed
	err := vault.SetConsensusSeed(context.Background(), seed, seed)
	require.True(t, errors.Is(err, interfaces.ErrSeedMissing))
}

func TestDeleteConsensusSeed(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	// Nothing to delete is not an error.
	require.False(t, vault.DeleteConsensusSeed(ctx))

	require.NoError(t, vault.CreateConsensusSeed(ctx))
	require.True(t, vault.DeleteConsensusSeed(ctx))

	_, err := vault.ConsensusSeed(ctx)
	require.True(t, errors.Is(err, interfaces.ErrSeedMissing))
}

func TestAdoptConsensusSeed(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	var pair interfaces.ConsensusSeedPair
	pair.Genesis[0] = 0x01
	pair.Current[0] = 0x02

	require.NoError(t, vault.AdoptConsensusSeed(ctx, pair))

	got, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, got.Genesis.Equal(pair.Genesis))
	require.True(t, got.Current.Equal(pair.Current))
}

func TestMasterKeysDeterministic(t *testing.T) {
	var seed interfaces.Seed
	copy(seed[:], []byte("the shared current consensus seed"))

	mk1, err := DeriveMasterKeys(seed)
	require.NoError(t, err)
	mk2, err := DeriveMasterKeys(seed)
	require.NoError(t, err)

	require.Equal(t, mk1.SeedExchange.Public(), mk2.SeedExchange.Public())
	require.Equal(t, mk1.IOExchange.Public(), mk2.IOExchange.Public())
	require.Equal(t, mk1.StateIKM, mk2.StateIKM)
	require.Equal(t, mk1.CallbackSecret, mk2.CallbackSecret)

	// The four derivations are domain-separated.
	require.NotEqual(t, mk1.SeedExchange.Public(), mk1.IOExchange.Public())
	require.NotEqual(t, mk1.StateIKM, mk1.CallbackSecret)
}

func TestMasterKeysRequireSeed(t *testing.T) {
	vault, _ := testVault(t)

	err := vault.GenerateConsensusMasterKeys(context.Background())
	require.True(t, errors.Is(err, interfaces.ErrSeedMissing))
}

func TestMasterKeysRegeneratedOnSeedChange(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.CreateConsensusSeed(ctx))
	require.NoError(t, vault.GenerateConsensusMasterKeys(ctx))
	mk1, err := vault.MasterKeys(ctx)
	require.NoError(t, err)

	pair, err := vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	var newCurrent interfaces.Seed
	newCurrent[0] = 0x42
	require.NoError(t, vault.SetConsensusSeed(ctx, pair.Genesis, newCurrent))

	mk2, err := vault.MasterKeys(ctx)
	require.NoError(t, err)
	require.NotEqual(t, mk1.SeedExchange.Public(), mk2.SeedExchange.Public())
}

func TestMigrationKeyPairDeterministic(t *testing.T) {
	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte("m"), []byte("s"))
	require.NoError(t, err)

	kp1, err := MigrationKeyPair(keys)
	require.NoError(t, err)
	kp2, err := MigrationKeyPair(keys)
	require.NoError(t, err)
	require.Equal(t, kp1.Public(), kp2.Public())

	otherIdentity, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte("other"), []byte("s"))
	require.NoError(t, err)
	kp3, err := MigrationKeyPair(otherIdentity)
	require.NoError(t, err)
	require.NotEqual(t, kp1.Public(), kp3.Public())
}
