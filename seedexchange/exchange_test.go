package seedexchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
	"github.com/ruteri/tee-enclave-bootstrap/storage"
)

func newTestVault(t *testing.T, identity string) *keyvault.Vault {
	t.Helper()
	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte(identity), []byte("signer"))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := sealing.NewStore(storage.NewMemoryBackend(), keys, log)
	vault := keyvault.NewVault(store, log)

	_, err = vault.CreateRegistrationKey(context.Background())
	require.NoError(t, err)
	return vault
}

func TestSeedExchangeRoundtrip(t *testing.T) {
	ctx := context.Background()
	sender := newTestVault(t, "sender")
	recipient := newTestVault(t, "recipient")

	require.NoError(t, sender.CreateConsensusSeed(ctx))
	senderPair, err := sender.ConsensusSeed(ctx)
	require.NoError(t, err)

	senderKP, err := sender.RegistrationKey(ctx)
	require.NoError(t, err)
	recipientKP, err := recipient.RegistrationKey(ctx)
	require.NoError(t, err)

	blob, err := EncryptSeed(ctx, sender, recipientKP.Public(), SelectGenesisAndCurrent, false)
	require.NoError(t, err)
	require.Len(t, blob, 1+DoubleEncryptedSeedSize)
	require.Equal(t, byte(DoubleEncryptedSeedSize), blob[0])

	cts, err := SplitBlob(blob)
	require.NoError(t, err)
	require.Len(t, cts, 2)

	genesis, err := DecryptSeed(ctx, recipient, senderKP.Public(), cts[0])
	require.NoError(t, err)
	require.True(t, genesis.Equal(senderPair.Genesis))

	current, err := DecryptSeed(ctx, recipient, senderKP.Public(), cts[1])
	require.NoError(t, err)
	require.True(t, current.Equal(senderPair.Current))
}

func TestGenesisOnlyBlob(t *testing.T) {
	ctx := context.Background()
	sender := newTestVault(t, "sender")
	recipient := newTestVault(t, "recipient")

	require.NoError(t, sender.CreateConsensusSeed(ctx))
	recipientKP, err := recipient.RegistrationKey(ctx)
	require.NoError(t, err)

	blob, err := EncryptSeed(ctx, sender, recipientKP.Public(), SelectGenesis, false)
	require.NoError(t, err)
	require.Equal(t, byte(SingleEncryptedSeedSize), blob[0])
	require.Len(t, blob, 1+SingleEncryptedSeedSize)

	cts, err := SplitBlob(blob)
	require.NoError(t, err)
	require.Len(t, cts, 1)
}

func TestEncryptSeedCurrentAbsent(t *testing.T) {
	ctx := context.Background()
	recipient := newTestVault(t, "recipient")

	// Seal only the genesis seed so current is missing.
	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte("lonely"), []byte("signer"))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := sealing.NewStore(storage.NewMemoryBackend(), keys, log)
	lonely := keyvault.NewVault(store, log)
	_, err = lonely.CreateRegistrationKey(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Seal(ctx, keyvault.RecordSeedGenesis, make([]byte, interfaces.SeedSize)))

	recipientKP, err := recipient.RegistrationKey(ctx)
	require.NoError(t, err)

	// Without permission the absent current seed fails the call.
	_, err = EncryptSeed(ctx, lonely, recipientKP.Public(), SelectGenesisAndCurrent, false)
	require.True(t, errors.Is(err, interfaces.ErrSeedMissing))

	// With permission a genesis-only blob is emitted.
	blob, err := EncryptSeed(ctx, lonely, recipientKP.Public(), SelectGenesisAndCurrent, true)
	require.NoError(t, err)
	require.Equal(t, byte(SingleEncryptedSeedSize), blob[0])
}

func TestDecryptSeedWrongSender(t *testing.T) {
	ctx := context.Background()
	sender := newTestVault(t, "sender")
	recipient := newTestVault(t, "recipient")
	impostor := newTestVault(t, "impostor")

	require.NoError(t, sender.CreateConsensusSeed(ctx))
	recipientKP, err := recipient.RegistrationKey(ctx)
	require.NoError(t, err)
	impostorKP, err := impostor.RegistrationKey(ctx)
	require.NoError(t, err)

	blob, err := EncryptSeed(ctx, sender, recipientKP.Public(), SelectGenesis, false)
	require.NoError(t, err)
	cts, err := SplitBlob(blob)
	require.NoError(t, err)

	// Naming the wrong sender derives the wrong key and authentication fails.
	_, err = DecryptSeed(ctx, recipient, impostorKP.Public(), cts[0])
	require.True(t, errors.Is(err, interfaces.ErrCryptoFailure))
}

func TestDecryptSeedBadLength(t *testing.T) {
	ctx := context.Background()
	recipient := newTestVault(t, "recipient")
	senderKP, err := newTestVault(t, "sender").RegistrationKey(ctx)
	require.NoError(t, err)

	for _, size := range []int{0, 1, SingleEncryptedSeedSize - 1, SingleEncryptedSeedSize + 1, DoubleEncryptedSeedSize} {
		_, err = DecryptSeed(ctx, recipient, senderKP.Public(), make([]byte, size))
		require.True(t, errors.Is(err, interfaces.ErrBadLength), "size %d", size)
	}
}

func TestSplitBlobRejectsBadDiscriminator(t *testing.T) {
	testCases := []struct {
		name string
		blob []byte
	}{
		{name: "Empty", blob: nil},
		{name: "Too short", blob: make([]byte, SingleEncryptedSeedSize)},
		{name: "Zero discriminator", blob: make([]byte, InputBlobSize)},
		{name: "Off-by-one discriminator", blob: func() []byte {
			b := make([]byte, InputBlobSize)
			b[0] = SingleEncryptedSeedSize + 1
			return b
		}()},
		{name: "Truncated double blob", blob: func() []byte {
			b := make([]byte, 1+SingleEncryptedSeedSize)
			b[0] = DoubleEncryptedSeedSize
			return b
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SplitBlob(tc.blob)
			require.True(t, errors.Is(err, interfaces.ErrBadLength))
		})
	}
}

func TestSplitBlobAcceptsPaddedSingle(t *testing.T) {
	// The host buffer is always the full two-seed size; a single-seed blob
	// arrives padded.
	blob := make([]byte, InputBlobSize)
	blob[0] = SingleEncryptedSeedSize

	cts, err := SplitBlob(blob)
	require.NoError(t, err)
	require.Len(t, cts, 1)
	require.Len(t, cts[0], SingleEncryptedSeedSize)
}
