package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-enclave-bootstrap/attestation"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
	"github.com/ruteri/tee-enclave-bootstrap/seedexchange"
	"github.com/ruteri/tee-enclave-bootstrap/storage"
)

type testNode struct {
	orchestrator *Orchestrator
	vault        *keyvault.Vault
	store        *sealing.Store
	sink         *storage.MemoryBackend
}

func newTestNode(t *testing.T, identity string) *testNode {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := sealing.NewSimulatedKeyProvider([]byte("test root entropy 32 bytes long!"), []byte(identity), []byte("signer"))
	require.NoError(t, err)
	store := sealing.NewStore(storage.NewMemoryBackend(), keys, log)
	vault := keyvault.NewVault(store, log)
	sink := storage.NewMemoryBackend()

	sim := &attestation.SimulatedProvider{ISVSVN: 1, Secret: []byte("simulation secret")}
	copy(sim.Measurement[:], []byte(identity))

	orchestrator := NewOrchestrator(Config{
		Vault:       vault,
		Store:       store,
		Keys:        keys,
		EPID:        attestation.NewEPIDAttestor(sim, log),
		DCAP:        attestation.NewDCAPAttestor(sim, sim, log),
		Sink:        sink,
		SeedVersion: 1,
		Log:         log,
	})
	return &testNode{orchestrator: orchestrator, vault: vault, store: store, sink: sink}
}

func TestInitBootstrap(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "bootstrap")

	pubkey, err := node.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)
	require.False(t, pubkey.IsZero())

	// The returned key is the master seed-exchange public key.
	master, err := node.vault.MasterKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, master.SeedExchange.Public(), pubkey)

	// Public material was exported.
	pubkeys, err := node.sink.Get(ctx, ExportMasterPubkeys)
	require.NoError(t, err)
	require.Contains(t, string(pubkeys), pubkey.String())
	_, err = node.sink.Get(ctx, ExportPubkey)
	require.NoError(t, err)

	require.True(t, node.orchestrator.IsSeedEstablished(ctx))
}

func TestInitBootstrapRefusesExistingSeed(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "bootstrap")

	_, err := node.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)

	pairBefore, err := node.vault.ConsensusSeed(ctx)
	require.NoError(t, err)

	// Re-running bootstrap must never discard the established chain seed.
	_, err = node.orchestrator.InitBootstrap(ctx, nil)
	require.True(t, errors.Is(err, interfaces.ErrSeedExists))

	pairAfter, err := node.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, pairBefore.Genesis.Equal(pairAfter.Genesis))
}

func TestInitNodeWithFullBlob(t *testing.T) {
	ctx := context.Background()
	bootstrap := newTestNode(t, "bootstrap")
	joiner := newTestNode(t, "joiner")

	_, err := bootstrap.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)

	joinerPub, err := joiner.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	blob, err := seedexchange.EncryptSeed(ctx, bootstrap.vault, joinerPub, seedexchange.SelectGenesisAndCurrent, false)
	require.NoError(t, err)
	require.Len(t, blob, seedexchange.InputBlobSize)

	bootstrapKP, err := bootstrap.vault.RegistrationKey(ctx)
	require.NoError(t, err)

	require.NoError(t, joiner.orchestrator.InitNode(ctx, bootstrapKP.Public().Bytes(), blob, nil))

	// The joiner holds the bootstrap node's seed pair.
	bootstrapPair, err := bootstrap.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	joinerPair, err := joiner.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, bootstrapPair.Genesis.Equal(joinerPair.Genesis))
	require.True(t, bootstrapPair.Current.Equal(joinerPair.Current))

	// Both seeds arrived, so no response blob is produced.
	_, err = joiner.sink.Get(ctx, ExportSeedResponse)
	require.True(t, errors.Is(err, interfaces.ErrRecordNotFound))

	// The joiner's master public keys are exported.
	joinerMaster, err := joiner.vault.MasterKeys(ctx)
	require.NoError(t, err)
	pubkeys, err := joiner.sink.Get(ctx, ExportMasterPubkeys)
	require.NoError(t, err)
	require.Contains(t, string(pubkeys), joinerMaster.SeedExchange.Public().String())
}

type stubSeedService struct {
	seed  interfaces.Seed
	calls int
}

func (s *stubSeedService) NextSeed(ctx context.Context, req interfaces.NextSeedRequest) (interfaces.Seed, error) {
	s.calls++
	return s.seed, nil
}

func TestInitNodeFetchesCurrentFromService(t *testing.T) {
	ctx := context.Background()
	bootstrap := newTestNode(t, "bootstrap")
	joiner := newTestNode(t, "joiner")

	var serviceSeed interfaces.Seed
	serviceSeed[0] = 0x99
	joiner.orchestrator.cfg.SeedService = &stubSeedService{seed: serviceSeed}

	_, err := bootstrap.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)
	joinerPub, err := joiner.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	// Genesis-only blob, padded to the fixed host buffer size.
	blob, err := seedexchange.EncryptSeed(ctx, bootstrap.vault, joinerPub, seedexchange.SelectGenesis, false)
	require.NoError(t, err)
	padded := make([]byte, seedexchange.InputBlobSize)
	copy(padded, blob)

	bootstrapKP, err := bootstrap.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	require.NoError(t, joiner.orchestrator.InitNode(ctx, bootstrapKP.Public().Bytes(), padded, nil))

	pair, err := joiner.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, pair.Current.Equal(serviceSeed))

	// The genesis-only path answers with the full adopted pair, readable
	// on the bootstrap side.
	response, err := joiner.sink.Get(ctx, ExportSeedResponse)
	require.NoError(t, err)
	cts, err := seedexchange.SplitBlob(response)
	require.NoError(t, err)
	require.Len(t, cts, 2)

	joinerKP, err := joiner.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	echoed, err := seedexchange.DecryptSeed(ctx, bootstrap.vault, joinerKP.Public(), cts[0])
	require.NoError(t, err)
	require.True(t, echoed.Equal(pair.Genesis))
	echoedCurrent, err := seedexchange.DecryptSeed(ctx, bootstrap.vault, joinerKP.Public(), cts[1])
	require.NoError(t, err)
	require.True(t, echoedCurrent.Equal(serviceSeed))
}

func TestInitNodeReusesLocalCurrentSeed(t *testing.T) {
	ctx := context.Background()
	bootstrap := newTestNode(t, "bootstrap")
	joiner := newTestNode(t, "joiner")

	_, err := bootstrap.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)
	joinerPub, err := joiner.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	// First initialization adopts the full seed pair.
	blob, err := seedexchange.EncryptSeed(ctx, bootstrap.vault, joinerPub, seedexchange.SelectGenesisAndCurrent, false)
	require.NoError(t, err)
	bootstrapKP, err := bootstrap.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	require.NoError(t, joiner.orchestrator.InitNode(ctx, bootstrapKP.Public().Bytes(), blob, nil))

	localPair, err := joiner.vault.ConsensusSeed(ctx)
	require.NoError(t, err)

	// Re-initialization with a genesis-only blob keeps the local current
	// seed; the configured seed service is never consulted.
	var serviceSeed interfaces.Seed
	serviceSeed[0] = 0x99
	service := &stubSeedService{seed: serviceSeed}
	joiner.orchestrator.cfg.SeedService = service

	genesisOnly, err := seedexchange.EncryptSeed(ctx, bootstrap.vault, joinerPub, seedexchange.SelectGenesis, false)
	require.NoError(t, err)
	padded := make([]byte, seedexchange.InputBlobSize)
	copy(padded, genesisOnly)
	require.NoError(t, joiner.orchestrator.InitNode(ctx, bootstrapKP.Public().Bytes(), padded, nil))

	after, err := joiner.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, after.Current.Equal(localPair.Current))
	require.Zero(t, service.calls)
}

func TestInitNodeGenesisOnlyWithoutService(t *testing.T) {
	ctx := context.Background()
	bootstrap := newTestNode(t, "bootstrap")
	joiner := newTestNode(t, "joiner")

	_, err := bootstrap.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)
	joinerPub, err := joiner.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	blob, err := seedexchange.EncryptSeed(ctx, bootstrap.vault, joinerPub, seedexchange.SelectGenesis, false)
	require.NoError(t, err)
	padded := make([]byte, seedexchange.InputBlobSize)
	copy(padded, blob)

	bootstrapKP, err := bootstrap.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	err = joiner.orchestrator.InitNode(ctx, bootstrapKP.Public().Bytes(), padded, nil)
	require.True(t, errors.Is(err, interfaces.ErrSeedMissing))
}

func TestInitNodeRejectsBadInputs(t *testing.T) {
	ctx := context.Background()
	joiner := newTestNode(t, "joiner")
	_, err := joiner.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	goodPub := make([]byte, interfaces.PublicKeySize)
	goodPub[0] = 0x01

	// Wrong buffer size fails before any cryptography.
	err = joiner.orchestrator.InitNode(ctx, goodPub, make([]byte, 60), nil)
	require.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	// Right size, bad discriminator.
	err = joiner.orchestrator.InitNode(ctx, goodPub, make([]byte, seedexchange.InputBlobSize), nil)
	require.True(t, errors.Is(err, interfaces.ErrBadLength))

	// Mis-sized public key.
	blob := make([]byte, seedexchange.InputBlobSize)
	blob[0] = seedexchange.SingleEncryptedSeedSize
	err = joiner.orchestrator.InitNode(ctx, []byte{0x01, 0x02}, blob, nil)
	require.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	// All-zero public key.
	err = joiner.orchestrator.InitNode(ctx, make([]byte, interfaces.PublicKeySize), blob, nil)
	require.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestGenesisSeedExport(t *testing.T) {
	ctx := context.Background()
	bootstrap := newTestNode(t, "bootstrap")
	requester := newTestNode(t, "requester")

	_, err := bootstrap.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)
	requesterPub, err := requester.orchestrator.KeyGen(ctx)
	require.NoError(t, err)

	blob, err := bootstrap.orchestrator.GenesisSeed(ctx, requesterPub.Bytes())
	require.NoError(t, err)

	// Genesis only, never the current seed.
	require.Equal(t, byte(seedexchange.SingleEncryptedSeedSize), blob[0])

	cts, err := seedexchange.SplitBlob(blob)
	require.NoError(t, err)
	bootstrapKP, err := bootstrap.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	genesis, err := seedexchange.DecryptSeed(ctx, requester.vault, bootstrapKP.Public(), cts[0])
	require.NoError(t, err)

	pair, err := bootstrap.vault.ConsensusSeed(ctx)
	require.NoError(t, err)
	require.True(t, genesis.Equal(pair.Genesis))
}

func TestAttestationReport(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "bootstrap")

	_, err := node.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, node.orchestrator.AttestationReport(ctx, []byte("api-key"), 0))

	raw, err := node.sink.Get(ctx, ExportCombined)
	require.NoError(t, err)
	artifact, err := attestation.ParseArtifact(raw)
	require.NoError(t, err)
	require.NotEmpty(t, artifact.EPIDCert)
	require.NotEmpty(t, artifact.Quote)

	// Side artifacts accompany a standard report.
	_, err = node.sink.Get(ctx, ExportEPIDCert)
	require.NoError(t, err)
	_, err = node.sink.Get(ctx, ExportDCAPQuote)
	require.NoError(t, err)

	// The artifact binds the registration public key.
	kp, err := node.vault.RegistrationKey(ctx)
	require.NoError(t, err)
	report, err := attestation.ReportFromCertificate(artifact.EPIDCert)
	require.NoError(t, err)
	body, err := attestation.ParseSimulatedEvidence(report)
	require.NoError(t, err)
	require.Equal(t, kp.Public().Bytes(), body.ReportData[:32])
}

func TestAttestationReportMigrationMode(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "bootstrap")

	_, err := node.orchestrator.InitBootstrap(ctx, nil)
	require.NoError(t, err)

	// Clear the pubkey export so we can tell whether migration rewrites it.
	_, err = node.sink.Delete(ctx, ExportPubkey)
	require.NoError(t, err)

	migrationFlags := interfaces.ReportFlags{Migration: true}
	require.NoError(t, node.orchestrator.AttestationReport(ctx, nil, migrationFlags.Raw()))

	// Only the migration path is written.
	raw, err := node.sink.Get(ctx, ExportCombinedMigration)
	require.NoError(t, err)
	_, err = node.sink.Get(ctx, ExportPubkey)
	require.True(t, errors.Is(err, interfaces.ErrRecordNotFound))

	// The artifact binds the deterministic migration key, not the
	// registration key.
	artifact, err := attestation.ParseArtifact(raw)
	require.NoError(t, err)
	report, err := attestation.ReportFromCertificate(artifact.EPIDCert)
	require.NoError(t, err)
	body, err := attestation.ParseSimulatedEvidence(report)
	require.NoError(t, err)

	migrationKP, err := keyvault.MigrationKeyPair(node.orchestrator.cfg.Keys)
	require.NoError(t, err)
	require.Equal(t, migrationKP.Public().Bytes(), body.ReportData[:32])
}

func TestAttestationReportRejectsAllSkipped(t *testing.T) {
	node := newTestNode(t, "bootstrap")

	bothSkipped := interfaces.ReportFlags{SkipEPID: true, SkipDCAP: true}
	err := node.orchestrator.AttestationReport(context.Background(), nil, bothSkipped.Raw())
	require.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestMigrateSealedStorageIdempotent(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t, "bootstrap")

	// Seed the store with legacy-format records.
	require.NoError(t, node.store.SealLegacy(ctx, keyvault.RecordRegistrationKey, []byte("key material")))
	require.NoError(t, node.store.SealLegacy(ctx, recordREK, []byte("rek material")))

	require.NoError(t, node.orchestrator.MigrateSealedStorage(ctx))

	got, err := node.store.Unseal(ctx, keyvault.RecordRegistrationKey)
	require.NoError(t, err)
	require.Equal(t, []byte("key material"), got)

	// A second run performs no rewrites and succeeds.
	require.NoError(t, node.orchestrator.MigrateSealedStorage(ctx))
	got, err = node.store.Unseal(ctx, recordREK)
	require.NoError(t, err)
	require.Equal(t, []byte("rek material"), got)
}
