// Package registration orchestrates the node's trust-bootstrapping entry
// points: bootstrap and node initialization, standalone key generation,
// genesis seed export, attestation-report production and sealed-storage
// migration. It is the only package that crosses from raw host inputs to
// typed values and from typed results to untrusted-sink exports.
package registration

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-enclave-bootstrap/attestation"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
	"github.com/ruteri/tee-enclave-bootstrap/seedexchange"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Vault *keyvault.Vault
	Store interfaces.SealedStore
	Keys  sealing.KeyProvider
	EPID  *attestation.EPIDAttestor
	DCAP  *attestation.DCAPAttestor

	// Sink receives exported artifacts outside the trust boundary.
	Sink interfaces.Backend

	// SeedService is the optional remote seed issuer. Required for joining
	// nodes whose peer supplied only a genesis seed and that hold no
	// current seed from a previous initialization.
	SeedService interfaces.SeedService

	// SeedServiceOnBootstrap upgrades the freshly generated bootstrap seed
	// with one issued by the seed service.
	SeedServiceOnBootstrap bool

	NodeIndex   uint32
	SeedVersion uint32

	Log *slog.Logger
}

// Orchestrator implements the host-facing entry points. Callers serialize
// invocations; no two registration calls may overlap.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// NewOrchestrator creates an orchestrator from the given configuration.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: cfg.Log}
}

// InitBootstrap establishes the very first node of a chain: fresh
// registration key, fresh genesis seed, derived master keys, exported
// public material. Returns the derived master seed-exchange public key,
// published alongside the exported key set so the network can verify
// which key set this chain derives from. Fails if a consensus seed
// already exists.
func (o *Orchestrator) InitBootstrap(ctx context.Context, apiKey []byte) (interfaces.PublicKey, error) {
	kp, err := o.cfg.Vault.CreateRegistrationKey(ctx)
	if err != nil {
		return interfaces.PublicKey{}, fmt.Errorf("creating registration key: %w", err)
	}

	if err := o.cfg.Vault.CreateConsensusSeed(ctx); err != nil {
		return interfaces.PublicKey{}, fmt.Errorf("creating consensus seed: %w", err)
	}

	if o.cfg.SeedServiceOnBootstrap && o.cfg.SeedService != nil {
		if err := o.upgradeBootstrapSeed(ctx, kp.Public(), apiKey); err != nil {
			return interfaces.PublicKey{}, err
		}
	}

	if err := o.cfg.Vault.GenerateConsensusMasterKeys(ctx); err != nil {
		return interfaces.PublicKey{}, fmt.Errorf("deriving master keys: %w", err)
	}
	master, err := o.cfg.Vault.MasterKeys(ctx)
	if err != nil {
		return interfaces.PublicKey{}, err
	}

	o.exportMasterPubkeys(ctx, master)
	o.exportPubkey(ctx, kp.Public())

	o.log.Info("Bootstrap initialization complete",
		slog.String("seed_exchange_pubkey", master.SeedExchange.Public().String()))
	return master.SeedExchange.Public(), nil
}

// upgradeBootstrapSeed replaces the locally generated current seed with
// one issued by the seed service, keeping the local genesis.
func (o *Orchestrator) upgradeBootstrapSeed(ctx context.Context, pubkey interfaces.PublicKey, apiKey []byte) error {
	genesis, err := o.cfg.Vault.GenesisSeed(ctx)
	if err != nil {
		return err
	}
	next, err := o.cfg.SeedService.NextSeed(ctx, interfaces.NextSeedRequest{
		PublicKey:   pubkey,
		NodeIndex:   o.cfg.NodeIndex,
		Genesis:     genesis,
		APIKey:      apiKey,
		SeedVersion: o.cfg.SeedVersion,
	})
	if err != nil {
		return fmt.Errorf("seed service bootstrap upgrade: %w", err)
	}
	if err := o.cfg.Vault.SetConsensusSeed(ctx, genesis, next); err != nil {
		return fmt.Errorf("installing service seed: %w", err)
	}
	return nil
}

// InitNode joins an existing chain. The peer's encrypted-seed blob carries
// the genesis seed and, optionally, the current seed; a missing current
// seed is reused from a previous local initialization or, failing that,
// fetched from the seed service. On the genesis-only path the adopted
// seed pair is re-encrypted and exported for the initiating side. Master
// keys are derived last.
func (o *Orchestrator) InitNode(ctx context.Context, rawPeerPub, rawBlob, apiKey []byte) error {
	peer, err := validatePeerPublicKey(rawPeerPub)
	if err != nil {
		return err
	}
	cts, err := validateSeedBlob(rawBlob)
	if err != nil {
		return err
	}

	if err := o.cfg.Vault.ResealRegistrationKey(ctx); err != nil {
		return fmt.Errorf("resealing registration key: %w", err)
	}
	kp, err := o.cfg.Vault.RegistrationKey(ctx)
	if err != nil {
		return fmt.Errorf("loading registration key: %w", err)
	}

	// A previous initialization may have left a current seed behind; it
	// takes precedence over the seed service, so keep it before wiping the
	// stale records.
	priorCurrent, priorErr := o.cfg.Vault.CurrentSeed(ctx)
	if o.cfg.Vault.DeleteConsensusSeed(ctx) {
		o.log.Info("Deleted stale consensus seed before adoption")
	}

	genesis, err := seedexchange.DecryptSeed(ctx, o.cfg.Vault, peer, cts[0])
	if err != nil {
		return fmt.Errorf("decrypting genesis seed: %w", err)
	}

	var current interfaces.Seed
	switch {
	case len(cts) == 2:
		current, err = seedexchange.DecryptSeed(ctx, o.cfg.Vault, peer, cts[1])
		if err != nil {
			return fmt.Errorf("decrypting current seed: %w", err)
		}
	case priorErr == nil:
		current = priorCurrent
	case o.cfg.SeedService != nil:
		current, err = o.cfg.SeedService.NextSeed(ctx, interfaces.NextSeedRequest{
			PublicKey:   kp.Public(),
			NodeIndex:   o.cfg.NodeIndex,
			Genesis:     genesis,
			APIKey:      apiKey,
			SeedVersion: o.cfg.SeedVersion,
		})
		if err != nil {
			return fmt.Errorf("fetching current seed: %w", err)
		}
	default:
		return fmt.Errorf("%w: peer supplied genesis only and no seed service is configured", interfaces.ErrSeedMissing)
	}

	if err := o.cfg.Vault.AdoptConsensusSeed(ctx, interfaces.ConsensusSeedPair{Genesis: genesis, Current: current}); err != nil {
		return fmt.Errorf("adopting consensus seed: %w", err)
	}

	// When the peer did not supply the current seed, the full adopted pair
	// is sent back so the initiating side learns it. A primary artifact;
	// failing to export it fails the whole call.
	if len(cts) != 2 {
		response, err := seedexchange.EncryptSeed(ctx, o.cfg.Vault, peer, seedexchange.SelectGenesisAndCurrent, false)
		if err != nil {
			return fmt.Errorf("encrypting seed response: %w", err)
		}
		if err := o.cfg.Sink.Put(ctx, ExportSeedResponse, response); err != nil {
			return fmt.Errorf("exporting seed response: %w", err)
		}
	}

	if err := o.cfg.Vault.GenerateConsensusMasterKeys(ctx); err != nil {
		return fmt.Errorf("deriving master keys: %w", err)
	}
	master, err := o.cfg.Vault.MasterKeys(ctx)
	if err != nil {
		return err
	}
	o.exportMasterPubkeys(ctx, master)

	o.log.Info("Node initialization complete")
	return nil
}

// KeyGen creates a fresh registration key without touching the consensus
// seed. Used to publish an identity before requesting a seed.
func (o *Orchestrator) KeyGen(ctx context.Context) (interfaces.PublicKey, error) {
	kp, err := o.cfg.Vault.CreateRegistrationKey(ctx)
	if err != nil {
		return interfaces.PublicKey{}, err
	}

	o.exportPubkey(ctx, kp.Public())
	return kp.Public(), nil
}

// GenesisSeed encrypts the genesis seed for the requester and returns the
// wire blob. The current seed is never included on this path.
func (o *Orchestrator) GenesisSeed(ctx context.Context, rawRequesterPub []byte) ([]byte, error) {
	requester, err := validatePeerPublicKey(rawRequesterPub)
	if err != nil {
		return nil, err
	}
	return seedexchange.EncryptSeed(ctx, o.cfg.Vault, requester, seedexchange.SelectGenesis, false)
}

// AttestationReport produces the combined attestation artifact for the
// key selected by the flags and exports it. Standard reports also export
// the per-scheme side artifacts and the attested public key; migration
// reports touch only the migration artifact path.
func (o *Orchestrator) AttestationReport(ctx context.Context, apiKey []byte, rawFlags uint32) error {
	flags, err := validateReportFlags(rawFlags)
	if err != nil {
		return err
	}

	pubkey, err := o.reportKey(ctx, flags)
	if err != nil {
		return err
	}

	var epid, dcap attestation.SchemeResult
	if !flags.SkipEPID {
		epid.EPIDCert, epid.Err = o.cfg.EPID.BuildReport(pubkey, apiKey)
		if epid.Err != nil {
			o.log.Warn("EPID attestation failed", "err", epid.Err)
		}
	}
	if !flags.SkipDCAP {
		dcap.Quote, dcap.Collateral, dcap.Err = o.cfg.DCAP.BuildReport(ctx, pubkey)
		if dcap.Err != nil {
			o.log.Warn("DCAP attestation failed", "err", dcap.Err)
		}
	}

	artifact, err := attestation.Combine(epid, dcap)
	if err != nil {
		return err
	}

	dest := ExportCombined
	if flags.Migration {
		dest = ExportCombinedMigration
	}
	if err := o.cfg.Sink.Put(ctx, dest, artifact.Encode()); err != nil {
		return fmt.Errorf("exporting combined artifact: %w", err)
	}

	if !flags.Migration {
		o.exportSideArtifacts(ctx, artifact)
		o.exportPubkey(ctx, pubkey)
	}

	o.log.Info("Attestation report complete",
		slog.String("artifact", dest),
		slog.Bool("migration", flags.Migration),
		slog.Int("epid_bytes", len(artifact.EPIDCert)),
		slog.Int("quote_bytes", len(artifact.Quote)))
	return nil
}

// reportKey selects the public key the report binds: the deterministic
// migration key for migration-mode reports, the persistent registration
// key otherwise.
func (o *Orchestrator) reportKey(ctx context.Context, flags interfaces.ReportFlags) (interfaces.PublicKey, error) {
	if flags.Migration {
		kp, err := keyvault.MigrationKeyPair(o.cfg.Keys)
		if err != nil {
			return interfaces.PublicKey{}, fmt.Errorf("deriving migration key: %w", err)
		}
		return kp.Public(), nil
	}

	kp, err := o.cfg.Vault.RegistrationKey(ctx)
	if err != nil {
		return interfaces.PublicKey{}, fmt.Errorf("loading registration key: %w", err)
	}
	return kp.Public(), nil
}

// MigrateSealedStorage rewrites every known sealed record from the legacy
// format to the current one. Absent records are skipped; the first genuine
// failure aborts the run, leaving later records untouched. Re-invocation
// is safe and a fully migrated store is a no-op.
func (o *Orchestrator) MigrateSealedStorage(ctx context.Context) error {
	for _, name := range migrationRecords {
		if err := o.cfg.Store.Migrate(ctx, name); err != nil {
			return fmt.Errorf("migrating %s: %w", name, err)
		}
	}
	o.log.Info("Sealed storage migration complete", slog.Int("records", len(migrationRecords)))
	return nil
}

// exportPubkey writes the hex-encoded public key to the sink. Best effort;
// failure is logged, never fatal.
func (o *Orchestrator) exportPubkey(ctx context.Context, pubkey interfaces.PublicKey) {
	data := []byte(hex.EncodeToString(pubkey.Bytes()))
	if err := o.cfg.Sink.Put(ctx, ExportPubkey, data); err != nil {
		o.log.Warn("Failed to export public key", "err", err)
	}
}

// exportMasterPubkeys writes the master public key set as JSON. Best
// effort; failure is logged, never fatal.
func (o *Orchestrator) exportMasterPubkeys(ctx context.Context, master *keyvault.MasterKeys) {
	data, err := master.PublicKeys().MarshalJSON()
	if err != nil {
		o.log.Warn("Failed to encode master public keys", "err", err)
		return
	}
	if err := o.cfg.Sink.Put(ctx, ExportMasterPubkeys, data); err != nil {
		o.log.Warn("Failed to export master public keys", "err", err)
	}
}

// exportSideArtifacts writes the per-scheme evidence files next to the
// combined artifact. Best effort; empty sections are not written.
func (o *Orchestrator) exportSideArtifacts(ctx context.Context, artifact attestation.Artifact) {
	sides := []struct {
		name string
		data []byte
	}{
		{ExportEPIDCert, artifact.EPIDCert},
		{ExportDCAPQuote, artifact.Quote},
		{ExportDCAPCollateral, artifact.Collateral},
	}
	for _, side := range sides {
		if len(side.data) == 0 {
			continue
		}
		if err := o.cfg.Sink.Put(ctx, side.name, side.data); err != nil {
			o.log.Warn("Failed to export side artifact", slog.String("name", side.name), "err", err)
		}
	}
}

// IsSeedEstablished reports whether this node already holds a consensus
// seed. Used by the server's readiness probe.
func (o *Orchestrator) IsSeedEstablished(ctx context.Context) bool {
	_, err := o.cfg.Vault.ConsensusSeed(ctx)
	return err == nil
}
