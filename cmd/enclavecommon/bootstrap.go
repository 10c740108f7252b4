// Package enclavecommon wires the trust-bootstrapping core from CLI flags.
// Shared by the server and one-shot binaries.
package enclavecommon

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-enclave-bootstrap/attestation"
	"github.com/ruteri/tee-enclave-bootstrap/cmd/flags"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
	"github.com/ruteri/tee-enclave-bootstrap/registration"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
	"github.com/ruteri/tee-enclave-bootstrap/seedservice"
	"github.com/ruteri/tee-enclave-bootstrap/storage"
)

// BuildOrchestrator assembles the storage backends, sealing provider,
// vault, attestors and seed-service client from flags and returns the
// registration orchestrator.
func BuildOrchestrator(cCtx *cli.Context, log *slog.Logger) (*registration.Orchestrator, error) {
	factory := storage.NewFactory(log)

	storeBackend, err := factory.BackendFor(cCtx.String(flags.SealedStoreURIFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("sealed store backend: %w", err)
	}
	sink, err := factory.BackendFor(cCtx.String(flags.SinkURIFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("sink backend: %w", err)
	}

	keys, err := buildKeyProvider(cCtx)
	if err != nil {
		return nil, err
	}

	store := sealing.NewStore(storeBackend, keys, log)
	vault := keyvault.NewVault(store, log)

	epid, dcap, err := buildAttestors(cCtx, log)
	if err != nil {
		return nil, err
	}

	cfg := registration.Config{
		Vault:                  vault,
		Store:                  store,
		Keys:                   keys,
		EPID:                   epid,
		DCAP:                   dcap,
		Sink:                   sink,
		SeedServiceOnBootstrap: cCtx.Bool(flags.SeedServiceOnBootstrapFlag.Name),
		NodeIndex:              uint32(cCtx.Uint(flags.NodeIndexFlag.Name)),
		SeedVersion:            uint32(cCtx.Uint(flags.SeedVersionFlag.Name)),
		Log:                    log,
	}

	if addr := cCtx.String(flags.SeedServiceFlag.Name); addr != "" {
		servicePubkey, err := interfaces.NewPublicKeyFromHex(cCtx.String(flags.SeedServicePubkeyFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("seed service pubkey: %w", err)
		}
		cfg.SeedService = &seedservice.Client{
			Address:       addr,
			ServicePubkey: servicePubkey,
			Vault:         vault,
			Log:           log,
		}
	}

	return registration.NewOrchestrator(cfg), nil
}

func buildKeyProvider(cCtx *cli.Context) (sealing.KeyProvider, error) {
	root, err := hex.DecodeString(cCtx.String(flags.SealingRootFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("sealing root: %w", err)
	}
	measurement, err := hex.DecodeString(cCtx.String(flags.MeasurementFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("measurement: %w", err)
	}
	signer, err := hex.DecodeString(cCtx.String(flags.SignerFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return sealing.NewSimulatedKeyProvider(root, measurement, signer)
}

func buildAttestors(cCtx *cli.Context, log *slog.Logger) (*attestation.EPIDAttestor, *attestation.DCAPAttestor, error) {
	if cCtx.Bool(flags.SimulationFlag.Name) {
		sim, err := buildSimulatedProvider(cCtx)
		if err != nil {
			return nil, nil, err
		}
		return attestation.NewEPIDAttestor(sim, log), attestation.NewDCAPAttestor(sim, sim, log), nil
	}

	var reports attestation.ReportProvider = attestation.UnavailableReportProvider{}
	if addr := cCtx.String(flags.EPIDServiceFlag.Name); addr != "" {
		reports = &attestation.RemoteReportProvider{Address: addr}
	}

	var collateral attestation.CollateralFetcher
	if addr := cCtx.String(flags.CollateralServiceFlag.Name); addr != "" {
		collateral = &attestation.RemoteCollateralFetcher{Address: addr}
	}

	return attestation.NewEPIDAttestor(reports, log),
		attestation.NewDCAPAttestor(attestation.HardwareQuoteProvider{}, collateral, log), nil
}

func buildSimulatedProvider(cCtx *cli.Context) (*attestation.SimulatedProvider, error) {
	root, err := hex.DecodeString(cCtx.String(flags.SealingRootFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("sealing root: %w", err)
	}
	measurement, err := hex.DecodeString(cCtx.String(flags.MeasurementFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("measurement: %w", err)
	}
	signer, err := hex.DecodeString(cCtx.String(flags.SignerFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	sim := &attestation.SimulatedProvider{ISVSVN: 1, Secret: root}
	copy(sim.Measurement[:], measurement)
	copy(sim.Signer[:], signer)
	return sim, nil
}
