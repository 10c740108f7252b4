package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-enclave-bootstrap/cmd/enclavecommon"
	"github.com/ruteri/tee-enclave-bootstrap/cmd/flags"
)

var peerPubkeyFlag = &cli.StringFlag{
	Name:     "peer-pubkey",
	Required: true,
	Usage:    "hex-encoded public key of the peer enclave",
}

var seedBlobFlag = &cli.StringFlag{
	Name:     "seed-blob",
	Required: true,
	Usage:    "hex-encoded encrypted-seed blob received from the peer",
}

var requesterPubkeyFlag = &cli.StringFlag{
	Name:     "requester-pubkey",
	Required: true,
	Usage:    "hex-encoded public key of the requesting node",
}

var reportFlagsFlag = &cli.UintFlag{
	Name:  "flags",
	Value: 0,
	Usage: "packed report flags: bit0 skip EPID, bit1 skip DCAP, bit4 migration",
}

func main() {
	commonFlags := append(append([]cli.Flag{}, flags.EnclaveFlags...), flags.CommonFlags...)

	app := &cli.App{
		Name:  "regtool",
		Usage: "Run a single registration entry point and exit",
		Commands: []*cli.Command{
			{
				Name:  "bootstrap-init",
				Usage: "establish the first node of a chain",
				Flags: append([]cli.Flag{flags.APIKeyFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					pubkey, err := orchestrator.InitBootstrap(cCtx.Context, []byte(cCtx.String(flags.APIKeyFlag.Name)))
					if err != nil {
						return err
					}
					fmt.Println(pubkey.String())
					return nil
				},
			},
			{
				Name:  "node-init",
				Usage: "join an existing chain from a peer's encrypted-seed blob",
				Flags: append([]cli.Flag{peerPubkeyFlag, seedBlobFlag, flags.APIKeyFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					peerPub, err := hex.DecodeString(cCtx.String(peerPubkeyFlag.Name))
					if err != nil {
						return fmt.Errorf("peer pubkey: %w", err)
					}
					blob, err := hex.DecodeString(cCtx.String(seedBlobFlag.Name))
					if err != nil {
						return fmt.Errorf("seed blob: %w", err)
					}
					return orchestrator.InitNode(cCtx.Context, peerPub, blob, []byte(cCtx.String(flags.APIKeyFlag.Name)))
				},
			},
			{
				Name:  "key-gen",
				Usage: "create a fresh registration key and print its public half",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					pubkey, err := orchestrator.KeyGen(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(pubkey.String())
					return nil
				},
			},
			{
				Name:  "genesis-seed",
				Usage: "encrypt the genesis seed for a requester and print the blob",
				Flags: append([]cli.Flag{requesterPubkeyFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					requesterPub, err := hex.DecodeString(cCtx.String(requesterPubkeyFlag.Name))
					if err != nil {
						return fmt.Errorf("requester pubkey: %w", err)
					}
					blob, err := orchestrator.GenesisSeed(cCtx.Context, requesterPub)
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(blob))
					return nil
				},
			},
			{
				Name:  "attestation-report",
				Usage: "produce and export the combined attestation artifact",
				Flags: append([]cli.Flag{flags.APIKeyFlag, reportFlagsFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					return orchestrator.AttestationReport(cCtx.Context,
						[]byte(cCtx.String(flags.APIKeyFlag.Name)), uint32(cCtx.Uint(reportFlagsFlag.Name)))
				},
			},
			{
				Name:  "migrate-sealed-storage",
				Usage: "rewrite legacy sealed records to the current format",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
					if err != nil {
						return err
					}
					return orchestrator.MigrateSealedStorage(cCtx.Context)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
