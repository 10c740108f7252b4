// Package flags holds the CLI flags shared by the enclave binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-enclave-bootstrap/common"
	"github.com/ruteri/tee-enclave-bootstrap/httpserver"
)

// SetupLogger builds the process logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		Log:                      logger,
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the host-facing API",
}

var SealedStoreURIFlag = &cli.StringFlag{
	Name:  "sealed-store-uri",
	Value: "file:///var/lib/enclave/sealed",
	Usage: "storage location URI for sealed records (file://, s3://, ipfs://, vault://, memory://)",
}

var SinkURIFlag = &cli.StringFlag{
	Name:  "sink-uri",
	Value: "file:///var/lib/enclave/export",
	Usage: "storage location URI for exported artifacts",
}

var SealingRootFlag = &cli.StringFlag{
	Name:  "sealing-root",
	Usage: "hex-encoded root entropy for the simulated sealing key provider (at least 32 hex chars)",
}

var MeasurementFlag = &cli.StringFlag{
	Name:  "measurement",
	Usage: "hex-encoded simulated enclave measurement",
}

var SignerFlag = &cli.StringFlag{
	Name:  "signer",
	Usage: "hex-encoded simulated enclave signer",
}

var SimulationFlag = &cli.BoolFlag{
	Name:  "simulation",
	Value: false,
	Usage: "use simulated attestation providers instead of hardware quoting",
}

var EPIDServiceFlag = &cli.StringFlag{
	Name:  "epid-service",
	Usage: "base URL of the remote EPID report service; empty disables EPID in hardware mode",
}

var CollateralServiceFlag = &cli.StringFlag{
	Name:  "collateral-service",
	Usage: "base URL of the quote collateral service; empty disables collateral fetching",
}

var SeedServiceFlag = &cli.StringFlag{
	Name:  "seed-service",
	Usage: "base URL of the remote seed service; empty disables it",
}

var SeedServicePubkeyFlag = &cli.StringFlag{
	Name:  "seed-service-pubkey",
	Usage: "hex-encoded seed-exchange public key of the seed service",
}

var SeedServiceOnBootstrapFlag = &cli.BoolFlag{
	Name:  "seed-service-on-bootstrap",
	Value: false,
	Usage: "upgrade the freshly generated bootstrap seed with one issued by the seed service",
}

var NodeIndexFlag = &cli.UintFlag{
	Name:  "node-index",
	Value: 0,
	Usage: "index of this node, 0 for the bootstrap node",
}

var SeedVersionFlag = &cli.UintFlag{
	Name:  "seed-version",
	Value: 1,
	Usage: "consensus seed protocol version",
}

var APIKeyFlag = &cli.StringFlag{
	Name:  "api-key",
	Usage: "credential for the attestation signing infrastructure",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "enclave-bootstrap",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by every binary.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
}

// EnclaveFlags configure the trust-bootstrapping core itself.
var EnclaveFlags = []cli.Flag{
	SealedStoreURIFlag,
	SinkURIFlag,
	SealingRootFlag,
	MeasurementFlag,
	SignerFlag,
	SimulationFlag,
	EPIDServiceFlag,
	CollateralServiceFlag,
	SeedServiceFlag,
	SeedServicePubkeyFlag,
	SeedServiceOnBootstrapFlag,
	NodeIndexFlag,
	SeedVersionFlag,
}
