package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-enclave-bootstrap/cmd/enclavecommon"
	"github.com/ruteri/tee-enclave-bootstrap/cmd/flags"
	"github.com/ruteri/tee-enclave-bootstrap/httpserver"
)

var serverFlags = append(append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}, flags.EnclaveFlags...), flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "enclaved",
		Usage: "Serve the enclave trust-bootstrapping API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			orchestrator, err := enclavecommon.BuildOrchestrator(cCtx, logger)
			if err != nil {
				logger.Error("Failed to build orchestrator", "err", err)
				return err
			}

			handler := httpserver.NewHandler(orchestrator, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
