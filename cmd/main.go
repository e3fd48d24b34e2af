package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	verifier "github.com/opi-lc/opi-verifier"
	"github.com/opi-lc/opi-verifier/exitcodes"
	"github.com/opi-lc/opi-verifier/flags"
	"github.com/opi-lc/opi-verifier/types"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "opi-verifier"
	app.Usage = "OPI-LC BRC-20 API deployment verifier"
	app.Description = "opi-verifier starts the BRC-20 API service and checks that it is ready for deployment"
	app.Commands = []*cli.Command{
		{
			Name:   "test",
			Usage:  "Run the granular pre-deployment test suite",
			Flags:  cliapp.ProtectFlags(flags.Flags),
			Action: cliapp.LifecycleCmd(run(types.ModeTest)),
		},
		{
			Name:   "verify",
			Usage:  "Run the three phase deployment verification",
			Flags:  cliapp.ProtectFlags(flags.Flags),
			Action: cliapp.LifecycleCmd(run(types.ModeVerify)),
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
	}

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCode maps a run error to the process exit code. Setup problems,
// failed checks and interruptions all exit with the same failure code.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	return exitcodes.Failure
}

func run(mode types.Mode) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		logCfg := oplog.ReadCLIConfig(ctx)
		log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
		oplog.SetGlobalLogHandler(log.Handler())
		oplog.SetupDefaults()

		cfg, err := verifier.NewConfig(ctx, log, mode)
		if err != nil {
			return nil, verifier.NewSetupError(fmt.Errorf("failed to create config: %w", err))
		}
		cfg.Log.Debug("Config", "mode", cfg.Mode, "serviceDir", cfg.Run.Service.Dir, "api", cfg.Run.API.BaseURL)

		v, err := verifier.New(ctx.Context, cfg, Version, closeApp)
		if err != nil {
			return nil, verifier.NewSetupError(fmt.Errorf("failed to create verifier: %w", err))
		}
		return v, nil
	}
}
