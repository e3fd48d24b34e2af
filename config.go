package verifier

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/opi-lc/opi-verifier/config"
	"github.com/opi-lc/opi-verifier/flags"
	"github.com/opi-lc/opi-verifier/types"
)

// Config holds the application configuration
type Config struct {
	Mode          types.Mode
	Run           *config.Config
	Expectations  config.Expectations
	MetricsConfig opmetrics.CLIConfig
	Verbose       bool      // Print a line per check. Always on in test mode.
	Color         bool      // Colored results table
	Out           io.Writer // Receives the progress lines and the report
	Log           log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, mode types.Mode) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if mode != types.ModeTest && mode != types.ModeVerify {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	serviceDir := ctx.String(flags.ServiceDir.Name)
	if serviceDir == "" {
		return nil, errors.New("service directory is required")
	}

	run, err := config.Resolve(config.EnvFromOS(), config.Options{
		ServiceDir:     serviceDir,
		ServiceCommand: ctx.String(flags.ServiceCommand.Name),
		ServiceArgs:    ctx.StringSlice(flags.ServiceArgs.Name),
		ReadyMarkers:   ctx.StringSlice(flags.ReadyMarkers.Name),
		SecretsFile:    ctx.String(flags.SecretsFile.Name),
		APIPathPrefix:  ctx.String(flags.APIPathPrefix.Name),
		TablePrefix:    ctx.String(flags.TablePrefix.Name),
		LoadRequests:   ctx.Int(flags.LoadRequests.Name),
		Timeouts:       flags.Timeouts(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}

	exp, err := config.LoadExpectations(ctx.String(flags.Expectations.Name))
	if err != nil {
		return nil, err
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics configuration: %w", err)
	}

	return &Config{
		Mode:          mode,
		Run:           run,
		Expectations:  exp,
		MetricsConfig: metricsCfg,
		Verbose:       mode == types.ModeTest || ctx.Bool(flags.Verbose.Name),
		Color:         ctx.Bool(flags.Color.Name),
		Out:           os.Stdout,
		Log:           log,
	}, nil
}
