package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/opi-lc/opi-verifier/config"
)

const EnvVarPrefix = "OPI_VERIFIER"

var (
	ServiceDir = &cli.StringFlag{
		Name:     "service-dir",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_DIR"),
		Usage:    "Directory of the API service under test (holds api.js, package.json and .env)",
	}
	ServiceCommand = &cli.StringFlag{
		Name:    "service-command",
		Value:   "node",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_COMMAND"),
		Usage:   "Command that starts the API service",
	}
	ServiceArgs = &cli.StringSliceFlag{
		Name:    "service-args",
		Value:   cli.NewStringSlice("api.js"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_ARGS"),
		Usage:   "Arguments passed to the service command",
	}
	ReadyMarkers = &cli.StringSliceFlag{
		Name:    "ready-marker",
		Value:   cli.NewStringSlice("listening", "started"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "READY_MARKER"),
		Usage:   "Output substring that signals the service is ready. Repeat for alternatives.",
	}
	SecretsFile = &cli.StringFlag{
		Name:    "secrets-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SECRETS_FILE"),
		Usage:   "Dotenv secrets file. Defaults to SECRETS_FILE or <service-dir>/.env",
	}
	Expectations = &cli.StringFlag{
		Name:    "expectations",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXPECTATIONS"),
		Usage:   "YAML file overriding the expected production settings (eg. 'expectations.yaml')",
	}
	APIPathPrefix = &cli.StringFlag{
		Name:    "api-prefix",
		Value:   config.DefaultAPIPrefix,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "API_PREFIX"),
		Usage:   "Path prefix of the API endpoints",
	}
	TablePrefix = &cli.StringFlag{
		Name:    "table-prefix",
		Value:   config.DefaultTablePrefix,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TABLE_PREFIX"),
		Usage:   "Prefix of the indexer tables",
	}
	LoadRequests = &cli.IntFlag{
		Name:    "load-requests",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOAD_REQUESTS"),
		Usage:   "Concurrent requests issued by the load check. 0 uses the default of the command (10 for verify, 5 for test).",
	}
	StartupTimeout = &cli.DurationFlag{
		Name:    "startup-timeout",
		Value:   config.DefaultTimeouts().Startup,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STARTUP_TIMEOUT"),
		Usage:   "Time the service has to print its readiness marker",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   config.DefaultTimeouts().PollInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POLL_INTERVAL"),
		Usage:   "Delay between readiness probes",
	}
	PollDeadline = &cli.DurationFlag{
		Name:    "poll-deadline",
		Value:   config.DefaultTimeouts().PollDeadline,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POLL_DEADLINE"),
		Usage:   "Give up readiness probing after this long",
	}
	GracePeriod = &cli.DurationFlag{
		Name:    "grace-period",
		Value:   config.DefaultTimeouts().Grace,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GRACE_PERIOD"),
		Usage:   "Time the service has to exit after SIGTERM before it is killed",
	}
	RequestTimeout = &cli.DurationFlag{
		Name:    "request-timeout",
		Value:   config.DefaultTimeouts().Request,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REQUEST_TIMEOUT"),
		Usage:   "Timeout of a single API request",
	}
	ConnectionTimeout = &cli.DurationFlag{
		Name:    "connection-timeout",
		Value:   config.DefaultTimeouts().Connection,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONNECTION_TIMEOUT"),
		Usage:   "Timeout of database connections and queries",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Print a line per check in verify mode as well",
	}
	Color = &cli.BoolFlag{
		Name:    "color",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COLOR"),
		Usage:   "Use colored output for the results table",
	}
)

var requiredFlags = []cli.Flag{
	ServiceDir,
}

var optionalFlags = []cli.Flag{
	ServiceCommand,
	ServiceArgs,
	ReadyMarkers,
	SecretsFile,
	Expectations,
	APIPathPrefix,
	TablePrefix,
	LoadRequests,
	StartupTimeout,
	PollInterval,
	PollDeadline,
	GracePeriod,
	RequestTimeout,
	ConnectionTimeout,
	Verbose,
	Color,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}

// Timeouts reads the timeout flags.
func Timeouts(ctx *cli.Context) config.Timeouts {
	return config.Timeouts{
		Startup:      ctx.Duration(StartupTimeout.Name),
		PollInterval: ctx.Duration(PollInterval.Name),
		PollDeadline: ctx.Duration(PollDeadline.Name),
		Grace:        ctx.Duration(GracePeriod.Name),
		Request:      ctx.Duration(RequestTimeout.Name),
		Connection:   ctx.Duration(ConnectionTimeout.Name),
	}
}

