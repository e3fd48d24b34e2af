// Package verifier runs the deployment checks of the OPI-LC BRC-20 API as
// a one-shot cliapp lifecycle.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/checks"
	"github.com/opi-lc/opi-verifier/db"
	"github.com/opi-lc/opi-verifier/exitcodes"
	"github.com/opi-lc/opi-verifier/metrics"
	"github.com/opi-lc/opi-verifier/poller"
	"github.com/opi-lc/opi-verifier/reporting"
	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/supervisor"
	"github.com/opi-lc/opi-verifier/types"
)

// Verifier implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Verifier{}

// Verifier runs one plan, prints the report and asks the app to close.
type Verifier struct {
	config  *Config
	version string
	runID   string

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *httputil.HTTPServer

	supervisor *supervisor.Supervisor
	db         *db.PGXDB
	suite      *checks.Suite
	runner     *runner.Runner
	report     *types.VerificationReport

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Verifier, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Run == nil {
		return nil, errors.New("resolved run configuration is required")
	}
	if config.Out == nil {
		config.Out = io.Discard
	}
	if config.Log == nil {
		config.Log = log.Root()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	runID := uuid.New().String()
	logger := config.Log.New("run_id", runID, "mode", config.Mode)
	run := config.Run

	logger.Debug("Creating verifier",
		"serviceDir", run.Service.Dir,
		"command", run.Service.Command,
		"api", run.API.BaseURL+run.API.PathPrefix,
		"dbHost", run.DB.Host,
		"dbName", run.DB.Name)

	registry := opmetrics.NewRegistry()
	m := metrics.New(registry, logger)

	deps := checks.Deps{
		Config:       run,
		Expectations: config.Expectations,
		Supervisor:   supervisor.New(supervisor.Config{Log: logger, Output: config.Out}),
		Poller:       poller.New(poller.Config{Log: logger}),
		API: apiclient.New(apiclient.Config{
			BaseURL:    run.API.BaseURL,
			PathPrefix: run.API.PathPrefix,
			Timeout:    run.Timeouts.Request,
			Log:        logger,
		}),
		Log: logger,
	}

	pool, err := db.New(ctx, db.Config{
		DSN:         run.DB.DSN(run.Timeouts.Connection),
		TablePrefix: run.DB.TablePrefix,
		Timeout:     run.Timeouts.Connection,
		Log:         logger,
	})
	if err != nil {
		// The database checks report this on their own.
		logger.Warn("Database is not usable", "err", err)
		m.RecordError("db_setup", err)
	} else {
		deps.DB = pool
	}

	return &Verifier{
		config:     config,
		version:    version,
		runID:      runID,
		registry:   registry,
		metrics:    m,
		supervisor: deps.Supervisor,
		db:         pool,
		suite:      checks.NewSuite(deps),
		runner: runner.New(runner.Config{
			Log:     logger,
			Metrics: m,
			RunID:   runID,
			Out:     config.Out,
			Verbose: config.Verbose,
		}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the plan of the configured mode once.
// Start implements the cliapp.Lifecycle interface.
func (v *Verifier) Start(ctx context.Context) error {
	v.running.Store(true)
	logger := v.config.Log

	if err := v.startMetricsServer(); err != nil {
		return v.abort(ctx, NewSetupError(err))
	}

	logger.Info("Starting opi-verifier", "mode", v.config.Mode, "run_id", v.runID, "version", v.version)
	phases, runErr := v.runner.RunAll(ctx, v.suite.Plan(v.config.Mode))

	// Phase cleanup stops the service; this covers runs that never reached it.
	if err := v.suite.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Failed to stop service", "err", err)
	}

	report := reporting.Aggregate(v.runID, v.config.Mode, phases)
	v.report = &report
	v.metrics.RecordRun(report)

	fmt.Fprint(v.config.Out, reporting.RenderTable(report, reporting.TableOptions{Color: v.config.Color}))
	fmt.Fprintln(v.config.Out)
	fmt.Fprint(v.config.Out, reporting.Render(report))

	if runErr != nil {
		logger.Error("Run interrupted", "err", runErr, "passed", report.TotalPassed, "failed", report.TotalFailed)
		return v.abort(ctx, fmt.Errorf("run %s did not complete: %w", v.runID, runErr))
	}

	logger.Info("Run completed", "passed", report.TotalPassed, "failed", report.TotalFailed, "duration", report.Duration)
	if reporting.ExitCode(report) != exitcodes.Success {
		return v.abort(ctx, NewVerificationFailedError(report.TotalPassed, report.TotalFailed))
	}

	go func() {
		v.shutdownCallback(nil)
	}()
	return nil
}

// abort releases everything Start acquired and returns err. cliapp does not
// call Stop after a failed Start.
func (v *Verifier) abort(ctx context.Context, err error) error {
	if stopErr := v.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		v.config.Log.Warn("Failed to release resources", "err", stopErr)
	}
	return err
}

func (v *Verifier) startMetricsServer() error {
	cfg := v.config.MetricsConfig
	if !cfg.Enabled {
		return nil
	}
	v.config.Log.Info("Starting metrics server", "addr", cfg.ListenAddr, "port", cfg.ListenPort)
	srv, err := opmetrics.StartServer(v.registry, cfg.ListenAddr, cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	v.config.Log.Info("Started metrics server", "endpoint", srv.Addr())
	v.metricsServer = srv
	return nil
}

// Stop releases the service, the database pool and the metrics server.
// Stop implements the cliapp.Lifecycle interface.
func (v *Verifier) Stop(ctx context.Context) error {
	if !v.running.Swap(false) {
		v.config.Log.Debug("Verifier already stopped, nothing to do")
		return nil
	}
	v.config.Log.Info("Stopping opi-verifier")

	var result error
	if err := v.suite.Close(ctx); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop service: %w", err))
	}
	if err := v.supervisor.StopAll(ctx, v.config.Run.Timeouts.Grace); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop processes: %w", err))
	}
	if v.db != nil {
		v.db.Close()
	}
	if v.metricsServer != nil {
		if err := v.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return result
}

// Stopped implements the cliapp.Lifecycle interface.
func (v *Verifier) Stopped() bool {
	return !v.running.Load()
}

// Report returns the report of the last run, or nil before Start.
func (v *Verifier) Report() *types.VerificationReport {
	return v.report
}

// RunID identifies the run in logs, metrics and the report.
func (v *Verifier) RunID() string {
	return v.runID
}
