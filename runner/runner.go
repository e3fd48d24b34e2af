// Package runner executes ordered phases of checks. Every check failure,
// including a panic, is converted into a CheckResult; only cancellation
// stops a run early.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opi-lc/opi-verifier/metrics"
	"github.com/opi-lc/opi-verifier/types"
)

// ErrInterrupted is returned when the run context is cancelled. The check
// that was in flight at that moment is not recorded.
var ErrInterrupted = errors.New("verification interrupted")

// CheckFunc performs one verification. A nil return means passed.
type CheckFunc func(ctx context.Context) error

type Check struct {
	Name string
	Run  CheckFunc
}

// Phase is a named, ordered list of checks. Later checks may rely on side
// effects of earlier ones in the same phase.
type Phase struct {
	Name   string
	Checks []Check
	// Cleanup runs after the last check of a completed phase. Its outcome is
	// logged, not recorded.
	Cleanup func(ctx context.Context) error
}

type Config struct {
	Log     log.Logger
	Metrics metrics.Recorder
	RunID   string
	// Out receives the per-check progress lines when Verbose is set.
	Out     io.Writer
	Verbose bool
}

type Runner struct {
	log     log.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
	runID   string
	out     io.Writer
	verbose bool
}

func New(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Runner{
		log:     cfg.Log,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer("check runner"),
		runID:   cfg.RunID,
		out:     cfg.Out,
		verbose: cfg.Verbose,
	}
}

// RunAll executes phases in order. A phase with failed checks never stops
// the phases after it. On cancellation the results collected so far are
// returned together with ErrInterrupted.
func (r *Runner) RunAll(ctx context.Context, phases []Phase) ([]types.PhaseResult, error) {
	results := make([]types.PhaseResult, 0, len(phases))
	for _, phase := range phases {
		result, err := r.RunPhase(ctx, phase)
		if err != nil {
			if len(result.Results) > 0 {
				results = append(results, result)
			}
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// RunPhase executes the checks of phase strictly in order and records one
// result per check.
func (r *Runner) RunPhase(ctx context.Context, phase Phase) (types.PhaseResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("phase %s", phase.Name))
	defer span.End()

	result := types.PhaseResult{Name: phase.Name}
	r.log.Info("Running phase", "phase", phase.Name, "checks", len(phase.Checks))
	r.printf("%s\n\n", phase.Name)

	for _, check := range phase.Checks {
		if err := ctx.Err(); err != nil {
			return result, r.interrupted(ctx, phase.Name, check.Name)
		}
		r.printf("Running: %s\n", check.Name)

		checkResult, ok := r.runCheck(ctx, check)
		if !ok {
			return result, r.interrupted(ctx, phase.Name, check.Name)
		}
		result.Add(checkResult)
		r.metrics.RecordCheck(r.runID, phase.Name, checkResult)

		if checkResult.Passed() {
			r.log.Debug("Check passed", "phase", phase.Name, "check", check.Name, "duration", checkResult.Duration)
			r.printf("✅ PASSED: %s\n\n", check.Name)
		} else {
			r.log.Debug("Check failed", "phase", phase.Name, "check", check.Name, "kind", checkResult.Kind, "err", checkResult.Message)
			r.printf("❌ FAILED: %s\n   Error: %s\n\n", check.Name, checkResult.Message)
		}
	}

	if phase.Cleanup != nil {
		if err := phase.Cleanup(ctx); err != nil {
			r.log.Warn("Phase cleanup failed", "phase", phase.Name, "err", err)
			r.metrics.RecordError("cleanup", err)
		}
	}

	r.metrics.RecordPhase(r.runID, result)
	r.log.Info("Phase complete", "phase", phase.Name, "passed", result.Passed, "failed", result.Failed)
	return result, nil
}

// runCheck executes one check in its own goroutine so that cancellation
// can abandon it. ok is false when the check was abandoned.
func (r *Runner) runCheck(ctx context.Context, check Check) (types.CheckResult, bool) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("check %s", check.Name),
		trace.WithAttributes(attribute.String("run_id", r.runID)))
	defer span.End()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- safeRun(ctx, check)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return types.CheckResult{}, false
	}
	if ctx.Err() != nil {
		// finished only because it was cancelled
		return types.CheckResult{}, false
	}

	result := types.CheckResult{
		Name:     check.Name,
		Status:   types.CheckStatusPassed,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = types.CheckStatusFailed
		result.Message = err.Error()
		result.Kind = types.KindOf(err)
		span.SetStatus(codes.Error, result.Message)
		span.SetAttributes(attribute.String("kind", string(result.Kind)))
	}
	return result, true
}

func safeRun(ctx context.Context, check Check) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("check panicked: %v", rec)
		}
	}()
	if check.Run == nil {
		return types.NewConfigError("check %q has no implementation", check.Name)
	}
	return check.Run(ctx)
}

func (r *Runner) interrupted(ctx context.Context, phase, check string) error {
	cause := context.Cause(ctx)
	r.log.Warn("Run interrupted, abandoning check", "phase", phase, "check", check, "cause", cause)
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

func (r *Runner) printf(format string, args ...any) {
	if r.verbose {
		fmt.Fprintf(r.out, format, args...)
	}
}
