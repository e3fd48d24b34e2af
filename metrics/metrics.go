package metrics

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opi-lc/opi-verifier/types"
)

const (
	MetricsNamespace = "opi_verifier"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Recorder receives the outcome of checks, phases and runs.
type Recorder interface {
	RecordCheck(runID, phase string, result types.CheckResult)
	RecordPhase(runID string, result types.PhaseResult)
	RecordRun(report types.VerificationReport)
	RecordError(label string, err error)
}

// Metrics is the prometheus backed Recorder.
type Metrics struct {
	log log.Logger

	errorsTotal   *prometheus.CounterVec
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	phaseChecks   *prometheus.GaugeVec
	phaseDuration *prometheus.GaugeVec
	runResult     *prometheus.GaugeVec
	runChecks     *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
}

var _ Recorder = (*Metrics)(nil)

// New registers the verifier metrics on reg.
func New(reg prometheus.Registerer, logger log.Logger) *Metrics {
	if logger == nil {
		logger = log.Root()
	}
	factory := promauto.With(reg)
	return &Metrics{
		log: logger,
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of orchestration errors",
		}, []string{
			"error",
		}),
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "checks_total",
			Help:      "Count of executed checks",
		}, []string{
			"run_id",
			"phase",
			"name",
			"result",
			"kind",
		}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of executed checks",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{
			"phase",
			"result",
		}),
		phaseChecks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "phase_checks",
			Help:      "Number of checks per phase by result",
		}, []string{
			"run_id",
			"phase",
			"result",
		}),
		phaseDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of a phase",
		}, []string{
			"run_id",
			"phase",
		}),
		runResult: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_result",
			Help:      "Result of a verification run, 1 for the reported result",
		}, []string{
			"run_id",
			"mode",
			"result",
		}),
		runChecks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_checks",
			Help:      "Number of checks in a run by result",
		}, []string{
			"run_id",
			"mode",
			"result",
		}),
		runDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a verification run",
		}, []string{
			"run_id",
			"mode",
		}),
	}
}

func (m *Metrics) RecordCheck(runID, phase string, result types.CheckResult) {
	m.log.Debug("metric inc",
		"m", "checks_total",
		"run_id", runID,
		"phase", phase,
		"check", result.Name,
		"result", result.Status)
	m.checksTotal.WithLabelValues(runID, phase, result.Name, string(result.Status), string(result.Kind)).Inc()
	m.checkDuration.WithLabelValues(phase, string(result.Status)).Observe(result.Duration.Seconds())
}

func (m *Metrics) RecordPhase(runID string, result types.PhaseResult) {
	m.phaseChecks.WithLabelValues(runID, result.Name, string(types.CheckStatusPassed)).Set(float64(result.Passed))
	m.phaseChecks.WithLabelValues(runID, result.Name, string(types.CheckStatusFailed)).Set(float64(result.Failed))
	m.phaseDuration.WithLabelValues(runID, result.Name).Set(result.Duration.Seconds())
}

func (m *Metrics) RecordRun(report types.VerificationReport) {
	mode := string(report.Mode)
	m.runResult.WithLabelValues(report.RunID, mode, runResultLabel(report.Success)).Set(1)
	m.runChecks.WithLabelValues(report.RunID, mode, string(types.CheckStatusPassed)).Set(float64(report.TotalPassed))
	m.runChecks.WithLabelValues(report.RunID, mode, string(types.CheckStatusFailed)).Set(float64(report.TotalFailed))
	m.runDuration.WithLabelValues(report.RunID, mode).Set(report.Duration.Seconds())
}

// RecordError concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func (m *Metrics) RecordError(label string, err error) {
	if err != nil {
		label = label + "." + errToLabel(err)
	}
	m.errorsTotal.WithLabelValues(label).Inc()
}

func runResultLabel(success bool) string {
	if success {
		return "pass"
	}
	return "fail"
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordCheck(string, string, types.CheckResult) {}
func (NoopRecorder) RecordPhase(string, types.PhaseResult)         {}
func (NoopRecorder) RecordRun(types.VerificationReport)            {}
func (NoopRecorder) RecordError(string, error)                     {}

