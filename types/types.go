// Package types contains shared types used across the verifier
package types

import "time"

// CheckStatus represents the outcome of a single check execution
type CheckStatus string

const (
	CheckStatusPassed CheckStatus = "passed"
	CheckStatusFailed CheckStatus = "failed"
)

// Mode selects which entry point produced a report
type Mode string

const (
	ModeTest   Mode = "test"
	ModeVerify Mode = "verify"
)

// CheckResult captures the outcome of a single check run
type CheckResult struct {
	Name     string
	Status   CheckStatus
	Message  string    // Failure reason, empty when passed
	Kind     ErrorKind // Failure classification, empty when passed
	Duration time.Duration
}

// Passed reports whether the check passed.
func (r CheckResult) Passed() bool {
	return r.Status == CheckStatusPassed
}

// PhaseResult captures the ordered check results of one phase.
// Passed + Failed always equals len(Results).
type PhaseResult struct {
	Name     string
	Results  []CheckResult
	Passed   int
	Failed   int
	Duration time.Duration
}

// Add appends a check result and updates the counters.
func (p *PhaseResult) Add(r CheckResult) {
	p.Results = append(p.Results, r)
	if r.Passed() {
		p.Passed++
	} else {
		p.Failed++
	}
	p.Duration += r.Duration
}

// Failures returns the failed check results in execution order.
func (p PhaseResult) Failures() []CheckResult {
	var failed []CheckResult
	for _, r := range p.Results {
		if !r.Passed() {
			failed = append(failed, r)
		}
	}
	return failed
}

// VerificationReport is the aggregated result of a whole run
type VerificationReport struct {
	RunID       string
	Mode        Mode
	Phases      []PhaseResult
	TotalPassed int
	TotalFailed int
	Success     bool
	Duration    time.Duration
}

// Total returns the number of checks executed in the run.
func (r VerificationReport) Total() int {
	return r.TotalPassed + r.TotalFailed
}
