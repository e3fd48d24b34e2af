// Package reporting aggregates phase results into a VerificationReport and
// renders it for operators.
package reporting

import (
	"fmt"
	"strings"

	"github.com/opi-lc/opi-verifier/exitcodes"
	"github.com/opi-lc/opi-verifier/types"
)

// Aggregate folds phase results into a report. It has no side effects.
func Aggregate(runID string, mode types.Mode, phases []types.PhaseResult) types.VerificationReport {
	report := types.VerificationReport{
		RunID:  runID,
		Mode:   mode,
		Phases: append([]types.PhaseResult(nil), phases...),
	}
	for _, p := range phases {
		report.TotalPassed += p.Passed
		report.TotalFailed += p.Failed
		report.Duration += p.Duration
	}
	report.Success = report.TotalFailed == 0
	return report
}

// ExitCode maps a report to the process exit status.
func ExitCode(report types.VerificationReport) int {
	if report.Success {
		return exitcodes.Success
	}
	return exitcodes.Failure
}

type wording struct {
	title   string
	success string
	failure string
}

var modeWording = map[types.Mode]wording{
	types.ModeTest: {
		title:   "Test Summary",
		success: "🎉 All tests passed! The service is ready for deployment.",
		failure: "❌ Some tests failed. Please fix the issues before deployment.",
	},
	types.ModeVerify: {
		title:   "📊 Verification Report",
		success: "🎉 All verifications passed! The service is ready for production deployment.",
		failure: "❌ Some verifications failed. Please fix the issues before deployment.",
	},
}

// Render produces the text summary of a report. The output depends only on
// names, statuses and messages, so the same report always renders to the
// same bytes.
func Render(report types.VerificationReport) string {
	w, ok := modeWording[report.Mode]
	if !ok {
		w = modeWording[types.ModeVerify]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", w.title, strings.Repeat("=", len([]rune(w.title))))

	for _, phase := range report.Phases {
		fmt.Fprintf(&b, "%s:\n", phase.Name)
		fmt.Fprintf(&b, "  Passed: %d\n", phase.Passed)
		fmt.Fprintf(&b, "  Failed: %d\n", phase.Failed)
		if failures := phase.Failures(); len(failures) > 0 {
			b.WriteString("  Errors:\n")
			for _, f := range failures {
				fmt.Fprintf(&b, "    - %s: %s\n", f.Name, f.Message)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Total: %d passed, %d failed\n\n", report.TotalPassed, report.TotalFailed)
	if report.Success {
		b.WriteString(w.success + "\n")
	} else {
		b.WriteString(w.failure + "\n")
	}
	return b.String()
}
