package reporting

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/opi-lc/opi-verifier/types"
)

// TableOptions tweak RenderTable.
type TableOptions struct {
	Color bool // Use the colored styles, off for logs and pipes
}

// RenderTable renders the report as a table with one row per phase and
// check, including durations.
func RenderTable(report types.VerificationReport, opts TableOptions) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s results %s (%s)", report.Mode, report.RunID, formatDuration(report.Duration)))

	t.AppendHeader(table.Row{
		"Type", "Name", "Duration", "Passed", "Failed", "Status", "Kind", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "Name", WidthMax: 60},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, phase := range report.Phases {
		t.AppendRow(table.Row{
			"Phase",
			phase.Name,
			formatDuration(phase.Duration),
			phase.Passed,
			phase.Failed,
			getResultString(phase.Failed == 0),
			"",
			"",
		})
		for i, check := range phase.Results {
			prefix := "├──"
			if i == len(phase.Results)-1 {
				prefix = "└──"
			}
			t.AppendRow(table.Row{
				"Check",
				fmt.Sprintf("%s %s", prefix, check.Name),
				formatDuration(check.Duration),
				boolToInt(check.Passed()),
				boolToInt(!check.Passed()),
				getResultString(check.Passed()),
				string(check.Kind),
				check.Message,
			})
		}
		t.AppendSeparator()
	}

	if opts.Color {
		if report.Success {
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		} else {
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	} else {
		t.SetStyle(table.StyleLight)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(report.Duration),
		report.TotalPassed,
		report.TotalFailed,
		getResultString(report.Success),
		"",
		"",
	})

	return t.Render()
}

func getResultString(passed bool) string {
	if passed {
		return "✓ pass"
	}
	return "✗ fail"
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
