package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")

	titleStyle = lipgloss.NewStyle().Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	checkMark = "[OK]"
	crossMark = "[!!]"
	blockMark = "[--]"
	pending   = "[  ]"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func statusMark(status engine.StepStatus) string {
	switch status {
	case engine.StepSucceeded:
		return okStyle.Render(checkMark)
	case engine.StepFailed:
		return failedStyle.Render(crossMark)
	case engine.StepBlocked:
		return warningStyle.Render(blockMark)
	default:
		return dimStyle.Render(pending)
	}
}

func reportTitle(report *engine.VerificationReport) string {
	status := strings.ToUpper(string(report.Status))
	switch report.Status {
	case engine.ReportSuccess:
		status = okStyle.Render(status)
	case engine.ReportPartial:
		status = warningStyle.Render(status)
	default:
		status = failedStyle.Render(status)
	}
	return titleStyle.Render("Setup report "+report.RunID+": ") + status
}

// renderStyled is the terminal form of VerificationReport.Render.
func renderStyled(report *engine.VerificationReport) string {
	var sb strings.Builder

	sb.WriteString(reportTitle(report) + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d steps: %d succeeded (%d skipped), %d failed, %d blocked in %s",
		report.Total, report.Succeeded, report.Skipped, report.Failed, report.Blocked,
		report.Duration.Round(time.Millisecond))) + "\n")

	if len(report.PreflightErrors) > 0 {
		sb.WriteString(sectionStyle.Render("Pre-flight errors") + "\n")
		for _, e := range report.PreflightErrors {
			sb.WriteString("  " + failedStyle.Render(crossMark) + " " + e.Message + "\n")
		}
	}

	if len(report.Steps) > 0 {
		sb.WriteString(sectionStyle.Render("Steps") + "\n")
		width := 0
		for _, line := range report.Steps {
			if len(line.StepID) > width {
				width = len(line.StepID)
			}
		}
		for _, line := range report.Steps {
			fmt.Fprintf(&sb, "  %s %-*s", statusMark(line.Status), width, line.StepID)
			if line.Attempts > 1 {
				sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d attempts", line.Attempts)))
			}
			if line.Status != engine.StepSucceeded && line.Message != "" {
				fmt.Fprintf(&sb, "  %s %s", dimStyle.Render("["+string(line.Category)+"]"), line.Message)
			}
			sb.WriteString("\n")
		}
	}

	if len(report.Warnings) > 0 {
		sb.WriteString(sectionStyle.Render("Warnings") + "\n")
		for _, w := range report.Warnings {
			sb.WriteString("  " + warningStyle.Render("!") + " " + w + "\n")
		}
	}

	if len(report.Recommendations) > 0 {
		sb.WriteString(sectionStyle.Render("Next steps") + "\n")
		for _, rec := range report.Recommendations {
			sb.WriteString("  - " + rec + "\n")
		}
	}

	return sb.String()
}
