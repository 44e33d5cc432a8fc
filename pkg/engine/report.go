package engine

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// ReportStatus summarises a run.
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportPartial ReportStatus = "partial"
	ReportFailed  ReportStatus = "failed"
)

// ReportLine is the final status of one step.
type ReportLine struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	Category    Category   `json:"category,omitempty"`
	Message     string     `json:"message,omitempty"`
	Remediation string     `json:"remediation,omitempty"`
}

// VerificationReport enumerates what happened during a run. It is the
// only place a user needs to look after a run.
type VerificationReport struct {
	RunID       string       `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Status      ReportStatus `json:"status"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Skipped   int `json:"skipped"`

	Steps []ReportLine `json:"steps"`

	PreflightErrors []ValidationError `json:"preflight_errors,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`

	// Recommendations are the distinct remediation texts of failed and
	// blocked steps and pre-flight errors, in first-seen order.
	Recommendations []string `json:"recommendations,omitempty"`

	Duration time.Duration `json:"duration"`
}

// BuildReport derives the verification report from a result.
func BuildReport(res *SetupResult) *VerificationReport {
	report := &VerificationReport{
		RunID:       res.RunID,
		GeneratedAt: res.StartedAt.Add(res.Duration),
		Total:       len(res.Steps),
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Blocked:     res.Blocked,
		Skipped:     res.Skipped,
		Steps:       make([]ReportLine, 0, len(res.Steps)),
		Duration:    res.Duration,
	}

	seen := make(map[string]bool)
	recommend := func(text string) {
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		report.Recommendations = append(report.Recommendations, text)
	}

	if res.Preflight != nil {
		report.PreflightErrors = append(report.PreflightErrors, res.Preflight.Errors...)
		report.Warnings = append(report.Warnings, res.Preflight.Warnings...)
		for _, e := range res.Preflight.Errors {
			recommend(e.Remediation)
		}
	}
	report.Warnings = append(report.Warnings, res.Warnings...)

	for _, s := range res.Steps {
		line := ReportLine{StepID: s.StepID, Status: s.Status, Attempts: s.Attempts}
		if s.Error != nil {
			line.Category = s.Error.Category
			line.Message = s.Error.Message
			line.Remediation = s.Error.Remediation
			if s.Status != StepSucceeded {
				recommend(s.Error.Remediation)
			}
		}
		report.Steps = append(report.Steps, line)
	}

	switch {
	case res.Success:
		report.Status = ReportSuccess
	case res.Succeeded > 0:
		report.Status = ReportPartial
	default:
		report.Status = ReportFailed
	}

	return report
}

// Render writes the report as plain text.
func (r *VerificationReport) Render(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Setup report %s: %s\n", r.RunID, strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&sb, "Steps: %d total, %d succeeded (%d skipped), %d failed, %d blocked in %s\n",
		r.Total, r.Succeeded, r.Skipped, r.Failed, r.Blocked, r.Duration.Round(time.Millisecond))

	if len(r.PreflightErrors) > 0 {
		sb.WriteString("\nPre-flight errors:\n")
		for _, e := range r.PreflightErrors {
			fmt.Fprintf(&sb, "  - %s\n", e.Message)
		}
	}

	if len(r.Steps) > 0 {
		sb.WriteString("\n")
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  STEP\tSTATUS\tATTEMPTS\tDETAIL")
		for _, line := range r.Steps {
			detail := line.Message
			if line.Category != "" && line.Status != StepSucceeded {
				detail = fmt.Sprintf("[%s] %s", line.Category, line.Message)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", line.StepID, line.Status, line.Attempts, detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warning := range r.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", warning)
		}
	}

	if len(r.Recommendations) > 0 {
		sb.WriteString("\nNext steps:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
