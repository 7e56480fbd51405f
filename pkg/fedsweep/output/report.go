package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// maxStderrLines bounds the stderr tail shown in a failure report.
const maxStderrLines = 20

// FailureReport describes a training run that did not exit cleanly.
type FailureReport struct {
	RunID        string
	Dataset      string
	LearningRate float64
	Optimizer    string
	Beta         float64
	DeviceID     int
	ConfigPath   string
	ExitCode     int
	Duration     time.Duration
	Stderr       string
	Err          error
}

// WriteFailureReport writes a boxed diagnostic block for a failed run.
func WriteFailureReport(w io.Writer, r FailureReport) error {
	var lines []string
	lines = append(lines, ErrorStyle.Render("run failed: "+r.RunID))
	lines = append(lines, strings.Join([]string{
		field("dataset", r.Dataset),
		field("lr", types.FormatFloat(r.LearningRate)),
		field("optim", r.Optimizer),
		field("beta", types.FormatFloat(r.Beta)),
		field("gpu", fmt.Sprintf("%d", r.DeviceID)),
	}, "  "))
	if r.ConfigPath != "" {
		lines = append(lines, field("config", r.ConfigPath))
	}
	lines = append(lines, strings.Join([]string{
		field("exit", fmt.Sprintf("%d", r.ExitCode)),
		field("after", formatElapsed(r.Duration)),
	}, "  "))
	if r.Err != nil {
		lines = append(lines, field("error", r.Err.Error()))
	}
	if tail := tailLines(r.Stderr, maxStderrLines); tail != "" {
		lines = append(lines, "", LabelStyle.Render("stderr:"), MutedStyle.Render(tail))
	}

	_, err := fmt.Fprintln(w, ErrorBox.Render(strings.Join(lines, "\n")))
	return err
}

// Summary is the end-of-sweep tally.
type Summary struct {
	DeviceID   int
	Beta       float64
	Planned    int
	Dispatched int
	Succeeded  int
	Failed     int
	Capacity   int
	Peak       int
	Elapsed    time.Duration
	Failures   []string
	Err        error
}

// WriteSummary writes the boxed sweep summary.
func WriteSummary(w io.Writer, s Summary) error {
	var lines []string

	title := SuccessStyle.Bold(true).Render("sweep complete")
	switch {
	case s.Err != nil:
		title = ErrorStyle.Render("sweep aborted")
	case s.Failed > 0:
		title = WarningStyle.Bold(true).Render("sweep complete with failures")
	}
	lines = append(lines, title)

	lines = append(lines, strings.Join([]string{
		field("planned", fmt.Sprintf("%d", s.Planned)),
		field("dispatched", fmt.Sprintf("%d", s.Dispatched)),
		LabelStyle.Render("succeeded:") + " " + SuccessStyle.Render(fmt.Sprintf("%d", s.Succeeded)),
		LabelStyle.Render("failed:") + " " + failedStyle(s.Failed).Render(fmt.Sprintf("%d", s.Failed)),
	}, "  "))
	lines = append(lines, strings.Join([]string{
		field("gpu", fmt.Sprintf("%d", s.DeviceID)),
		field("beta", types.FormatFloat(s.Beta)),
		field("peak", fmt.Sprintf("%d/%d", s.Peak, s.Capacity)),
		field("elapsed", formatElapsed(s.Elapsed)),
	}, "  "))
	for _, id := range s.Failures {
		lines = append(lines, ErrorStyle.UnsetBold().Render("  x "+id))
	}
	if s.Err != nil {
		lines = append(lines, field("error", s.Err.Error()))
	}

	_, err := fmt.Fprintln(w, SummaryBox.Render(strings.Join(lines, "\n")))
	return err
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value)
}

func failedStyle(n int) lipgloss.Style {
	if n > 0 {
		return ErrorStyle
	}
	return MutedStyle
}

// formatElapsed rounds to a readable precision.
func formatElapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// tailLines returns at most n trailing non-empty lines of s.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
