package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// TableFormatter renders the plan for a terminal with lipgloss styling.
type TableFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TableFormatter) Format(w *bytes.Buffer, p *Plan) error {
	w.WriteString(f.formatHeader(p))
	w.WriteString("\n")
	w.WriteString(f.formatRows(p))
	return nil
}

func (f *TableFormatter) formatHeader(p *Plan) string {
	var lines []string

	lines = append(lines, TitleStyle.Render(fmt.Sprintf("%d runs", len(p.Runs))))

	parts := []string{
		LabelStyle.Render("Device:") + " " + ValueStyle.Render(fmt.Sprintf("%d", p.DeviceID)),
		LabelStyle.Render("Beta:") + " " + ValueStyle.Render(types.FormatFloat(p.Beta)),
	}
	if p.MaxProcesses > 0 {
		parts = append(parts, LabelStyle.Render("Max processes:")+" "+ValueStyle.Render(fmt.Sprintf("%d", p.MaxProcesses)))
	}
	if p.RequiredMemory > 0 {
		parts = append(parts, LabelStyle.Render("Free memory:")+" "+ValueStyle.Render(humanize.IBytes(p.RequiredMemory)))
	}
	lines = append(lines, strings.Join(parts, "  "))

	if p.BaseConfig != "" {
		lines = append(lines, LabelStyle.Render("Base:")+" "+MutedStyle.Render(p.BaseConfig))
	}

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *TableFormatter) formatRows(p *Plan) string {
	if len(p.Runs) == 0 {
		return MutedStyle.Render("  No runs planned\n")
	}

	headers := []string{"#", "DATASET", "LR", "OPTIMIZER", "CONFIG"}
	rows := make([][]string, 0, len(p.Runs))
	for _, r := range p.Runs {
		opt := r.Optimizer
		if r.ServerOptim {
			opt += "*"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Index),
			r.Dataset,
			types.FormatFloat(r.LearningRate),
			opt,
			r.ConfigPath,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("  ")
	for i, h := range headers {
		sb.WriteString(TableHeaderStyle.Render(padRight(h, widths[i])))
	}
	sb.WriteString("\n")
	for _, row := range rows {
		sb.WriteString("  ")
		for i, cell := range row {
			style := TableRowStyle
			if i == len(row)-1 {
				style = style.Foreground(ColorMuted)
			}
			sb.WriteString(style.Render(padRight(cell, widths[i])))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(MutedStyle.Render("  * server-side optimizer enabled"))
	sb.WriteString("\n")
	return sb.String()
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func init() {
	Register("table", func() Formatter { return &TableFormatter{} })
}

var _ Formatter = (*TableFormatter)(nil)
