package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"noema/internal/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	actionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	confStyleOK  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	confStyleLow = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderResult formats an analysis for the terminal.
func renderResult(r *types.AnalysisResult) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Analysis"))
	b.WriteString("\n")
	if r.Summary != "" {
		b.WriteString(r.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	row(&b, "Action", actionStyle.Render(string(r.Action)))
	row(&b, "Confidence", renderConfidence(r.Confidence))
	row(&b, "Stopped", string(r.StopReason))
	if len(r.PassHistory) > 0 {
		row(&b, "Passes", fmt.Sprintf("%d (%s)", len(r.PassHistory), tierTrail(r)))
	}
	if r.TotalUsage.TotalTokens() > 0 {
		row(&b, "Cost", fmt.Sprintf("%d tokens, $%.4f, %s",
			r.TotalUsage.TotalTokens(), r.TotalUsage.CostUSD, r.TotalDuration.Round(10*time.Millisecond)))
	}

	if len(r.Extractions) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Extracted"))
		b.WriteString("\n")
		for _, ex := range r.Extractions {
			fmt.Fprintf(&b, "  [%s/%s] %s", ex.Type, ex.Importance, ex.Description)
			if ex.NoteTitle != "" {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  -> %s %q", ex.NoteAction, ex.NoteTitle)))
			}
			b.WriteString("\n")
		}
	}
	for _, link := range r.Links {
		fmt.Fprintf(&b, "  link: %s %s %s\n", link.FromTitle, link.Relation, link.ToTitle)
	}

	if r.NeedsClarification {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Needs your input"))
		b.WriteString("\n")
		b.WriteString(r.Clarification)
		b.WriteString("\n")
	} else if r.Rationale != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(r.Rationale))
		b.WriteString("\n")
	}

	return b.String()
}

func renderClarification(r *types.AnalysisResult) string {
	var b strings.Builder
	b.WriteString(warnStyle.Render("? "))
	b.WriteString(r.Clarification)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("  analysis %s, event %s, tentative action: %s",
		r.AnalysisID, r.EventID, r.Action)))
	b.WriteString("\n")
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func renderConfidence(c types.DecomposedConfidence) string {
	overall := c.Overall()
	style := confStyleOK
	if overall < 0.85 {
		style = confStyleLow
	}
	return style.Render(fmt.Sprintf("%.2f", overall)) +
		dimStyle.Render(fmt.Sprintf("  (weakest: %s)", c.Weakest()))
}

// tierTrail summarizes which tiers the passes ran on, e.g.
// "baseline, baseline, mid".
func tierTrail(r *types.AnalysisResult) string {
	tiers := make([]string, 0, len(r.PassHistory))
	for _, p := range r.PassHistory {
		s := string(p.Model)
		if p.Failed {
			s += "!"
		}
		tiers = append(tiers, s)
	}
	return strings.Join(tiers, ", ")
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
