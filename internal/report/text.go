package report

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/rand/guesstimate/internal/estimate"
)

// TextOptions configures Text.
type TextOptions struct {
	// Plain disables styling.
	Plain bool
	// Trace appends the decomposition trace, when there is one.
	Trace bool
}

type styles struct {
	title, value, label, dim, info, warn, crit lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{s, s, s, s, s, s, s}
	}
	base := lipgloss.NewStyle()
	return styles{
		title: base.Bold(true).Foreground(lipgloss.Color("39")),
		value: base.Bold(true).Foreground(lipgloss.Color("42")),
		label: base.Foreground(lipgloss.Color("241")).Width(12),
		dim:   base.Foreground(lipgloss.Color("241")),
		info:  base.Foreground(lipgloss.Color("39")),
		warn:  base.Foreground(lipgloss.Color("214")),
		crit:  base.Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// Text renders r for a terminal.
func Text(r *estimate.Result, opts TextOptions) string {
	st := newStyles(opts.Plain)
	row := func(label, value string) string {
		if opts.Plain {
			return fmt.Sprintf("%-12s%s", label, value)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, st.label.Render(label), value)
	}

	lines := []string{st.title.Render(r.Question)}
	if r.Resolved() {
		v := FormatValue(*r.Value)
		if r.Unit != "" {
			v += " " + r.Unit
		}
		lines = append(lines, row("value", st.value.Render(v)))
	} else {
		lines = append(lines, row("value", st.crit.Render("unresolved")))
	}
	if r.Range != nil {
		lines = append(lines, row("range", fmt.Sprintf("%s – %s", FormatValue(r.Range.Min), FormatValue(r.Range.Max))))
	}
	lines = append(lines,
		row("confidence", fmt.Sprintf("%.0f%% %s", r.Confidence*100, confidenceBar(r.Confidence))),
		row("source", st.dim.Render(Source(r))),
	)
	if r.Reasoning != "" {
		lines = append(lines, row("reasoning", r.Reasoning))
	}
	for _, w := range r.Warnings {
		style := st.info
		switch w.Severity {
		case estimate.SeverityWarning:
			style = st.warn
		case estimate.SeverityCritical:
			style = st.crit
		}
		msg := w.Message
		if w.Range != nil {
			msg += " " + w.Range.String()
		}
		lines = append(lines, row(string(w.Severity), style.Render(msg)))
	}

	if opts.Trace && r.Trace != nil {
		lines = append(lines, "", st.title.Render("decomposition"))
		lines = append(lines, traceLines(r.Trace, "  ", st)...)
	}
	return strings.Join(lines, "\n")
}

func traceLines(t *estimate.DecompositionTrace, indent string, st styles) []string {
	out := []string{indent + t.Formula}
	for _, v := range t.Variables {
		state := st.dim.Render(v.Source)
		if !v.Resolved {
			state = st.warn.Render("unresolved")
		}
		out = append(out, fmt.Sprintf("%s  %s = %s (%.2f, %s)", indent, v.Name, FormatValue(v.Value), v.Confidence, state))
		if sub := t.SubResults[v.Name]; sub != nil && sub.Trace != nil {
			out = append(out, traceLines(sub.Trace, indent+"    ", st)...)
		}
	}
	return out
}

func confidenceBar(c float64) string {
	const width = 10
	n := int(c*width + 0.5)
	n = max(0, min(width, n))
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}
