package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title     lipgloss.Style
	muted     lipgloss.Style
	ok        lipgloss.Style
	redirect  lipgloss.Style
	failure   lipgloss.Style
	errorText lipgloss.Style
	key       lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		ok:        lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		redirect:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		failure:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		errorText: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

func (s styles) status(code int, text string) string {
	if text == "" {
		text = fmt.Sprintf("%d", code)
	}
	switch {
	case code == 0:
		return s.failure.Render("no response")
	case code < 300:
		return s.ok.Render(text)
	case code < 400:
		return s.redirect.Render(text)
	default:
		return s.failure.Render(text)
	}
}

// table renders rows as left-aligned columns separated by two spaces.
func (s styles) table(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	var b strings.Builder
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i == len(row)-1 {
				cells[i] = cell
				continue
			}
			cells[i] = lipgloss.NewStyle().Width(widths[i]).Render(cell)
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
