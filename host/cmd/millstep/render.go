package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"millstep/standalone"
	"millstep/standalone/machine"
)

var (
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

func renderEntry(e standalone.LogEntry) string {
	mark := green.Render("✓ ")
	if e.Level == standalone.LevelError {
		mark = red.Render("✗ ")
	}
	return mark + e.Message + " " + gray.Render(e.JobID.String())
}

func renderError(err error) string {
	return red.Render("✗ ") + err.Error()
}

func renderAborted() string {
	return red.Render("● ") + "aborted"
}

// renderMoves lists the tool path, one point per line
func renderMoves(moves []machine.SimulatedMove) string {
	var b strings.Builder
	b.WriteString(cyan.Render(fmt.Sprintf("%d points", len(moves))) + "\n")
	for i, m := range moves {
		kind := "feed"
		if m.Rapid {
			kind = gray.Render("rapid")
		}
		fmt.Fprintf(&b, "%4d  X%10.4f  Y%10.4f  Z%10.4f  %s\n", i, m.X, m.Y, m.Z, kind)
	}
	return b.String()
}
