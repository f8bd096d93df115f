package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hakim/scriptwatch/internal/models"
)

var statusStyles = map[models.Status]lipgloss.Style{
	models.StatusPass:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	models.StatusWarn:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	models.StatusFail:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	models.StatusBlocked:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
	models.StatusUnverifiable: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141")),
	models.StatusError:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

// statusLabel pads and colours a status word for aligned terminal output.
func statusLabel(s models.Status) string {
	padded := string(s)
	for len(padded) < len(models.StatusUnverifiable) {
		padded += " "
	}
	if st, ok := statusStyles[s]; ok {
		return st.Render(padded)
	}
	return padded
}
