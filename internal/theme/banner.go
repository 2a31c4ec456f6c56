// Package theme styles the console output of the sleepnet CLI.
package theme

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorIndigo = lipgloss.Color("#5F5FD7")
	ColorCyan   = lipgloss.Color("#00D7D7")
	ColorGreen  = lipgloss.Color("#5FD75F")
	ColorYellow = lipgloss.Color("#FFD75F")
	ColorRed    = lipgloss.Color("#FF5F5F")
	ColorGray   = lipgloss.Color("#808080")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorIndigo)

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	OKStyle = lipgloss.NewStyle().
		Foreground(ColorGreen)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorIndigo).
			Padding(0, 1)
)

// Banner returns the title block printed above command output.
func Banner() string {
	moon := WarnStyle.Render("  ☾ ")
	title := TitleStyle.Render("SLEEPNET")
	sub := KeyStyle.Render("sleep-stage classification from EEG")
	wave := HeaderStyle.Render("  ∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿")
	return moon + title + "\n" + wave + "\n  " + sub + "\n"
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}

// Status colours a subject or run status.
func Status(s string) string {
	switch s {
	case "ok", "extracted":
		return OKStyle.Render(s)
	case "skipped", "running":
		return WarnStyle.Render(s)
	default:
		return ErrorStyle.Render(s)
	}
}

// KV renders aligned "key  value" lines.
func KV(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, lipgloss.Width(p[0]))
	}
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(KeyStyle.Render(p[0] + strings.Repeat(" ", width-lipgloss.Width(p[0]))))
		b.WriteString("  ")
		b.WriteString(p[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// Section renders a titled panel around body.
func Section(title, body string) string {
	return HeaderStyle.Render(title) + "\n" + PanelStyle.Render(strings.TrimRight(body, "\n")) + "\n"
}
