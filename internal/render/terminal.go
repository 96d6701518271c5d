package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/labels"
)

// barWidth is the length, in cells, of a bar at probability 1.
const barWidth = 30

var (
	fileStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle     = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Foreground(lipgloss.Color("#000000"))
)

// PredictionBox renders "Prediction: <label> (<confidence>)" on the label's
// colour.
func PredictionBox(p *classifier.Prediction) string {
	text := fmt.Sprintf("Prediction: %s (%s)", p.Label, Confidence(p.Confidence))
	return boxStyle.Background(lipgloss.Color(p.Label.Color())).Render(text)
}

// BarChart renders the chart horizontally, one row per label.
func BarChart(c Chart) string {
	nameWidth := 0
	for _, b := range c.Bars {
		nameWidth = max(nameWidth, len(b.Name))
	}

	lines := []string{headingStyle.Render(c.Title)}
	for _, b := range c.Bars {
		v := min(max(float64(b.Value), 0), 1)
		n := int(v*barWidth + 0.5)
		bar := lipgloss.NewStyle().Foreground(lipgloss.Color(b.Color)).Render(strings.Repeat("█", n))
		pad := strings.Repeat(" ", barWidth-n)
		lines = append(lines, fmt.Sprintf("%-*s %s%s %6s", nameWidth, b.Name, bar, pad, b.Annotation))
	}
	lines = append(lines, mutedStyle.Render(fmt.Sprintf("%-*s 0%s1  %s", nameWidth, "", strings.Repeat(" ", barWidth-1), c.YLabel)))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Terminal writes one outcome as a panel for the CLI.
func Terminal(w io.Writer, o classifier.Outcome) error {
	sections := []string{fileStyle.Render("File: " + o.Name)}
	if o.Err != nil {
		sections = append(sections, errorStyle.Render("Error: "+o.Err.Error()))
	} else {
		sections = append(sections,
			PredictionBox(o.Prediction),
			BarChart(NewChart(o.Prediction.Distribution)),
		)
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, sections...)+"\n")
	return err
}

// LegendText renders the label legend, one coloured swatch per label.
func LegendText() string {
	lines := []string{fileStyle.Render("Tumor Types Legend")}
	for _, l := range labels.All() {
		swatch := boxStyle.Background(lipgloss.Color(l.Color())).Render(l.String())
		lines = append(lines, fmt.Sprintf("%s  %s", swatch, mutedStyle.Render(l.DisplayName())))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
