// Package render presents predictions: the HTML upload page with its SVG
// probability chart, and the terminal panel used by the CLI.
package render

import (
	"fmt"

	"github.com/Brownie44l1/mri-classifier/internal/labels"
)

const (
	ChartTitle  = "Model Prediction Probabilities"
	ChartYLabel = "Probability"
	// annotationOffset lifts the percentage label above its bar, in
	// probability units.
	annotationOffset = 0.02
)

// Bar is one label's column in the probability chart.
type Bar struct {
	Label      labels.Label
	Name       string
	Color      string
	Value      float32
	Annotation string
}

// Chart is the per-label probability bar chart. The y axis is fixed to
// [0,1].
type Chart struct {
	Title  string
	YLabel string
	Bars   []Bar
}

// NewChart builds a chart with one bar per label in label order.
func NewChart(dist [labels.Count]float32) Chart {
	c := Chart{Title: ChartTitle, YLabel: ChartYLabel}
	for _, l := range labels.All() {
		v := dist[l.Index()]
		c.Bars = append(c.Bars, Bar{
			Label:      l,
			Name:       l.String(),
			Color:      l.Color(),
			Value:      v,
			Annotation: Percent(v),
		})
	}
	return c
}

// Percent formats a probability as a one-decimal percentage, e.g. "87.5%".
func Percent(v float32) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Confidence formats a confidence percentage with two decimals.
func Confidence(pct float64) string {
	return fmt.Sprintf("%.2f%%", pct)
}

// SVG geometry, in user units.
const (
	svgWidth   = 520.0
	svgHeight  = 340.0
	plotLeft   = 60.0
	plotRight  = 20.0
	plotTop    = 40.0
	plotBottom = 60.0
	barFill    = 0.6
)

// SVGBar is a Bar laid out in SVG coordinates.
type SVGBar struct {
	Bar
	X, Y, Width, Height float64
	TextX, TextY        float64
}

// SVGTick is a y-axis gridline.
type SVGTick struct {
	Y     float64
	Label string
}

// SVGChart is a Chart laid out for the inline SVG template.
type SVGChart struct {
	Title      string
	YLabel     string
	Width      float64
	Height     float64
	PlotLeft   float64
	PlotRight  float64
	PlotTop    float64
	PlotBottom float64
	AxisMid    float64
	Bars       []SVGBar
	Ticks      []SVGTick
}

// Layout positions the chart's bars, annotations and ticks. Values outside
// [0,1] are clipped to the plot area.
func (c Chart) Layout() SVGChart {
	plotW := svgWidth - plotLeft - plotRight
	plotH := svgHeight - plotTop - plotBottom
	baseline := plotTop + plotH

	y := func(v float64) float64 {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return baseline - v*plotH
	}

	out := SVGChart{
		Title:      c.Title,
		YLabel:     c.YLabel,
		Width:      svgWidth,
		Height:     svgHeight,
		PlotLeft:   plotLeft,
		PlotRight:  svgWidth - plotRight,
		PlotTop:    plotTop,
		PlotBottom: baseline,
		AxisMid:    plotTop + plotH/2,
	}

	for i := 0; i <= 5; i++ {
		v := float64(i) / 5
		out.Ticks = append(out.Ticks, SVGTick{Y: y(v), Label: fmt.Sprintf("%.1f", v)})
	}

	if len(c.Bars) == 0 {
		return out
	}
	slot := plotW / float64(len(c.Bars))
	for i, b := range c.Bars {
		top := y(float64(b.Value))
		width := slot * barFill
		x := plotLeft + slot*float64(i) + (slot-width)/2
		out.Bars = append(out.Bars, SVGBar{
			Bar:    b,
			X:      x,
			Y:      top,
			Width:  width,
			Height: baseline - top,
			TextX:  x + width/2,
			TextY:  y(float64(b.Value)+annotationOffset) - 2,
		})
	}
	return out
}
