// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// Sample is the VBUS reading carried by one record
type Sample struct {
	Index    int
	Sequence uint32
	Voltage  float64 // V
	Current  float64 // A
}

// SampleOf converts the analog snapshot of a record. VBUS is reported in
// mV and mA.
func SampleOf(index int, dp *snooper.DecodedPacket) Sample {
	return Sample{
		Index:    index,
		Sequence: dp.Packet.Sequence,
		Voltage:  float64(dp.Packet.VbusVoltage) / 1000,
		Current:  float64(dp.Packet.VbusCurrent) / 1000,
	}
}

// PlotVBUS saves a PNG (or any format gonum infers from the extension) of
// VBUS voltage and current against record index
func PlotVBUS(samples []Sample, title, path string) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Record"
	p.Y.Label.Text = "VBUS (V / A)"

	voltage := make(plotter.XYs, 0, len(samples))
	current := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		voltage = append(voltage, plotter.XY{X: float64(s.Index), Y: s.Voltage})
		current = append(current, plotter.XY{X: float64(s.Index), Y: s.Current})
	}

	vLine, err := plotter.NewLine(voltage)
	if err != nil {
		return fmt.Errorf("voltage line: %w", err)
	}
	vLine.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	vLine.Width = vg.Points(1)

	cLine, err := plotter.NewLine(current)
	if err != nil {
		return fmt.Errorf("current line: %w", err)
	}
	cLine.Color = color.RGBA{R: 30, G: 60, B: 200, A: 255}
	cLine.Width = vg.Points(1)

	p.Add(vLine, cLine, plotter.NewGrid())
	p.Legend.Add("Voltage (V)", vLine)
	p.Legend.Add("Current (A)", cLine)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// RenderVBUSChart writes an interactive HTML line chart of the samples
func RenderVBUSChart(samples []Sample, title string, w io.Writer) error {
	x := make([]int, 0, len(samples))
	voltage := make([]opts.LineData, 0, len(samples))
	current := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		x = append(x, s.Index)
		voltage = append(voltage, opts.LineData{Value: s.Voltage})
		current = append(current, opts.LineData{Value: s.Current})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d records", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Record"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "V / A"}),
	)
	line.SetXAxis(x).
		AddSeries("Voltage (V)", voltage).
		AddSeries("Current (A)", current)

	page := components.NewPage()
	page.AddCharts(line)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
