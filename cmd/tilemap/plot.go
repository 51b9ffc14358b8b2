// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

// plotGrid saves a PNG (or any format supported by gonum/plot, by the file extension) with one rectangle per tile,
// colored by owner. Rows grow downwards, as in the matrix.
func plotGrid(r *Result, path string) error {
	g := r.Grid
	rows, cols := g.Shape()
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %dx%d tiles", r.Scenario.Name, g.NumRows(), g.NumCols())
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (from the top)"
	p.X.Min, p.X.Max = 0, float64(cols)
	p.Y.Min, p.Y.Max = 0, float64(rows)

	var labels plotter.XYLabels
	for tr := range g.NumRows() {
		for tc := range g.NumCols() {
			x0, x1 := float64(g.ColStart(tc)), float64(g.ColStop(tc))
			y0, y1 := float64(rows-g.RowStop(tr)), float64(rows-g.RowStart(tr))
			poly, err := plotter.NewPolygon(plotter.XYs{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}})
			if err != nil {
				return errors.Wrapf(err, "tile (%d, %d)", tr, tc)
			}
			owner := g.Owner(tr, tc)
			poly.Color = plotutil.Color(owner)
			poly.LineStyle.Width = vg.Points(1)
			poly.LineStyle.Color = plotutil.Color(len(plotutil.DefaultColors) - 1)
			p.Add(poly)
			labels.XYs = append(labels.XYs, plotter.XY{X: (x0 + x1) / 2, Y: (y0 + y1) / 2})
			labels.Labels = append(labels.Labels, fmt.Sprintf("%d", owner))
		}
	}
	ownerLabels, err := plotter.NewLabels(labels)
	if err != nil {
		return errors.Wrap(err, "tile labels")
	}
	for i := range ownerLabels.TextStyle {
		ownerLabels.TextStyle[i].XAlign = text.XCenter
		ownerLabels.TextStyle[i].YAlign = text.YCenter
	}
	p.Add(ownerLabels)
	aspect := min(max(float64(rows)/float64(cols), 0.25), 4)
	if err = p.Save(8*vg.Inch, vg.Length(aspect)*8*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	return nil
}
