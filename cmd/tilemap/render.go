// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	// ownerColors cycles through a palette to color tiles by owner.
	ownerColors = []string{"#E06C75", "#98C379", "#61AFEF", "#E5C07B", "#C678DD", "#56B6C2"}
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// joinInts formats a list of ints with thousands separators.
func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = humanize.Comma(int64(v))
	}
	return strings.Join(parts, ", ")
}

// renderSummary returns the table with the scenario's parameters and the resulting tiling.
func renderSummary(r *Result) string {
	s := r.Scenario
	table := newPlainTable(false)
	table.Row("matrix", fmt.Sprintf("%s x %s", humanize.Comma(int64(s.Rows)), humanize.Comma(int64(s.Cols))))
	table.Row("# processes", strconv.Itoa(s.Procs))
	table.Row("split", r.Grid.Split().String())
	table.Row("tiles per process", strconv.Itoa(s.TilesPerProcess))
	table.Row("tile grid", fmt.Sprintf("%d x %d", r.Grid.NumRows(), r.Grid.NumCols()))
	table.Row("row boundaries", joinInts(r.Grid.RowStarts()))
	table.Row("col boundaries", joinInts(r.Grid.ColStarts()))
	table.Row("tiles per process (split axis)", joinInts(r.PerProcess))
	table.Row("last diagonal process", strconv.Itoa(r.LastDiagProcess))
	return titleStyle.Render(s.Name) + "\n" + table.String()
}

// renderGrid returns a table with one cell per tile, showing its shape and owner.
func renderGrid(r *Result) string {
	g := r.Grid
	headers := make([]string, g.NumCols()+1)
	headers[0] = "tile"
	for c := range g.NumCols() {
		headers[c+1] = fmt.Sprintf("col %d [%d:%d)", c, g.ColStart(c), g.ColStop(c))
	}
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if col == 0 {
				return oddRowStyle.Align(lipgloss.Right)
			}
			owner := g.Owner(row, col-1)
			return lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1).
				Foreground(lipgloss.Color(ownerColors[owner%len(ownerColors)]))
		})
	for r := range g.NumRows() {
		cells := make([]string, g.NumCols()+1)
		cells[0] = fmt.Sprintf("row %d [%d:%d)", r, g.RowStart(r), g.RowStop(r))
		for c := range g.NumCols() {
			cells[c+1] = fmt.Sprintf("%dx%d @%d", g.RowStop(r)-g.RowStart(r), g.ColStop(c)-g.ColStart(c), g.Owner(r, c))
		}
		table.Row(cells...)
	}
	return table.String()
}
