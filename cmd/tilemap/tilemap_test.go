// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScenarios = `
scenarios:
  - name: tall
    rows: 100
    cols: 10
    procs: 3
    split: 0
  - name: wide-by-columns
    rows: 6
    cols: 20
    procs: 4
    split: 1
    tiles_per_process: 1
  - name: uneven
    rows: 10
    cols: 10
    procs: 4
    split: 0
    extents: [1, 6, 0, 3]
  - rows: 8
    cols: 8
    procs: 2
    split: -1
    min_tile_size: 3
`

func TestScenarios(t *testing.T) {
	scenarios, err := ParseScenarios([]byte(testScenarios))
	require.NoError(t, err)
	require.Len(t, scenarios, 4)
	assert.Equal(t, 2, scenarios[0].TilesPerProcess)
	assert.Equal(t, "scenario #3", scenarios[3].Name)
	assert.Equal(t, 3, scenarios[3].config().MinTileSize)
	assert.Equal(t, 10, scenarios[3].config().ExtraRowThreshold)

	results := make([]*Result, len(scenarios))
	for i, s := range scenarios {
		results[i], err = s.Run()
		require.NoError(t, err, s.Name)
	}

	tall := results[0]
	assert.Equal(t, []int{0, 5, 10, 25, 38, 50, 63, 75, 88}, tall.Grid.RowStarts())
	assert.Equal(t, 1, tall.Grid.NumCols())
	assert.Equal(t, 0, tall.LastDiagProcess)

	uneven := results[2]
	assert.Equal(t, 1, uneven.ShapeMap[0][0])
	assert.Equal(t, 6, uneven.ShapeMap[1][0])
	assert.Equal(t, 0, uneven.ShapeMap[2][0])
	assert.Equal(t, 0, uneven.PerProcess[2])

	unsplit := results[3]
	for r := range unsplit.Grid.NumRows() {
		for c := range unsplit.Grid.NumCols() {
			assert.Equal(t, 0, unsplit.Grid.Owner(r, c))
		}
	}

	summary := renderSummary(tall)
	assert.Contains(t, summary, "tall")
	assert.Contains(t, summary, "100 x 10")
	grid := renderGrid(results[1])
	assert.Contains(t, grid, "col 0")

	plotFile := filepath.Join(t.TempDir(), "grid.png")
	require.NoError(t, plotGrid(tall, plotFile))
	info, err := os.Stat(plotFile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestScenarioErrors(t *testing.T) {
	_, err := ParseScenarios([]byte("foo: bar"))
	assert.Error(t, err)
	_, err = ParseScenarios([]byte("scenarios: [}"))
	assert.Error(t, err)

	_, err = Scenario{Name: "bad split", Rows: 4, Cols: 4, Procs: 2, Split: 3, TilesPerProcess: 1}.Run()
	assert.Error(t, err)
	_, err = Scenario{Name: "bad extents", Rows: 4, Cols: 4, Procs: 2, Split: 0, TilesPerProcess: 1,
		Extents: []int{1, 1}}.Run()
	assert.Error(t, err)
	_, err = Scenario{Name: "no procs", Rows: 4, Cols: 4, Split: 0, TilesPerProcess: 1}.Run()
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	extents, err := parseExtents("1, 6,0,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6, 0, 3}, extents)
	_, err = parseExtents("1,x")
	assert.Error(t, err)
	assert.Equal(t, "a.png", plotPath("a.png", 0, 1))
	assert.Equal(t, "a_2.png", plotPath("a.png", 2, 3))
}
