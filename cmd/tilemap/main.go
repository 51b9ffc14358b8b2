// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// tilemap simulates a group of processes holding a distributed matrix, builds its diagonal tiling, and prints
// the resulting tile grid.
//
// Usage:
//
//	tilemap -rows=100 -cols=10 -procs=3 -split=0 -tiles=2
//	tilemap -scenarios=scenarios.yaml -plot=grid.png
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/disttile/pkg/core/tiling"
)

var (
	flagRows    = flag.Int("rows", 12, "Global number of rows of the matrix.")
	flagCols    = flag.Int("cols", 12, "Global number of columns of the matrix.")
	flagProcs   = flag.Int("procs", 3, "Number of simulated processes.")
	flagSplit   = flag.Int("split", 0, "Axis along which the matrix is distributed: 0 (rows), 1 (columns) or -1 (not split).")
	flagTiles   = flag.Int("tiles", tiling.DefaultTilesPerProcess, "Tiles per process along the diagonal.")
	flagExtents = flag.String("extents", "",
		"Optional comma-separated local extents of each process along the split axis. Default is an even split.")

	flagScenarios = flag.String("scenarios", "", "YAML file with a list of scenarios to run. "+
		"If set, -rows, -cols, -procs, -split, -tiles and -extents are ignored.")
	flagPlot = flag.String("plot", "", "If set, saves a plot of the tile grid to this file (PNG, SVG, PDF). "+
		"With several scenarios, the scenario index is appended to the file name.")
	flagGrid = flag.Bool("grid", true, "Print the table of tiles.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var scenarios []Scenario
	if *flagScenarios != "" {
		scenarios = must.M1(LoadScenarios(*flagScenarios))
	} else {
		scenarios = []Scenario{{
			Name:            "command-line",
			Rows:            *flagRows,
			Cols:            *flagCols,
			Procs:           *flagProcs,
			Split:           *flagSplit,
			TilesPerProcess: *flagTiles,
			Extents:         must.M1(parseExtents(*flagExtents)),
		}}
	}

	failed := false
	for idx, scenario := range scenarios {
		result, err := scenario.Run()
		if err != nil {
			klog.Errorf("%+v", err)
			failed = true
			continue
		}
		fmt.Println(renderSummary(result))
		if *flagGrid {
			fmt.Println(renderGrid(result))
		}
		if *flagPlot != "" {
			path := plotPath(*flagPlot, idx, len(scenarios))
			must.M(plotGrid(result, path))
			klog.Infof("plot of %q saved to %s", scenario.Name, path)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// parseExtents parses a comma-separated list of ints.
func parseExtents(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	extents := make([]int, len(parts))
	for i, part := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &extents[i]); err != nil {
			return nil, errors.Wrapf(err, "invalid extent %q in -extents=%q", part, s)
		}
	}
	return extents, nil
}

// plotPath returns the plot file for scenario idx: the index is inserted before the extension when there are
// several scenarios.
func plotPath(path string, idx, numScenarios int) string {
	if numScenarios == 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), idx, ext)
}
