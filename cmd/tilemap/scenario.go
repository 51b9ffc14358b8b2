// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/core/tiling"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Scenario describes one tiling to simulate.
type Scenario struct {
	Name            string `yaml:"name"`
	Rows            int    `yaml:"rows"`
	Cols            int    `yaml:"cols"`
	Procs           int    `yaml:"procs"`
	Split           int    `yaml:"split"`
	TilesPerProcess int    `yaml:"tiles_per_process"`

	// Extents optionally gives the local extent of each process along the split axis. By default, the matrix
	// is chunked evenly.
	Extents []int `yaml:"extents,omitempty"`

	// Config overrides. Zero values keep the defaults.
	MinTileSize       int     `yaml:"min_tile_size,omitempty"`
	ExtraRowThreshold int     `yaml:"extra_row_threshold,omitempty"`
	ExtraRowTiles     int     `yaml:"extra_row_tiles,omitempty"`
	ExcessFraction    float64 `yaml:"excess_fraction,omitempty"`
}

// scenarioFile is the layout of the -scenarios YAML file.
type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads the scenarios of a YAML file.
func LoadScenarios(path string) ([]Scenario, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenarios from %q", path)
	}
	return ParseScenarios(contents)
}

// ParseScenarios parses YAML scenarios. Missing tiles_per_process default to tiling.DefaultTilesPerProcess.
func ParseScenarios(contents []byte) ([]Scenario, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, errors.Wrap(err, "parsing scenarios")
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("no scenarios found: expected a top-level \"scenarios\" list")
	}
	for i := range file.Scenarios {
		s := &file.Scenarios[i]
		if s.TilesPerProcess == 0 {
			s.TilesPerProcess = tiling.DefaultTilesPerProcess
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("scenario #%d", i)
		}
	}
	return file.Scenarios, nil
}

// config returns the partitioner configuration with the scenario's overrides.
func (s Scenario) config() tiling.Config {
	cfg := tiling.DefaultConfig()
	if s.MinTileSize != 0 {
		cfg.MinTileSize = s.MinTileSize
	}
	if s.ExtraRowThreshold != 0 {
		cfg.ExtraRowThreshold = s.ExtraRowThreshold
	}
	if s.ExtraRowTiles != 0 {
		cfg.ExtraRowTiles = s.ExtraRowTiles
	}
	if s.ExcessFraction != 0 {
		cfg.ExcessFraction = s.ExcessFraction
	}
	return cfg
}

// Result of simulating a scenario, as seen by every rank.
type Result struct {
	Scenario        Scenario
	Grid            tiling.Grid
	PerProcess      []int
	ShapeMap        tiling.ShapeMap
	LastDiagProcess int
}

// Run simulates the scenario with one goroutine per process, and returns the tiling built.
func (s Scenario) Run() (*Result, error) {
	split := distributed.Split(s.Split)
	if err := split.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", s.Name)
	}
	group, err := distributed.NewLocalGroup(s.Procs)
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", s.Name)
	}
	results := make([]*Result, s.Procs)
	err = group.Run(func(comm distributed.Communicator) error {
		m, err := distributed.Zeros(comm, s.Rows, s.Cols, split)
		if err != nil {
			return err
		}
		if len(s.Extents) > 0 {
			if err = redistribute(m, s.Extents); err != nil {
				return err
			}
		}
		tiles, err := tiling.NewBuilder(m).TilesPerProcess(s.TilesPerProcess).Config(s.config()).Done()
		if err != nil {
			return err
		}
		results[comm.Rank()] = &Result{
			Scenario:        s,
			Grid:            tiles.Grid(),
			PerProcess:      tiles.Counts().PerProcess(),
			ShapeMap:        tiles.ShapeMap(),
			LastDiagProcess: tiles.LastDiagonalProcess(),
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", s.Name)
	}
	klog.V(1).Infof("scenario %q: %d x %d tiles", s.Name, results[0].Grid.NumRows(), results[0].Grid.NumCols())
	return results[distributed.Root], nil
}

// redistribute moves the matrix from its balanced layout to the given local extents along the split axis.
func redistribute(m *distributed.Matrix, extents []int) error {
	comm := m.Comm()
	if len(extents) != comm.Size() {
		return errors.Errorf("%d extents given for %d processes", len(extents), comm.Size())
	}
	current, err := m.ShapeMap()
	if err != nil {
		return err
	}
	rows, cols := m.Shape()
	target := make(distributed.ShapeMap, len(extents))
	for p, extent := range extents {
		target[p] = [2]int{rows, cols}
		target[p][m.Split().Axis()] = extent
	}
	return m.Redistribute(current, target)
}
