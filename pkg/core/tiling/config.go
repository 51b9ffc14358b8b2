// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import "github.com/pkg/errors"

// Config holds the tuning constants of the partitioner.
// They have no derivation beyond "works well in practice", so they are configurable.
type Config struct {
	// MinTileSize is the smallest extent a tile on the last diagonal process (or an extra row tile) is
	// allowed to have before the number of tiles is reduced.
	MinTileSize int

	// ExtraRowThreshold: when the matrix is split along the columns and has more rows than columns, the rows past
	// the diagonal become tiles of their own only if there are more than ExtraRowThreshold of them. Otherwise, they
	// are merged into the last row tile.
	ExtraRowThreshold int

	// ExtraRowTiles is the number of tiles the rows past the diagonal are split into, in the case above.
	ExtraRowTiles int

	// ExcessFraction: when the matrix is split along the rows and has more rows than columns, the rows past the
	// diagonal on the last diagonal process become an extra tile only if they are more than
	// ExcessFraction * (the process's local rows). Otherwise, they are merged into its last tile.
	ExcessFraction float64
}

// DefaultConfig returns the default partitioner configuration.
func DefaultConfig() Config {
	return Config{
		MinTileSize:       2,
		ExtraRowThreshold: 10,
		ExtraRowTiles:     1,
		ExcessFraction:    0.5,
	}
}

// Validate returns an error if any of the values is out of range.
func (c Config) Validate() error {
	if c.MinTileSize < 1 {
		return errors.Wrapf(ErrInvalidArgument, "Config.MinTileSize must be >= 1, got %d", c.MinTileSize)
	}
	if c.ExtraRowThreshold < 0 {
		return errors.Wrapf(ErrInvalidArgument, "Config.ExtraRowThreshold must be >= 0, got %d", c.ExtraRowThreshold)
	}
	if c.ExtraRowTiles < 1 {
		return errors.Wrapf(ErrInvalidArgument, "Config.ExtraRowTiles must be >= 1, got %d", c.ExtraRowTiles)
	}
	if c.ExcessFraction < 0 {
		return errors.Wrapf(ErrInvalidArgument, "Config.ExcessFraction must be >= 0, got %g", c.ExcessFraction)
	}
	return nil
}
