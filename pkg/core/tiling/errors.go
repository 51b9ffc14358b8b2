// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned for malformed input: nil or empty matrices, invalid tile counts or keys,
	// inconsistent shape maps.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCrossProcessSlice is returned when a selection covers tiles owned by more than one process.
	// The caller must narrow the selection.
	ErrCrossProcessSlice = errors.New("selection spans tiles of more than one process")

	// ErrShapeMismatch is returned when two tilings (or a tile and a value) have incompatible shapes.
	ErrShapeMismatch = errors.New("shape mismatch")
)
