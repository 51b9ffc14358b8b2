// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/disttile/pkg/ml/train/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	for _, settings := range []string{
		"steps=200;optimizer=adam;non_blocking=true;num_examples=256",
		"steps=200;optimizer=sgd;learning_rate=0.02;momentum=0.5;non_blocking=false;num_examples=256",
		"steps=200;optimizer=sgd;learning_rate=0.1;cosine_period=-1;num_examples=256;hidden_dims=16",
	} {
		t.Run(settings, func(t *testing.T) {
			params := defaultParams()
			_, err := commandline.ParseSettings(params, settings)
			require.NoError(t, err)
			summary, err := run(params, 3, false)
			require.NoError(t, err)
			assert.Equal(t, 3, summary.Procs)
			assert.Equal(t, 200, summary.Steps)
			assert.Less(t, summary.EvalLoss, summary.InitialEvalLoss)
			assert.Contains(t, summary.String(), "eval loss (after)")
		})
	}
}

func TestRunErrors(t *testing.T) {
	params := defaultParams()
	_, err := commandline.ParseSettings(params, "optimizer=lbfgs;steps=1")
	require.NoError(t, err)
	_, err = run(params, 2, false)
	assert.ErrorContains(t, err, "unknown optimizer")

	params = defaultParams()
	_, err = commandline.ParseSettings(params, "num_examples=10")
	require.NoError(t, err)
	_, err = run(params, 4, false)
	assert.Error(t, err)
}
