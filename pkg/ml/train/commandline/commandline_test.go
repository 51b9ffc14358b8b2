// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/gomlx/disttile/pkg/ml/train"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func createTestParams() Params {
	return Params{
		"x":          11.0,
		"y":          7,
		"z":          false,
		"s":          "foo",
		"list_int":   []int{},
		"list_float": []float64{},
		"list_str":   []string{},
	}
}

func TestParseSettings(t *testing.T) {
	params := createTestParams()
	paramsSet, err := ParseSettings(params, "x=13;y=1_000;z=true;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z", "s", "list_int", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, Get(params, "x", 0.0))
	assert.Equal(t, 1000, Get(params, "y", 0))
	assert.True(t, Get(params, "z", false))
	assert.Equal(t, "bar", Get(params, "s", ""))
	assert.Equal(t, []int{1, 3, 7}, Get(params, "list_int", []int(nil)))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, Get(params, "list_float", []float64(nil)))
	assert.Equal(t, []string{"a", "b"}, Get(params, "list_str", []string(nil)))
	assert.Equal(t, 5, Get(params, "missing", 5))
	assert.Equal(t, 5, Get(params, "s", 5))

	// Parameter "q" is unknown.
	_, err = ParseSettings(params, "q=3")
	require.Error(t, err)

	// Invalid values.
	_, err = ParseSettings(params, "y=abc")
	require.Error(t, err)
	_, err = ParseSettings(params, "list_int=1,x")
	require.Error(t, err)
	_, err = ParseSettings(params, "x")
	require.Error(t, err)

	// From file.
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# comment\nx=1.5\ny=2;s=baz\n"), 0o644))
	paramsSet, err = ParseSettings(params, "file:"+filePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s"}, paramsSet)
	assert.Equal(t, 1.5, Get(params, "x", 0.0))
	assert.Contains(t, SprintSettings(params), `"s": (string) baz`)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestProgressBar(t *testing.T) {
	group, err := distributed.NewLocalGroup(1)
	require.NoError(t, err)
	var out bytes.Buffer
	err = group.Run(func(comm distributed.Communicator) error {
		model := nn.NewSequential().Add("fc", nn.NewLinear(1, 1, rand.New(rand.NewPCG(1, 0))))
		trainer, err := train.NewTrainer(model, comm, optimizers.SGD().Done(), false)
		if err != nil {
			return err
		}
		defer trainer.Close()
		ds, err := train.NewInMemory("ones", mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{2}))
		if err != nil {
			return err
		}
		loop := train.NewLoop(trainer)
		attachProgressBar(loop, &out, func() (string, string) { return "Extra", "42" })
		_, err = loop.RunSteps(ds.Infinite(true), 5)
		return err
	})
	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "Global Step")
	assert.Contains(t, text, "5 of 5")
	assert.Contains(t, text, "Extra")
	assert.Contains(t, text, "Gradient sync")
	assert.Contains(t, text, "blocking")
}
