// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestModel() *Sequential {
	rng := rand.New(rand.NewPCG(42, 0))
	return NewSequential().
		Add("fc1", NewLinear(3, 4, rng)).
		Add("act", &ReLU{}).
		Add("fc2", NewLinear(4, 1, rng))
}

func modelLoss(t *testing.T, model *Sequential, x, y *mat.Dense) float64 {
	pred, err := model.Forward(x)
	require.NoError(t, err)
	loss, _, err := MSE(pred, y)
	require.NoError(t, err)
	return loss
}

func TestSequential(t *testing.T) {
	model := newTestModel()
	var names []string
	for _, p := range model.Parameters() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"fc1.weight", "fc1.bias", "fc2.weight", "fc2.bias"}, names)
	assert.True(t, model.Training())
	assert.Nil(t, model.Layer("missing"))
	assert.NotNil(t, model.Layer("act"))

	t.Run("Gradients", func(t *testing.T) {
		x := mat.NewDense(5, 3, []float64{
			0.1, 0.2, 0.3,
			-1, 0.5, 2,
			0.3, -0.7, 0.1,
			1, 1, 1,
			-0.2, 0.4, -0.6,
		})
		y := mat.NewDense(5, 1, []float64{1, -1, 0.5, 2, 0})
		pred, err := model.Forward(x)
		require.NoError(t, err)
		_, grad, err := MSE(pred, y)
		require.NoError(t, err)
		require.NoError(t, model.Backward(grad))

		// Compare with finite differences.
		const eps = 1e-6
		for _, p := range model.Parameters() {
			require.NotNil(t, p.Grad(), p.Name())
			rows, cols := p.Value().Dims()
			for i := range rows {
				for j := range cols {
					original := p.Value().At(i, j)
					p.Value().Set(i, j, original+eps)
					plus := modelLoss(t, model, x, y)
					p.Value().Set(i, j, original-eps)
					minus := modelLoss(t, model, x, y)
					p.Value().Set(i, j, original)
					assert.InDelta(t, (plus-minus)/(2*eps), p.Grad().At(i, j), 1e-5, "%s[%d, %d]", p.Name(), i, j)
				}
			}
			p.ZeroGrad()
			assert.Nil(t, p.Grad())
		}
	})

	t.Run("Hooks", func(t *testing.T) {
		x := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
		var order []string
		removeFc2, err := model.RegisterPreForwardHook("fc2", func() error {
			order = append(order, "fc2")
			return nil
		})
		require.NoError(t, err)
		removeFc1, err := model.RegisterPreForwardHook("fc1", func() error {
			order = append(order, "fc1")
			return nil
		})
		require.NoError(t, err)
		_, err = model.Forward(x)
		require.NoError(t, err)
		assert.Equal(t, []string{"fc1", "fc2"}, order)

		removeFc1()
		removeFc2()
		order = nil
		_, err = model.Forward(x)
		require.NoError(t, err)
		assert.Empty(t, order)

		_, err = model.RegisterPreForwardHook("nope", func() error { return nil })
		assert.Error(t, err)

		failure := errors.New("not ready")
		remove, err := model.RegisterPreForwardHook("fc2", func() error { return failure })
		require.NoError(t, err)
		_, err = model.Forward(x)
		assert.ErrorIs(t, err, failure)
		remove()
	})

	t.Run("GradHooks", func(t *testing.T) {
		x := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
		var fired []string
		var removes []func()
		for _, p := range model.Parameters() {
			removes = append(removes, p.RegisterHook(func(grad []float64) ([]float64, error) {
				fired = append(fired, p.Name())
				if p.Name() == "fc2.bias" {
					return []float64{7}, nil
				}
				return nil, nil
			}))
		}
		pred, err := model.Forward(x)
		require.NoError(t, err)
		require.NoError(t, model.Backward(pred))
		// Backward goes from the last layer to the first.
		assert.Equal(t, []string{"fc2.bias", "fc2.weight", "fc1.bias", "fc1.weight"}, fired)
		assert.Equal(t, 7.0, model.Parameters()[3].Grad().At(0, 0))
		for _, remove := range removes {
			remove()
		}
	})
}

func TestParameter(t *testing.T) {
	p := NewParameter("w", mat.NewDense(2, 2, nil))
	assert.Equal(t, 4, p.Size())
	require.Error(t, p.SetGrad([]float64{1}))
	require.NoError(t, p.SetGrad([]float64{1, 2, 3, 4}))
	assert.Equal(t, 3.0, p.Grad().At(1, 0))

	// Gradients accumulate.
	require.NoError(t, p.accumulate(mat.NewDense(2, 2, []float64{1, 1, 1, 1})))
	assert.Equal(t, []float64{2, 3, 4, 5}, p.Grad().RawMatrix().Data)
	require.NoError(t, p.AddGrad([]float64{-2, -3, -4, -5}))
	assert.Equal(t, []float64{0, 0, 0, 0}, p.Grad().RawMatrix().Data)

	failure := errors.New("hook failed")
	remove := p.RegisterHook(func([]float64) ([]float64, error) { return nil, failure })
	assert.ErrorIs(t, p.accumulate(mat.NewDense(2, 2, nil)), failure)
	remove()
	assert.NoError(t, p.accumulate(mat.NewDense(2, 2, nil)))
}

func TestMSE(t *testing.T) {
	loss, grad, err := MSE(mat.NewDense(1, 2, []float64{1, 3}), mat.NewDense(1, 2, []float64{0, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, loss, 1e-12)
	assert.Equal(t, []float64{1, 2}, grad.RawMatrix().Data)
	_, _, err = MSE(mat.NewDense(1, 2, nil), mat.NewDense(2, 1, nil))
	assert.Error(t, err)
}
