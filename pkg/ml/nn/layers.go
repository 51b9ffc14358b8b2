// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Layer is one step of a Sequential module.
//
// Forward caches whatever Backward needs, so Backward must be called after the matching Forward.
type Layer interface {
	// Forward computes the output for a batch of inputs, one example per row.
	Forward(x *mat.Dense) (*mat.Dense, error)

	// Backward takes the gradient of the loss with respect to the output of the last Forward, accumulates the
	// gradients of the layer's parameters (firing their hooks), and returns the gradient with respect to the input.
	Backward(gradOutput *mat.Dense) (*mat.Dense, error)

	// Parameters of the layer, in a stable order.
	Parameters() []*Parameter
}

// Linear is a fully connected layer: y = x * W + b.
type Linear struct {
	Weight, Bias *Parameter

	input *mat.Dense
}

var _ Layer = (*Linear)(nil)

// NewLinear creates a Linear layer with Glorot-uniform initialized weights and zero biases.
// Its parameters are named "weight" and "bias".
func NewLinear(inputDim, outputDim int, rng *rand.Rand) *Linear {
	limit := math.Sqrt(6.0 / float64(inputDim+outputDim))
	weights := make([]float64, inputDim*outputDim)
	for i := range weights {
		weights[i] = (2*rng.Float64() - 1) * limit
	}
	return &Linear{
		Weight: NewParameter("weight", mat.NewDense(inputDim, outputDim, weights)),
		Bias:   NewParameter("bias", mat.NewDense(1, outputDim, nil)),
	}
}

// Forward implements Layer.
func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	_, inputDim := x.Dims()
	weightRows, outputDim := l.Weight.Value().Dims()
	if inputDim != weightRows {
		return nil, errors.Errorf("Linear: input has %d features, expected %d", inputDim, weightRows)
	}
	batchSize, _ := x.Dims()
	out := mat.NewDense(batchSize, outputDim, nil)
	out.Mul(x, l.Weight.Value())
	bias := l.Bias.Value().RawRowView(0)
	for i := range batchSize {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	l.input = x
	return out, nil
}

// Backward implements Layer.
func (l *Linear) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, errors.New("Linear: Backward called before Forward")
	}
	inputRows, inputDim := l.input.Dims()
	_, outputDim := l.Weight.Value().Dims()
	gradRows, gradCols := gradOutput.Dims()
	if gradRows != inputRows || gradCols != outputDim {
		return nil, errors.Errorf("Linear: output gradient is %dx%d, expected %dx%d",
			gradRows, gradCols, inputRows, outputDim)
	}

	gradWeight := mat.NewDense(inputDim, outputDim, nil)
	gradWeight.Mul(l.input.T(), gradOutput)
	gradBias := mat.NewDense(1, outputDim, nil)
	for j := range outputDim {
		gradBias.Set(0, j, mat.Sum(gradOutput.ColView(j)))
	}
	gradInput := mat.NewDense(inputRows, inputDim, nil)
	gradInput.Mul(gradOutput, l.Weight.Value().T())

	if err := l.Bias.accumulate(gradBias); err != nil {
		return nil, err
	}
	if err := l.Weight.accumulate(gradWeight); err != nil {
		return nil, err
	}
	return gradInput, nil
}

// Parameters implements Layer.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// ReLU is the rectified linear activation, max(x, 0).
type ReLU struct {
	input *mat.Dense
}

var _ Layer = (*ReLU)(nil)

// Forward implements Layer.
func (r *ReLU) Forward(x *mat.Dense) (*mat.Dense, error) {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, out)
	r.input = x
	return out, nil
}

// Backward implements Layer.
func (r *ReLU) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if r.input == nil {
		return nil, errors.New("ReLU: Backward called before Forward")
	}
	gradInput := mat.DenseCopyOf(gradOutput)
	gradInput.Apply(func(i, j int, v float64) float64 {
		if r.input.At(i, j) > 0 {
			return v
		}
		return 0
	}, gradInput)
	return gradInput, nil
}

// Parameters implements Layer. ReLU has none.
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// MSE returns the mean squared error between predictions and targets, averaged over all elements, and its
// gradient with respect to predictions.
func MSE(predictions, targets *mat.Dense) (loss float64, grad *mat.Dense, err error) {
	rows, cols := predictions.Dims()
	targetRows, targetCols := targets.Dims()
	if rows != targetRows || cols != targetCols {
		return 0, nil, errors.Errorf("MSE: predictions are %dx%d, targets are %dx%d", rows, cols, targetRows, targetCols)
	}
	n := float64(rows * cols)
	grad = mat.NewDense(rows, cols, nil)
	grad.Sub(predictions, targets)
	for i := range rows {
		for j := range cols {
			d := grad.At(i, j)
			loss += d * d
		}
	}
	grad.Scale(2/n, grad)
	return loss / n, grad, nil
}
