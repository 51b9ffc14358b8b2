// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nn is a small eager neural network library: parameters with gradients and gradient hooks, a few layers
// with hand-written backward passes, and a Sequential container with per-layer pre-forward hooks.
//
// It is not an automatic differentiation engine: each Layer implements its own Backward.
package nn

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GradHook is called with the flattened (row-major) gradient of a parameter, as soon as it is computed by the
// backward pass and before it is accumulated into the parameter's gradient.
//
// It may modify grad in place. If it returns a non-nil slice of the same length, that slice replaces the
// gradient passed on to later hooks and accumulated. An error aborts the backward pass.
type GradHook func(grad []float64) ([]float64, error)

// Parameter is a trainable matrix and its gradient.
type Parameter struct {
	name  string
	value *mat.Dense
	grad  *mat.Dense

	hooks      map[int]GradHook
	hookOrder  []int
	nextHookID int
}

// NewParameter creates a parameter with the given name and initial value. The value is used as is, not copied.
func NewParameter(name string, value *mat.Dense) *Parameter {
	return &Parameter{name: name, value: value, hooks: make(map[int]GradHook)}
}

// Name of the parameter. Within a Sequential module it is prefixed by the layer name, as in "fc1.weight".
func (p *Parameter) Name() string {
	return p.name
}

// Size is the number of elements of the parameter.
func (p *Parameter) Size() int {
	rows, cols := p.value.Dims()
	return rows * cols
}

// Value returns the parameter's current value.
func (p *Parameter) Value() *mat.Dense {
	return p.value
}

// Grad returns the parameter's gradient, or nil if no gradient was computed since the last ZeroGrad.
func (p *Parameter) Grad() *mat.Dense {
	return p.grad
}

// SetGrad overwrites the gradient with the flattened values in data.
func (p *Parameter) SetGrad(data []float64) error {
	if len(data) != p.Size() {
		return errors.Errorf("parameter %q: SetGrad with %d values, expected %d", p.name, len(data), p.Size())
	}
	rows, cols := p.value.Dims()
	p.grad = mat.NewDense(rows, cols, slices.Clone(data))
	return nil
}

// AddGrad adds the flattened values in data to the gradient. Hooks are not called.
func (p *Parameter) AddGrad(data []float64) error {
	if p.grad == nil {
		return p.SetGrad(data)
	}
	if len(data) != p.Size() {
		return errors.Errorf("parameter %q: AddGrad with %d values, expected %d", p.name, len(data), p.Size())
	}
	grad := p.grad.RawMatrix().Data
	for i := range grad {
		grad[i] += data[i]
	}
	return nil
}

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// RegisterHook adds a gradient hook. Hooks are called in registration order.
// It returns a function that removes the hook.
func (p *Parameter) RegisterHook(hook GradHook) (remove func()) {
	id := p.nextHookID
	p.nextHookID++
	p.hooks[id] = hook
	p.hookOrder = append(p.hookOrder, id)
	return func() {
		delete(p.hooks, id)
		p.hookOrder = slices.DeleteFunc(p.hookOrder, func(e int) bool { return e == id })
	}
}

// accumulate passes a freshly computed gradient through the hooks and adds it to the parameter's gradient.
func (p *Parameter) accumulate(grad *mat.Dense) error {
	data := slices.Clone(mat.DenseCopyOf(grad).RawMatrix().Data)
	for _, id := range slices.Clone(p.hookOrder) {
		hook, found := p.hooks[id]
		if !found {
			continue
		}
		replaced, err := hook(data)
		if err != nil {
			return errors.WithMessagef(err, "gradient hook of parameter %q", p.name)
		}
		if replaced != nil && len(replaced) == len(data) {
			data = replaced
		}
	}
	rows, cols := p.value.Dims()
	update := mat.NewDense(rows, cols, data)
	if p.grad == nil {
		p.grad = update
		return nil
	}
	p.grad.Add(p.grad, update)
	return nil
}
