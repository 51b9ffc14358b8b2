// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Module is a trainable computation made of named layers.
type Module interface {
	// Parameters returns every parameter, grouped by layer, in a stable order.
	Parameters() []*Parameter

	// RegisterPreForwardHook adds a hook run right before the named layer computes its forward pass.
	// It returns a function that removes the hook. A hook error aborts the forward pass.
	RegisterPreForwardHook(layer string, hook func() error) (remove func(), err error)

	// Training returns whether the module is in training mode.
	Training() bool

	// Forward runs the module on a batch of inputs, one example per row.
	Forward(x *mat.Dense) (*mat.Dense, error)
}

type namedLayer struct {
	name  string
	layer Layer
	hooks []*preForwardHook
}

type preForwardHook struct {
	fn func() error
}

// Sequential is a Module that chains named layers.
type Sequential struct {
	layers   []*namedLayer
	training bool
}

var _ Module = (*Sequential)(nil)

// NewSequential creates an empty Sequential module, in training mode.
func NewSequential() *Sequential {
	return &Sequential{training: true}
}

// Add appends a layer. Its parameters are renamed to "<name>.<parameter name>".
// It returns the module, so calls can be cascaded.
func (s *Sequential) Add(name string, layer Layer) *Sequential {
	for _, p := range layer.Parameters() {
		p.name = name + "." + p.name
	}
	s.layers = append(s.layers, &namedLayer{name: name, layer: layer})
	return s
}

// Layer returns the layer with the given name, or nil.
func (s *Sequential) Layer(name string) Layer {
	if nl := s.find(name); nl != nil {
		return nl.layer
	}
	return nil
}

func (s *Sequential) find(name string) *namedLayer {
	for _, nl := range s.layers {
		if nl.name == name {
			return nl
		}
	}
	return nil
}

// Parameters implements Module.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, nl := range s.layers {
		params = append(params, nl.layer.Parameters()...)
	}
	return params
}

// SetTraining sets the training mode.
func (s *Sequential) SetTraining(training bool) {
	s.training = training
}

// Training implements Module.
func (s *Sequential) Training() bool {
	return s.training
}

// RegisterPreForwardHook implements Module.
func (s *Sequential) RegisterPreForwardHook(layer string, hook func() error) (remove func(), err error) {
	nl := s.find(layer)
	if nl == nil {
		return nil, errors.Errorf("Sequential: unknown layer %q", layer)
	}
	h := &preForwardHook{fn: hook}
	nl.hooks = append(nl.hooks, h)
	return func() {
		nl.hooks = slices.DeleteFunc(nl.hooks, func(e *preForwardHook) bool { return e == h })
	}, nil
}

// Forward implements Module.
func (s *Sequential) Forward(x *mat.Dense) (*mat.Dense, error) {
	var err error
	for _, nl := range s.layers {
		for _, h := range slices.Clone(nl.hooks) {
			if err = h.fn(); err != nil {
				return nil, errors.WithMessagef(err, "pre-forward hook of layer %q", nl.name)
			}
		}
		x, err = nl.layer.Forward(x)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %q", nl.name)
		}
	}
	return x, nil
}

// Backward runs the backward pass from the gradient of the loss with respect to the output of the last Forward.
// Layers are visited in reverse order, and each parameter's gradient hooks fire as soon as its gradient is ready.
func (s *Sequential) Backward(gradOutput *mat.Dense) error {
	var err error
	for _, nl := range slices.Backward(s.layers) {
		gradOutput, err = nl.layer.Backward(gradOutput)
		if err != nil {
			return errors.WithMessagef(err, "backward of layer %q", nl.name)
		}
	}
	return nil
}
