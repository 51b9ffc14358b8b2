// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataparallel averages gradients across the processes of a data-parallel training job.
//
// Every process runs the same model on a different slice of the data. A Synchronizer hooks into each parameter's
// gradient and averages it over all processes, in one of two modes:
//
//   - Blocking (no optimizer given to New): each gradient is averaged with a synchronous all-reduce as soon as it is
//     computed. When Backward returns, every gradient holds the global average, and the caller runs the optimizer.
//   - Non-blocking (WithOptimizer): each gradient starts an asynchronous all-reduce and the backward pass goes on.
//     The reductions are only waited for right before the next Forward reaches the layer that uses them, at which
//     point the optimizer updates that layer's parameters. Communication of late layers overlaps with the backward
//     computation of earlier ones.
//
// Parameters are grouped in layers by the first segment of their name ("fc1" for "fc1.weight").
package dataparallel

import (
	"slices"
	"strings"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers"
	"github.com/gomlx/disttile/pkg/support/sets"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// ErrInvalidArgument is returned by New for modules it can't synchronize.
var ErrInvalidArgument = errors.New("invalid argument")

// Synchronizer wraps a module and averages its gradients across the processes of a Communicator.
//
// It is used by a single goroutine, as is the Communicator.
type Synchronizer struct {
	module    nn.Module
	comm      distributed.Communicator
	optimizer optimizers.Interface

	params []*nn.Parameter

	// layers in module order, and the range of params of each.
	layers      []string
	layerRanges map[string][2]int

	// queues of reductions in flight per layer, reset after every training forward pass.
	queues map[string]*WaitQueue

	removeHooks []func()
}

// Option configures a Synchronizer.
type Option func(s *Synchronizer)

// WithOptimizer switches the Synchronizer to non-blocking mode: the optimizer is run by the Synchronizer, one layer
// at a time, during the next forward pass.
func WithOptimizer(optimizer optimizers.Interface) Option {
	return func(s *Synchronizer) {
		s.optimizer = optimizer
	}
}

// LayerName returns the layer a parameter belongs to: the first segment of its dot-separated name.
func LayerName(paramName string) string {
	layer, _, _ := strings.Cut(paramName, ".")
	return layer
}

// New creates a Synchronizer for module and registers its gradient hooks.
//
// The module must list its parameters grouped by layer. Call Close to remove the hooks.
func New(module nn.Module, comm distributed.Communicator, options ...Option) (*Synchronizer, error) {
	if module == nil || comm == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "dataparallel.New: nil module or communicator")
	}
	s := &Synchronizer{
		module:      module,
		comm:        comm,
		params:      module.Parameters(),
		layerRanges: make(map[string][2]int),
		queues:      make(map[string]*WaitQueue),
	}
	for _, option := range options {
		option(s)
	}
	if len(s.params) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "dataparallel.New: module has no parameters")
	}

	start := 0
	seen := sets.Make[*nn.Parameter](len(s.params))
	for idx, p := range s.params {
		if seen.Has(p) {
			return nil, errors.Wrapf(ErrInvalidArgument, "dataparallel.New: parameter %q listed twice", p.Name())
		}
		seen.Insert(p)
		layer := LayerName(p.Name())
		if idx > 0 && layer == LayerName(s.params[idx-1].Name()) {
			continue
		}
		if _, found := s.layerRanges[layer]; found {
			return nil, errors.Wrapf(ErrInvalidArgument,
				"dataparallel.New: parameters of layer %q are not contiguous (%q)", layer, p.Name())
		}
		if idx > 0 {
			s.closeRange(start, idx)
		}
		s.layers = append(s.layers, layer)
		s.layerRanges[layer] = [2]int{idx, idx}
		start = idx
	}
	s.closeRange(start, len(s.params))

	for _, p := range s.params {
		var hook nn.GradHook
		if s.optimizer != nil {
			hook = s.nonBlockingHook(p, LayerName(p.Name()))
		} else {
			hook = s.blockingHook
		}
		s.removeHooks = append(s.removeHooks, p.RegisterHook(hook))
	}
	klog.V(1).Infof("dataparallel: rank %d/%d, non-blocking=%v, layers %v",
		comm.Rank(), comm.Size(), s.NonBlocking(), s.layers)
	return s, nil
}

func (s *Synchronizer) closeRange(start, end int) {
	layer := LayerName(s.params[start].Name())
	s.layerRanges[layer] = [2]int{start, end}
}

// NonBlocking returns whether the Synchronizer runs in non-blocking mode.
func (s *Synchronizer) NonBlocking() bool {
	return s.optimizer != nil
}

// Layers returns the layer names, in module order.
func (s *Synchronizer) Layers() []string {
	return slices.Clone(s.layers)
}

// LayerParameters returns the parameters of a layer, or nil if there is no such layer.
func (s *Synchronizer) LayerParameters(layer string) []*nn.Parameter {
	r, found := s.layerRanges[layer]
	if !found {
		return nil
	}
	return s.params[r[0]:r[1]:r[1]]
}

// Pending returns the sizes of the reductions in flight for layer, in the order they will be waited for.
func (s *Synchronizer) Pending(layer string) []int {
	q, found := s.queues[layer]
	if !found {
		return nil
	}
	return q.Sizes()
}

// Close removes the gradient hooks. Reductions still in flight are dropped.
func (s *Synchronizer) Close() {
	for _, remove := range s.removeHooks {
		remove()
	}
	s.removeHooks = nil
	s.queues = make(map[string]*WaitQueue)
}

// scale multiplies grad in place by 1/(number of processes), so that the sum-reduction yields the average.
func (s *Synchronizer) scale(grad []float64) {
	factor := 1 / float64(s.comm.Size())
	for i := range grad {
		grad[i] *= factor
	}
}

// blockingHook averages the gradient across processes before returning it.
func (s *Synchronizer) blockingHook(grad []float64) ([]float64, error) {
	s.scale(grad)
	if err := s.comm.AllReduce(distributed.OpSum, grad); err != nil {
		return nil, errors.WithMessage(err, "dataparallel: averaging gradient")
	}
	return grad, nil
}

// nonBlockingHook starts the averaging of a copy of the gradient, queues it for layer, and returns the local
// gradient unchanged.
func (s *Synchronizer) nonBlockingHook(param *nn.Parameter, layer string) nn.GradHook {
	return func(grad []float64) ([]float64, error) {
		buffer := slices.Clone(grad)
		s.scale(buffer)
		req, err := s.comm.IAllReduce(distributed.OpSum, buffer)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataparallel: starting the averaging of %q", param.Name())
		}
		q, found := s.queues[layer]
		if !found {
			q = &WaitQueue{}
			s.queues[layer] = q
		}
		q.insert(pendingReduction{size: len(grad), param: param, buffer: buffer, req: req})
		klog.V(2).Infof("dataparallel: rank %d queued %q (%d values) in layer %q", s.comm.Rank(), param.Name(),
			len(grad), layer)
		return grad, nil
	}
}

// applyLayer waits for the reductions of layer and runs the optimizer on its parameters.
func (s *Synchronizer) applyLayer(layer string) error {
	q, found := s.queues[layer]
	if !found {
		return nil
	}
	delete(s.queues, layer)
	if err := q.drain(); err != nil {
		return err
	}
	klog.V(2).Infof("dataparallel: rank %d updating layer %q", s.comm.Rank(), layer)
	params := s.LayerParameters(layer)
	if err := s.optimizer.Step(params); err != nil {
		return err
	}
	s.optimizer.ZeroGrad(params)
	return nil
}

// Forward runs the module.
//
// In non-blocking mode and while training, it first clears the gradients and installs, for every layer with
// reductions in flight, a hook that waits for them and updates the layer's parameters right before the layer runs.
// The hooks and any reductions they didn't consume are discarded afterward.
//
// In non-blocking mode and in evaluation mode, it first waits for every reduction in flight and applies the
// updates, as Flush does, so the evaluated parameters include the last training step and no queue outlives the
// call.
func (s *Synchronizer) Forward(x *mat.Dense) (*mat.Dense, error) {
	if s.optimizer == nil {
		return s.module.Forward(x)
	}
	if !s.module.Training() {
		if len(s.queues) > 0 {
			if err := s.Flush(); err != nil {
				return nil, errors.WithMessage(err, "dataparallel: applying pending updates before evaluation")
			}
		}
		return s.module.Forward(x)
	}
	s.optimizer.ZeroGrad(s.params)
	var removes []func()
	defer func() {
		for _, remove := range removes {
			remove()
		}
		clear(s.queues)
	}()
	for _, layer := range s.layers {
		if _, found := s.queues[layer]; !found {
			continue
		}
		remove, err := s.module.RegisterPreForwardHook(layer, func() error {
			return s.applyLayer(layer)
		})
		if err != nil {
			return nil, err
		}
		removes = append(removes, remove)
	}
	return s.module.Forward(x)
}

// Flush waits for every reduction in flight and applies the optimizer, layer by layer. In non-blocking mode it
// should be called after the last backward pass, whose updates would otherwise only be applied by the next Forward.
func (s *Synchronizer) Flush() error {
	if s.optimizer == nil {
		return nil
	}
	pending := make([]string, 0, len(s.queues))
	for _, layer := range s.layers {
		if _, found := s.queues[layer]; found {
			pending = append(pending, layer)
		}
	}
	s.optimizer.ZeroGrad(s.params)
	for _, layer := range pending {
		if err := s.applyLayer(layer); err != nil {
			return err
		}
	}
	return nil
}

// BlockingGradUpdate averages every gradient with blocking all-reduces and applies a plain gradient descent step
// with the given learning rate. It is a simple reference path, to be used with gradients that were not already
// averaged by the hooks.
func (s *Synchronizer) BlockingGradUpdate(learningRate float64) error {
	for _, p := range s.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		data := grad.RawMatrix().Data
		s.scale(data)
		if err := s.comm.AllReduce(distributed.OpSum, data); err != nil {
			return errors.WithMessagef(err, "dataparallel: averaging gradient of %q", p.Name())
		}
		value := p.Value().RawMatrix().Data
		for i, g := range data {
			value[i] -= learningRate * g
		}
	}
	return nil
}

// BroadcastParameters overwrites every parameter with its value on the root process, so all processes start from
// the same model. It is a collective operation.
func (s *Synchronizer) BroadcastParameters() error {
	for _, p := range s.params {
		data := p.Value().RawMatrix().Data
		if s.comm.Rank() != distributed.Root {
			clear(data)
		}
		if err := s.comm.AllReduce(distributed.OpSum, data); err != nil {
			return errors.WithMessagef(err, "dataparallel: broadcasting %q", p.Name())
		}
	}
	return nil
}
