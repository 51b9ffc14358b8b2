// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer, or by
// themselves. They all implement optimizers.Interface.
package optimizers

import (
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Interface implemented by optimizers.
//
// Step can be called on any subset of the parameters: the data-parallel synchronizer updates one layer at a time,
// as soon as its averaged gradients arrive.
type Interface interface {
	// Step updates params from their current gradients. Parameters without gradient are skipped.
	Step(params []*nn.Parameter) error

	// ZeroGrad clears the gradients of params.
	ZeroGrad(params []*nn.Parameter)
}

// LearningRateSetter is implemented by optimizers whose learning rate can be changed during training, for instance
// by a schedule.
type LearningRateSetter interface {
	LearningRate() float64
	SetLearningRate(value float64)
}

// DefaultLearningRate used when none is configured.
const DefaultLearningRate = 0.01

// SGDConfig holds the configuration of a stochastic gradient descent optimizer. Create it with SGD, and call Done
// to get the optimizer.
type SGDConfig struct {
	learningRate float64
	momentum     float64
}

// SGD returns the configuration of a stochastic gradient descent optimizer, with optional momentum.
func SGD() *SGDConfig {
	return &SGDConfig{learningRate: DefaultLearningRate}
}

// LearningRate sets the learning rate. Default is DefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum factor. Default is 0, plain SGD.
func (c *SGDConfig) Momentum(value float64) *SGDConfig {
	c.momentum = value
	return c
}

// Done returns the configured optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c, velocity: make(map[*nn.Parameter]*mat.Dense)}
}

type sgd struct {
	config   SGDConfig
	velocity map[*nn.Parameter]*mat.Dense
}

// Step implements Interface.
func (o *sgd) Step(params []*nn.Parameter) error {
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if err := checkGrad(p); err != nil {
			return err
		}
		update := grad
		if o.config.momentum != 0 {
			v, found := o.velocity[p]
			if !found {
				v = mat.DenseCopyOf(grad)
				o.velocity[p] = v
			} else {
				v.Scale(o.config.momentum, v)
				v.Add(v, grad)
			}
			update = v
		}
		value := p.Value()
		value.AddScaled(value, -o.config.learningRate, update)
	}
	return nil
}

// LearningRate implements LearningRateSetter.
func (o *sgd) LearningRate() float64 {
	return o.config.learningRate
}

// SetLearningRate implements LearningRateSetter.
func (o *sgd) SetLearningRate(value float64) {
	o.config.learningRate = value
}

// ZeroGrad implements Interface.
func (o *sgd) ZeroGrad(params []*nn.Parameter) {
	zeroGrad(params)
}

func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

func checkGrad(p *nn.Parameter) error {
	rows, cols := p.Value().Dims()
	gradRows, gradCols := p.Grad().Dims()
	if rows != gradRows || cols != gradCols {
		return errors.Errorf("parameter %q is %dx%d but its gradient is %dx%d", p.Name(), rows, cols, gradRows, gradCols)
	}
	return nil
}
