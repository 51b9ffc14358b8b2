// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/disttile/pkg/ml/nn"
	"gonum.org/v1/gonum/mat"
)

// AdamDefaultLearningRate is used by Adam if no learning rate is set.
const AdamDefaultLearningRate = 0.001

// Adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments, see [Kingma et al., 2014](http://arxiv.org/abs/1412.6980).
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig holds the configuration for an Adam optimizer. Create it using Adam(), and once configured
// call Done to create the optimizer.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64 // Works as AdamW.
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done will finish the configuration and construct an optimizers.Interface that implements Adam.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c, moments: make(map[*nn.Parameter]*adamMoments)}
}

// adamMoments holds the state of one parameter. The step count is per parameter, since parameters
// may be updated at different times.
type adamMoments struct {
	step             int
	moment1, moment2 *mat.Dense
}

type adam struct {
	config  AdamConfig
	moments map[*nn.Parameter]*adamMoments
}

// Step implements Interface.
func (o *adam) Step(params []*nn.Parameter) error {
	cfg := &o.config
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if err := checkGrad(p); err != nil {
			return err
		}
		state, found := o.moments[p]
		if !found {
			rows, cols := grad.Dims()
			state = &adamMoments{moment1: mat.NewDense(rows, cols, nil), moment2: mat.NewDense(rows, cols, nil)}
			o.moments[p] = state
		}
		state.step++
		debias1 := 1 / (1 - math.Pow(cfg.beta1, float64(state.step)))
		debias2 := 1 / (1 - math.Pow(cfg.beta2, float64(state.step)))

		value := p.Value()
		rows, cols := value.Dims()
		for i := range rows {
			for j := range cols {
				g := grad.At(i, j)
				m1 := cfg.beta1*state.moment1.At(i, j) + (1-cfg.beta1)*g
				m2 := cfg.beta2*state.moment2.At(i, j) + (1-cfg.beta2)*g*g
				state.moment1.Set(i, j, m1)
				state.moment2.Set(i, j, m2)
				direction := (m1 * debias1) / (math.Sqrt(m2*debias2) + cfg.epsilon)
				if cfg.weightDecay > 0 {
					direction += cfg.weightDecay * value.At(i, j)
				}
				value.Set(i, j, value.At(i, j)-cfg.learningRate*direction)
			}
		}
	}
	return nil
}

// ZeroGrad implements Interface.
func (o *adam) ZeroGrad(params []*nn.Parameter) {
	zeroGrad(params)
}

// LearningRate implements LearningRateSetter.
func (o *adam) LearningRate() float64 {
	return o.config.learningRate
}

// SetLearningRate implements LearningRateSetter.
func (o *adam) SetLearningRate(value float64) {
	o.config.learningRate = value
}
