// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cosineschedule cosine annealing schedule for the learning rate.
//
// See details in New.
package cosineschedule

import (
	"math"

	"github.com/gomlx/disttile/pkg/ml/train"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// DefaultLastStep is the value used for the last step of the training while one is not yet known.
const DefaultLastStep = 1_000_000_000

// Config for a cosine annealing schedule. Create it with New, and attach it to a training loop with Attach.
type Config struct {
	learningRate, minLearningRate float64
	periodNumSteps                int
	warmUpSteps                   int
}

// New creates a cosine annealing schedule configuration, that controls the learning rate of an optimizer.
//
// The learning rate starts at LearningRate (or the optimizer's current learning rate, if not set) and decays
// following a cosine curve to MinLearningRate at the end of the period, after which it jumps back to the start.
// See "SGDR: Stochastic Gradient Descent with Warm Restarts" by Ilya Loshchilov and Frank Hutter.
func New() *Config {
	return &Config{}
}

// PeriodInSteps sets the number of steps of one cycle of the schedule. It's required.
//
// If negative, the period is the fraction 1/(-periodSteps) of the total number of steps of the training run,
// so -1 means one cycle over the whole run.
func (opt *Config) PeriodInSteps(periodSteps int) *Config {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cycle. Default is 0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpSteps sets the number of initial steps kept at the starting learning rate, before the cosine schedule
// starts.
func (opt *Config) WarmUpSteps(warmUpSteps int) *Config {
	opt.warmUpSteps = warmUpSteps
	return opt
}

// LearningRate at the start of each cycle.
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// At returns the learning rate for the given step (starting from 0). lastStep is one past the last step of the
// training run, or -1 if not known. It's only used if the period is given as a fraction of the run.
func (opt *Config) At(step, lastStep int) float64 {
	cosineStep := float64(step - opt.warmUpSteps)
	var cycle float64
	if opt.periodNumSteps > 0 {
		cycle = cosineStep / float64(opt.periodNumSteps)
	} else {
		if lastStep < 0 {
			lastStep = DefaultLastStep
		}
		cycle = cosineStep / (float64(lastStep) / float64(-opt.periodNumSteps))
	}
	// A cycle represents the fraction of a half-circle.
	cycle = max(cycle, 0)
	cycle -= math.Floor(cycle)
	lr := (math.Cos(cycle*math.Pi) + 1) / 2
	return lr*(opt.learningRate-opt.minLearningRate) + opt.minLearningRate
}

// Attach registers the schedule with the loop: the learning rate of optimizer is set before every step.
func (opt *Config) Attach(loop *train.Loop, optimizer optimizers.LearningRateSetter) error {
	if opt.periodNumSteps == 0 {
		return errors.New("cosineschedule: PeriodInSteps not configured")
	}
	if opt.learningRate == 0 {
		opt.learningRate = optimizer.LearningRate()
	}
	if opt.learningRate == 0 {
		return errors.New("cosineschedule: learning rate not configured, and the optimizer's is 0")
	}
	loop.OnStart("cosine schedule", 0, func(loop *train.Loop, _ train.Dataset) error {
		optimizer.SetLearningRate(opt.At(loop.LoopStep, loop.EndStep))
		return nil
	})
	loop.OnStep("cosine schedule", 0, func(loop *train.Loop, _ float64) error {
		optimizer.SetLearningRate(opt.At(loop.LoopStep+1, loop.EndStep))
		return nil
	})
	return nil
}
