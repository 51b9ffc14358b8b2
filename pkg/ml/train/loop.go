// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Priority orders the hooks of a Loop: lower values run first, and hooks with the same priority run in
// registration order. Negative values are fine.
type Priority int

// OnStartFn is called once at the start of a run, with the dataset it will read.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is called after every training step, with the step's loss averaged across processes.
type OnStepFn func(loop *Loop, loss float64) error

// OnEndFn is called once at the end of a run, after the pending parameter updates were applied,
// with the loss of the last step.
type OnEndFn func(loop *Loop, loss float64) error

// Loop drives a Trainer over a Dataset and calls the registered hooks: progress reporting, learning
// rate schedules, periodic evaluation, etc.
//
// Each process of a data-parallel job runs its own Loop over its own shard. The processes must run the same
// number of steps, since every step is a collective operation.
//
// The exported fields describe the current run, and are meant to be read by the hooks.
type Loop struct {
	Trainer *Trainer

	// LoopStep is the global step being executed. It starts at the trainer's GlobalStep, so a
	// Loop can be run multiple times and picks up where it stopped.
	LoopStep int

	// StartStep and EndStep delimit the current run: EndStep is one past the last step.
	// EndStep is -1 while it is unknown: during the first epoch of RunEpochs.
	StartStep, EndStep int

	// Epoch being run by RunEpochs, starting from 0.
	Epoch int

	// TrainStepDurations of the current run, one per step.
	TrainStepDurations []time.Duration

	onStart hooks[OnStartFn]
	onStep  hooks[OnStepFn]
	onEnd   hooks[OnEndFn]
}

// NewLoop creates a Loop for trainer.
func NewLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer:  trainer,
		LoopStep: trainer.GlobalStep(),
	}
}

// OnStart registers fn to be called at the start of every run. name is used in error messages.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.add(name, priority, fn)
}

// OnStep registers fn to be called after every training step. name is used in error messages.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.add(name, priority, fn)
}

// OnEnd registers fn to be called at the end of every run. name is used in error messages.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.add(name, priority, fn)
}

func (loop *Loop) start(ds Dataset) error {
	for _, h := range loop.onStart {
		if err := h.fn(loop, ds); err != nil {
			return errors.WithMessagef(err, "train.Loop.OnStart(hook %q)", h.name)
		}
	}
	return nil
}

// step trains on one batch, runs the OnStep hooks and interrupts the run if the loss diverged.
func (loop *Loop) step(inputs, labels *mat.Dense) (loss float64, err error) {
	startTime := time.Now()
	loss, err = loop.Trainer.TrainStep(inputs, labels)
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	if err != nil {
		return 0, err
	}
	for _, h := range loop.onStep {
		if err = h.fn(loop, loss); err != nil {
			return 0, errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", h.name)
		}
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, errors.Errorf("loss is %g at step %d, training interrupted", loss, loop.LoopStep)
	}
	return loss, nil
}

// end applies the parameter updates still in flight and runs the OnEnd hooks.
func (loop *Loop) end(loss float64) error {
	if err := loop.Trainer.Finish(); err != nil {
		return err
	}
	for _, h := range loop.onEnd {
		if err := h.fn(loop, loss); err != nil {
			return errors.WithMessagef(err, "train.Loop.OnEnd(hook %q)", h.name)
		}
	}
	return nil
}

// RunSteps trains for the given number of steps, and returns the loss of the last one.
//
// The dataset must yield at least steps batches: use an infinite dataset (see InMemory.Infinite) or RunEpochs.
func (loop *Loop) RunSteps(ds Dataset, steps int) (loss float64, err error) {
	if steps <= 0 {
		return 0, nil
	}
	loop.StartStep, loop.EndStep = loop.LoopStep, loop.LoopStep+steps
	loop.TrainStepDurations = make([]time.Duration, 0, steps)
	if err = loop.start(ds); err != nil {
		return 0, err
	}
	for ; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		inputs, labels, err := ds.Yield()
		if errors.Is(err, io.EOF) {
			return 0, errors.Errorf("train.Loop.RunSteps(%d): dataset %q ended after %d steps, use an infinite "+
				"dataset or RunEpochs", steps, ds.Name(), loop.LoopStep-loop.StartStep)
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "train.Loop.RunSteps(%d): reading dataset %q", steps, ds.Name())
		}
		if loss, err = loop.step(inputs, labels); err != nil {
			return 0, errors.WithMessagef(err, "train.Loop.RunSteps(%d): step %d", steps, loop.LoopStep)
		}
	}
	if err = loop.end(loss); err != nil {
		return 0, errors.WithMessagef(err, "train.Loop.RunSteps(%d): ending at step %d", steps, loop.LoopStep)
	}
	return loss, nil
}

// RunEpochs trains over the whole dataset epochs times, and returns the loss of the last step.
// The dataset is Reset after every epoch.
//
// EndStep is -1 during the first epoch, and is then extrapolated from the number of batches
// of the first epoch.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (loss float64, err error) {
	loop.StartStep, loop.EndStep = loop.LoopStep, -1
	loop.TrainStepDurations = nil
	loop.Epoch = 0
	if err = loop.start(ds); err != nil {
		return 0, err
	}
	for ; loop.Epoch < epochs; loop.Epoch++ {
		batches := 0
		for {
			inputs, labels, err := ds.Yield()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, errors.WithMessagef(err, "train.Loop.RunEpochs(%d): reading dataset %q in epoch %d",
					epochs, ds.Name(), loop.Epoch)
			}
			batches++
			if loss, err = loop.step(inputs, labels); err != nil {
				return 0, errors.WithMessagef(err, "train.Loop.RunEpochs(%d): step %d", epochs, loop.LoopStep)
			}
			loop.LoopStep++
		}
		loop.EndStep = loop.LoopStep + batches*(epochs-loop.Epoch-1)
		ds.Reset()
	}
	if err = loop.end(loss); err != nil {
		return 0, errors.WithMessagef(err, "train.Loop.RunEpochs(%d): ending at step %d", epochs, loop.LoopStep)
	}
	return loss, nil
}

// MedianTrainStepDuration of the current run. It is 1 millisecond before the first step completes, so it can be
// safely used as a divisor.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	durations := slices.Clone(loop.TrainStepDurations)
	slices.Sort(durations)
	return durations[len(durations)/2]
}

type namedHook[F any] struct {
	name     string
	priority Priority
	fn       F
}

// hooks is kept sorted by priority.
type hooks[F any] []namedHook[F]

func (h *hooks[F]) add(name string, priority Priority, fn F) {
	// Insert after every hook with the same priority.
	idx, _ := slices.BinarySearchFunc(*h, priority+1, func(hook namedHook[F], p Priority) int {
		if hook.priority < p {
			return -1
		}
		return 1
	})
	*h = slices.Insert(*h, idx, namedHook[F]{name: name, priority: priority, fn: fn})
}
