// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds tools to help run a data-parallel training loop: a Trainer that runs one synchronized step
// at a time, a Loop with hooks, and Dataset.
package train

import (
	"io"
	"math"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/dataparallel"
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Model is a module that can be trained: it runs its own backward pass and can switch between training and
// evaluation. nn.Sequential implements it.
type Model interface {
	nn.Module

	// Backward runs the backward pass for the last Forward.
	Backward(gradOutput *mat.Dense) error

	// SetTraining switches between training and evaluation mode.
	SetTraining(training bool)
}

// LossFn returns the loss and its gradient with respect to the predictions.
type LossFn func(predictions, labels *mat.Dense) (loss float64, grad *mat.Dense, err error)

// Trainer runs data-parallel training steps of a Model: each process feeds its own batches, and the gradients are
// averaged across the processes of the Communicator by a dataparallel.Synchronizer.
type Trainer struct {
	model     Model
	comm      distributed.Communicator
	optimizer optimizers.Interface
	sync      *dataparallel.Synchronizer
	loss      LossFn

	globalStep int
}

// NewTrainer creates a Trainer.
//
// If nonBlocking is true the optimizer is run by the Synchronizer during the next forward pass, layer by layer,
// and Finish must be called after the last step. Otherwise, it's run at the end of each step.
//
// The parameters are broadcast from the root process, so all processes start from the same model.
// It is a collective operation.
func NewTrainer(model Model, comm distributed.Communicator, optimizer optimizers.Interface, nonBlocking bool) (
	*Trainer, error) {
	if optimizer == nil {
		return nil, errors.New("NewTrainer: nil optimizer")
	}
	var options []dataparallel.Option
	if nonBlocking {
		options = append(options, dataparallel.WithOptimizer(optimizer))
	}
	sync, err := dataparallel.New(model, comm, options...)
	if err != nil {
		return nil, err
	}
	if err = sync.BroadcastParameters(); err != nil {
		sync.Close()
		return nil, err
	}
	return &Trainer{
		model:     model,
		comm:      comm,
		optimizer: optimizer,
		sync:      sync,
		loss:      nn.MSE,
	}, nil
}

// WithLoss sets the loss function. Default is nn.MSE.
// It returns the trainer, so calls can be cascaded.
func (t *Trainer) WithLoss(loss LossFn) *Trainer {
	t.loss = loss
	return t
}

// Model returns the model being trained.
func (t *Trainer) Model() Model {
	return t.model
}

// Synchronizer returns the gradient synchronizer.
func (t *Trainer) Synchronizer() *dataparallel.Synchronizer {
	return t.sync
}

// NumProcesses returns the number of processes training the model together.
func (t *Trainer) NumProcesses() int {
	return t.comm.Size()
}

// GlobalStep returns the number of training steps run.
func (t *Trainer) GlobalStep() int {
	return t.globalStep
}

// meanAcrossProcesses averages value across all processes. It is a collective operation.
func (t *Trainer) meanAcrossProcesses(value float64) (float64, error) {
	buf := []float64{value / float64(t.comm.Size())}
	if err := t.comm.AllReduce(distributed.OpSum, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// TrainStep runs one training step on the local batch, and returns the loss averaged across all processes.
// It is a collective operation.
func (t *Trainer) TrainStep(inputs, labels *mat.Dense) (loss float64, err error) {
	t.model.SetTraining(true)
	predictions, err := t.sync.Forward(inputs)
	if err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(%d): forward", t.globalStep)
	}
	loss, grad, err := t.loss(predictions, labels)
	if err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(%d): loss", t.globalStep)
	}
	if err = t.model.Backward(grad); err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(%d): backward", t.globalStep)
	}
	if !t.sync.NonBlocking() {
		params := t.model.Parameters()
		if err = t.optimizer.Step(params); err != nil {
			return 0, errors.WithMessagef(err, "TrainStep(%d): optimizer", t.globalStep)
		}
		t.optimizer.ZeroGrad(params)
	}
	t.globalStep++
	loss, err = t.meanAcrossProcesses(loss)
	if err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(%d): averaging loss", t.globalStep)
	}
	klog.V(2).Infof("rank %d: step %d, loss %g", t.comm.Rank(), t.globalStep, loss)
	return loss, nil
}

// Finish applies the updates still pending from the last step (non-blocking mode only).
// It must be called before reading the model's parameters.
func (t *Trainer) Finish() error {
	return t.sync.Flush()
}

// Eval runs the model on the whole dataset, in evaluation mode, and returns the mean loss per example across all
// processes. In non-blocking mode the updates still in flight are applied before the first batch is evaluated.
// It is a collective operation, with a single all-reduce at the end, so shards may have different numbers of
// batches.
func (t *Trainer) Eval(ds Dataset) (loss float64, err error) {
	t.model.SetTraining(false)
	defer t.model.SetTraining(true)
	ds.Reset()
	defer ds.Reset()
	sums := make([]float64, 2) // Total loss and number of examples.
	for {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "Eval(%q)", ds.Name())
		}
		predictions, err := t.sync.Forward(inputs)
		if err != nil {
			return 0, errors.WithMessagef(err, "Eval(%q)", ds.Name())
		}
		batchLoss, _, err := t.loss(predictions, labels)
		if err != nil {
			return 0, errors.WithMessagef(err, "Eval(%q)", ds.Name())
		}
		rows, _ := inputs.Dims()
		sums[0] += batchLoss * float64(rows)
		sums[1] += float64(rows)
	}
	if err = t.comm.AllReduce(distributed.OpSum, sums); err != nil {
		return 0, errors.WithMessagef(err, "Eval(%q)", ds.Name())
	}
	if sums[1] == 0 {
		return math.NaN(), nil
	}
	return sums[0] / sums[1], nil
}

// Close removes the gradient hooks from the model.
func (t *Trainer) Close() {
	t.sync.Close()
}
