// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// dptrain simulates a data-parallel training job: a group of processes, each training a copy of a small
// regression model on its own shard of a synthetic dataset, with gradients averaged across processes.
//
// Usage:
//
//	dptrain -procs=4 -set="steps=2000;optimizer=adam;non_blocking=true"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/gomlx/disttile/pkg/ml/train"
	"github.com/gomlx/disttile/pkg/ml/train/commandline"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers"
	"github.com/gomlx/disttile/pkg/ml/train/optimizers/cosineschedule"
)

// defaultParams are the hyperparameters that can be changed with -set.
func defaultParams() commandline.Params {
	return commandline.Params{
		"steps":         1000,
		"batch_size":    16,
		"num_examples":  1024,
		"hidden_dims":   []int{32, 32},
		"optimizer":     "adam",
		"learning_rate": 0.01,
		"momentum":      0.0,
		"cosine_period": 0,
		"non_blocking":  true,
		"seed":          42,
		"noise":         0.05,
		"eval_fraction": 0.1,
	}
}

var (
	flagProcs    = flag.Int("procs", 4, "Number of simulated processes.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar during training (on the root process).")
	params       = defaultParams()
	flagSettings = commandline.CreateSettingsFlag(params, "")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseSettings(params, *flagSettings))
	klog.V(1).Infof("hyperparameters set: %v\n%s", paramsSet, commandline.SprintSettings(params))

	summary, err := run(params, *flagProcs, *flagProgress)
	if err != nil {
		klog.Errorf("Training failed: %+v", err)
		os.Exit(1)
	}
	fmt.Println(summary)
}

// Summary of a training run, as reported by the root process.
type Summary struct {
	Procs                int
	Steps                int
	TrainLoss, EvalLoss  float64
	InitialEvalLoss      float64
	NumParameters        int
	MedianStepDurationMs float64
}

// String renders the summary as a table.
func (s Summary) String() string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99")))
	table.Row("# processes", strconv.Itoa(s.Procs))
	table.Row("# parameters", humanize.Comma(int64(s.NumParameters)))
	table.Row("steps", humanize.Comma(int64(s.Steps)))
	table.Row("median step duration", fmt.Sprintf("%.3fms", s.MedianStepDurationMs))
	table.Row("last train loss", fmt.Sprintf("%.4g", s.TrainLoss))
	table.Row("eval loss (before)", fmt.Sprintf("%.4g", s.InitialEvalLoss))
	table.Row("eval loss (after)", fmt.Sprintf("%.4g", s.EvalLoss))
	return table.String()
}

// syntheticData returns examples of a fixed nonlinear function of 4 inputs, plus noise.
func syntheticData(numExamples int, noise float64, rng *rand.Rand) (x, y *mat.Dense) {
	x = mat.NewDense(numExamples, 4, nil)
	y = mat.NewDense(numExamples, 1, nil)
	for i := range numExamples {
		row := x.RawRowView(i)
		for j := range row {
			row[j] = 2*rng.Float64() - 1
		}
		target := 1.5*row[0] - row[1]*row[2] + 0.5*max(row[3], 0) + noise*rng.NormFloat64()
		y.Set(i, 0, target)
	}
	return
}

// newModel builds a multi-layer perceptron with ReLU activations.
func newModel(inputDim int, hiddenDims []int, rng *rand.Rand) *nn.Sequential {
	model := nn.NewSequential()
	dim := inputDim
	for i, hidden := range hiddenDims {
		model.Add(fmt.Sprintf("fc%d", i), nn.NewLinear(dim, hidden, rng))
		model.Add(fmt.Sprintf("relu%d", i), &nn.ReLU{})
		dim = hidden
	}
	model.Add("output", nn.NewLinear(dim, 1, rng))
	return model
}

func newOptimizer(params commandline.Params) (optimizers.Interface, error) {
	lr := commandline.Get(params, "learning_rate", optimizers.DefaultLearningRate)
	switch name := commandline.Get(params, "optimizer", "adam"); name {
	case "adam":
		return optimizers.Adam().LearningRate(lr).Done(), nil
	case "sgd":
		return optimizers.SGD().LearningRate(lr).Momentum(commandline.Get(params, "momentum", 0.0)).Done(), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q, valid values are \"adam\" and \"sgd\"", name)
	}
}

// run trains with procs simulated processes, and returns the root process's summary.
func run(params commandline.Params, procs int, progress bool) (*Summary, error) {
	seed := uint64(commandline.Get(params, "seed", 42))
	numExamples := commandline.Get(params, "num_examples", 1024)
	x, y := syntheticData(numExamples, commandline.Get(params, "noise", 0.05), rand.New(rand.NewPCG(seed, 1)))
	numEval := int(float64(numExamples) * commandline.Get(params, "eval_fraction", 0.1))
	if numEval < procs || numExamples-numEval < procs {
		return nil, errors.Errorf("%d examples is not enough to split into train and eval datasets for %d processes",
			numExamples, procs)
	}
	trainX, trainY := x.Slice(numEval, numExamples, 0, 4).(*mat.Dense), y.Slice(numEval, numExamples, 0, 1).(*mat.Dense)
	evalX, evalY := x.Slice(0, numEval, 0, 4).(*mat.Dense), y.Slice(0, numEval, 0, 1).(*mat.Dense)

	group, err := distributed.NewLocalGroup(procs)
	if err != nil {
		return nil, err
	}
	var summary *Summary
	err = group.Run(func(comm distributed.Communicator) error {
		s, err := runProcess(comm, params, progress, trainX, trainY, evalX, evalY)
		if comm.Rank() == distributed.Root {
			summary = s
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// runProcess is the training job of one process.
func runProcess(comm distributed.Communicator, params commandline.Params, progress bool,
	trainX, trainY, evalX, evalY *mat.Dense) (*Summary, error) {
	trainFull, err := train.NewInMemory("train", trainX, trainY)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(commandline.Get(params, "seed", 42)), uint64(comm.Rank())+2))
	trainDS, err := trainFull.
		BatchSize(commandline.Get(params, "batch_size", 16)).
		Infinite(true).
		Shuffle(rng).
		Shard(comm.Rank(), comm.Size())
	if err != nil {
		return nil, err
	}
	evalFull, err := train.NewInMemory("eval", evalX, evalY)
	if err != nil {
		return nil, err
	}
	evalDS, err := evalFull.Shard(comm.Rank(), comm.Size())
	if err != nil {
		return nil, err
	}

	// Each process initializes its own model: the trainer broadcasts the root's parameters.
	model := newModel(4, commandline.Get(params, "hidden_dims", []int{32, 32}), rng)
	optimizer, err := newOptimizer(params)
	if err != nil {
		return nil, err
	}
	trainer, err := train.NewTrainer(model, comm, optimizer, commandline.Get(params, "non_blocking", true))
	if err != nil {
		return nil, err
	}
	defer trainer.Close()

	loop := train.NewLoop(trainer)
	if period := commandline.Get(params, "cosine_period", 0); period != 0 {
		setter, ok := optimizer.(optimizers.LearningRateSetter)
		if !ok {
			return nil, errors.Errorf("optimizer %T doesn't support learning rate schedules", optimizer)
		}
		if err = cosineschedule.New().PeriodInSteps(period).Attach(loop, setter); err != nil {
			return nil, err
		}
	}
	if progress && comm.Rank() == distributed.Root {
		commandline.AttachProgressBar(loop)
	}

	initialEvalLoss, err := trainer.Eval(evalDS)
	if err != nil {
		return nil, err
	}
	steps := commandline.Get(params, "steps", 1000)
	trainLoss, err := loop.RunSteps(trainDS, steps)
	if err != nil {
		return nil, err
	}
	if err = commandline.ReportEval(trainer, comm, evalDS); err != nil {
		return nil, err
	}
	evalLoss, err := trainer.Eval(evalDS)
	if err != nil {
		return nil, err
	}
	numParams := 0
	for _, p := range model.Parameters() {
		numParams += p.Size()
	}
	return &Summary{
		Procs:                comm.Size(),
		Steps:                steps,
		TrainLoss:            trainLoss,
		EvalLoss:             evalLoss,
		InitialEvalLoss:      initialEvalLoss,
		NumParameters:        numParams,
		MedianStepDurationMs: float64(loop.MedianTrainStepDuration().Microseconds()) / 1000,
	}, nil
}
