// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/train"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
//
// Eval is a collective operation, so every process must call ReportEval; only the root process prints.
func ReportEval(trainer *train.Trainer, comm distributed.Communicator, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		loss, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		if comm.Rank() == distributed.Root {
			fmt.Printf("Results on %s:\n\tMean Loss (loss): %.4g\n", ds.Name(), loss)
		}
	}
	return nil
}
