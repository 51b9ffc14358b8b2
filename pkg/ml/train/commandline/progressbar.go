// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/disttile/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn returns a row (name and value) to display below the training statistics.
// It is called on every redraw.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the longest time between two redraws while the loop is making progress.
var RefreshPeriod = 3 * time.Second

// ProgressbarStyle is the theme of the bar line. progressbar.ThemeUnicode looks better on terminals that
// support it.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "disttile.ml.train.commandline.progressBar"

// minRedrawInterval throttles redraws, so a fast training loop doesn't saturate a slow terminal.
const minRedrawInterval = 200 * time.Millisecond

var (
	valueCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	nameCellStyle    = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	statsBorderColor = lipgloss.Color("#705090")
)

// stepReport is sent by the loop's goroutine to the drawing goroutine.
type stepReport struct {
	steps          int // Steps completed since the previous report.
	position       string
	loss           float64
	medianDuration time.Duration
}

// progressBar draws the bar and a statistics table below it. Drawing happens in its own goroutine, fed
// by reports from the loop's hooks.
type progressBar struct {
	out     io.Writer
	term    *termenv.Output
	extras  []ExtraMetricFn
	header  [][2]string
	reports chan stepReport
	drawing sync.WaitGroup

	bar          *progressbar.ProgressBar
	reportedStep int
	linesDrawn   int
}

// AttachProgressBar displays the progress of every run of loop on the standard output: a bar with the
// completed steps and a table with the global step, the median step duration, the loss averaged
// across processes and the values of extraMetrics.
//
// With multiple processes it should be attached to the root process's loop only.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	attachProgressBar(loop, os.Stdout, extraMetrics...)
}

func attachProgressBar(loop *train.Loop, out io.Writer, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		out:    out,
		term:   termenv.NewOutput(out),
		extras: extraMetrics,
	}
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

func (pBar *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	total := loop.EndStep - loop.StartStep
	if loop.EndStep < 0 {
		// Unknown length (a run over epochs): the bar rescales itself if it is exceeded.
		total = -1
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(pBar.out),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
	)
	pBar.reportedStep = loop.LoopStep
	pBar.linesDrawn = 0
	pBar.header = nil
	if synchronizer := loop.Trainer.Synchronizer(); synchronizer != nil {
		mode := "blocking"
		if synchronizer.NonBlocking() {
			mode = "non-blocking"
		}
		pBar.header = append(pBar.header,
			[2]string{"Processes", humanize.Comma(int64(loop.Trainer.NumProcesses()))},
			[2]string{"Gradient sync", mode})
	}
	reports := make(chan stepReport, 100)
	pBar.reports = reports
	pBar.drawing.Add(1)
	go pBar.draw(reports)
	return nil
}

func (pBar *progressBar) onStep(loop *train.Loop, loss float64) error {
	if pBar.reports == nil {
		return nil
	}
	done := loop.LoopStep + 1
	if done <= pBar.reportedStep {
		// Already reported, by the other hook registered for the same step.
		return nil
	}
	position := humanize.Comma(int64(done))
	if loop.EndStep >= 0 {
		position += " of " + humanize.Comma(int64(loop.EndStep))
	}
	pBar.reports <- stepReport{
		steps:          done - pBar.reportedStep,
		position:       position,
		loss:           loss,
		medianDuration: loop.MedianTrainStepDuration(),
	}
	pBar.reportedStep = done
	return nil
}

func (pBar *progressBar) onEnd(*train.Loop, float64) error {
	if pBar.reports != nil {
		close(pBar.reports)
		pBar.reports = nil
	}
	pBar.drawing.Wait()
	pBar.term.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// draw redraws the table and the bar for every report, merging the reports that queued up in the meantime.
func (pBar *progressBar) draw(reports <-chan stepReport) {
	defer pBar.drawing.Done()
	for report := range reports {
		steps := report.steps
	merge:
		for {
			select {
			case next, ok := <-reports:
				if !ok {
					break merge
				}
				steps += next.steps
				report = next
			default:
				break merge
			}
		}

		rendered := lipgloss.NewStyle().PaddingLeft(8).Render(pBar.statsTable(report).String())
		pBar.term.HideCursor()
		if pBar.linesDrawn > 0 {
			pBar.term.CursorPrevLine(pBar.linesDrawn)
		}
		_, _ = fmt.Fprintln(pBar.out, rendered)
		_ = pBar.bar.Add(steps)
		_, _ = fmt.Fprintln(pBar.out)
		pBar.term.ShowCursor()
		// Table lines, plus the bar line.
		pBar.linesDrawn = lipgloss.Height(rendered) + 1
		time.Sleep(minRedrawInterval)
	}
}

// statsTable builds the table drawn above the bar.
func (pBar *progressBar) statsTable(report stepReport) *lgtable.Table {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(statsBorderColor)).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return nameCellStyle
			}
			return valueCellStyle
		})
	for _, row := range pBar.header {
		table.Row(row[0], row[1])
	}
	table.Row("Global Step", report.position)
	table.Row("Median train step duration", FormatDuration(report.medianDuration))
	table.Row("Mean Loss", fmt.Sprintf("%.4g", report.loss))
	for _, fn := range pBar.extras {
		name, value := fn()
		table.Row(name, value)
	}
	return table
}
