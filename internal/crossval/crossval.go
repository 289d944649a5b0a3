// Package crossval runs subject-level k-fold cross-validation of a
// classification pipeline. Each fold fits an independent pipeline clone, so
// folds can execute in parallel without sharing classifier state.
package crossval

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"sleep-tuner/internal/dataset"
	"sleep-tuner/internal/pipeline"
)

var ErrCrossValidation = errors.New("cross-validation failed")

// Scorer computes named metrics for a fitted pipeline on held-out data.
type Scorer func(p *pipeline.Pipeline, features [][]float64, labels map[string][]int) (map[string]float64, error)

// Options controls one cross-validation call.
type Options struct {
	Folds       int
	Seed        int64
	Concurrency int // <= 0 means GOMAXPROCS

	// MaxFailFraction is the tolerated share of failing folds before the
	// whole call fails. The default 0 makes any fold failure fatal.
	MaxFailFraction float64

	// EvalFraction of each fold's train rows is held out inside the fit for
	// early stopping and pruning. Defaults to 0.2.
	EvalFraction float64

	EarlyStoppingRounds int
	Prune               pipeline.PruneFunc
}

// Result holds per-fold metric values keyed by metric name. Failing folds
// contribute no values; their count is reported separately.
type Result struct {
	Metrics     map[string][]float64
	FailedFolds int
}

type foldTask struct {
	index int
	fold  Fold
}

type foldOutcome struct {
	index   int
	metrics map[string]float64
	err     error
}

// Validate clones the template once per fold, fits each clone on the fold's
// train subjects, and scores it on the fold's test subjects. A pruning signal
// from any fold aborts the call and propagates unchanged; ordinary fold
// failures are tolerated up to MaxFailFraction.
func Validate(template *pipeline.Pipeline, ds *dataset.Dataset, scorer Scorer, opts Options) (*Result, error) {
	folds, err := GroupKFold(ds.Subjects(), opts.Folds, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrossValidation, err)
	}

	evalFraction := opts.EvalFraction
	if evalFraction <= 0 {
		evalFraction = 0.2
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(folds) {
		workers = len(folds)
	}

	queue := make(chan foldTask, len(folds))
	for i, fold := range folds {
		queue <- foldTask{index: i, fold: fold}
	}
	close(queue)

	completed := make(chan foldOutcome, len(folds))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for task := range queue {
				metrics, err := runFold(template, ds, scorer, task.fold, evalFraction, opts)
				completed <- foldOutcome{index: task.index, metrics: metrics, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(completed)
	}()

	result := &Result{Metrics: make(map[string][]float64)}
	var foldErr error
	var pruned error
	for outcome := range completed {
		if outcome.err != nil {
			if errors.Is(outcome.err, pipeline.ErrTrialPruned) {
				pruned = outcome.err
				continue
			}
			slog.Warn("fold failed", "fold", outcome.index, "error", outcome.err)
			result.FailedFolds++
			foldErr = outcome.err
			continue
		}
		for name, value := range outcome.metrics {
			result.Metrics[name] = append(result.Metrics[name], value)
		}
	}

	if pruned != nil {
		return nil, pruned
	}
	if result.FailedFolds > 0 {
		failFraction := float64(result.FailedFolds) / float64(len(folds))
		if failFraction > opts.MaxFailFraction {
			return nil, fmt.Errorf("%w: %d/%d folds failed: %v",
				ErrCrossValidation, result.FailedFolds, len(folds), foldErr)
		}
	}
	return result, nil
}

func runFold(template *pipeline.Pipeline, ds *dataset.Dataset, scorer Scorer, fold Fold, evalFraction float64, opts Options) (map[string]float64, error) {
	train, err := ds.Subset(fold.Train)
	if err != nil {
		return nil, err
	}
	test, err := ds.Subset(fold.Test)
	if err != nil {
		return nil, err
	}

	clone := template.Clone()

	trainX, err := train.Features(clone.Modalities)
	if err != nil {
		return nil, err
	}
	trainLabels := train.Labels()

	target, ok := trainLabels[clone.TargetColumn()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownTargetColumn, clone.TargetColumn())
	}

	// Tail slice of the train rows serves as the in-fit eval set for early
	// stopping and the pruning signal.
	cut := len(trainX) - int(float64(len(trainX))*evalFraction)
	if cut < 1 || cut >= len(trainX) {
		cut = len(trainX)
	}
	fitOpts := pipeline.FitOptions{
		EarlyStoppingRounds: opts.EarlyStoppingRounds,
		Prune:               opts.Prune,
		Seed:                opts.Seed,
	}
	fitX, fitTarget := trainX, target
	if cut < len(trainX) {
		fitOpts.EvalX = trainX[cut:]
		fitOpts.EvalY = target[cut:]
		fitX = trainX[:cut]
		fitTarget = target[:cut]
	}

	fitLabels := map[string][]int{clone.TargetColumn(): fitTarget}
	if err := clone.Fit(fitX, fitLabels, fitOpts); err != nil {
		return nil, err
	}

	testX, err := test.Features(clone.Modalities)
	if err != nil {
		return nil, err
	}
	return scorer(clone, testX, test.Labels())
}
