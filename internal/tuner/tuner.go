// Package tuner drives the hyperparameter search for a sleep-stage
// classification pipeline: each trial clones the pipeline template, assigns
// a sampled configuration, and estimates it by k-fold cross-validation with
// mid-fit pruning. The finalizer refits the best configuration on the whole
// dataset and returns the deployable pipeline.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sleep-tuner/internal/crossval"
	"sleep-tuner/internal/dataset"
	"sleep-tuner/internal/metrics"
	"sleep-tuner/internal/pipeline"
	"sleep-tuner/internal/study"
)

// The trial objective is the mean test-set MCC over folds. The pruning
// signal is the per-round validation MCC reported from inside each fit.
// They are two deliberately distinct metrics: a fast in-fit proxy and the
// final held-out score.
const (
	ObjectiveMetric = "test_mcc"
	PruneMetric     = "validation_mcc"
)

// Options configures one search run.
type Options struct {
	StudyRoot string
	Trials    int
	Folds     int
	Seed      int64

	Concurrency         int
	EarlyStoppingRounds int
	WarmupSteps         int
	StartupTrials       int

	// Space defaults to pipeline.DefaultSpace().
	Space pipeline.ParamSpace
}

// Tuner couples a pipeline template with the dataset to tune on.
type Tuner struct {
	template *pipeline.Pipeline
	ds       *dataset.Dataset
	opts     Options
}

func New(template *pipeline.Pipeline, ds *dataset.Dataset, opts Options) *Tuner {
	if opts.Trials <= 0 {
		opts.Trials = 1
	}
	if opts.Folds <= 0 {
		opts.Folds = 5
	}
	if opts.EarlyStoppingRounds <= 0 {
		opts.EarlyStoppingRounds = 10
	}
	if opts.Space == nil {
		opts.Space = pipeline.DefaultSpace()
	}
	// The template must validate sampled assignments against the same space
	// the study samples from, or every non-default assignment is rejected.
	template.SetSpace(opts.Space)
	return &Tuner{template: template, ds: ds, opts: opts}
}

// Score computes the held-out metrics for one fitted fold.
func Score(p *pipeline.Pipeline, features [][]float64, labels map[string][]int) (map[string]float64, error) {
	target, ok := labels[p.TargetColumn()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownTargetColumn, p.TargetColumn())
	}

	predicted, err := p.Predict(features)
	if err != nil {
		return nil, err
	}

	mcc, err := metrics.MCC(target, predicted)
	if err != nil {
		return nil, err
	}
	accuracy, err := metrics.Accuracy(target, predicted)
	if err != nil {
		return nil, err
	}
	kappa, err := metrics.CohenKappa(target, predicted)
	if err != nil {
		return nil, err
	}

	return map[string]float64{
		ObjectiveMetric: mcc,
		"test_accuracy": accuracy,
		"test_kappa":    kappa,
	}, nil
}

// Run executes the search budget against the persisted study for this
// modality set and classification mode, then refits the best configuration
// on the entire dataset. The returned pipeline is a fresh fit; no fold-level
// state survives into it.
func (t *Tuner) Run(ctx context.Context) (*pipeline.Pipeline, error) {
	key := study.Key(t.template.Modalities, t.template.Mode)
	st, err := study.Open(t.opts.StudyRoot, key, t.opts.Space, study.Options{
		Seed:          t.opts.Seed,
		Direction:     study.Maximize,
		WarmupSteps:   t.opts.WarmupSteps,
		StartupTrials: t.opts.StartupTrials,
	})
	if err != nil {
		return nil, err
	}

	objective := func(trial *study.Trial) (float64, error) {
		candidate := t.template.Clone()
		if err := candidate.Configure(trial.Params); err != nil {
			return 0, err
		}

		result, err := crossval.Validate(candidate, t.ds, Score, crossval.Options{
			Folds:               t.opts.Folds,
			Seed:                t.opts.Seed,
			Concurrency:         t.opts.Concurrency,
			EarlyStoppingRounds: t.opts.EarlyStoppingRounds,
			Prune:               trial.PruneCallback(PruneMetric),
		})
		if err != nil {
			return 0, err
		}

		values := result.Metrics[ObjectiveMetric]
		if len(values) == 0 {
			return 0, fmt.Errorf("%w: no %s values", crossval.ErrCrossValidation, ObjectiveMetric)
		}
		return metrics.Mean(values), nil
	}

	if err := st.Run(ctx, objective, t.opts.Trials); err != nil {
		return nil, err
	}

	return t.Finalize(st)
}

// Finalize rebuilds a fresh pipeline from the study's best trial and fits it
// on the full dataset. The search's cross-validation already estimated
// generalization, so no split is held out here.
func (t *Tuner) Finalize(st *study.Study) (*pipeline.Pipeline, error) {
	params, err := st.BestParams()
	if err != nil {
		if errors.Is(err, study.ErrNoCompletedTrials) {
			return nil, err
		}
		return nil, fmt.Errorf("finalizing: %w", err)
	}

	final := t.template.Clone()
	if err := final.Configure(params); err != nil {
		return nil, fmt.Errorf("finalizing: %w", err)
	}

	features, err := t.ds.Features(final.Modalities)
	if err != nil {
		return nil, fmt.Errorf("finalizing: %w", err)
	}
	if err := final.Fit(features, t.ds.Labels(), pipeline.FitOptions{Seed: t.opts.Seed}); err != nil {
		return nil, fmt.Errorf("finalizing: %w", err)
	}

	slog.Info("finalized best pipeline", "mode", final.Mode, "modalities", final.Modalities)
	return final, nil
}
