package tuner_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleep-tuner/internal/dataset"
	"sleep-tuner/internal/pipeline"
	"sleep-tuner/internal/study"
	"sleep-tuner/internal/tuner"
)

func setupDataset(t *testing.T, subjects, rows int) *dataset.Dataset {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))

	for s := 0; s < subjects; s++ {
		content := "act_signal,act_noise,sleep,5stage\n"
		for i := 0; i < rows; i++ {
			label := i % 2
			content += fmt.Sprintf("%.4f,%.4f,%d,%d\n",
				float64(label)+0.3*rng.Float64(), rng.Float64(), label, label*2)
		}
		path := filepath.Join(dir, fmt.Sprintf("features_%04d.csv", s))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	ds, err := dataset.Load(dir)
	require.NoError(t, err)
	return ds
}

// fastSpace keeps trial fits small enough for test runs.
func fastSpace() pipeline.ParamSpace {
	return pipeline.ParamSpace{
		"n_estimators":     {Name: "n_estimators", Kind: pipeline.IntParam, Low: 5, High: 10},
		"max_depth":        {Name: "max_depth", Kind: pipeline.IntParam, Low: 2, High: 3},
		"learning_rate":    {Name: "learning_rate", Kind: pipeline.FloatParam, Low: 0.1, High: 0.3},
		"colsample_bytree": {Name: "colsample_bytree", Kind: pipeline.FloatParam, Low: 0.5, High: 1},
	}
}

func TestSearchEndToEnd(t *testing.T) {
	ds := setupDataset(t, 10, 20)
	studyRoot := t.TempDir()
	template := pipeline.New([]string{"act"}, pipeline.BinaryMode)

	tn := tuner.New(template, ds, tuner.Options{
		StudyRoot: studyRoot,
		Trials:    3,
		Folds:     5,
		Seed:      1,
		Space:     fastSpace(),
	})

	best, err := tn.Run(context.Background())
	require.NoError(t, err)
	require.True(t, best.Fitted())

	// The persisted log holds exactly the three trials, each in a terminal state.
	key := study.Key([]string{"act"}, pipeline.BinaryMode)
	st, err := study.Open(studyRoot, key, fastSpace(), study.Options{Direction: study.Maximize, Seed: 1})
	require.NoError(t, err)

	trials, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 3)
	completed := 0
	for _, trial := range trials {
		assert.Contains(t,
			[]string{study.TrialCompleted, study.TrialPruned, study.TrialFailed},
			trial.Status)
		if trial.Status == study.TrialCompleted {
			completed++
		}
	}
	// Sampled assignments from the custom space must be accepted by the
	// pipeline, so trials complete rather than fail validation.
	require.Greater(t, completed, 0)

	// The finalized pipeline carries exactly the best trial's configuration.
	bestTrial, err := st.BestTrial()
	require.NoError(t, err)
	var bestParams pipeline.Params
	require.NoError(t, json.Unmarshal(bestTrial.Params, &bestParams))
	got := best.Params()
	for name, want := range bestParams {
		assert.Equal(t, want, got[name], "parameter %s", name)
	}

	// The deployable artifact predicts per-subject datapoints.
	features, err := ds.SubjectFeatures("0000", best.Modalities)
	require.NoError(t, err)
	predicted, err := best.Predict(features)
	require.NoError(t, err)
	assert.Len(t, predicted, 20)
}

func TestSearchResumesAcrossRuns(t *testing.T) {
	ds := setupDataset(t, 10, 16)
	studyRoot := t.TempDir()
	template := pipeline.New([]string{"act"}, pipeline.BinaryMode)

	opts := tuner.Options{
		StudyRoot: studyRoot,
		Trials:    2,
		Folds:     5,
		Seed:      1,
		Space:     fastSpace(),
	}

	_, err := tuner.New(template, ds, opts).Run(context.Background())
	require.NoError(t, err)

	opts.Trials = 1
	_, err = tuner.New(template, ds, opts).Run(context.Background())
	require.NoError(t, err)

	key := study.Key([]string{"act"}, pipeline.BinaryMode)
	st, err := study.Open(studyRoot, key, fastSpace(), study.Options{Direction: study.Maximize, Seed: 1})
	require.NoError(t, err)
	trials, err := st.Trials()
	require.NoError(t, err)
	assert.Len(t, trials, 3)
}

func TestFinalizeWithoutCompletedTrials(t *testing.T) {
	ds := setupDataset(t, 6, 10)
	studyRoot := t.TempDir()
	template := pipeline.New([]string{"act"}, pipeline.BinaryMode)

	st, err := study.Open(studyRoot, study.Key([]string{"act"}, pipeline.BinaryMode),
		fastSpace(), study.Options{Direction: study.Maximize, Seed: 1})
	require.NoError(t, err)

	tn := tuner.New(template, ds, tuner.Options{StudyRoot: studyRoot, Space: fastSpace()})
	_, err = tn.Finalize(st)
	require.ErrorIs(t, err, study.ErrNoCompletedTrials)
}

func TestMultiClassMode(t *testing.T) {
	ds := setupDataset(t, 10, 20)
	studyRoot := t.TempDir()
	template := pipeline.New([]string{"act"}, "5stage")

	tn := tuner.New(template, ds, tuner.Options{
		StudyRoot: studyRoot,
		Trials:    1,
		Folds:     5,
		Seed:      1,
		Space:     fastSpace(),
	})

	best, err := tn.Run(context.Background())
	require.NoError(t, err)
	require.True(t, best.Fitted())
	assert.Equal(t, "5stage", best.TargetColumn())
}

func TestScoreReportsNamedMetrics(t *testing.T) {
	ds := setupDataset(t, 4, 20)
	template := pipeline.New([]string{"act"}, pipeline.BinaryMode)
	template.SetSpace(fastSpace())
	require.NoError(t, template.Configure(pipeline.Params{
		"n_estimators": float64(10), "max_depth": float64(2),
		"learning_rate": 0.3, "colsample_bytree": 1.0,
	}))

	features, err := ds.Features(template.Modalities)
	require.NoError(t, err)
	require.NoError(t, template.Fit(features, ds.Labels(), pipeline.FitOptions{}))

	scores, err := tuner.Score(template, features, ds.Labels())
	require.NoError(t, err)
	assert.Contains(t, scores, tuner.ObjectiveMetric)
	assert.Contains(t, scores, "test_accuracy")
	assert.Contains(t, scores, "test_kappa")
	assert.Greater(t, scores[tuner.ObjectiveMetric], 0.8)
}
