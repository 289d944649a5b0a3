package pipeline

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testData builds a linearly separable binary problem: label 1 when the
// first feature is above 0.5.
func testData(t *testing.T, rows int) ([][]float64, map[string][]int) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	features := make([][]float64, rows)
	labels := make([]int, rows)
	for i := range features {
		x := rng.Float64()
		features[i] = []float64{x, rng.Float64()}
		if x > 0.5 {
			labels[i] = 1
		}
	}
	return features, map[string][]int{"sleep": labels}
}

func fastParams() Params {
	return Params{
		"n_estimators":     float64(20),
		"max_depth":        float64(3),
		"learning_rate":    0.3,
		"colsample_bytree": 1.0,
	}
}

// fastSpace admits the small/fast configurations the tests train with.
func fastSpace() ParamSpace {
	return ParamSpace{
		"n_estimators":     {Name: "n_estimators", Kind: IntParam, Low: 5, High: 50},
		"max_depth":        {Name: "max_depth", Kind: IntParam, Low: 1, High: 6},
		"learning_rate":    {Name: "learning_rate", Kind: FloatParam, Low: 0.05, High: 0.5},
		"colsample_bytree": {Name: "colsample_bytree", Kind: FloatParam, Low: 0.5, High: 1},
	}
}

func fastPipeline(t *testing.T, modalities []string, mode string) *Pipeline {
	t.Helper()
	p := New(modalities, mode)
	p.SetSpace(fastSpace())
	require.NoError(t, p.Configure(fastParams()))
	return p
}

func TestPredictBeforeFitFails(t *testing.T) {
	p := New([]string{"act"}, BinaryMode)

	_, err := p.Predict([][]float64{{0.1, 0.2}})
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestFitThenPredict(t *testing.T) {
	features, labels := testData(t, 200)

	p := fastPipeline(t, []string{"act"}, BinaryMode)
	require.NoError(t, p.Fit(features, labels, FitOptions{}))
	require.True(t, p.Fitted())

	predicted, err := p.Predict(features)
	require.NoError(t, err)
	require.Len(t, predicted, len(features))

	hits := 0
	for i, y := range labels["sleep"] {
		if predicted[i] == y {
			hits++
		}
	}
	assert.Greater(t, float64(hits)/float64(len(features)), 0.9)
}

func TestUnknownTargetColumn(t *testing.T) {
	features, labels := testData(t, 50)

	p := New([]string{"act"}, "6stage")
	err := p.Fit(features, labels, FitOptions{})
	require.ErrorIs(t, err, ErrUnknownTargetColumn)
}

func TestBinaryModeTargetsSleepColumn(t *testing.T) {
	p := New([]string{"act"}, BinaryMode)
	assert.Equal(t, BinaryTargetLabel, p.TargetColumn())

	p = New([]string{"act"}, "5stage")
	assert.Equal(t, "5stage", p.TargetColumn())
}

func TestConfigureRejectsInvalidParams(t *testing.T) {
	p := New([]string{"act"}, BinaryMode)

	err := p.Configure(Params{"max_depth": float64(100)})
	require.ErrorIs(t, err, ErrInvalidHyperparameter)

	// The previous assignment survives a rejected configure.
	assert.Equal(t, float64(10), p.Params()["max_depth"].(float64))
}

func TestSetSpaceGovernsConfigure(t *testing.T) {
	p := New([]string{"act"}, BinaryMode)

	// Outside the default n_estimators range, valid in the custom space.
	custom := Params{"n_estimators": float64(20)}
	require.ErrorIs(t, p.Configure(custom), ErrInvalidHyperparameter)

	p.SetSpace(fastSpace())
	require.NoError(t, p.Configure(custom))

	// Clones validate against the same custom space.
	clone := p.Clone()
	require.NoError(t, clone.Configure(Params{"n_estimators": float64(7)}))
	require.ErrorIs(t, clone.Configure(Params{"n_estimators": float64(300)}), ErrInvalidHyperparameter)

	// Nil restores the default ranges.
	p.SetSpace(nil)
	require.NoError(t, p.Configure(Params{"n_estimators": float64(300)}))
}

func TestCloneIsolation(t *testing.T) {
	features, labels := testData(t, 200)

	template := fastPipeline(t, []string{"act"}, BinaryMode)

	a := template.Clone()
	b := template.Clone()
	require.False(t, a.Fitted())
	require.False(t, b.Fitted())

	require.NoError(t, a.Fit(features, labels, FitOptions{}))
	before, err := a.Predict(features)
	require.NoError(t, err)

	// Fitting b on shifted data must not change a's predictions.
	shifted := make([][]float64, len(features))
	shiftedLabels := make([]int, len(features))
	for i, row := range features {
		shifted[i] = []float64{1 - row[0], row[1]}
		shiftedLabels[i] = 1 - labels["sleep"][i]
	}
	require.NoError(t, b.Fit(shifted, map[string][]int{"sleep": shiftedLabels}, FitOptions{}))

	after, err := a.Predict(features)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The template itself stays untrained.
	assert.False(t, template.Fitted())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	features, labels := testData(t, 120)

	p := fastPipeline(t, []string{"act", "hrv"}, BinaryMode)
	require.NoError(t, p.Fit(features, labels, FitOptions{}))

	want, err := p.Predict(features)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	restored, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, restored.Fitted())
	assert.Equal(t, p.Modalities, restored.Modalities)
	assert.Equal(t, p.Mode, restored.Mode)

	got, err := restored.Predict(features)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
