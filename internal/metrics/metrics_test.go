package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]int{0, 1, 1, 0}, []int{0, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-9)

	_, err = Accuracy([]int{0}, []int{0, 1})
	require.Error(t, err)

	_, err = Accuracy(nil, nil)
	require.Error(t, err)
}

func TestMCCPerfectPrediction(t *testing.T) {
	actual := []int{0, 1, 0, 1, 1}

	mcc, err := MCC(actual, actual)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mcc, 1e-9)
}

func TestMCCInvertedPrediction(t *testing.T) {
	actual := []int{0, 1, 0, 1}
	inverted := []int{1, 0, 1, 0}

	mcc, err := MCC(actual, inverted)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, mcc, 1e-9)
}

func TestMCCKnownConfusion(t *testing.T) {
	// TP=4 TN=3 FP=1 FN=2 -> MCC = (4*3-1*2)/sqrt(5*6*4*5) ~= 0.40825
	actual := []int{1, 1, 1, 1, 1, 1, 0, 0, 0, 0}
	predicted := []int{1, 1, 1, 1, 0, 0, 0, 0, 0, 1}

	mcc, err := MCC(actual, predicted)
	require.NoError(t, err)
	assert.InDelta(t, 0.40825, mcc, 1e-4)
}

func TestMCCDegenerateIsZero(t *testing.T) {
	// Constant predictions give a vanishing denominator.
	mcc, err := MCC([]int{0, 1, 0, 1}, []int{1, 1, 1, 1})
	require.NoError(t, err)
	assert.Zero(t, mcc)
}

func TestCohenKappa(t *testing.T) {
	kappa, err := CohenKappa([]int{0, 1, 0, 1}, []int{0, 1, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, kappa, 1e-9)

	// Agreement no better than chance.
	kappa, err = CohenKappa([]int{0, 0, 1, 1}, []int{0, 1, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, kappa, 1e-9)
}

func TestMean(t *testing.T) {
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
	assert.True(t, Mean(nil) != Mean(nil)) // NaN
}
