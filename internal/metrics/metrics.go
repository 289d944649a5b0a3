// Package metrics implements the classification scores used both as fold
// objectives and as the per-round signal reported to the pruner. The two
// uses are kept as independently named metrics on purpose.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ConfusionMatrix counts predictions per (actual, predicted) class pair.
// Classes are dense non-negative integers.
func ConfusionMatrix(actual, predicted []int) ([][]float64, error) {
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("length mismatch: %d actual vs %d predicted", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("empty label sequence")
	}

	n := 0
	for i := range actual {
		if actual[i] >= n {
			n = actual[i] + 1
		}
		if predicted[i] >= n {
			n = predicted[i] + 1
		}
	}

	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := range actual {
		m[actual[i]][predicted[i]]++
	}
	return m, nil
}

// Accuracy is the fraction of exactly matching labels.
func Accuracy(actual, predicted []int) (float64, error) {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return 0, fmt.Errorf("invalid label sequences: %d actual vs %d predicted", len(actual), len(predicted))
	}
	hits := 0.0
	for i := range actual {
		if actual[i] == predicted[i] {
			hits++
		}
	}
	return hits / float64(len(actual)), nil
}

// MCC computes the multi-class Matthews correlation coefficient from the
// confusion matrix (the R_k statistic). Returns 0 for degenerate matrices
// where the denominator vanishes.
func MCC(actual, predicted []int) (float64, error) {
	m, err := ConfusionMatrix(actual, predicted)
	if err != nil {
		return 0, err
	}

	n := len(m)
	var total, trace float64
	rowSum := make([]float64, n)
	colSum := make([]float64, n)
	for i := 0; i < n; i++ {
		trace += m[i][i]
		for j := 0; j < n; j++ {
			total += m[i][j]
			rowSum[i] += m[i][j]
			colSum[j] += m[i][j]
		}
	}

	var sumRC, sumRR, sumCC float64
	for i := 0; i < n; i++ {
		sumRC += rowSum[i] * colSum[i]
		sumRR += rowSum[i] * rowSum[i]
		sumCC += colSum[i] * colSum[i]
	}

	num := trace*total - sumRC
	den := math.Sqrt(total*total-sumRR) * math.Sqrt(total*total-sumCC)
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// CohenKappa measures agreement corrected for chance.
func CohenKappa(actual, predicted []int) (float64, error) {
	m, err := ConfusionMatrix(actual, predicted)
	if err != nil {
		return 0, err
	}

	n := len(m)
	var total, observed float64
	rowSum := make([]float64, n)
	colSum := make([]float64, n)
	for i := 0; i < n; i++ {
		observed += m[i][i]
		for j := 0; j < n; j++ {
			total += m[i][j]
			rowSum[i] += m[i][j]
			colSum[j] += m[i][j]
		}
	}

	var expected float64
	for i := 0; i < n; i++ {
		expected += rowSum[i] * colSum[i] / total
	}
	if total == expected {
		return 0, nil
	}
	return (observed - expected) / (total - expected), nil
}

// Mean aggregates per-fold values into a trial objective.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}
