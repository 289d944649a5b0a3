package pipeline

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"sleep-tuner/internal/metrics"
)

var (
	ErrTrainingFailed = errors.New("training failed")
	ErrNotFitted      = errors.New("classifier is not fitted")

	// ErrTrialPruned is returned from a PruneFunc to stop an unpromising fit.
	// It travels out of Fit unchanged so callers can tell a pruned trial from
	// a failed one.
	ErrTrialPruned = errors.New("trial pruned")
)

// PruneFunc is the cooperative cancellation signal checked once per boosting
// round. It receives the round number and the round's validation metric; a
// non-nil return stops the fit immediately and is propagated as-is.
type PruneFunc func(step int, value float64) error

// FitOptions carries the optional controls forwarded into a classifier fit.
type FitOptions struct {
	// EarlyStoppingRounds stops training after this many rounds without
	// improvement on the eval slice. Zero disables early stopping.
	EarlyStoppingRounds int

	// Prune, when set, is invoked after every boosting round with the
	// validation MCC for that round.
	Prune PruneFunc

	// EvalX/EvalY are the held-out rows used for early stopping and for the
	// per-round metric reported to Prune. Both must be set together.
	EvalX [][]float64
	EvalY []int

	// Seed drives feature subsampling. Fits with equal seeds, data, and
	// parameters produce identical models.
	Seed int64
}

// Classifier is the opaque trainable handle owned by a Pipeline. Clone must
// return an untrained copy sharing no mutable state with the receiver.
type Classifier interface {
	Fit(features [][]float64, labels []int, opts FitOptions) error
	Predict(features [][]float64) ([]int, error)
	Clone() Classifier
}

// Booster is a gradient-boosted ensemble of depth-limited regression trees
// with logistic loss, trained one-vs-rest for more than two classes.
type Booster struct {
	rounds         int
	maxDepth       int
	learningRate   float64
	regAlpha       float64
	regLambda      float64
	minChildWeight float64
	gamma          float64
	colsample      float64

	nClasses int
	nFeature int
	trees    [][]*treeNode // [class][round]; single class slot for binary
	fitted   bool
}

// NewBooster builds an untrained booster from a hyperparameter assignment,
// falling back to the untuned defaults for anything unset.
func NewBooster(params Params) *Booster {
	defaults := DefaultParams()
	get := func(name string) float64 {
		if v, ok := params[name].(float64); ok {
			return v
		}
		return defaults[name].(float64)
	}
	return &Booster{
		rounds:         int(get("n_estimators")),
		maxDepth:       int(get("max_depth")),
		learningRate:   get("learning_rate"),
		regAlpha:       get("reg_alpha"),
		regLambda:      get("reg_lambda"),
		minChildWeight: get("min_child_weight"),
		gamma:          get("gamma"),
		colsample:      get("colsample_bytree"),
	}
}

// Clone returns an untrained booster with identical hyperparameters.
func (b *Booster) Clone() Classifier {
	clone := *b
	clone.trees = nil
	clone.fitted = false
	clone.nClasses = 0
	clone.nFeature = 0
	return &clone
}

func (b *Booster) Fit(features [][]float64, labels []int, opts FitOptions) error {
	if len(features) == 0 {
		return fmt.Errorf("%w: empty dataset", ErrTrainingFailed)
	}
	if len(features) != len(labels) {
		return fmt.Errorf("%w: %d feature rows vs %d labels", ErrTrainingFailed, len(features), len(labels))
	}

	nClasses := 0
	seen := make(map[int]struct{})
	for _, y := range labels {
		if y < 0 {
			return fmt.Errorf("%w: negative label %d", ErrTrainingFailed, y)
		}
		seen[y] = struct{}{}
		if y >= nClasses {
			nClasses = y + 1
		}
	}
	// All rows carrying the same label is degenerate even when that label is
	// nonzero, e.g. all-ones.
	if len(seen) < 2 {
		return fmt.Errorf("%w: single-class input, metric undefined", ErrTrainingFailed)
	}

	b.nClasses = nClasses
	b.nFeature = len(features[0])

	// Binary uses one score column; multi-class trains one-vs-rest columns.
	cols := 1
	if nClasses > 2 {
		cols = nClasses
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	scores := make([][]float64, cols)
	targets := make([][]float64, cols)
	for c := 0; c < cols; c++ {
		scores[c] = make([]float64, len(labels))
		targets[c] = make([]float64, len(labels))
		for i, y := range labels {
			if (cols == 1 && y == 1) || (cols > 1 && y == c) {
				targets[c][i] = 1
			}
		}
	}

	b.trees = make([][]*treeNode, cols)

	bestMetric := math.Inf(-1)
	sinceBest := 0

	for round := 1; round <= b.rounds; round++ {
		for c := 0; c < cols; c++ {
			grad := make([]float64, len(labels))
			hess := make([]float64, len(labels))
			for i := range labels {
				p := sigmoid(scores[c][i])
				grad[i] = p - targets[c][i]
				hess[i] = p * (1 - p)
			}

			tree := b.growTree(features, grad, hess, b.sampleFeatures(rng))
			b.trees[c] = append(b.trees[c], tree)
			for i, row := range features {
				scores[c][i] += b.learningRate * tree.eval(row)
			}
		}

		if len(opts.EvalX) == 0 {
			continue
		}

		predicted := b.predictFrom(opts.EvalX, round)
		value, err := metrics.MCC(opts.EvalY, predicted)
		if err != nil {
			return fmt.Errorf("%w: eval metric: %v", ErrTrainingFailed, err)
		}

		if opts.Prune != nil {
			if err := opts.Prune(round, value); err != nil {
				return err
			}
		}

		if opts.EarlyStoppingRounds > 0 {
			if value > bestMetric {
				bestMetric = value
				sinceBest = 0
			} else {
				sinceBest++
				if sinceBest >= opts.EarlyStoppingRounds {
					break
				}
			}
		}
	}

	b.fitted = true
	return nil
}

func (b *Booster) Predict(features [][]float64) ([]int, error) {
	if !b.fitted {
		return nil, ErrNotFitted
	}
	for _, row := range features {
		if len(row) != b.nFeature {
			return nil, fmt.Errorf("%w: expected %d features, got %d", ErrTrainingFailed, b.nFeature, len(row))
		}
	}
	return b.predictFrom(features, len(b.trees[0])), nil
}

// predictFrom scores rows using the first `rounds` trees of each column.
func (b *Booster) predictFrom(features [][]float64, rounds int) []int {
	out := make([]int, len(features))
	for i, row := range features {
		if len(b.trees) == 1 {
			score := 0.0
			for r := 0; r < rounds && r < len(b.trees[0]); r++ {
				score += b.learningRate * b.trees[0][r].eval(row)
			}
			if sigmoid(score) >= 0.5 {
				out[i] = 1
			}
			continue
		}

		best, bestScore := 0, math.Inf(-1)
		for c := range b.trees {
			score := 0.0
			for r := 0; r < rounds && r < len(b.trees[c]); r++ {
				score += b.learningRate * b.trees[c][r].eval(row)
			}
			if score > bestScore {
				best, bestScore = c, score
			}
		}
		out[i] = best
	}
	return out
}

// sampleFeatures picks the column subset for one tree.
func (b *Booster) sampleFeatures(rng *rand.Rand) []int {
	n := int(math.Ceil(b.colsample * float64(b.nFeature)))
	if n < 1 {
		n = 1
	}
	if n > b.nFeature {
		n = b.nFeature
	}
	perm := rng.Perm(b.nFeature)
	cols := append([]int(nil), perm[:n]...)
	sort.Ints(cols)
	return cols
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) eval(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (b *Booster) growTree(features [][]float64, grad, hess []float64, cols []int) *treeNode {
	idx := make([]int, len(grad))
	for i := range idx {
		idx[i] = i
	}
	return b.split(features, grad, hess, cols, idx, 0)
}

func (b *Booster) split(features [][]float64, grad, hess []float64, cols, idx []int, depth int) *treeNode {
	var sumG, sumH float64
	for _, i := range idx {
		sumG += grad[i]
		sumH += hess[i]
	}

	if depth >= b.maxDepth || len(idx) < 2 {
		return &treeNode{leaf: true, value: b.leafValue(sumG, sumH)}
	}

	parentObj := splitObjective(sumG, sumH, b.regLambda)

	bestGain := 0.0
	bestFeature, bestPos := -1, -1
	var bestOrder []int

	for _, f := range cols {
		order := append([]int(nil), idx...)
		sort.Slice(order, func(a, c int) bool {
			return features[order[a]][f] < features[order[c]][f]
		})

		leftG, leftH := 0.0, 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftG += grad[i]
			leftH += hess[i]

			// Splits only between distinct feature values.
			if features[order[pos]][f] == features[order[pos+1]][f] {
				continue
			}

			rightG, rightH := sumG-leftG, sumH-leftH
			if leftH < b.minChildWeight || rightH < b.minChildWeight {
				continue
			}

			gain := splitObjective(leftG, leftH, b.regLambda) +
				splitObjective(rightG, rightH, b.regLambda) - parentObj
			if gain > bestGain+b.gamma {
				bestGain = gain
				bestFeature = f
				bestPos = pos
				bestOrder = order
			}
		}
	}

	if bestFeature < 0 {
		return &treeNode{leaf: true, value: b.leafValue(sumG, sumH)}
	}

	threshold := (features[bestOrder[bestPos]][bestFeature] + features[bestOrder[bestPos+1]][bestFeature]) / 2
	leftIdx := append([]int(nil), bestOrder[:bestPos+1]...)
	rightIdx := append([]int(nil), bestOrder[bestPos+1:]...)

	return &treeNode{
		feature:   bestFeature,
		threshold: threshold,
		left:      b.split(features, grad, hess, cols, leftIdx, depth+1),
		right:     b.split(features, grad, hess, cols, rightIdx, depth+1),
	}
}

// leafValue applies L1 soft-thresholding (reg_alpha) and L2 damping
// (reg_lambda) to the Newton step for a leaf.
func (b *Booster) leafValue(sumG, sumH float64) float64 {
	g := sumG
	switch {
	case g > b.regAlpha:
		g -= b.regAlpha
	case g < -b.regAlpha:
		g += b.regAlpha
	default:
		return 0
	}
	return -g / (sumH + b.regLambda + 1e-12)
}

func splitObjective(g, h, lambda float64) float64 {
	return g * g / (h + lambda + 1e-12)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
