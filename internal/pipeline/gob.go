package pipeline

import (
	"bytes"
	"encoding/gob"
)

// Params values travel inside an any-typed map.
func init() {
	gob.Register(float64(0))
	gob.Register("")
}

// Wire forms with exported fields so fitted boosters survive gob round trips.

type boosterState struct {
	Rounds         int
	MaxDepth       int
	LearningRate   float64
	RegAlpha       float64
	RegLambda      float64
	MinChildWeight float64
	Gamma          float64
	Colsample      float64
	NClasses       int
	NFeature       int
	Trees          [][]*treeState
	Fitted         bool
}

type treeState struct {
	Leaf        bool
	Value       float64
	Feature     int
	Threshold   float64
	Left, Right *treeState
}

func freezeTree(n *treeNode) *treeState {
	if n == nil {
		return nil
	}
	return &treeState{
		Leaf:      n.leaf,
		Value:     n.value,
		Feature:   n.feature,
		Threshold: n.threshold,
		Left:      freezeTree(n.left),
		Right:     freezeTree(n.right),
	}
}

func thawTree(s *treeState) *treeNode {
	if s == nil {
		return nil
	}
	return &treeNode{
		leaf:      s.Leaf,
		value:     s.Value,
		feature:   s.Feature,
		threshold: s.Threshold,
		left:      thawTree(s.Left),
		right:     thawTree(s.Right),
	}
}

func (b *Booster) GobEncode() ([]byte, error) {
	state := boosterState{
		Rounds:         b.rounds,
		MaxDepth:       b.maxDepth,
		LearningRate:   b.learningRate,
		RegAlpha:       b.regAlpha,
		RegLambda:      b.regLambda,
		MinChildWeight: b.minChildWeight,
		Gamma:          b.gamma,
		Colsample:      b.colsample,
		NClasses:       b.nClasses,
		NFeature:       b.nFeature,
		Fitted:         b.fitted,
	}
	state.Trees = make([][]*treeState, len(b.trees))
	for c, column := range b.trees {
		state.Trees[c] = make([]*treeState, len(column))
		for r, tree := range column {
			state.Trees[c][r] = freezeTree(tree)
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Booster) GobDecode(data []byte) error {
	var state boosterState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}

	b.rounds = state.Rounds
	b.maxDepth = state.MaxDepth
	b.learningRate = state.LearningRate
	b.regAlpha = state.RegAlpha
	b.regLambda = state.RegLambda
	b.minChildWeight = state.MinChildWeight
	b.gamma = state.Gamma
	b.colsample = state.Colsample
	b.nClasses = state.NClasses
	b.nFeature = state.NFeature
	b.fitted = state.Fitted

	b.trees = make([][]*treeNode, len(state.Trees))
	for c, column := range state.Trees {
		b.trees[c] = make([]*treeNode, len(column))
		for r, tree := range column {
			b.trees[c][r] = thawTree(tree)
		}
	}
	return nil
}
