// Package pipeline holds the cloneable classification pipeline: a validated
// hyperparameter assignment plus a trainable gradient-boosted-tree handle.
package pipeline

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var ErrUnknownTargetColumn = errors.New("unknown target column")

// BinaryMode selects the sleep/wake target column. Any other mode string
// names the label column directly (e.g. "5stage").
const (
	BinaryMode        = "binary"
	BinaryTargetLabel = "sleep"
)

const EpochLengthSeconds = 30

// Pipeline couples a hyperparameter assignment with a classifier handle.
// Clones are fully independent: they share the assignment by value and get a
// fresh untrained classifier, so concurrent fold fits cannot interfere.
type Pipeline struct {
	Modalities []string
	Mode       string

	space      ParamSpace
	params     Params
	classifier Classifier
	fitted     bool
}

// New builds an unfitted pipeline with the default hyperparameters.
func New(modalities []string, mode string) *Pipeline {
	sorted := append([]string(nil), modalities...)
	sort.Strings(sorted)
	return &Pipeline{
		Modalities: sorted,
		Mode:       mode,
		space:      DefaultSpace(),
		params:     DefaultParams(),
	}
}

// TargetColumn resolves the label column for a classification mode.
func (p *Pipeline) TargetColumn() string {
	if p.Mode == BinaryMode {
		return BinaryTargetLabel
	}
	return p.Mode
}

// Params returns a copy of the current assignment.
func (p *Pipeline) Params() Params {
	return p.params.Clone()
}

// SetSpace replaces the search space Configure validates against. Clones
// inherit the space, so setting it on a template covers every fold clone.
// A nil space restores the default.
func (p *Pipeline) SetSpace(space ParamSpace) {
	if space == nil {
		space = DefaultSpace()
	}
	p.space = space
}

// Configure validates and stores a hyperparameter assignment. Training state
// is untouched; configuring a fitted pipeline does not unfit it.
func (p *Pipeline) Configure(params Params) error {
	if err := p.space.Validate(params); err != nil {
		return err
	}
	merged := p.params.Clone()
	for k, v := range params {
		merged[k] = v
	}
	p.params = merged
	return nil
}

// Clone returns an independent pipeline with identical hyperparameters and an
// untrained classifier handle.
func (p *Pipeline) Clone() *Pipeline {
	return &Pipeline{
		Modalities: append([]string(nil), p.Modalities...),
		Mode:       p.Mode,
		space:      p.space,
		params:     p.params.Clone(),
	}
}

// Fit trains the classifier on a feature table and its label table, selecting
// the target column by classification mode. Fit options (early stopping, the
// pruning callback, eval slice) are forwarded to the classifier untouched.
func (p *Pipeline) Fit(features [][]float64, labels map[string][]int, opts FitOptions) error {
	target, ok := labels[p.TargetColumn()]
	if !ok {
		return fmt.Errorf("%w: %q (mode %q, have %s)",
			ErrUnknownTargetColumn, p.TargetColumn(), p.Mode, labelColumns(labels))
	}

	classifier := NewBooster(p.params)
	if err := classifier.Fit(features, target, opts); err != nil {
		return err
	}

	p.classifier = classifier
	p.fitted = true
	return nil
}

// Predict labels each feature row, in row order. Requires a prior Fit.
func (p *Pipeline) Predict(features [][]float64) ([]int, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	return p.classifier.Predict(features)
}

// Fitted reports whether the pipeline holds a trained classifier.
func (p *Pipeline) Fitted() bool {
	return p.fitted
}

func labelColumns(labels map[string][]int) string {
	cols := make([]string, 0, len(labels))
	for c := range labels {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return strings.Join(cols, ",")
}

// pipelineState is the gob wire form of a fitted pipeline.
type pipelineState struct {
	Modalities []string
	Mode       string
	Params     Params
	Classifier *Booster
	Fitted     bool
}

// Encode serializes the pipeline, including any fitted classifier state.
func (p *Pipeline) Encode(w io.Writer) error {
	state := pipelineState{
		Modalities: p.Modalities,
		Mode:       p.Mode,
		Params:     p.params,
		Fitted:     p.fitted,
	}
	if p.fitted {
		booster, ok := p.classifier.(*Booster)
		if !ok {
			return fmt.Errorf("cannot serialize classifier of type %T", p.classifier)
		}
		state.Classifier = booster
	}
	return gob.NewEncoder(w).Encode(state)
}

// Decode restores a pipeline previously written by Encode.
func Decode(r io.Reader) (*Pipeline, error) {
	var state pipelineState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("decoding pipeline: %w", err)
	}
	p := &Pipeline{
		Modalities: state.Modalities,
		Mode:       state.Mode,
		space:      DefaultSpace(),
		params:     state.Params,
		fitted:     state.Fitted,
	}
	if state.Fitted {
		p.classifier = state.Classifier
	}
	return p, nil
}
