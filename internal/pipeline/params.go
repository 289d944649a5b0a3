package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidHyperparameter = errors.New("invalid hyperparameter")

// ParamKind is the declared type of a tunable parameter.
type ParamKind string

const (
	IntParam         ParamKind = "int"
	FloatParam       ParamKind = "float"
	CategoricalParam ParamKind = "categorical"
)

// ParamSpec declares the valid range (or choices) for one tunable parameter.
type ParamSpec struct {
	Name    string    `yaml:"name"`
	Kind    ParamKind `yaml:"type"`
	Low     float64   `yaml:"low"`
	High    float64   `yaml:"high"`
	Choices []string  `yaml:"choices"`
}

// ParamSpace is the full search space, keyed by parameter name.
type ParamSpace map[string]ParamSpec

// Params is one concrete hyperparameter assignment. Values are float64 for
// int/float parameters (ints hold integral values) and string for categoricals.
type Params map[string]any

// DefaultSpace returns the search ranges used for the sleep-stage booster.
func DefaultSpace() ParamSpace {
	return ParamSpace{
		"n_estimators":     {Name: "n_estimators", Kind: IntParam, Low: 200, High: 400},
		"max_depth":        {Name: "max_depth", Kind: IntParam, Low: 5, High: 25},
		"reg_alpha":        {Name: "reg_alpha", Kind: IntParam, Low: 0, High: 25},
		"reg_lambda":       {Name: "reg_lambda", Kind: IntParam, Low: 0, High: 25},
		"min_child_weight": {Name: "min_child_weight", Kind: IntParam, Low: 0, High: 25},
		"gamma":            {Name: "gamma", Kind: IntParam, Low: 5, High: 25},
		"learning_rate":    {Name: "learning_rate", Kind: FloatParam, Low: 0.01, High: 0.1},
		"colsample_bytree": {Name: "colsample_bytree", Kind: FloatParam, Low: 0.1, High: 1},
	}
}

// DefaultParams returns the untuned booster configuration. Defaults are
// intentionally not constrained to DefaultSpace (n_estimators 100 and
// learning_rate 0.005 sit outside the search ranges); only values passed
// through Configure are validated against the space.
func DefaultParams() Params {
	return Params{
		"n_estimators":     float64(100),
		"max_depth":        float64(10),
		"reg_alpha":        float64(0),
		"reg_lambda":       float64(0),
		"min_child_weight": float64(0),
		"gamma":            float64(0),
		"learning_rate":    0.005,
		"colsample_bytree": 0.1,
	}
}

// Names returns the parameter names in sorted order.
func (s ParamSpace) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every assigned value against its declared spec. Unknown
// names, wrong types, and out-of-range values are all rejected.
func (s ParamSpace) Validate(params Params) error {
	for name, value := range params {
		spec, ok := s[name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidHyperparameter, name)
		}

		switch spec.Kind {
		case IntParam:
			v, ok := value.(float64)
			if !ok {
				return fmt.Errorf("%w: %q expects an integer, got %T", ErrInvalidHyperparameter, name, value)
			}
			if v != float64(int(v)) {
				return fmt.Errorf("%w: %q expects an integer, got %v", ErrInvalidHyperparameter, name, v)
			}
			if v < spec.Low || v > spec.High {
				return fmt.Errorf("%w: %q=%v outside [%v, %v]", ErrInvalidHyperparameter, name, v, spec.Low, spec.High)
			}
		case FloatParam:
			v, ok := value.(float64)
			if !ok {
				return fmt.Errorf("%w: %q expects a float, got %T", ErrInvalidHyperparameter, name, value)
			}
			if v < spec.Low || v > spec.High {
				return fmt.Errorf("%w: %q=%v outside [%v, %v]", ErrInvalidHyperparameter, name, v, spec.Low, spec.High)
			}
		case CategoricalParam:
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: %q expects one of %v, got %T", ErrInvalidHyperparameter, name, spec.Choices, value)
			}
			found := false
			for _, choice := range spec.Choices {
				if v == choice {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %q=%q not in %v", ErrInvalidHyperparameter, name, v, spec.Choices)
			}
		default:
			return fmt.Errorf("%w: %q has unknown kind %q", ErrInvalidHyperparameter, name, spec.Kind)
		}
	}
	return nil
}

// Clone returns an independent copy of the assignment.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Int reads an integer-valued parameter, falling back when unset.
func (p Params) Int(name string, fallback int) int {
	if v, ok := p[name].(float64); ok {
		return int(v)
	}
	return fallback
}

// Float reads a float-valued parameter, falling back when unset.
func (p Params) Float(name string, fallback float64) float64 {
	if v, ok := p[name].(float64); ok {
		return v
	}
	return fallback
}
