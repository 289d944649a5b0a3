package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaultSpaceSamples(t *testing.T) {
	space := DefaultSpace()

	err := space.Validate(Params{
		"n_estimators":     float64(250),
		"max_depth":        float64(10),
		"learning_rate":    0.05,
		"colsample_bytree": 0.5,
	})
	require.NoError(t, err)
}

func TestValidateRejectsUnknownParameter(t *testing.T) {
	space := DefaultSpace()

	err := space.Validate(Params{"subsample": 0.5})
	require.ErrorIs(t, err, ErrInvalidHyperparameter)
	assert.Contains(t, err.Error(), "subsample")
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	space := DefaultSpace()

	for name, value := range map[string]any{
		"n_estimators":  float64(1000),
		"max_depth":     float64(1),
		"learning_rate": 0.5,
	} {
		err := space.Validate(Params{name: value})
		assert.ErrorIs(t, err, ErrInvalidHyperparameter, "parameter %s", name)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	space := DefaultSpace()

	err := space.Validate(Params{"max_depth": "deep"})
	require.ErrorIs(t, err, ErrInvalidHyperparameter)

	err = space.Validate(Params{"max_depth": 10.5})
	require.ErrorIs(t, err, ErrInvalidHyperparameter)
}

func TestValidateCategorical(t *testing.T) {
	space := ParamSpace{
		"booster": {Name: "booster", Kind: CategoricalParam, Choices: []string{"gbtree", "dart"}},
	}

	require.NoError(t, space.Validate(Params{"booster": "dart"}))
	require.ErrorIs(t, space.Validate(Params{"booster": "linear"}), ErrInvalidHyperparameter)
	require.ErrorIs(t, space.Validate(Params{"booster": 3.0}), ErrInvalidHyperparameter)
}

func TestParamsCloneIsIndependent(t *testing.T) {
	original := DefaultParams()
	clone := original.Clone()

	clone["max_depth"] = float64(3)
	assert.Equal(t, float64(10), original["max_depth"].(float64))
}
