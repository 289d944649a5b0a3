package study

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"sleep-tuner/internal/pipeline"
)

const samplerCandidates = 24

// sampler proposes one hyperparameter assignment per trial. The first
// startupTrials proposals are uniform random; after that, candidates are
// scored by how much more likely they are under the better-performing
// fraction of trial history than under the rest, and the best-scoring
// candidate wins. Sampling is deterministic given the seed and the history.
type sampler struct {
	space         pipeline.ParamSpace
	rng           *rand.Rand
	startupTrials int
	direction     string
}

func newSampler(space pipeline.ParamSpace, seed int64, startupTrials int, direction string) *sampler {
	return &sampler{
		space:         space,
		rng:           rand.New(rand.NewSource(seed)),
		startupTrials: startupTrials,
		direction:     direction,
	}
}

func (s *sampler) sample(history []TrialRecord) pipeline.Params {
	observed := decodeCompleted(history)
	if len(observed) < s.startupTrials {
		return s.random()
	}

	// Split history into the better quarter and the rest. Better means
	// highest when maximizing, lowest when minimizing.
	sort.Slice(observed, func(i, j int) bool {
		if s.direction == Minimize {
			return observed[i].value < observed[j].value
		}
		return observed[i].value > observed[j].value
	})
	split := len(observed) / 4
	if split < 1 {
		split = 1
	}
	good, bad := observed[:split], observed[split:]
	if len(bad) == 0 {
		return s.random()
	}

	var best pipeline.Params
	bestScore := math.Inf(-1)
	for c := 0; c < samplerCandidates; c++ {
		candidate := s.random()
		score := 0.0
		for name, spec := range s.space {
			score += math.Log(density(spec, candidate[name], good) /
				density(spec, candidate[name], bad))
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

func (s *sampler) random() pipeline.Params {
	params := make(pipeline.Params, len(s.space))
	for _, name := range s.space.Names() {
		spec := s.space[name]
		switch spec.Kind {
		case pipeline.IntParam:
			params[name] = float64(int64(spec.Low) + s.rng.Int63n(int64(spec.High)-int64(spec.Low)+1))
		case pipeline.FloatParam:
			params[name] = spec.Low + s.rng.Float64()*(spec.High-spec.Low)
		case pipeline.CategoricalParam:
			params[name] = spec.Choices[s.rng.Intn(len(spec.Choices))]
		}
	}
	return params
}

type observedTrial struct {
	params pipeline.Params
	value  float64
}

func decodeCompleted(history []TrialRecord) []observedTrial {
	var observed []observedTrial
	for _, trial := range history {
		if trial.Status != TrialCompleted || !trial.Value.Valid {
			continue
		}
		var params pipeline.Params
		if err := json.Unmarshal(trial.Params, &params); err != nil {
			continue
		}
		observed = append(observed, observedTrial{params: params, value: trial.Value.Float64})
	}
	return observed
}

// density estimates how likely a candidate value is under a set of observed
// trials: a Gaussian kernel estimate for numeric parameters, add-one counts
// for categoricals.
func density(spec pipeline.ParamSpec, value any, observed []observedTrial) float64 {
	const floor = 1e-9

	if spec.Kind == pipeline.CategoricalParam {
		choice, _ := value.(string)
		count := 1.0
		for _, o := range observed {
			if o.params[spec.Name] == choice {
				count++
			}
		}
		return count / float64(len(observed)+len(spec.Choices))
	}

	v, _ := value.(float64)
	width := spec.High - spec.Low
	if width <= 0 {
		return floor
	}
	bandwidth := width / (1 + math.Sqrt(float64(len(observed))))

	sum := 0.0
	for _, o := range observed {
		x, _ := o.params[spec.Name].(float64)
		d := (v - x) / bandwidth
		sum += math.Exp(-0.5 * d * d)
	}
	if sum == 0 {
		return floor
	}
	return sum / (float64(len(observed)) * bandwidth)
}
