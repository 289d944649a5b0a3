package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"sleep-tuner/internal/pipeline"
)

// searchSpaceFile is the YAML shape of a search-space override file:
//
//	parameters:
//	  - name: max_depth
//	    type: int
//	    low: 5
//	    high: 25
//	  - name: booster
//	    type: categorical
//	    choices: [gbtree, dart]
type searchSpaceFile struct {
	Parameters []pipeline.ParamSpec `yaml:"parameters"`
}

// LoadSearchSpace reads a YAML search-space file. An empty path returns the
// default space.
func LoadSearchSpace(path string) (pipeline.ParamSpace, error) {
	if path == "" {
		return pipeline.DefaultSpace(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading search space %s: %w", path, err)
	}

	var file searchSpaceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing search space %s: %w", path, err)
	}
	if len(file.Parameters) == 0 {
		return nil, fmt.Errorf("search space %s declares no parameters", path)
	}

	space := make(pipeline.ParamSpace, len(file.Parameters))
	for _, spec := range file.Parameters {
		if spec.Name == "" {
			return nil, fmt.Errorf("search space %s has a parameter with no name", path)
		}
		switch spec.Kind {
		case pipeline.IntParam, pipeline.FloatParam:
			if spec.High < spec.Low {
				return nil, fmt.Errorf("parameter %q: high %v < low %v", spec.Name, spec.High, spec.Low)
			}
		case pipeline.CategoricalParam:
			if len(spec.Choices) == 0 {
				return nil, fmt.Errorf("parameter %q: categorical with no choices", spec.Name)
			}
		default:
			return nil, fmt.Errorf("parameter %q: unknown type %q", spec.Name, spec.Kind)
		}
		space[spec.Name] = spec
	}
	return space, nil
}
