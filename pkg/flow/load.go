package flow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/pkg/cache"
	"github.com/loomworks/loom/pkg/errors"
)

// Definition is the YAML shape of one declared flow.
type Definition struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Streaming  bool   `yaml:"streaming"`
	Cache      struct {
		Dir string        `yaml:"dir"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
}

// File is the top-level YAML document listing flow definitions.
type File struct {
	Flows []Definition `yaml:"flows"`
}

// Load reads flow definitions from a YAML file and registers each one.
// Expressions are validated lazily on first call, so ops referenced here may
// be registered after loading.
func Load(path string, reg *Registry) ([]*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return LoadBytes(data, reg)
}

// LoadBytes parses and registers flow definitions from YAML content.
func LoadBytes(data []byte, reg *Registry) ([]*Flow, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Newf(errors.CodeConfiguration, "parse flow file: %v", err)
	}

	flows := make([]*Flow, 0, len(file.Flows))
	for _, def := range file.Flows {
		f, err := FromDefinition(def, reg)
		if err != nil {
			return nil, err
		}
		reg.RegisterFlow(f)
		flows = append(flows, f)
	}
	return flows, nil
}

// FromDefinition builds a flow from one parsed definition.
func FromDefinition(def Definition, reg *Registry) (*Flow, error) {
	if def.Name == "" {
		return nil, errors.New(errors.CodeConfiguration, "flow definition needs a name", nil)
	}
	if def.Expression == "" {
		return nil, errors.Newf(errors.CodeConfiguration, "flow %q needs an expression", def.Name)
	}

	var opts []Option
	if def.Streaming {
		opts = append(opts, WithStreaming())
	}
	if def.Cache.Dir != "" {
		store, err := cache.Open(def.Cache.Dir, def.Cache.TTL)
		if err != nil {
			return nil, errors.Newf(errors.CodeConfiguration,
				"flow %q cache at %s: %v", def.Name, def.Cache.Dir, err)
		}
		opts = append(opts, WithCache(store))
	}
	return FromExpression(def.Name, def.Expression, reg, opts...), nil
}
