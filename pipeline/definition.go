package pipeline

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dkaramanos/synaxis/core"
)

// Definition is the declarative YAML form of a pipeline. Stage bodies are
// bound by name afterwards with Bind, keeping the wiring (orders, tags,
// budgets) in configuration and the behavior in code.
//
//	name: news-analysis
//	stages:
//	  - name: extract
//	    order: 1
//	    required: true
//	    timeout: 30s
//	    max_retries: 2
//	    backoff_base: 200ms
//	  - name: search
//	    order: 2
//	    subscribes: [keywords]
type Definition struct {
	Name   string            `yaml:"name"`
	Stages []StageDefinition `yaml:"stages"`
}

// StageDefinition declares one stage
type StageDefinition struct {
	Name        string   `yaml:"name"`
	Order       int      `yaml:"order"`
	Required    bool     `yaml:"required"`
	Timeout     Duration `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base"`
	Subscribes  []string `yaml:"subscribes"`
}

// Duration parses Go duration strings ("30s", "200ms") from YAML
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseDefinition parses and validates a pipeline definition from YAML
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("pipeline validation failed: %w", err)
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline name is required: %w", core.ErrInvalidConfiguration)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline %q has no stages: %w", d.Name, core.ErrEmptyTaskSet)
	}

	seen := make(map[string]struct{}, len(d.Stages))
	explicitOrders := false
	for _, stage := range d.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage without a name: %w", core.ErrInvalidConfiguration)
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("stage %q declared twice: %w", stage.Name, core.ErrDuplicateTaskName)
		}
		seen[stage.Name] = struct{}{}
		if stage.Order > 0 {
			explicitOrders = true
		}
		if stage.Order < 0 {
			return fmt.Errorf("stage %q has negative order: %w", stage.Name, core.ErrInvalidConfiguration)
		}
	}

	// Either every stage declares its order group, or none do (and the
	// pipeline runs fully sequentially in declaration order)
	if explicitOrders {
		for _, stage := range d.Stages {
			if stage.Order == 0 {
				return fmt.Errorf("stage %q is missing an order while others declare one: %w",
					stage.Name, core.ErrInvalidConfiguration)
			}
		}
	}
	return nil
}

// Bind attaches stage bodies to the definition, producing a runnable
// pipeline. Every declared stage must have a function; extra functions are
// ignored.
func (d *Definition) Bind(funcs map[string]StageFunc) (*Pipeline, error) {
	p := &Pipeline{
		Name:   d.Name,
		Stages: make([]Stage, 0, len(d.Stages)),
	}
	for i, stage := range d.Stages {
		fn, ok := funcs[stage.Name]
		if !ok {
			return nil, fmt.Errorf("no stage function bound for %q: %w",
				stage.Name, core.ErrInvalidConfiguration)
		}
		order := stage.Order
		if order == 0 {
			order = i + 1
		}
		p.Stages = append(p.Stages, Stage{
			Name:        stage.Name,
			Order:       order,
			Required:    stage.Required,
			Timeout:     time.Duration(stage.Timeout),
			MaxRetries:  stage.MaxRetries,
			BackoffBase: time.Duration(stage.BackoffBase),
			Subscribes:  stage.Subscribes,
			Run:         fn,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
