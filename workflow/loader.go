package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlStageConfig mirrors StageConfig with yaml tags; StageConfig itself
// stays free of struct tags since it's also used as an in-memory value
// built directly by Go callers.
type yamlStageConfig struct {
	MinAgents               int     `yaml:"min_agents"`
	Chunks                  int     `yaml:"chunks"`
	Reducer                 string  `yaml:"reducer"`
	MinAgreement            float64 `yaml:"min_agreement"`
	Condition               string  `yaml:"condition"`
	SkipSatisfiesDependency *bool   `yaml:"skip_satisfies_dependency"`
}

type yamlStageDefinition struct {
	StageID              string          `yaml:"stage_id"`
	Name                 string          `yaml:"name"`
	Type                 string          `yaml:"type"`
	RequiredCapabilities []string        `yaml:"required_capabilities"`
	Dependencies         []string        `yaml:"dependencies"`
	Config               yamlStageConfig `yaml:"config"`
}

type yamlDefinition struct {
	Name   string                `yaml:"name"`
	Stages []yamlStageDefinition `yaml:"stages"`
}

func (d yamlDefinition) toDefinition() Definition {
	stages := make([]StageDefinition, 0, len(d.Stages))
	for _, s := range d.Stages {
		stages = append(stages, StageDefinition{
			StageID:              s.StageID,
			Name:                 s.Name,
			Type:                 StageType(s.Type),
			RequiredCapabilities: s.RequiredCapabilities,
			Dependencies:         s.Dependencies,
			Config: StageConfig{
				MinAgents:               s.Config.MinAgents,
				Chunks:                  s.Config.Chunks,
				Reducer:                 s.Config.Reducer,
				MinAgreement:            s.Config.MinAgreement,
				Condition:               s.Config.Condition,
				SkipSatisfiesDependency: s.Config.SkipSatisfiesDependency,
			},
		})
	}
	return Definition{Name: d.Name, Stages: stages}
}

// LoadDefinitionsDir reads every *.yaml/*.yml file in dir as a workflow
// Definition using yaml.v3. A missing directory means no workflows are
// predefined yet and is not an error, matching the teacher's
// WorkflowRouter.loadWorkflows; a malformed individual file is
// reported but does not stop the rest of the directory from loading.
func LoadDefinitionsDir(dir string) ([]Definition, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var defs []Definition
	var loadErrs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("workflow: read %s: %w", path, err))
			continue
		}
		var raw yamlDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("workflow: parse %s: %w", path, err))
			continue
		}
		defs = append(defs, raw.toDefinition())
	}
	return defs, loadErrs
}
