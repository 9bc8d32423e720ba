package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSpec is the YAML form of one custom rule.
type RuleSpec struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// Config is the on-disk policy configuration: extra rules appended to
// the builtin table, and an allowlist for the paranoid level.
type Config struct {
	Rules     []RuleSpec `yaml:"rules"`
	Allowlist []string   `yaml:"allowlist"`
}

// LoadConfig reads a policy config from a YAML file. An empty path
// returns an empty config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("policy: parse config: %w", err)
	}
	return &cfg, nil
}

// CompileRules converts the config's rule specs into compiled rules.
func (c *Config) CompileRules() ([]Rule, error) {
	if len(c.Rules) == 0 {
		return nil, nil
	}
	rules := make([]Rule, 0, len(c.Rules))
	for i, spec := range c.Rules {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("policy: rule %d has no pattern", i)
		}
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("custom.%d", i)
		}
		cat, err := parseCategory(spec.Category)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", id, err)
		}
		sev, err := ParseSeverity(spec.Severity)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", id, err)
		}
		r, err := NewRule(id, cat, spec.Pattern, spec.Description, sev)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryFilesystem, CategoryRCE, CategoryResource,
		CategoryPrivilege, CategoryDisk, CategorySystem, CategoryNetwork:
		return Category(s), nil
	case "":
		return CategorySystem, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}
