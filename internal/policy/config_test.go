package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Rules) != 0 || len(cfg.Allowlist) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigRulesAndAllowlist(t *testing.T) {
	path := writeConfig(t, `
rules:
  - id: custom.secrets
    category: filesystem
    pattern: '\bcat\s+.*secrets'
    description: Reading the secrets file
    severity: high
allowlist:
  - ls
  - grep
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Allowlist) != 2 {
		t.Errorf("expected 2 allowlist entries, got %d", len(cfg.Allowlist))
	}

	rules, err := cfg.CompileRules()
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Severity != SeverityHigh || rules[0].Category != CategoryFilesystem {
		t.Errorf("rule metadata wrong: %+v", rules[0])
	}

	// Custom rule participates in evaluation.
	e, err := NewEngine(Standard, nil, rules)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	d := e.Evaluate("cat config/secrets.yaml")
	if d.Outcome != Block || d.Rule == nil || d.Rule.ID != "custom.secrets" {
		t.Errorf("expected block by custom rule, got %s (%+v)", d.Outcome, d.Rule)
	}
}

func TestCompileRulesRejectsBadInput(t *testing.T) {
	cases := []Config{
		{Rules: []RuleSpec{{ID: "x", Pattern: ""}}},
		{Rules: []RuleSpec{{ID: "x", Pattern: "[unclosed"}}},
		{Rules: []RuleSpec{{ID: "x", Pattern: "ok", Category: "bogus"}}},
		{Rules: []RuleSpec{{ID: "x", Pattern: "ok", Severity: "bogus"}}},
	}
	for i, cfg := range cases {
		if _, err := cfg.CompileRules(); err == nil {
			t.Errorf("case %d: expected compile error", i)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
