package discovery

import (
	"strings"
	"testing"
)

func TestProbeFindsCommonTools(t *testing.T) {
	s := Probe()
	// ls and cat exist on any platform this toolkit targets.
	if !s.Has("ls") {
		t.Error("expected ls to be discovered")
	}
	if !s.Has("cat") {
		t.Error("expected cat to be discovered")
	}
	if s.Has("definitely-not-a-tool") {
		t.Error("unknown tool reported as available")
	}
}

func TestNamesSorted(t *testing.T) {
	s := Probe()
	names := s.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestPromptMentionsCoreTools(t *testing.T) {
	s := Probe()
	p := s.Prompt([]string{"data.json", "notes.md"}, "Work inside the project directory.")
	if !strings.Contains(p, "Available tools:") {
		t.Errorf("prompt missing tool list: %q", p)
	}
	if !strings.Contains(p, "Work inside the project directory.") {
		t.Errorf("prompt missing extra instructions: %q", p)
	}
}

func TestPromptFormatHints(t *testing.T) {
	s := &Set{available: map[string]bool{"jq": true, "grep": true, "cat": true}}
	p := s.Prompt([]string{"a.json"}, "")
	if !strings.Contains(p, "For .json files: jq") {
		t.Errorf("expected json hint, got %q", p)
	}
}

func TestPromptEmptySet(t *testing.T) {
	s := &Set{available: map[string]bool{}}
	if got := s.Prompt(nil, "extra"); got != "extra" {
		t.Errorf("expected extra only, got %q", got)
	}
}
