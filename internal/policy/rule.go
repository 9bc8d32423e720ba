package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Category classifies what kind of damage a rule guards against.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategoryRCE        Category = "rce"
	CategoryResource   Category = "resource"
	CategoryPrivilege  Category = "privilege"
	CategoryDisk       Category = "disk"
	CategorySystem     Category = "system"
	CategoryNetwork    Category = "network"
)

// Severity orders rules by how damaging a match is. Under the standard
// level only matches at or above the engine's blocking threshold block;
// weaker matches are surfaced as log-only annotations.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium", "":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", s)
	}
}

// Rule is one entry of the pattern table: a compiled matcher over the
// normalized command text plus metadata for reporting. Rules are pure
// data — matching has no side effects and the table is never mutated
// after load.
type Rule struct {
	ID          string
	Category    Category
	Description string
	Severity    Severity

	pattern *regexp.Regexp
}

// NewRule compiles a rule from a pattern string. The pattern is matched
// against the normalized form of the command (see Normalize), so it can
// assume lowercase text and single spaces.
func NewRule(id string, cat Category, pattern, description string, sev Severity) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: compile pattern: %w", id, err)
	}
	return Rule{
		ID:          id,
		Category:    cat,
		Description: description,
		Severity:    sev,
		pattern:     re,
	}, nil
}

// Matches reports whether the rule matches the given normalized command.
func (r Rule) Matches(normalized string) bool {
	return r.pattern.MatchString(normalized)
}

// Pattern returns the rule's pattern source, for display.
func (r Rule) Pattern() string {
	return r.pattern.String()
}

// Normalize canonicalizes command text before matching: lowercased,
// quote characters stripped, runs of whitespace collapsed to one space.
// This defeats trivial obfuscation (quoting, extra spaces) but not
// arbitrary encoding — the pattern table is a heuristic layer, not a
// formal guarantee.
func Normalize(command string) string {
	var b strings.Builder
	b.Grow(len(command))
	space := false
	for _, r := range command {
		switch r {
		case '"', '\'':
			continue
		case ' ', '\t', '\n', '\r':
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicodeLower(r))
	}
	return b.String()
}

func unicodeLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// LeadingExecutable extracts the executable name a command invokes:
// the first token that is not an environment variable assignment, with
// any directory prefix stripped.
func LeadingExecutable(command string) string {
	for _, tok := range strings.Fields(strings.TrimSpace(command)) {
		if strings.Contains(tok, "=") {
			continue
		}
		if i := strings.LastIndexByte(tok, '/'); i >= 0 {
			tok = tok[i+1:]
		}
		return tok
	}
	return ""
}
