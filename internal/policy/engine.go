package policy

import (
	"fmt"
	"strings"
)

// Outcome is the engine's verdict for one command.
type Outcome string

const (
	// Allow permits execution with no annotation.
	Allow Outcome = "allow"
	// Block refuses execution. No process may be spawned.
	Block Outcome = "block"
	// LogOnly permits execution but flags the match for observability.
	LogOnly Outcome = "log"
)

// Decision is the result of evaluating one command: the verdict, the
// matched rule if any, and a human-readable reason.
type Decision struct {
	Outcome Outcome
	Rule    *Rule
	Reason  string
}

// Allowed reports whether the decision permits execution.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow || d.Outcome == LogOnly
}

// BlockThreshold is the minimum severity at which a rule match blocks
// under the standard level. Weaker matches become log-only annotations.
const BlockThreshold = SeverityMedium

// Engine evaluates commands against the rule table for a fixed security
// level. Evaluation is a pure function of the command text: the engine
// never spawns processes and never touches the filesystem. Safe for
// concurrent use.
type Engine struct {
	level     SecurityLevel
	rules     []Rule
	allowlist map[string]struct{}
}

// NewEngine builds an engine for the given level. extra rules are
// appended after the builtin table. The level/allowlist combination is
// validated here, at configuration time, so semantics never shift
// mid-run: paranoid requires a non-empty allowlist, and the other
// levels reject one.
func NewEngine(level SecurityLevel, allowlist []string, extra []Rule) (*Engine, error) {
	switch level {
	case Paranoid:
		if len(allowlist) == 0 {
			return nil, fmt.Errorf("policy: paranoid level requires an allowlist")
		}
	case Standard, Permissive:
		if len(allowlist) > 0 {
			return nil, fmt.Errorf("policy: allowlist is only valid with the paranoid level")
		}
	default:
		return nil, fmt.Errorf("policy: unknown security level %d", level)
	}

	rules := DefaultRules()
	rules = append(rules, extra...)

	var allowed map[string]struct{}
	if level == Paranoid {
		allowed = make(map[string]struct{}, len(allowlist))
		for _, name := range allowlist {
			allowed[strings.TrimSpace(name)] = struct{}{}
		}
	}

	return &Engine{level: level, rules: rules, allowlist: allowed}, nil
}

// Level returns the engine's security level.
func (e *Engine) Level() SecurityLevel {
	return e.level
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate classifies a command. Every rule is checked; the
// highest-severity match decides the verdict, ties going to the earlier
// rule, so table order can never let a weak annotation rule mask a
// blocking one. Deterministic for a fixed rule table.
func (e *Engine) Evaluate(command string) Decision {
	// Paranoid: allowlist gate first, regardless of rule matches.
	if e.level == Paranoid {
		exe := LeadingExecutable(command)
		if !e.allowlisted(exe) {
			return Decision{
				Outcome: Block,
				Reason:  fmt.Sprintf("command %q not allowlisted", exe),
			}
		}
	}

	normalized := Normalize(command)

	var matched *Rule
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(normalized) {
			continue
		}
		if matched == nil || rule.Severity > matched.Severity {
			matched = rule
		}
	}
	if matched == nil {
		return Decision{Outcome: Allow, Reason: "no rule matched"}
	}

	reason := fmt.Sprintf("%s: %s", matched.Category, matched.Description)
	if e.level == Permissive || matched.Severity < BlockThreshold {
		return Decision{Outcome: LogOnly, Rule: matched, Reason: reason}
	}
	return Decision{Outcome: Block, Rule: matched, Reason: reason}
}

// allowlisted reports whether an executable name is permitted. Entries
// match exactly; an entry ending in "*" matches by prefix (for example
// "python*" covers python3).
func (e *Engine) allowlisted(exe string) bool {
	if exe == "" {
		return false
	}
	if _, ok := e.allowlist[exe]; ok {
		return true
	}
	for entry := range e.allowlist {
		if strings.HasSuffix(entry, "*") && strings.HasPrefix(exe, strings.TrimSuffix(entry, "*")) {
			return true
		}
	}
	return false
}
