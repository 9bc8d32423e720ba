package safeshell

import (
	"fmt"
	"time"

	"github.com/safeshell-dev/safeshell/internal/policy"
)

// CommandResult is the immutable outcome of one executed command. It is
// never constructed for a blocked command.
type CommandResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool

	// Decision carries the policy verdict, including log-only
	// annotations, for observability.
	Decision policy.Decision
}

// Success reports whether the command exited with code 0.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// truncate caps s at max bytes, appending a marker noting how much was
// removed.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	removed := len(s) - max
	return s[:max] + fmt.Sprintf("\n\n[Truncated: %d bytes removed]", removed), true
}
