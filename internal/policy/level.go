package policy

import "fmt"

// SecurityLevel selects how aggressively commands are filtered.
// It is chosen once per toolkit instance and never changes afterwards.
type SecurityLevel int

const (
	// Standard blocks known-dangerous patterns. The default.
	Standard SecurityLevel = iota
	// Paranoid denies everything whose executable is not allowlisted,
	// and still applies pattern matching to allowlisted commands.
	Paranoid
	// Permissive logs dangerous patterns but never blocks.
	Permissive
)

func (l SecurityLevel) String() string {
	switch l {
	case Standard:
		return "standard"
	case Paranoid:
		return "paranoid"
	case Permissive:
		return "permissive"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name ("standard", "paranoid", "permissive")
// to a SecurityLevel.
func ParseLevel(s string) (SecurityLevel, error) {
	switch s {
	case "standard", "":
		return Standard, nil
	case "paranoid":
		return Paranoid, nil
	case "permissive":
		return Permissive, nil
	default:
		return Standard, fmt.Errorf("unknown security level %q", s)
	}
}
