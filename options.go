package safeshell

import (
	"log/slog"
	"time"
)

// DefaultTimeout is the per-command timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// DefaultMaxOutputBytes caps captured stdout/stderr before truncation.
const DefaultMaxOutputBytes = 30_000

// Option configures a Toolkit at Open time.
type Option func(*config)

type config struct {
	allowlist    []string
	policyPath   string
	timeout      time.Duration
	maxOutput    int
	eagerCopy    bool
	logger       *slog.Logger
	auditPath    string
	files        map[string]string
	instructions string
	env          []string
}

// WithAllowlist sets the paranoid-mode allowlist of permitted
// executable names. Entries match exactly; an entry ending in "*"
// matches by prefix.
func WithAllowlist(names ...string) Option {
	return func(c *config) { c.allowlist = append(c.allowlist, names...) }
}

// WithPolicyConfig loads extra rules and allowlist entries from a YAML
// file, appended after the builtin rule table.
func WithPolicyConfig(path string) Option {
	return func(c *config) { c.policyPath = path }
}

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxOutput caps captured stdout/stderr at n bytes.
func WithMaxOutput(n int) Option {
	return func(c *config) { c.maxOutput = n }
}

// WithEagerCopy materializes the source tree into the shadow workspace
// at Open so shell commands can read untouched files. The default lazy
// mode copies nothing until a path is written, but spawned commands
// then only see overlaid files.
func WithEagerCopy() Option {
	return func(c *config) { c.eagerCopy = true }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuditLog records every policy decision to a hash-chained JSONL
// file at the given path.
func WithAuditLog(path string) Option {
	return func(c *config) { c.auditPath = path }
}

// WithFiles seeds inline files (logical path to content) through the
// overlay before the first command runs. The source root is never
// touched.
func WithFiles(files map[string]string) Option {
	return func(c *config) { c.files = files }
}

// WithInstructions appends extra context to the generated tool prompt.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithEnv sets the environment for spawned commands. Defaults to the
// parent process environment.
func WithEnv(env []string) Option {
	return func(c *config) { c.env = env }
}
