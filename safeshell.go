// Package safeshell executes shell commands for AI agents behind two
// safety layers: a pattern-based security policy that classifies every
// command before a process is spawned, and a copy-on-write overlay
// filesystem that makes writes appear to succeed without mutating the
// real source tree.
//
// The policy layer is heuristic. It blocks known-dangerous command
// shapes and tolerates simple obfuscation, but it is not a kernel
// sandbox and makes no formal guarantee against a determined adversary.
package safeshell

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/safeshell-dev/safeshell/internal/audit"
	"github.com/safeshell-dev/safeshell/internal/discovery"
	"github.com/safeshell-dev/safeshell/internal/overlay"
	"github.com/safeshell-dev/safeshell/internal/policy"
)

// SecurityLevel re-exports the policy levels so callers need only this
// package.
type SecurityLevel = policy.SecurityLevel

const (
	Standard   = policy.Standard
	Paranoid   = policy.Paranoid
	Permissive = policy.Permissive
)

// Change re-exports the overlay diff entry.
type Change = overlay.Change

// State is the toolkit lifecycle. Transitions are one-directional:
// created, then open, then closed.
type State int32

const (
	StateCreated State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// promptFileLimit caps source tree enumeration for prompt generation.
const promptFileLimit = 1000

// killGrace is how long a timed-out process gets between SIGKILL being
// requested and the wait being abandoned.
const killGrace = 5 * time.Second

// newShellCommand builds the process for one command. Overridable in
// tests to observe or suppress the spawn point.
var newShellCommand = func(ctx context.Context, command, dir string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

// Toolkit owns one sandboxed session: a policy engine, an overlay over
// the source root, and the session lifecycle. Multiple Bash calls may
// run concurrently; Close waits for all of them before discarding the
// overlay.
type Toolkit struct {
	engine     *policy.Engine
	fs         *overlay.Manager
	tools      *discovery.Set
	auditLog   *audit.Log
	logger     *slog.Logger
	sessionID  string
	timeout    time.Duration
	maxOutput  int
	env        []string
	toolPrompt string

	mu    sync.Mutex
	state State
	wg    sync.WaitGroup
}

// Open constructs a toolkit over the given source root at the given
// security level and transitions it to the open state. The returned
// toolkit must be closed to discard its shadow directory.
func Open(source string, level SecurityLevel, opts ...Option) (*Toolkit, error) {
	cfg := config{
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutputBytes,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	allowlist := cfg.allowlist
	var extraRules []policy.Rule
	if cfg.policyPath != "" {
		pc, err := policy.LoadConfig(cfg.policyPath)
		if err != nil {
			return nil, err
		}
		extraRules, err = pc.CompileRules()
		if err != nil {
			return nil, err
		}
		allowlist = append(allowlist, pc.Allowlist...)
	}

	engine, err := policy.NewEngine(level, allowlist, extraRules)
	if err != nil {
		return nil, err
	}

	var overlayOpts []overlay.Option
	if cfg.eagerCopy {
		overlayOpts = append(overlayOpts, overlay.WithEagerCopy())
	}
	ofs, err := overlay.New(source, overlayOpts...)
	if err != nil {
		return nil, err
	}
	if err := ofs.Open(); err != nil {
		return nil, err
	}

	var auditLog *audit.Log
	if cfg.auditPath != "" {
		auditLog, err = audit.Open(cfg.auditPath)
		if err != nil {
			ofs.Close()
			return nil, err
		}
	}

	t := &Toolkit{
		engine:    engine,
		fs:        ofs,
		auditLog:  auditLog,
		logger:    cfg.logger,
		sessionID: audit.NewSessionID(),
		timeout:   cfg.timeout,
		maxOutput: cfg.maxOutput,
		env:       cfg.env,
		state:     StateOpen,
	}

	for path, content := range cfg.files {
		if err := t.WriteFile(path, []byte(content)); err != nil {
			t.Close()
			return nil, err
		}
	}

	// Best-effort tool probe, once per session.
	t.tools = discovery.Probe()
	t.toolPrompt = t.tools.Prompt(t.promptFiles(cfg.files), cfg.instructions)

	t.logger.Debug("toolkit opened",
		"session", t.sessionID,
		"source", ofs.Source(),
		"level", level.String())
	return t, nil
}

// Bash validates a command against the security policy and, if allowed,
// executes it with its working directory inside the overlay. Evaluation
// always completes before the process is spawned; blocked commands
// never start one. The call blocks until the command finishes or its
// timeout fires; run concurrent commands from separate goroutines.
func (t *Toolkit) Bash(ctx context.Context, command string) (*CommandResult, error) {
	t.mu.Lock()
	if t.state != StateOpen {
		state := t.state
		t.mu.Unlock()
		return nil, &LifecycleError{Op: "bash", State: state}
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	decision := t.engine.Evaluate(command)
	t.recordDecision(command, decision)

	if decision.Outcome == policy.Block {
		return nil, &SecurityError{Command: command, Decision: decision}
	}
	if decision.Outcome == policy.LogOnly {
		t.logger.Warn("command flagged by policy",
			"session", t.sessionID,
			"command", command,
			"reason", decision.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := newShellCommand(ctx, command, t.fs.Workdir(), t.env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Reconcile whatever the process wrote, even on failure: the
	// overlay keeps partial writes, there is no rollback.
	if err := t.fs.Sync(); err != nil {
		t.logger.Warn("overlay sync failed", "session", t.sessionID, "error", err)
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ExecutionError{Command: command, Timeout: true, Err: runErr}
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &ExecutionError{Command: command, Err: runErr}
		}
	}

	outStr, outTrunc := truncate(stdout.String(), t.maxOutput)
	errStr, errTrunc := truncate(stderr.String(), t.maxOutput)

	return &CommandResult{
		Stdout:    outStr,
		Stderr:    errStr,
		ExitCode:  cmd.ProcessState.ExitCode(),
		Duration:  duration,
		Truncated: outTrunc || errTrunc,
		Decision:  decision,
	}, nil
}

// Check evaluates a command without executing anything. Dry-run mode.
func (t *Toolkit) Check(command string) (policy.Decision, error) {
	if err := t.requireOpen("check"); err != nil {
		return policy.Decision{}, err
	}
	return t.engine.Evaluate(command), nil
}

// ReadFile reads a file through the overlay's merged view.
func (t *Toolkit) ReadFile(path string) (string, error) {
	if err := t.requireOpen("read_file"); err != nil {
		return "", err
	}
	p, err := t.fs.ResolveForRead(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes a file through the overlay. The source root is
// never touched; parent directories are created in the shadow layer.
func (t *Toolkit) WriteFile(path string, content []byte) error {
	if err := t.requireOpen("write_file"); err != nil {
		return err
	}
	p, err := t.fs.ResolveForWrite(path)
	if err != nil {
		return err
	}
	return os.WriteFile(p, content, 0o644)
}

// Delete hides a path from the merged view without removing anything
// from the source root.
func (t *Toolkit) Delete(path string) error {
	if err := t.requireOpen("delete"); err != nil {
		return err
	}
	return t.fs.Delete(path)
}

// ListDir returns the merged directory listing.
func (t *Toolkit) ListDir(dir string) ([]string, error) {
	if err := t.requireOpen("list_dir"); err != nil {
		return nil, err
	}
	return t.fs.ListDir(dir)
}

// Diff returns every path overlaid or deleted this session.
func (t *Toolkit) Diff() ([]Change, error) {
	if err := t.requireOpen("diff"); err != nil {
		return nil, err
	}
	return t.fs.Diff(), nil
}

// Close waits for in-flight commands, discards the shadow directory,
// and transitions the toolkit to closed. Idempotent. Even when cleanup
// fails the toolkit ends up closed; the failure is reported.
func (t *Toolkit) Close() error {
	t.mu.Lock()
	if t.state != StateOpen {
		t.state = StateClosed
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosed
	t.mu.Unlock()

	// Never discard overlay state still being written.
	t.wg.Wait()

	err := t.fs.Close()
	if t.auditLog != nil {
		err = errors.Join(err, t.auditLog.Close())
	}
	t.logger.Debug("toolkit closed", "session", t.sessionID)
	return err
}

// ToolPrompt returns the generated description of discovered tools for
// inclusion in an LLM system prompt.
func (t *Toolkit) ToolPrompt() string {
	return t.toolPrompt
}

// Tools returns the names of the external tools discovered at Open.
func (t *Toolkit) Tools() []string {
	return t.tools.Names()
}

// SessionID returns the session identifier used in audit entries.
func (t *Toolkit) SessionID() string {
	return t.sessionID
}

// Level returns the toolkit's security level.
func (t *Toolkit) Level() SecurityLevel {
	return t.engine.Level()
}

// Rules returns the active rule table.
func (t *Toolkit) Rules() []policy.Rule {
	return t.engine.Rules()
}

func (t *Toolkit) requireOpen(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return &LifecycleError{Op: op, State: t.state}
	}
	return nil
}

func (t *Toolkit) recordDecision(command string, d policy.Decision) {
	if t.auditLog == nil {
		return
	}
	entry := audit.Entry{
		SessionID: t.sessionID,
		Command:   command,
		Decision:  string(d.Outcome),
		Reason:    d.Reason,
	}
	if d.Rule != nil {
		entry.RuleID = d.Rule.ID
		entry.Category = string(d.Rule.Category)
	}
	if err := t.auditLog.Record(entry); err != nil {
		t.logger.Warn("audit record failed", "session", t.sessionID, "error", err)
	}
}

// promptFiles enumerates source files (capped, dot-dirs skipped) plus
// seeded files, for format hints in the tool prompt.
func (t *Toolkit) promptFiles(seeded map[string]string) []string {
	files := make([]string, 0, len(seeded))
	for p := range seeded {
		files = append(files, p)
	}
	count := 0
	filepath.WalkDir(t.fs.Source(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if count >= promptFileLimit {
			return filepath.SkipAll
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != t.fs.Source() {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(t.fs.Source(), p)
			if err == nil {
				files = append(files, filepath.ToSlash(rel))
				count++
			}
		}
		return nil
	})
	return files
}
