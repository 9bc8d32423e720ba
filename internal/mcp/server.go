// Package mcp exposes a safeshell session as MCP tools over stdio, so
// any MCP-capable agent can execute commands inside the sandbox.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/safeshell-dev/safeshell"
	"github.com/safeshell-dev/safeshell/internal/policy"
)

// Config holds MCP server configuration.
type Config struct {
	Source       string
	Level        safeshell.SecurityLevel
	Allowlist    []string
	PolicyPath   string
	AuditLogPath string
	Timeout      time.Duration
	EagerCopy    bool
	Instructions string
	Logger       *slog.Logger
}

// Server wraps one safeshell session behind the MCP SDK server. The
// session toolkit's rule table is fixed for its lifetime; only the
// dry-run check engine is rebuilt on policy file changes.
type Server struct {
	mcpServer *mcpsdk.Server
	toolkit   *safeshell.Toolkit
	cfg       Config
	logger    *slog.Logger
	reloader  *reloader

	mu          sync.Mutex
	checkEngine *policy.Engine
}

// New opens a toolkit session and registers the safeshell tools.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []safeshell.Option{safeshell.WithLogger(cfg.Logger)}
	if len(cfg.Allowlist) > 0 {
		opts = append(opts, safeshell.WithAllowlist(cfg.Allowlist...))
	}
	if cfg.PolicyPath != "" {
		opts = append(opts, safeshell.WithPolicyConfig(cfg.PolicyPath))
	}
	if cfg.AuditLogPath != "" {
		opts = append(opts, safeshell.WithAuditLog(cfg.AuditLogPath))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, safeshell.WithTimeout(cfg.Timeout))
	}
	if cfg.EagerCopy {
		opts = append(opts, safeshell.WithEagerCopy())
	}
	if cfg.Instructions != "" {
		opts = append(opts, safeshell.WithInstructions(cfg.Instructions))
	}

	toolkit, err := safeshell.Open(cfg.Source, cfg.Level, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open toolkit: %w", err)
	}

	checkEngine, err := buildEngine(cfg)
	if err != nil {
		toolkit.Close()
		return nil, err
	}

	s := &Server{
		toolkit:     toolkit,
		cfg:         cfg,
		logger:      cfg.Logger,
		checkEngine: checkEngine,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "safeshell",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()

	if cfg.PolicyPath != "" {
		s.reloader, err = watchPolicy(cfg.PolicyPath, cfg.Logger, s.swapCheckEngine)
		if err != nil {
			// Hot reload is a convenience; a missing watcher is not fatal.
			cfg.Logger.Warn("policy watch unavailable", "error", err)
		}
	}
	return s, nil
}

// buildEngine compiles an engine from the server config, independent of
// the session toolkit so it can be rebuilt on reload.
func buildEngine(cfg Config) (*policy.Engine, error) {
	allowlist := cfg.Allowlist
	var extra []policy.Rule
	if cfg.PolicyPath != "" {
		pc, err := policy.LoadConfig(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
		extra, err = pc.CompileRules()
		if err != nil {
			return nil, err
		}
		allowlist = append(allowlist, pc.Allowlist...)
	}
	return policy.NewEngine(cfg.Level, allowlist, extra)
}

// swapCheckEngine rebuilds the dry-run engine after a policy file
// change. The session toolkit is deliberately untouched: its rules stay
// fixed for the life of the session.
func (s *Server) swapCheckEngine() {
	engine, err := buildEngine(s.cfg)
	if err != nil {
		s.logger.Warn("policy reload failed, keeping previous rules", "error", err)
		return
	}
	s.mu.Lock()
	s.checkEngine = engine
	s.mu.Unlock()
	s.logger.Info("policy reloaded", "path", s.cfg.PolicyPath)
}

func (s *Server) check(command string) policy.Decision {
	s.mu.Lock()
	engine := s.checkEngine
	s.mu.Unlock()
	return engine.Evaluate(command)
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close stops the policy watcher and closes the toolkit session.
func (s *Server) Close() error {
	if s.reloader != nil {
		s.reloader.stop()
	}
	return s.toolkit.Close()
}

// registerTools adds all safeshell tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_bash",
		Description: "Execute a shell command inside the sandbox. Writes go to a copy-on-write overlay; the source tree is never modified. Blocked commands return an error with the reason.",
	}, s.handleBash)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_check",
		Description: "Check whether a command would be allowed by the security policy without executing it (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_read_file",
		Description: "Read a file through the sandbox overlay (source content unless the session overwrote or deleted it).",
	}, s.handleReadFile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_write_file",
		Description: "Write a file through the sandbox overlay. The source tree is never modified.",
	}, s.handleWriteFile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_list_dir",
		Description: "List a directory in the sandbox's merged view (source entries plus overlay changes).",
	}, s.handleListDir)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safeshell_diff",
		Description: "List every path the session has overlaid or deleted relative to the source tree.",
	}, s.handleDiff)
}
