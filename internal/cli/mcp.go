package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safeshell-dev/safeshell"
	safemcp "github.com/safeshell-dev/safeshell/internal/mcp"
	"github.com/safeshell-dev/safeshell/internal/policy"
)

var (
	mcpSource   string
	mcpLevel    string
	mcpAllow    []string
	mcpPolicy   string
	mcpTimeout  time.Duration
	mcpEager    bool
	mcpAuditLog string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpSource, "source", ".", "Source directory the sandbox overlays")
	mcpCmd.Flags().StringVar(&mcpLevel, "level", "standard", "Security level (permissive|standard|paranoid)")
	mcpCmd.Flags().StringSliceVar(&mcpAllow, "allow", nil, "Allowlisted executables for paranoid level (repeatable)")
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to extra rules YAML (hot-reloaded for dry-run checks)")
	mcpCmd.Flags().DurationVar(&mcpTimeout, "timeout", safeshell.DefaultTimeout, "Per-command timeout")
	mcpCmd.Flags().BoolVar(&mcpEager, "eager", false, "Copy the source tree into the workspace at startup")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to hash-chained audit log")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs safeshell as an MCP (Model Context Protocol) server over stdio.\nExposes sandboxed tools: bash, check, read_file, write_file, list_dir, diff.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	level, err := policy.ParseLevel(mcpLevel)
	if err != nil {
		return err
	}

	srv, err := safemcp.New(safemcp.Config{
		Source:       mcpSource,
		Level:        level,
		Allowlist:    mcpAllow,
		PolicyPath:   mcpPolicy,
		AuditLogPath: mcpAuditLog,
		Timeout:      mcpTimeout,
		EagerCopy:    mcpEager,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "safeshell MCP server running on stdio (level %s, source %s)\n", level, mcpSource)

	return srv.Run(ctx)
}
