package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safeshell-dev/safeshell"
	"github.com/safeshell-dev/safeshell/internal/policy"
)

var (
	execSource   string
	execLevel    string
	execAllow    []string
	execPolicy   string
	execTimeout  time.Duration
	execEager    bool
	execAuditLog string
	execJSON     bool
	execDiff     bool
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVar(&execSource, "source", ".", "Source directory the sandbox overlays")
	execCmd.Flags().StringVar(&execLevel, "level", "standard", "Security level (permissive|standard|paranoid)")
	execCmd.Flags().StringSliceVar(&execAllow, "allow", nil, "Allowlisted executables for paranoid level (repeatable)")
	execCmd.Flags().StringVar(&execPolicy, "policy", "", "Path to extra rules YAML")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", safeshell.DefaultTimeout, "Per-command timeout")
	execCmd.Flags().BoolVar(&execEager, "eager", false, "Copy the source tree into the workspace at startup")
	execCmd.Flags().StringVar(&execAuditLog, "audit-log", "", "Path to hash-chained audit log")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Print the full result as JSON")
	execCmd.Flags().BoolVar(&execDiff, "diff", false, "Print overlay changes to stderr after execution")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command...>",
	Short: "Execute a command inside a one-shot sandbox",
	Long:  "Opens a sandbox over --source, evaluates the command against the security\npolicy, and executes it with writes redirected to a throwaway overlay.\nBlocked commands are not executed. Exit code 77 indicates a policy block.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	level, err := policy.ParseLevel(execLevel)
	if err != nil {
		return err
	}

	opts := []safeshell.Option{
		safeshell.WithTimeout(execTimeout),
	}
	if len(execAllow) > 0 {
		opts = append(opts, safeshell.WithAllowlist(execAllow...))
	}
	if execPolicy != "" {
		opts = append(opts, safeshell.WithPolicyConfig(execPolicy))
	}
	if execEager {
		opts = append(opts, safeshell.WithEagerCopy())
	}
	if execAuditLog != "" {
		opts = append(opts, safeshell.WithAuditLog(execAuditLog))
	}

	tk, err := safeshell.Open(execSource, level, opts...)
	if err != nil {
		return fmt.Errorf("failed to open sandbox: %w", err)
	}
	defer tk.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	command := strings.Join(args, " ")
	result, err := tk.Bash(ctx, command)
	if err != nil {
		var secErr *safeshell.SecurityError
		if errors.As(err, &secErr) {
			resp := map[string]any{
				"blocked":  true,
				"command":  command,
				"decision": string(secErr.Decision.Outcome),
				"category": secErr.Category(),
				"reason":   secErr.Decision.Reason,
			}
			if r := secErr.Rule(); r != nil {
				resp["rule_id"] = r.ID
			}
			out, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Fprintln(os.Stderr, string(out))
			tk.Close()
			os.Exit(77)
		}
		return err
	}

	if execJSON {
		out, _ := json.MarshalIndent(map[string]any{
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
			"truncated": result.Truncated,
			"decision":  string(result.Decision.Outcome),
		}, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Print(result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
	}

	if execDiff {
		changes, err := tk.Diff()
		if err != nil {
			return err
		}
		for _, c := range changes {
			fmt.Fprintf(os.Stderr, "%s\t%s\n", c.Kind, c.Path)
		}
	}

	if result.ExitCode != 0 {
		tk.Close()
		os.Exit(result.ExitCode)
	}
	return nil
}
