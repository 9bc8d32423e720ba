package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safeshell-dev/safeshell/internal/policy"
)

var (
	checkLevel  string
	checkAllow  []string
	checkPolicy string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkLevel, "level", "standard", "Security level (permissive|standard|paranoid)")
	checkCmd.Flags().StringSliceVar(&checkAllow, "allow", nil, "Allowlisted executables for paranoid level (repeatable)")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to extra rules YAML")
}

var checkCmd = &cobra.Command{
	Use:   "check [flags] -- <command...>",
	Short: "Evaluate a command against the security policy without executing it",
	Long:  "Dry-run mode: prints the policy decision as JSON and never spawns a\nprocess. Exit code 77 indicates the command would be blocked.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	level, err := policy.ParseLevel(checkLevel)
	if err != nil {
		return err
	}

	allowlist := checkAllow
	var extra []policy.Rule
	if checkPolicy != "" {
		pc, err := policy.LoadConfig(checkPolicy)
		if err != nil {
			return err
		}
		extra, err = pc.CompileRules()
		if err != nil {
			return err
		}
		allowlist = append(allowlist, pc.Allowlist...)
	}

	engine, err := policy.NewEngine(level, allowlist, extra)
	if err != nil {
		return err
	}

	command := strings.Join(args, " ")
	d := engine.Evaluate(command)

	resp := map[string]any{
		"command":  command,
		"level":    level.String(),
		"decision": string(d.Outcome),
		"reason":   d.Reason,
	}
	if d.Rule != nil {
		resp["rule_id"] = d.Rule.ID
		resp["category"] = string(d.Rule.Category)
		resp["severity"] = d.Rule.Severity.String()
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))

	if d.Outcome == policy.Block {
		os.Exit(77)
	}
	return nil
}
