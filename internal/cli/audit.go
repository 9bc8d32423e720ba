package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safeshell-dev/safeshell/internal/audit"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <logfile>",
	Short: "Verify the integrity of an audit log's hash chain",
	Long:  "Recomputes the hash chain over every entry. Exit code 1 indicates a\nbroken chain (tampered, truncated, or reordered entries).",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])

	out, _ := json.MarshalIndent(map[string]any{
		"valid":      result.Valid,
		"lines":      result.Lines,
		"error":      result.Error,
		"error_line": result.ErrorLine,
	}, "", "  ")
	fmt.Println(string(out))

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
