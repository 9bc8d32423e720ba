package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/safeshell-dev/safeshell/internal/policy"
)

var (
	rulesPolicy string
	rulesJSON   bool
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesPolicy, "policy", "", "Path to extra rules YAML to include")
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "Print the rule table as JSON")
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active security rule table",
	RunE:  runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	rules := policy.DefaultRules()
	if rulesPolicy != "" {
		pc, err := policy.LoadConfig(rulesPolicy)
		if err != nil {
			return err
		}
		extra, err := pc.CompileRules()
		if err != nil {
			return err
		}
		rules = append(rules, extra...)
	}

	if rulesJSON {
		type ruleJSON struct {
			ID          string `json:"id"`
			Category    string `json:"category"`
			Severity    string `json:"severity"`
			Pattern     string `json:"pattern"`
			Description string `json:"description"`
		}
		out := make([]ruleJSON, len(rules))
		for i, r := range rules {
			out[i] = ruleJSON{
				ID:          r.ID,
				Category:    string(r.Category),
				Severity:    r.Severity.String(),
				Pattern:     r.Pattern(),
				Description: r.Description,
			}
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tSEVERITY\tDESCRIPTION")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Category, r.Severity, r.Description)
	}
	return w.Flush()
}
