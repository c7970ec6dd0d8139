package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/loader"
)

// NewListCmd creates the "list" subcommand.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows in the configured workflow directories",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	cmd.Flags().String("format", "table", "Output format: table | json")

	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")

	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}

	entries, err := loader.List(s.cfg.WorkflowDirs)
	if err != nil {
		return exitError(exitRuntime, "listing workflows: %v", err)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		if entries == nil {
			entries = []loader.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "table":
		if len(entries) == 0 {
			fmt.Fprintf(out, "No workflows found in %v\n", s.cfg.WorkflowDirs)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tCATEGORY\tNAME\tPATH")
		for i, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, e.Category, e.Name, e.Rel)
		}
		return tw.Flush()
	default:
		return exitError(exitInputParse, "unknown format %q (use table or json)", format)
	}
}
