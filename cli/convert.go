package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/graph"
)

// NewConvertCmd creates the "convert" subcommand.
func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <workflow>",
		Short: "Convert an editor workflow to the execution format",
		Long: "Convert an editor workflow, including nested subgraphs, into the flat " +
			"prompt format. <workflow> is a path, a list index, or a name found in the workflow directories.",
		Args: cobra.ExactArgs(1),
		RunE: runConvert,
	}

	cmd.Flags().String("schema", "", "Read object info from this file instead of the server")
	cmd.Flags().Bool("no-preprocess", false, "Skip bypass, reroute, primitive and virtual-wire rewriting")
	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().Bool("pretty", true, "Pretty-print JSON output")
	cmd.Flags().Bool("strict", false, "Fail when the conversion produced warnings")

	return cmd
}

// runConvert implements the convert pipeline:
//
//	find file → detect format → preprocess → fetch schema → convert
//	→ report diagnostics → serialize JSON → write output
func runConvert(cmd *cobra.Command, args []string) error {
	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	schemaFile, _ := cmd.Flags().GetString("schema")
	noPreprocess, _ := cmd.Flags().GetBool("no-preprocess")
	outputPath, _ := cmd.Flags().GetString("output")
	pretty, _ := cmd.Flags().GetBool("pretty")
	strict, _ := cmd.Flags().GetBool("strict")

	c, err := s.compileWorkflow(cmd.Context(), args[0], compileOptions{
		schemaFile:   schemaFile,
		noPreprocess: noPreprocess,
	})
	if err != nil {
		return err
	}

	diags := c.result.Diagnostics
	if len(diags) > 0 && !isQuiet(cmd) {
		writeDiagnostics(cmd.ErrOrStderr(), diags)
	}
	if strictFailure(diags, strict) {
		return exitError(exitValidation, "conversion produced %s", count(len(diags), "warning"))
	}

	data, err := c.result.Graph.Marshal(pretty)
	if err != nil {
		return exitError(exitRuntime, "serializing execution graph: %v", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, append(data, '\n'), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		if !isQuiet(cmd) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n",
				count(len(c.result.Graph), "node"), outputPath)
		}
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// summarize returns a one-line description of a converted graph.
func summarize(g graph.ExecutionGraph) string {
	return count(len(g), "node")
}
