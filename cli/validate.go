package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/graph"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Convert a workflow and check the result without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	cmd.Flags().String("schema", "", "Read object info from this file instead of the server")
	cmd.Flags().Bool("no-preprocess", false, "Skip bypass, reroute, primitive and virtual-wire rewriting")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	schemaFile, _ := cmd.Flags().GetString("schema")
	noPreprocess, _ := cmd.Flags().GetBool("no-preprocess")
	if format != "text" && format != "json" {
		return exitError(exitInputParse, "unknown format %q (use text or json)", format)
	}

	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.compileWorkflow(cmd.Context(), args[0], compileOptions{
		schemaFile:   schemaFile,
		noPreprocess: noPreprocess,
	})
	if err != nil {
		return err
	}

	// Conversion warnings first, then checks on the produced graph.
	diags := append([]graph.Diagnostic(nil), c.result.Diagnostics...)
	if c.table != nil {
		diags = append(diags, graph.ValidateWithSchema(c.result.Graph, c.table)...)
	} else {
		diags = append(diags, graph.Validate(c.result.Graph)...)
	}

	printValidateDiagnostics(cmd.OutOrStdout(), diags, format)

	if strictFailure(diags, strict) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printValidateDiagnostics(w io.Writer, diags []graph.Diagnostic, format string) {
	if format == "json" {
		writeDiagnosticsJSON(w, diags)
		return
	}
	writeDiagnostics(w, diags)
}

// writeDiagnostics prints one "CODE severity path: message" line per
// diagnostic and closes with an error and warning tally.
func writeDiagnostics(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		where := d.Code + " " + d.Severity
		if d.Path != "" {
			where += " " + d.Path
		}
		fmt.Fprintf(w, "%s: %s\n", where, d.Message)
	}

	errs, warns := len(graph.Errors(diags)), len(graph.Warnings(diags))
	if errs == 0 && warns == 0 {
		fmt.Fprintln(w, "graph ok: no problems found")
		return
	}
	status := "graph ok"
	if errs > 0 {
		status = "graph rejected"
	}
	fmt.Fprintf(w, "%s: %s, %s\n", status, count(errs, "error"), count(warns, "warning"))
}

// writeDiagnosticsJSON writes the diagnostics as an indented array, never null.
func writeDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	list := make([]graph.Diagnostic, 0, len(diags))
	list = append(list, diags...)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(list)
}

// count formats n with noun, adding an "s" unless n is one.
func count(n int, noun string) string {
	if n != 1 {
		noun += "s"
	}
	return fmt.Sprintf("%d %s", n, noun)
}
