package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/objectinfo"
)

// NewSchemaCmd creates the "schema" subcommand.
func NewSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Fetch and cache the server's object-info table",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}

	cmd.Flags().Bool("refresh", false, "Fetch from the server even when the cache is fresh")
	cmd.Flags().StringP("output", "o", "", "Also write the raw object-info JSON to this file")
	cmd.Flags().Bool("list", false, "List node types and their input counts")

	return cmd
}

func runSchema(cmd *cobra.Command, _ []string) error {
	refresh, _ := cmd.Flags().GetBool("refresh")
	outputPath, _ := cmd.Flags().GetString("output")
	list, _ := cmd.Flags().GetBool("list")

	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var table *objectinfo.Table

	if outputPath != "" {
		// The raw payload is needed, so go to the server directly.
		client, err := s.Client()
		if err != nil {
			return err
		}
		raw, err := client.ObjectInfo(ctx)
		if err != nil {
			return schemaError(err)
		}
		table, err = objectinfo.Parse(raw)
		if err != nil {
			return exitError(exitServer, "server returned unreadable object info: %v", err)
		}
		if err := os.WriteFile(outputPath, raw, 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		if st := s.openStore(); st != nil {
			if err := st.Put(ctx, client.Host(), raw, time.Now()); err != nil {
				s.logger.Warn("failed to store object info", "error", err)
			}
		}
	} else {
		provider, err := s.cachingProvider()
		if err != nil {
			return err
		}
		if refresh {
			table, err = provider.Refresh(ctx)
		} else {
			table, err = provider.Fetch(ctx)
		}
		if err != nil {
			return schemaError(err)
		}
	}

	out := cmd.OutOrStdout()
	if list {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tINPUTS\tOUTPUTS")
		for _, name := range table.Names() {
			nt, _ := table.Get(name)
			fmt.Fprintf(tw, "%s\t%d\t%d\n", name, len(nt.Inputs), len(nt.Outputs))
		}
		return tw.Flush()
	}

	fmt.Fprintf(out, "%d node types from %s\n", table.Len(), s.cfg.Host)
	return nil
}
