package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	promptcotel "github.com/petal-labs/promptc/otel"
)

// NewRootCmd builds the promptc command tree.
func NewRootCmd(version string) *cobra.Command {
	var shutdown promptcotel.ShutdownFunc

	root := &cobra.Command{
		Use:   "promptc",
		Short: "Convert and run ComfyUI workflows",
		Long: "promptc converts ComfyUI editor workflows, including nested subgraphs, " +
			"into the flat prompt format the server executes, and can submit them.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			if s.cfg.OTLPEndpoint != "" {
				shutdown, err = promptcotel.SetupTracing(cmd.Context(), s.cfg.OTLPEndpoint)
				if err != nil {
					return exitError(exitRuntime, "%v", err)
				}
				handler, err := promptcotel.EventHandler("promptc/convert")
				if err != nil {
					return exitError(exitRuntime, "%v", err)
				}
				s.events = handler
			}
			cmd.SetContext(withSession(cmd.Context(), s))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Warn("flushing traces failed", "error", err)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")
	root.PersistentFlags().String("config", "", "Path to promptc.yaml (default: ./promptc.yaml, then ~/.promptc/config.yaml)")
	root.PersistentFlags().String("host", "", "ComfyUI server address (overrides config and COMFY_HOST)")
	root.PersistentFlags().String("token", "", "ComfyUI API token (overrides config and COMFY_TOKEN)")
	root.PersistentFlags().String("otlp-endpoint", "", "Export conversion traces over OTLP/HTTP to this endpoint")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("promptc version %s\n", version))

	root.AddCommand(NewConvertCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewSchemaCmd())
	root.AddCommand(NewListCmd())
	root.AddCommand(NewScheduleCmd())

	return root
}

// setupLogging installs the default slog logger on stderr.
func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), level))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isQuiet(cmd *cobra.Command) bool {
	quiet, _ := cmd.Flags().GetBool("quiet")
	return quiet
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}
