package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// after is replaced in tests.
var after = time.After

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <workflow>",
		Short: "Run a workflow repeatedly on a UTC cron schedule",
		Long: "Run a workflow on a five-field cron schedule evaluated in UTC. " +
			"A failed run is reported and the schedule continues.",
		Args: cobra.ExactArgs(1),
		RunE: runSchedule,
	}

	cmd.Flags().String("cron", "", "Five-field cron expression, evaluated in UTC (required)")
	cmd.Flags().Int("max-runs", 0, "Stop after this many runs (0 = no limit)")
	addRunFlags(cmd)
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr, _ := cmd.Flags().GetString("cron")
	maxRuns, _ := cmd.Flags().GetInt("max-runs")
	if maxRuns < 0 {
		return exitError(exitInputParse, "--max-runs must not be negative")
	}

	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := parseRunOptions(cmd, s, args[0])
	if err != nil {
		return err
	}
	// Resolve the workflow once so a typo fails before the first wait.
	if _, _, _, err := s.resolveWorkflow(opts.workflow); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stdout, stderr, quiet := cmd.OutOrStdout(), cmd.ErrOrStderr(), isQuiet(cmd)

	var failed int
	for run := 1; maxRuns == 0 || run <= maxRuns; run++ {
		now := time.Now().UTC()
		next := schedule.Next(now)
		if !quiet {
			fmt.Fprintf(stderr, "Next run at %s\n", next.Format(time.RFC3339))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-after(next.Sub(now)):
		}

		s.logger.Info("scheduled run starting", "run", run, "workflow", opts.workflow)
		saved, err := s.runOnce(ctx, opts, stdout, stderr, quiet)
		if err != nil {
			failed++
			s.logger.Error("scheduled run failed", "run", run, "error", err)
			continue
		}
		s.logger.Info("scheduled run finished", "run", run, "outputs", len(saved))
	}

	if failed > 0 {
		return exitError(exitRuntime, "%d of %s failed", failed, count(maxRuns, "scheduled run"))
	}
	return nil
}

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
