package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/comfyclient"
	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/registry"
)

var overrideAPI = sonic.Config{UseNumber: true}.Froze()

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Convert a workflow, submit it, and download its outputs",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("prompt", "", "Replace the text of every text-encoder node")
	cmd.Flags().String("override", "", `Input overrides as JSON: {"<node id>": {"<input>": value}}`)
	cmd.Flags().String("image", "", "Upload this image and feed it to the first image loader")
	cmd.Flags().String("prompt-id", "", "Prompt id to submit under, for idempotent resubmission (default: random)")
	cmd.Flags().String("output-dir", "", "Directory for downloaded outputs (default: output_dir from config)")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Execution timeout")
	cmd.Flags().Bool("dry-run", false, "Convert and prepare only, print the prompt instead of submitting")
	cmd.Flags().String("schema", "", "Read object info from this file instead of the server")
	cmd.Flags().Bool("no-preprocess", false, "Skip bypass, reroute, primitive and virtual-wire rewriting")
}

// runOptions are the resolved run flags.
type runOptions struct {
	workflow     string
	prompt       string
	overrides    map[string]map[string]any
	image        string
	promptID     string
	outputDir    string
	timeout      time.Duration
	dryRun       bool
	schemaFile   string
	noPreprocess bool
}

func parseRunOptions(cmd *cobra.Command, s *session, workflowArg string) (runOptions, error) {
	opts := runOptions{workflow: workflowArg}
	opts.prompt, _ = cmd.Flags().GetString("prompt")
	opts.image, _ = cmd.Flags().GetString("image")
	opts.promptID, _ = cmd.Flags().GetString("prompt-id")
	opts.outputDir, _ = cmd.Flags().GetString("output-dir")
	opts.timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.schemaFile, _ = cmd.Flags().GetString("schema")
	opts.noPreprocess, _ = cmd.Flags().GetBool("no-preprocess")
	if opts.outputDir == "" {
		opts.outputDir = s.cfg.OutputDir
	}

	if raw, _ := cmd.Flags().GetString("override"); strings.TrimSpace(raw) != "" {
		if err := overrideAPI.UnmarshalFromString(raw, &opts.overrides); err != nil {
			return runOptions{}, exitError(exitInputParse, "parsing --override JSON: %v", err)
		}
	}
	if opts.image != "" {
		if _, err := os.Stat(opts.image); err != nil {
			return runOptions{}, exitError(exitFileNotFound, "image not found: %s", opts.image)
		}
	}
	return opts, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := sessionFrom(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := parseRunOptions(cmd, s, args[0])
	if err != nil {
		return err
	}
	_, err = s.runOnce(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), isQuiet(cmd))
	return err
}

// runOnce converts, prepares, submits and waits for one workflow run, then
// downloads its outputs. It returns the saved file paths.
func (s *session) runOnce(ctx context.Context, opts runOptions, stdout, stderr io.Writer, quiet bool) ([]string, error) {
	c, err := s.compileWorkflow(ctx, opts.workflow, compileOptions{
		schemaFile:   opts.schemaFile,
		noPreprocess: opts.noPreprocess,
	})
	if err != nil {
		return nil, err
	}
	if len(c.result.Diagnostics) > 0 && !quiet {
		writeDiagnostics(stderr, c.result.Diagnostics)
	}
	if diags := graph.Validate(c.result.Graph); graph.HasErrors(diags) {
		writeDiagnostics(stderr, diags)
		return nil, exitError(exitValidation, "converted graph is not executable")
	}

	// Work on a copy so repeated runs start from the converted graph.
	g := c.result.Graph.Clone()
	if err := s.prepare(ctx, g, opts); err != nil {
		return nil, err
	}

	if opts.dryRun {
		data, err := g.Marshal(true)
		if err != nil {
			return nil, exitError(exitRuntime, "serializing execution graph: %v", err)
		}
		fmt.Fprintln(stdout, string(data))
		return nil, nil
	}

	client, err := s.Client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	job, err := client.Submit(ctx, g, opts.promptID)
	if err != nil {
		var se *comfyclient.ServerError
		if errors.As(err, &se) && !quiet {
			printNodeErrors(stderr, se)
		}
		return nil, runError(ctx, opts.timeout, err)
	}
	if !quiet {
		fmt.Fprintf(stderr, "Queued %s (%s) as %s\n", filepath.Base(c.path), summarize(g), job.PromptID)
	}

	err = client.Wait(ctx, job.PromptID, func(u comfyclient.Update) {
		switch u.Type {
		case "executing":
			if u.NodeID != "" {
				s.logger.Debug("executing", "prompt_id", u.PromptID, "node", u.NodeID)
			}
		case "progress":
			s.logger.Debug("progress", "prompt_id", u.PromptID, "value", u.Value, "max", u.Max)
		case "execution_cached":
			s.logger.Debug("cached", "prompt_id", u.PromptID, "nodes", u.Cached)
		}
	})
	if err != nil {
		return nil, runError(ctx, opts.timeout, err)
	}

	saved, err := s.download(ctx, client, job.PromptID, opts.outputDir)
	if err != nil {
		return nil, runError(ctx, opts.timeout, err)
	}
	for _, p := range saved {
		fmt.Fprintln(stdout, p)
	}
	return saved, nil
}

// prepare applies the prompt text, overrides, uploaded image and date
// patterns to g.
func (s *session) prepare(ctx context.Context, g graph.ExecutionGraph, opts runOptions) error {
	if opts.prompt != "" {
		encoders := s.reg.TypesIn(registry.CategoryTextEncoder)
		if changed := graph.SetText(g, opts.prompt, encoders...); len(changed) == 0 {
			s.logger.Warn("no text encoder found for --prompt", "types", encoders)
		} else {
			s.logger.Debug("prompt text set", "nodes", changed)
		}
	}

	if len(opts.overrides) > 0 {
		if missing := graph.ApplyOverrides(g, opts.overrides); len(missing) > 0 {
			return exitError(exitInputParse, "--override names %s not in the graph: %s",
				count(len(missing), "unknown node"), strings.Join(missing, ", "))
		}
	}

	if opts.image != "" {
		loaders := graph.FindByType(g, s.reg.TypesIn(registry.CategoryImageLoader)...)
		if len(loaders) == 0 {
			return exitError(exitValidation, "--image given but the workflow has no image loader")
		}
		target := g[loaders[0]]
		if target.Inputs == nil {
			target.Inputs = make(map[string]any, 1)
		}
		if opts.dryRun {
			target.Inputs["image"] = filepath.Base(opts.image)
		} else {
			client, err := s.Client()
			if err != nil {
				return err
			}
			up, err := client.UploadImage(ctx, opts.image, "")
			if err != nil {
				return runError(ctx, opts.timeout, err)
			}
			target.Inputs["image"] = up.Reference()
		}
	}

	if n := graph.ResolveDatePatterns(g, time.Now()); n > 0 {
		s.logger.Debug("date patterns resolved", "inputs", n)
	}
	return nil
}

// download saves every output file of promptID under dir.
func (s *session) download(ctx context.Context, client *comfyclient.Client, promptID, dir string) ([]string, error) {
	h, err := client.History(ctx, promptID)
	if err != nil {
		return nil, err
	}
	files := h.Files()
	if len(files) == 0 {
		s.logger.Warn("prompt finished without output files", "prompt_id", promptID)
		return nil, nil
	}

	saved := make([]string, 0, len(files))
	for _, f := range files {
		data, err := client.Download(ctx, f)
		if err != nil {
			return saved, err
		}
		target := filepath.Join(dir, filepath.FromSlash(f.Subfolder), filepath.Base(f.Filename))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return saved, fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(target, data, 0o600); err != nil {
			return saved, fmt.Errorf("writing output: %w", err)
		}
		s.logger.Debug("output saved", "node", f.NodeID, "path", target, "bytes", len(data))
		saved = append(saved, target)
	}
	return saved, nil
}

func runError(ctx context.Context, timeout time.Duration, err error) error {
	var (
		se *comfyclient.ServerError
		ee *comfyclient.ExecutionError
	)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	case errors.As(err, &ee):
		return exitError(exitRuntime, "execution failed: %v", ee)
	case errors.Is(err, comfyclient.ErrInterrupted):
		return exitError(exitRuntime, "execution was interrupted")
	case errors.As(err, &se):
		return exitError(exitServer, "server rejected the request: %v", se)
	default:
		return exitError(exitServer, "%v", err)
	}
}

// printNodeErrors lists the per-node validation errors of a rejected prompt.
func printNodeErrors(w io.Writer, se *comfyclient.ServerError) {
	for _, id := range graph.SortIDs(mapKeys(se.NodeErrors)) {
		ne := se.NodeErrors[id]
		for _, e := range ne.Errors {
			if e.Details != "" {
				fmt.Fprintf(w, "ERROR [%s %s]: %s: %s\n", id, ne.ClassType, e.Message, e.Details)
			} else {
				fmt.Fprintf(w, "ERROR [%s %s]: %s\n", id, ne.ClassType, e.Message)
			}
		}
	}
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
