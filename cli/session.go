package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/petal-labs/promptc/comfyclient"
	"github.com/petal-labs/promptc/config"
	"github.com/petal-labs/promptc/convert"
	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/loader"
	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/preprocess"
	"github.com/petal-labs/promptc/registry"
	"github.com/petal-labs/promptc/workflow"
)

// session is the per-invocation state shared by all commands.
type session struct {
	cfg    *config.Config
	reg    *registry.Registry
	logger *slog.Logger
	events convert.EventHandler

	client *comfyclient.Client
	store  *objectinfo.SQLiteStore
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey{}, s)
}

// sessionFrom returns the session installed by the root command, creating
// one when the command runs outside the root.
func sessionFrom(cmd *cobra.Command) (*session, error) {
	if cmd.Context() != nil {
		if s, ok := cmd.Context().Value(sessionKey{}).(*session); ok {
			return s, nil
		}
	}
	return newSession(cmd)
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(flagString(cmd, "config"))
	if err != nil {
		return nil, exitError(exitFileNotFound, "loading config: %v", err)
	}
	if host := flagString(cmd, "host"); host != "" {
		cfg.Host = host
	}
	if token := flagString(cmd, "token"); token != "" {
		cfg.Token = token
	}
	if endpoint := flagString(cmd, "otlp-endpoint"); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}
	logger := slog.Default()
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path, "host", cfg.Host)
	}
	return &session{cfg: cfg, reg: cfg.Registry(), logger: logger}, nil
}

// Client returns the server client, creating it on first use.
func (s *session) Client() (*comfyclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	opts := []comfyclient.Option{comfyclient.WithLogger(s.logger)}
	if s.cfg.Token != "" {
		opts = append(opts, comfyclient.WithToken(s.cfg.Token))
	}
	c, err := comfyclient.New(s.cfg.Host, opts...)
	if err != nil {
		return nil, exitError(exitInputParse, "%v", err)
	}
	s.client = c
	return c, nil
}

// SchemaProvider returns the object-info source: schemaFile when given,
// otherwise the server through the persistent cache.
func (s *session) SchemaProvider(schemaFile string) (objectinfo.Provider, error) {
	if schemaFile != "" {
		data, err := os.ReadFile(schemaFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, exitError(exitFileNotFound, "schema file not found: %s", schemaFile)
			}
			return nil, exitError(exitFileNotFound, "reading schema file: %v", err)
		}
		table, err := objectinfo.Parse(data)
		if err != nil {
			return nil, exitError(exitInputParse, "parsing schema file: %v", err)
		}
		return objectinfo.Static(table), nil
	}
	return s.cachingProvider()
}

func (s *session) cachingProvider() (*objectinfo.CachingProvider, error) {
	c, err := s.Client()
	if err != nil {
		return nil, err
	}
	var store objectinfo.Store
	if st := s.openStore(); st != nil {
		store = st
	}
	return c.SchemaProvider(store, s.cfg.SchemaCache.TTL), nil
}

// openStore opens the schema cache database. A cache that cannot be opened
// is skipped with a warning.
func (s *session) openStore() *objectinfo.SQLiteStore {
	if s.store != nil || s.cfg.SchemaCache.Disabled() || s.cfg.SchemaCache.Path == "" {
		return s.store
	}
	path := s.cfg.SchemaCache.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		s.logger.Warn("schema cache unavailable", "path", path, "error", err)
		return nil
	}
	st, err := objectinfo.NewSQLiteStore(path)
	if err != nil {
		s.logger.Warn("schema cache unavailable", "path", path, "error", err)
		return nil
	}
	s.store = st
	return st
}

func (s *session) Close() {
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

// resolveWorkflow finds and reads the workflow named by arg.
func (s *session) resolveWorkflow(arg string) (path string, data []byte, format loader.Format, err error) {
	path, err = loader.Find(arg, s.cfg.WorkflowDirs)
	if err != nil {
		var amb *loader.AmbiguousError
		if errors.As(err, &amb) {
			return "", nil, "", exitError(exitInputParse, "%v", err)
		}
		if errors.Is(err, loader.ErrNotFound) {
			return "", nil, "", exitError(exitFileNotFound, "workflow not found: %s", arg)
		}
		return "", nil, "", exitError(exitFileNotFound, "searching workflows: %v", err)
	}

	data, format, err = loader.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, loader.ErrNotFound):
			return "", nil, "", exitError(exitFileNotFound, "file not found: %s", path)
		case errors.Is(err, loader.ErrUnknownFormat):
			return "", nil, "", exitError(exitWrongFormat, "%v", err)
		default:
			return "", nil, "", exitError(exitInputParse, "%v", err)
		}
	}
	return path, data, format, nil
}

// compileOptions controls compileWorkflow.
type compileOptions struct {
	schemaFile   string
	noPreprocess bool
}

// compiled is a converted workflow.
type compiled struct {
	path   string
	result *convert.Result
	table  *objectinfo.Table
	stats  preprocess.Stats
}

// compileWorkflow resolves, reads, preprocesses and converts a workflow.
// Execution-format files pass through unchanged.
func (s *session) compileWorkflow(ctx context.Context, arg string, opts compileOptions) (*compiled, error) {
	path, data, format, err := s.resolveWorkflow(arg)
	if err != nil {
		return nil, err
	}
	convertOpts := []convert.Option{
		convert.WithRegistry(s.reg),
		convert.WithLogger(s.logger),
		convert.WithSource(filepath.Base(path)),
		convert.WithEventHandler(s.events),
	}

	if format == loader.FormatExecution {
		res, err := convert.Convert(ctx, data, convertOpts...)
		if err != nil {
			return nil, exitError(exitInputParse, "%s: %v", path, err)
		}
		s.logger.Debug("workflow is already in execution format", "path", path)
		return &compiled{path: path, result: res}, nil
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		return nil, exitError(exitInputParse, "%s: %v", path, err)
	}

	var stats preprocess.Stats
	if !opts.noPreprocess {
		popts := preprocess.DefaultOptions()
		popts.Registry = s.reg
		wf, stats = preprocess.Apply(wf, popts)
		if stats.Changed() {
			s.logger.Debug("workflow preprocessed", "path", path,
				"bypassed", stats.Bypassed, "rerouted", stats.Rerouted,
				"inlined", stats.Inlined, "virtual_wires", stats.VirtualWires)
		}
	}

	provider, err := s.SchemaProvider(opts.schemaFile)
	if err != nil {
		return nil, err
	}
	table, err := provider.Fetch(ctx)
	if err != nil {
		return nil, schemaError(err)
	}

	res := convert.ConvertWorkflow(wf, table, convertOpts...)
	return &compiled{path: path, result: res, table: table, stats: stats}, nil
}

func schemaError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return exitError(exitTimeout, "fetching object info: %v", err)
	}
	return exitError(exitServer, "fetching object info: %v", err)
}

// strictFailure reports whether diags should fail the command.
func strictFailure(diags []graph.Diagnostic, strict bool) bool {
	return graph.HasErrors(diags) || (strict && len(graph.Warnings(diags)) > 0)
}
