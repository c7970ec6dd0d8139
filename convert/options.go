package convert

import (
	"log/slog"

	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/registry"
)

// Option configures a conversion.
type Option func(*config)

type config struct {
	table    *objectinfo.Table
	provider objectinfo.Provider
	registry *registry.Registry
	logger   *slog.Logger
	handler  EventHandler
	source   string
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = registry.Global()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// WithTable supplies the object-info table directly.
func WithTable(t *objectinfo.Table) Option {
	return func(c *config) { c.table = t }
}

// WithProvider supplies the table lazily; it is only consulted when the
// input is an editor graph and no table was given.
func WithProvider(p objectinfo.Provider) Option {
	return func(c *config) { c.provider = p }
}

// WithRegistry sets the node-class registry used to recognise UI-only
// nodes. Defaults to registry.Global().
func WithRegistry(r *registry.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithEventHandler receives conversion events.
func WithEventHandler(h EventHandler) Option {
	return func(c *config) { c.handler = h }
}

// WithSource names the input, usually its file name, in events.
func WithSource(name string) Option {
	return func(c *config) { c.source = name }
}
