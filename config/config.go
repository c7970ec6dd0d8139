// Package config loads promptc settings from promptc.yaml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/registry"
)

const (
	projectConfigName = "promptc.yaml"
	homeConfigName    = "config.yaml"
	homeDirName       = ".promptc"

	// DefaultHost is the server address used when none is configured.
	DefaultHost = "127.0.0.1:8188"
)

// Environment variables that override file settings.
const (
	EnvHost         = "COMFY_HOST"
	EnvToken        = "COMFY_TOKEN"
	EnvWorkflowDirs = "COMFY_WORKFLOW_DIRS"
	EnvSchemaCache  = "PROMPTC_SCHEMA_CACHE"
)

// Config is the resolved configuration.
type Config struct {
	Host         string      `yaml:"host"`
	Token        string      `yaml:"token,omitempty"`
	WorkflowDirs []string    `yaml:"workflow_dirs,omitempty"`
	OutputDir    string      `yaml:"output_dir,omitempty"`
	SchemaCache  SchemaCache `yaml:"schema_cache,omitempty"`
	UIOnlyTypes  []string    `yaml:"ui_only_types,omitempty"`
	OTLPEndpoint string      `yaml:"otlp_endpoint,omitempty"`

	// Path is the file the configuration was read from, empty when none was
	// found.
	Path string `yaml:"-"`
}

// SchemaCache configures the persistent object-info cache.
type SchemaCache struct {
	// Path is the SQLite database file. "off" disables the store.
	Path string        `yaml:"path,omitempty"`
	TTL  time.Duration `yaml:"ttl,omitempty"`
}

// Disabled reports whether the persistent cache is turned off.
func (s SchemaCache) Disabled() bool {
	return strings.EqualFold(s.Path, "off") || s.Path == "-"
}

// Env looks up an environment variable.
type Env func(key string) string

// Load resolves the configuration for the current process.
func Load(explicitPath string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	return LoadFrom(explicitPath, cwd, homeDir, os.Getenv)
}

// LoadFrom is a testable variant of Load.
func LoadFrom(explicitPath, cwd, homeDir string, getenv Env) (*Config, error) {
	path, found, err := DiscoverPathFrom(explicitPath, cwd, homeDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
		baseDir := filepath.Dir(path)
		for i, dir := range cfg.WorkflowDirs {
			cfg.WorkflowDirs[i] = resolveRelative(baseDir, homeDir, dir)
		}
		if cfg.OutputDir != "" {
			cfg.OutputDir = resolveRelative(baseDir, homeDir, cfg.OutputDir)
		}
		if cfg.SchemaCache.Path != "" && !cfg.SchemaCache.Disabled() {
			cfg.SchemaCache.Path = resolveRelative(baseDir, homeDir, cfg.SchemaCache.Path)
		}
	}

	cfg.applyEnv(getenv, homeDir)
	cfg.applyDefaults(homeDir)
	return cfg, nil
}

// DiscoverPathFrom resolves the config location with first-match semantics:
// explicit path, ./promptc.yaml, then ~/.promptc/config.yaml.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeDirName, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

func readFile(path string, cfg *Config) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv Env, homeDir string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvHost)); v != "" {
		c.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvWorkflowDirs)); v != "" {
		var dirs []string
		for _, dir := range filepath.SplitList(v) {
			if dir = strings.TrimSpace(dir); dir != "" {
				dirs = append(dirs, expandHome(dir, homeDir))
			}
		}
		c.WorkflowDirs = dirs
	}
	if v := strings.TrimSpace(getenv(EnvSchemaCache)); v != "" {
		c.SchemaCache.Path = expandHome(v, homeDir)
	}
}

func (c *Config) applyDefaults(homeDir string) {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if len(c.WorkflowDirs) == 0 {
		c.WorkflowDirs = []string{"workflows", "."}
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.SchemaCache.Path == "" && homeDir != "" {
		c.SchemaCache.Path = filepath.Join(homeDir, homeDirName, "schema.db")
	}
	if c.SchemaCache.TTL <= 0 {
		c.SchemaCache.TTL = objectinfo.DefaultTTL
	}
}

// Registry returns a node-class registry holding the built-in classes plus
// the configured UI-only types.
func (c *Config) Registry() *registry.Registry {
	if len(c.UIOnlyTypes) == 0 {
		return registry.Global()
	}
	r := registry.New()
	for _, name := range c.UIOnlyTypes {
		name = strings.TrimSpace(name)
		if name == "" || r.Has(name) {
			continue
		}
		r.Register(registry.ClassDef{
			Type:        name,
			Category:    registry.CategoryAnnotation,
			DisplayName: name,
			Description: "Configured editor-only class",
			UIOnly:      true,
		})
	}
	return r
}

func expandHome(p, homeDir string) string {
	if p == "~" {
		return homeDir
	}
	if strings.HasPrefix(p, "~/") && homeDir != "" {
		return filepath.Join(homeDir, p[2:])
	}
	return p
}

func resolveRelative(baseDir, homeDir, p string) string {
	p = expandHome(strings.TrimSpace(p), homeDir)
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
