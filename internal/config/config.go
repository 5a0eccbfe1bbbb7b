package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
	"github.com/Aman-CERP/nrtsearch/internal/logging"
	"github.com/Aman-CERP/nrtsearch/internal/schema"
)

// ProjectFileName is the configuration file looked up in the working directory.
const ProjectFileName = "nrtsearch.yaml"

// Config represents the complete nrtsearch configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Reopen  ReopenConfig  `yaml:"reopen" json:"reopen"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	// Schema maps class name -> property name -> type declaration, e.g.
	// "string" or "embeddedlist:string".
	Schema map[string]map[string]string `yaml:"schema" json:"schema"`

	// Indexes are opened at startup.
	Indexes []IndexConfig `yaml:"indexes" json:"indexes"`
}

// StorageConfig configures where indexes live.
type StorageConfig struct {
	// Path is the storage root. Empty keeps every index in memory.
	Path string `yaml:"path" json:"path"`
}

// ReopenConfig bounds view staleness. Values are Go duration strings.
type ReopenConfig struct {
	// MaxStale is the longest a view may lag when nobody waits (default: "60s").
	MaxStale string `yaml:"max_stale" json:"max_stale"`
	// MinStale is the shortest interval between reopens while readers wait (default: "100ms").
	MinStale string `yaml:"min_stale" json:"min_stale"`
}

// SearchConfig configures query execution.
type SearchConfig struct {
	// AcquireTimeout bounds the wait for a fresh enough view (default: "5s").
	AcquireTimeout string `yaml:"acquire_timeout" json:"acquire_timeout"`
	DefaultLimit   int    `yaml:"default_limit" json:"default_limit"`
	QueryCacheSize int    `yaml:"query_cache_size" json:"query_cache_size"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File enables JSON logging to a rotating file. Empty logs to stderr only.
	File string `yaml:"file" json:"file"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// SpoolDir is watched for JSONL drop files while serving. Empty disables it.
	SpoolDir string `yaml:"spool_dir" json:"spool_dir"`
}

// IndexConfig declares one index.
type IndexConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Class    string   `yaml:"class" json:"class"`
	Fields   []string `yaml:"fields" json:"fields"`
	Analyzer string   `yaml:"analyzer" json:"analyzer"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Reopen: ReopenConfig{
			MaxStale: "60s",
			MinStale: "100ms",
		},
		Search: SearchConfig{
			AcquireTimeout: "5s",
			DefaultLimit:   10,
			QueryCacheSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8790",
		},
		Schema: map[string]map[string]string{},
	}
}

// defaultStoragePath returns ~/.nrtsearch/data.
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nrtsearch", "data")
	}
	return filepath.Join(home, ".nrtsearch", "data")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/nrtsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/nrtsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nrtsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "nrtsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "nrtsearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/nrtsearch/config.yaml)
//  3. path when set, else nrtsearch.yaml in dir
//  4. Environment variables (NRTSEARCH_*)
//
// An explicit path that does not exist is an error; the implicit files are optional.
func Load(dir, path string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, ierrors.New(ierrors.ErrCodeConfigNotFound, "config file not found", nil).WithDetail("path", path)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if p := filepath.Join(dir, ProjectFileName); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Logging.File = expandHome(cfg.Logging.File)
	cfg.Server.SpoolDir = expandHome(cfg.Server.SpoolDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ierrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Schema classes are
// merged per class; indexes are replaced by name.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Reopen.MaxStale != "" {
		c.Reopen.MaxStale = other.Reopen.MaxStale
	}
	if other.Reopen.MinStale != "" {
		c.Reopen.MinStale = other.Reopen.MinStale
	}
	if other.Search.AcquireTimeout != "" {
		c.Search.AcquireTimeout = other.Search.AcquireTimeout
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.QueryCacheSize != 0 {
		c.Search.QueryCacheSize = other.Search.QueryCacheSize
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.SpoolDir != "" {
		c.Server.SpoolDir = other.Server.SpoolDir
	}

	if c.Schema == nil {
		c.Schema = map[string]map[string]string{}
	}
	for class, props := range other.Schema {
		c.Schema[class] = props
	}

	for _, idx := range other.Indexes {
		replaced := false
		for i := range c.Indexes {
			if c.Indexes[i].Name == idx.Name {
				c.Indexes[i] = idx
				replaced = true
				break
			}
		}
		if !replaced {
			c.Indexes = append(c.Indexes, idx)
		}
	}
}

// applyEnvOverrides applies NRTSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("NRTSEARCH_STORAGE_PATH"); ok {
		// An explicitly empty path selects in-memory storage
		c.Storage.Path = v
	}
	if v := os.Getenv("NRTSEARCH_MAX_STALE"); v != "" {
		c.Reopen.MaxStale = v
	}
	if v := os.Getenv("NRTSEARCH_MIN_STALE"); v != "" {
		c.Reopen.MinStale = v
	}
	if v := os.Getenv("NRTSEARCH_ACQUIRE_TIMEOUT"); v != "" {
		c.Search.AcquireTimeout = v
	}
	if v := os.Getenv("NRTSEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("NRTSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NRTSEARCH_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("NRTSEARCH_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("NRTSEARCH_SPOOL_DIR"); v != "" {
		c.Server.SpoolDir = v
	}
}

// MaxStale returns the parsed reopen.max_stale.
func (c *Config) MaxStale() time.Duration {
	d, _ := time.ParseDuration(c.Reopen.MaxStale)
	return d
}

// MinStale returns the parsed reopen.min_stale.
func (c *Config) MinStale() time.Duration {
	d, _ := time.ParseDuration(c.Reopen.MinStale)
	return d
}

// AcquireTimeout returns the parsed search.acquire_timeout.
func (c *Config) AcquireTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Search.AcquireTimeout)
	return d
}

// Index returns the declared index named name.
func (c *Config) Index(name string) (IndexConfig, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexConfig{}, false
}

// BuildSchema turns the schema section into a schema.Memory.
func (c *Config) BuildSchema() (*schema.Memory, error) {
	s := schema.NewMemory()

	classes := make([]string, 0, len(c.Schema))
	for class := range c.Schema {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		decls := c.Schema[class]
		names := make([]string, 0, len(decls))
		for name := range decls {
			names = append(names, name)
		}
		sort.Strings(names)

		props := make([]schema.Property, 0, len(names))
		for _, name := range names {
			p, err := schema.ParseProperty(name, decls[name])
			if err != nil {
				return nil, ierrors.ConfigError(fmt.Sprintf("schema.%s.%s", class, name), err)
			}
			props = append(props, p)
		}
		s.Define(class, props...)
	}
	return s, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	durations := []struct {
		key, value string
	}{
		{"reopen.max_stale", c.Reopen.MaxStale},
		{"reopen.min_stale", c.Reopen.MinStale},
		{"search.acquire_timeout", c.Search.AcquireTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return ierrors.ConfigError(fmt.Sprintf("%s must be a duration, got %q", d.key, d.value), err)
		}
		if v < 0 {
			return ierrors.ConfigError(fmt.Sprintf("%s must not be negative, got %s", d.key, d.value), nil)
		}
	}
	if c.MinStale() > c.MaxStale() {
		return ierrors.ConfigError(fmt.Sprintf("reopen.min_stale (%s) must not exceed reopen.max_stale (%s)", c.Reopen.MinStale, c.Reopen.MaxStale), nil)
	}

	if c.Search.DefaultLimit < 0 {
		return ierrors.ConfigError(fmt.Sprintf("search.default_limit must be non-negative, got %d", c.Search.DefaultLimit), nil)
	}
	if c.Search.QueryCacheSize < 0 {
		return ierrors.ConfigError(fmt.Sprintf("search.query_cache_size must be non-negative, got %d", c.Search.QueryCacheSize), nil)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return ierrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	s, err := c.BuildSchema()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Indexes))
	for _, idx := range c.Indexes {
		if idx.Name == "" {
			return ierrors.ConfigError("indexes: every index needs a name", nil)
		}
		if seen[idx.Name] {
			return ierrors.ConfigError(fmt.Sprintf("indexes: duplicate index %q", idx.Name), nil)
		}
		seen[idx.Name] = true

		class, ok := s.Class(idx.Class)
		if !ok {
			return ierrors.ConfigError(fmt.Sprintf("index %q references unknown class %q", idx.Name, idx.Class), nil)
		}
		if len(idx.Fields) == 0 {
			return ierrors.ConfigError(fmt.Sprintf("index %q has no fields", idx.Name), nil)
		}
		for _, f := range idx.Fields {
			if _, ok := class.Property(f); !ok {
				return ierrors.ConfigError(fmt.Sprintf("index %q: class %q has no property %q", idx.Name, idx.Class, f), nil)
			}
		}
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
