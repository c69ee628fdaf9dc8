// Package config handles quadstore configuration via viper.
//
// Configuration is layered, lowest precedence first:
//   - built-in defaults (see SetDefaults)
//   - an optional YAML file passed to Load
//   - environment variables prefixed with QUADSTORE_, where nested keys use
//     underscores: QUADSTORE_STORAGE_BACKEND=badger, QUADSTORE_CACHE_SUBJECTS=1024
//
// Example Usage:
//
//	cfg, err := config.Load("quadstore.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Example YAML:
//
//	storage:
//	  backend: badger
//	  data_dir: ./data
//	  reasoning: true
//	cache:
//	  enabled: true
//	  subjects: 1024
//	logging:
//	  level: debug
package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "QUADSTORE"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config holds all quadstore configuration.
//
// Configuration is organized into sections:
//   - Storage: backend selection and on-disk settings
//   - Cache: snapshot cache budgets for the badger backend
//   - Logging: log level and format
type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// Backend is "memory" or "badger"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// DataDir is the badger data directory
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// InMemory runs badger without touching disk
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`
	// SyncWrites fsyncs every badger write
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
	// LowMemory selects badger's memory-constrained tuning
	LowMemory bool `mapstructure:"low_memory" yaml:"low_memory"`
	// BlockCache is badger's block cache size ("64MB"); empty keeps the default
	BlockCache string `mapstructure:"block_cache" yaml:"block_cache"`
	// ReadOnly rejects every write
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`
	// Reasoning splits inference and meta graphs into a volatile in-memory dataset
	Reasoning bool `mapstructure:"reasoning" yaml:"reasoning"`
	// DefaultGraph receives N-Quads statements without a graph label
	DefaultGraph string `mapstructure:"default_graph" yaml:"default_graph"`
}

// BlockCacheBytes returns BlockCache in bytes, 0 meaning the badger default.
func (s StorageConfig) BlockCacheBytes() int64 {
	return parseMemorySize(s.BlockCache)
}

// CacheConfig holds the snapshot cache budgets.
type CacheConfig struct {
	// Enabled turns the snapshot cache on; when off every read goes to badger
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Subjects is the number of subject snapshots kept
	Subjects int `mapstructure:"subjects" yaml:"subjects"`
	// Graphs is the number of graph snapshots kept
	Graphs int `mapstructure:"graphs" yaml:"graphs"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level" yaml:"level"`
	// JSON selects structured JSON output
	JSON bool `mapstructure:"json" yaml:"json"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.low_memory", false)
	v.SetDefault("storage.block_cache", "")
	v.SetDefault("storage.read_only", false)
	v.SetDefault("storage.reasoning", false)
	v.SetDefault("storage.default_graph", rdf.GraphDefaultIRI)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.subjects", 256)
	v.SetDefault("cache.graphs", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// defaults always unmarshal
		panic(err)
	}
	return cfg
}

// Load reads configuration from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithViper unmarshals configuration from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid settings.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.DataDir == "" && !c.Storage.InMemory {
			return errors.New("badger backend requires storage.data_dir or storage.in_memory")
		}
	default:
		return errors.Newf("invalid storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.BlockCache != "" && c.Storage.BlockCacheBytes() <= 0 {
		return errors.Newf("invalid block cache size: %q", c.Storage.BlockCache)
	}
	if c.Storage.DefaultGraph == "" {
		return errors.New("storage.default_graph must not be empty")
	}
	if c.Cache.Subjects < 0 || c.Cache.Graphs < 0 {
		return errors.Newf("invalid cache budgets: subjects=%d graphs=%d", c.Cache.Subjects, c.Cache.Graphs)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Newf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return enc.Close()
}

func (c *Config) String() string {
	blockCache := "default"
	if n := c.Storage.BlockCacheBytes(); n > 0 {
		blockCache = FormatMemorySize(n)
	}
	cache := "off"
	if c.Cache.Enabled {
		cache = fmt.Sprintf("%d/%d", c.Cache.Subjects, c.Cache.Graphs)
	}
	return fmt.Sprintf(
		"Config{Backend: %s, DataDir: %s, BlockCache: %s, Reasoning: %v, ReadOnly: %v, Cache: %s, Log: %s}",
		c.Storage.Backend, c.Storage.DataDir, blockCache,
		c.Storage.Reasoning, c.Storage.ReadOnly,
		cache,
		c.Logging.Level,
	)
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize renders bytes in the largest unit that divides it
// exactly, in the form parseMemorySize reads back: 64MB, 1536B.
func FormatMemorySize(bytes int64) string {
	units := []struct {
		suffix string
		size   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
	}
	for _, u := range units {
		if bytes >= u.size && bytes%u.size == 0 {
			return strconv.FormatInt(bytes/u.size, 10) + u.suffix
		}
	}
	return strconv.FormatInt(bytes, 10) + "B"
}
