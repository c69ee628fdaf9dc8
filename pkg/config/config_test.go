package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, rdf.GraphDefaultIRI, cfg.Storage.DefaultGraph)
	assert.Equal(t, 256, cfg.Cache.Subjects)
	assert.Equal(t, 4, cfg.Cache.Graphs)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("defaults_without_file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	})

	t.Run("yaml_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quadstore.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: badger
  data_dir: /var/lib/quadstore
  reasoning: true
  block_cache: 64MB
cache:
  subjects: 1024
logging:
  level: debug
  json: true
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, BackendBadger, cfg.Storage.Backend)
		assert.Equal(t, "/var/lib/quadstore", cfg.Storage.DataDir)
		assert.True(t, cfg.Storage.Reasoning)
		assert.Equal(t, int64(64*1024*1024), cfg.Storage.BlockCacheBytes())
		assert.Equal(t, 1024, cfg.Cache.Subjects)
		assert.Equal(t, 4, cfg.Cache.Graphs, "unset keys keep defaults")
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.JSON)
	})

	t.Run("environment_overrides_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quadstore.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache:\n  subjects: 10\n"), 0o644))
		t.Setenv("QUADSTORE_CACHE_SUBJECTS", "99")
		t.Setenv("QUADSTORE_STORAGE_READ_ONLY", "true")
		t.Setenv("QUADSTORE_CACHE_ENABLED", "false")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 99, cfg.Cache.Subjects)
		assert.True(t, cfg.Storage.ReadOnly)
		assert.False(t, cfg.Cache.Enabled)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid_values_rejected", func(t *testing.T) {
		t.Setenv("QUADSTORE_STORAGE_BACKEND", "postgres")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid storage backend")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"badger_needs_dir", func(c *Config) {
			c.Storage.Backend = BackendBadger
			c.Storage.DataDir = ""
		}, "requires storage.data_dir"},
		{"badger_in_memory", func(c *Config) {
			c.Storage.Backend = BackendBadger
			c.Storage.DataDir = ""
			c.Storage.InMemory = true
		}, ""},
		{"bad_block_cache", func(c *Config) { c.Storage.BlockCache = "lots" }, "invalid block cache"},
		{"negative_cache", func(c *Config) { c.Cache.Graphs = -1 }, "invalid cache budgets"},
		{"bad_level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"empty_default_graph", func(c *Config) { c.Storage.DefaultGraph = "" }, "default_graph"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_WriteYAML(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = BackendBadger
	cfg.Cache.Subjects = 7

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "backend: badger")

	var back Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, *cfg, back)
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"1KB", 1024},
		{"512mb", 512 * 1024 * 1024},
		{"2G", 2 * 1024 * 1024 * 1024},
		{"garbage", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.input))
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512B"},
		{1536, "1536B"},
		{2048, "2KB"},
		{64 * 1024 * 1024, "64MB"},
		{3 << 30, "3GB"},
		{1 << 40, "1TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMemorySize(tt.bytes))
			assert.Equal(t, tt.bytes, parseMemorySize(FormatMemorySize(tt.bytes)))
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.String(), "BlockCache: default")
	assert.Contains(t, cfg.String(), "Cache: 256/4")

	cfg.Storage.BlockCache = "65536kb"
	cfg.Cache.Enabled = false
	assert.Contains(t, cfg.String(), "BlockCache: 64MB")
	assert.Contains(t, cfg.String(), "Cache: off")
}
