package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Backend struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"backend"`
	Hub struct {
		URL       string        `yaml:"url" env:"HUB_URL"`
		KeepAlive time.Duration `yaml:"keepAlive"`
	} `yaml:"hub"`
	Threshold float64  `yaml:"threshold"`
	Tags      []string `yaml:"tags"`
	Verbose   bool     `yaml:"verbose"`
	Ignored   string   `yaml:"ignored" env:"-"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://file
  timeoutSeconds: 7
hub:
  url: http://hub-file
  keepAlive: 20s
threshold: 0.5
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BACKEND_URL", "http://env")
	t.Setenv("HUB_URL", "http://hub-env")
	t.Setenv("THRESHOLD", "0.02")
	t.Setenv("VERBOSE", "true")
	t.Setenv("IGNORED", "nope")

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))
	assert.Equal(t, "http://env", cfg.Backend.URL)
	assert.Equal(t, 7, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, "http://hub-env", cfg.Hub.URL)
	assert.Equal(t, 20*time.Second, cfg.Hub.KeepAlive)
	assert.Equal(t, 0.02, cfg.Threshold)
	assert.True(t, cfg.Verbose)
	assert.Empty(t, cfg.Ignored)
}

func TestLoadConfigDurationFromEnv(t *testing.T) {
	t.Setenv("HUB_KEEPALIVE", "1m30s")
	var cfg sample
	require.NoError(t, LoadConfig(&cfg))
	assert.Equal(t, 90*time.Second, cfg.Hub.KeepAlive)
}

func TestLoadConfigWithOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  url: http://file\n"), 0o600))

	env := map[string]string{"TAGS": "kiosk, gas,,ev", "BACKEND_TIMEOUTSECONDS": "3"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	var cfg sample
	require.NoError(t, LoadConfig(&cfg, WithFile(path), WithLookup(lookup)))
	assert.Equal(t, "http://file", cfg.Backend.URL)
	assert.Equal(t, 3, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, []string{"kiosk", "gas", "ev"}, cfg.Tags)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("BACKEND_TIMEOUTSECONDS", "soon")
	var cfg sample
	assert.Error(t, LoadConfig(&cfg))

	assert.Error(t, LoadConfig(nil))
	assert.Error(t, LoadConfig(cfg))
}
