package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ingest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Config{
		ImportHandler: "nested",
		LogLevel:      "info",
		HTTPTimeout:   10 * time.Second,
	}, cfg)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, ingest.Nested, s)
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"STRATA_HOST":           "/api",
		"STRATA_BASE_URL":       "https://example.test",
		"STRATA_DB":             "/tmp/cache.db",
		"STRATA_IMPORT_HANDLER": "unnested",
		"STRATA_LOG_LEVEL":      "debug",
		"STRATA_HTTP_TIMEOUT":   "250ms",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api", cfg.Host)
	assert.Equal(t, "https://example.test", cfg.BaseURL)
	assert.Equal(t, "/tmp/cache.db", cfg.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.HTTPTimeout)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, ingest.Unnested, s)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadProcessEnvironment(t *testing.T) {
	t.Setenv("STRATA_HOST", "/v2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/v2", cfg.Host)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"bad duration", map[string]string{"STRATA_HTTP_TIMEOUT": "soon"}, "parse env"},
		{"negative duration", map[string]string{"STRATA_HTTP_TIMEOUT": "-1s"}, "STRATA_HTTP_TIMEOUT"},
		{"bad handler", map[string]string{"STRATA_IMPORT_HANDLER": "flat"}, "STRATA_IMPORT_HANDLER"},
		{"bad level", map[string]string{"STRATA_LOG_LEVEL": "loud"}, "STRATA_LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevelEmptyIsInfo(t *testing.T) {
	level, err := Config{}.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}
