package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("NORDATA_DATA_DIR overrides data dir", func(t *testing.T) {
		t.Setenv("NORDATA_DATA_DIR", "/mnt/bulk")
		t.Setenv("ENTSOE_API_TOKEN", "")

		cfg := DefaultConfig()
		cfg.DataDir = "/configured"
		cfg.applyEnvOverrides()

		assert.Equal(t, "/mnt/bulk", cfg.DataDir)
	})

	t.Run("ENTSOE_API_TOKEN fills the token", func(t *testing.T) {
		t.Setenv("ENTSOE_API_TOKEN", "tok-123")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "tok-123", cfg.Entsoe.Token)
	})

	t.Run("empty env leaves config untouched", func(t *testing.T) {
		t.Setenv("NORDATA_DATA_DIR", "")
		t.Setenv("NORDATA_HTTP_TIMEOUT", "")
		t.Setenv("ENTSOE_API_TOKEN", "")

		cfg := DefaultConfig()
		cfg.DataDir = "/keep"
		cfg.Entsoe.Token = "cfg-token"
		cfg.applyEnvOverrides()

		assert.Equal(t, "/keep", cfg.DataDir)
		assert.Equal(t, "cfg-token", cfg.Entsoe.Token)
	})

	t.Run("NORDATA_HTTP_TIMEOUT overrides timeout string", func(t *testing.T) {
		t.Setenv("NORDATA_HTTP_TIMEOUT", "30s")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "30s", cfg.HTTP.Timeout)
	})
}
