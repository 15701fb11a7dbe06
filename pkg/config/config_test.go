package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "3470", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, int32(25), cfg.Database.MaxConnections)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, 3, cfg.Pipeline.MaxMessageRetries)
	assert.Equal(t, 100, cfg.Provider.PageSize)
}

func TestLoad_RequiresCredentialsKey(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREDENTIALS_KEY")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPASSWORD", "secret")
	t.Setenv("PORT", "9000")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "9000", cfg.Port)
	assert.Contains(t, cfg.Database.URL(), "db.internal")
	assert.Contains(t, cfg.Database.URL(), "secret")
}
