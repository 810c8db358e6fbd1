package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/devidkit/pkg/config"
)

func TestLoad(t *testing.T) {
	type basicConfig struct {
		Host string `env:"TEST_CFG_HOST" envDefault:"localhost"`
		Port int    `env:"TEST_CFG_PORT" envDefault:"6379"`
	}

	t.Setenv("TEST_CFG_HOST", "vault.internal")

	var cfg basicConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "vault.internal", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
}

func TestLoadCachesPerType(t *testing.T) {
	type cachedConfig struct {
		Value string `env:"TEST_CFG_CACHED" envDefault:"first"`
	}

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	// Environment changes after the first parse are not observed.
	t.Setenv("TEST_CFG_CACHED", "second")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)
}

func TestLoadRetriesAfterFailure(t *testing.T) {
	type retryConfig struct {
		Token string `env:"TEST_CFG_RETRY_TOKEN,required"`
	}

	var cfg retryConfig
	err := config.Load(&cfg)
	require.ErrorIs(t, err, config.ErrParsingConfig)

	// A failed parse is not cached; the next call sees the fixed
	// environment.
	t.Setenv("TEST_CFG_RETRY_TOKEN", "tok")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "tok", cfg.Token)
}

func TestLoadRequired(t *testing.T) {
	type requiredConfig struct {
		Token string `env:"TEST_CFG_REQUIRED_TOKEN,required"`
	}

	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadNilPointer(t *testing.T) {
	err := config.Load[struct{}](nil)
	require.ErrorIs(t, err, config.ErrNilPointer)
}

func TestMustLoadPanics(t *testing.T) {
	type panicConfig struct {
		Token string `env:"TEST_CFG_PANIC_TOKEN,required"`
	}

	assert.Panics(t, func() {
		var cfg panicConfig
		config.MustLoad(&cfg)
	})
}
