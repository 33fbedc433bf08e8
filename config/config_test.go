package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil), nil)

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFrom_EnvironmentThenFlags(t *testing.T) {
	// GIVEN: Environment for every setting
	vars := map[string]string{
		"MEDVENTORY_PORT":            "9090",
		"MEDVENTORY_DB":              ":memory:",
		"MEDVENTORY_REDIS_ADDR":      "redis:6379",
		"MEDVENTORY_ALLOWED_ORIGINS": "https://kho.hmu.vn, ,http://localhost:3000",
		"MEDVENTORY_EXPIRY_INTERVAL": "15m",
		"MEDVENTORY_SEED":            "true",
		"MEDVENTORY_CLASSIFIER":      `{"type":"never"}`,
	}

	// WHEN: Flags override two of them
	cfg, err := LoadFrom(env(vars), []string{"-port=3000", "-seed=false"})

	// THEN: Flags win, the rest comes from the environment
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.Seed)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"https://kho.hmu.vn", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.ExpiryInterval)
	assert.Equal(t, `{"type":"never"}`, cfg.Classifier)
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		args []string
	}{
		{"bad port", map[string]string{"MEDVENTORY_PORT": "http"}, nil},
		{"bad interval", map[string]string{"MEDVENTORY_EXPIRY_INTERVAL": "hourly"}, nil},
		{"bad seed", map[string]string{"MEDVENTORY_SEED": "maybe"}, nil},
		{"zero interval flag", nil, []string{"-expiry-interval=0s"}},
		{"unknown flag", nil, []string{"-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFrom(env(tt.vars), tt.args); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
