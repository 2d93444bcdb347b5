package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, []string{"mongo", "mysql", "oracle", "postgres"}, cfg.Engines)
	assert.Equal(t, 10, cfg.Generator.RPS)
	assert.Equal(t, 50, cfg.Generator.Concurrent)
	assert.Equal(t, int64(1000), cfg.Generator.MinAmount)
	assert.Equal(t, int64(100000), cfg.Generator.MaxAmount)
	assert.False(t, cfg.Generator.AllowSameDB)
	assert.Equal(t, 795, cfg.Seed.AccountsPerEngine)
	assert.Equal(t, int64(10000), cfg.Seed.Balance)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BANKBRIDGE_LISTEN_ADDR", ":9090")
	t.Setenv("BANKBRIDGE_GENERATOR_RPS", "25")
	t.Setenv("BANKBRIDGE_ENGINES", "mongo,postgres")
	t.Setenv("BANKBRIDGE_GENERATOR_ACTIVE_DBMS", "mongo,postgres")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 25, cfg.Generator.RPS)
	assert.Equal(t, []string{"mongo", "postgres"}, cfg.Engines)
	assert.Equal(t, []string{"mongo", "postgres"}, cfg.Generator.ActiveDBMS)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ControlPassword: "changeme",
		LogLevel:        "INFO",
		Engines:         []string{"mongo", "mysql"},
		Generator: Generator{
			BaseURL:    "http://localhost:8080",
			RPS:        10,
			Concurrent: 50,
			ActiveDBMS: []string{"mongo", "mysql"},
			MinAmount:  1000,
			MaxAmount:  100000,
		},
		Seed: Seed{AccountsPerEngine: 795, Balance: 10000},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "TRACE" }},
		{"no engines", func(c *Config) { c.Engines = nil }},
		{"unknown engine", func(c *Config) { c.Engines = []string{"sqlite"} }},
		{"zero rps", func(c *Config) { c.Generator.RPS = 0 }},
		{"zero concurrency", func(c *Config) { c.Generator.Concurrent = 0 }},
		{"zero min amount", func(c *Config) { c.Generator.MinAmount = 0 }},
		{"max below min", func(c *Config) { c.Generator.MaxAmount = 500 }},
		{"empty active set", func(c *Config) { c.Generator.ActiveDBMS = nil }},
		{"unknown active engine", func(c *Config) { c.Generator.ActiveDBMS = []string{"db2"} }},
		{"empty base url", func(c *Config) { c.Generator.BaseURL = "" }},
		{"zero seed accounts", func(c *Config) { c.Seed.AccountsPerEngine = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
