package rdg

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankbridge/bankbridge/internal/domain"
)

func testConfig(engines ...domain.Engine) Config {
	return Config{
		BaseURL:     "http://localhost:8080",
		RPS:         10,
		Concurrent:  50,
		Engines:     engines,
		MinAmount:   100,
		MaxAmount:   10000,
		AllowSameDB: true,
	}
}

func seededGenerator(cfg Config, seed int64) *generator {
	g := newGenerator(cfg)
	g.rng = rand.New(rand.NewSource(seed))
	return g
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"zero rps", func(c *Config) { c.RPS = 0 }, "rps"},
		{"negative concurrent", func(c *Config) { c.Concurrent = -1 }, "concurrent"},
		{"no engines", func(c *Config) { c.Engines = nil }, "active_dbms"},
		{"unknown engine", func(c *Config) { c.Engines = []domain.Engine{"db2"} }, "db2"},
		{"zero min amount", func(c *Config) { c.MinAmount = 0 }, "min_amount"},
		{"inverted amounts", func(c *Config) { c.MinAmount = 500; c.MaxAmount = 100 }, "max_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(domain.EngineMongo, domain.EngineMySQL)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateSameDBNeedsTwoEngines(t *testing.T) {
	cfg := testConfig(domain.EnginePostgres)
	cfg.AllowSameDB = false
	assert.ErrorContains(t, cfg.Validate(), "at least two")

	cfg.Engines = []domain.Engine{domain.EnginePostgres, domain.EngineOracle}
	assert.NoError(t, cfg.Validate())
}

func TestNextStaysInsideSeededRange(t *testing.T) {
	g := seededGenerator(testConfig(domain.EngineMySQL, domain.EnginePostgres), 1)
	for i := 0; i < 500; i++ {
		req := g.Next()

		src, err := req.SrcEngine()
		require.NoError(t, err)
		dst, err := req.DstEngine()
		require.NoError(t, err)

		assert.Contains(t, []domain.Engine{domain.EngineMySQL, domain.EnginePostgres}, src)
		assert.Contains(t, []domain.Engine{domain.EngineMySQL, domain.EnginePostgres}, dst)

		srcOffset := req.SrcAccountID % 100000
		dstOffset := req.DstAccountID % 100000
		assert.GreaterOrEqual(t, srcOffset, int64(1))
		assert.LessOrEqual(t, srcOffset, int64(accountRange))
		assert.GreaterOrEqual(t, dstOffset, int64(1))
		assert.LessOrEqual(t, dstOffset, int64(accountRange))

		assert.GreaterOrEqual(t, req.Amount, int64(100))
		assert.LessOrEqual(t, req.Amount, int64(10000))
	}
}

func TestNextNeverDrawsSelfTransfer(t *testing.T) {
	g := seededGenerator(testConfig(domain.EngineMySQL), 2)
	for i := 0; i < 300; i++ {
		req := g.Next()
		assert.NotEqual(t, req.SrcAccountID, req.DstAccountID)
	}
}

func TestNextRespectsAllowSameDB(t *testing.T) {
	cfg := testConfig(domain.EngineMongo, domain.EngineMySQL, domain.EngineOracle, domain.EnginePostgres)
	cfg.AllowSameDB = false
	g := seededGenerator(cfg, 3)
	for i := 0; i < 300; i++ {
		req := g.Next()
		src, err := req.SrcEngine()
		require.NoError(t, err)
		dst, err := req.DstEngine()
		require.NoError(t, err)
		assert.NotEqual(t, src, dst)
	}
}

func TestNextKeyCarriesEnginePrefix(t *testing.T) {
	g := seededGenerator(testConfig(domain.EngineOracle, domain.EnginePostgres), 7)
	for i := 0; i < 100; i++ {
		req := g.Next()
		src, err := req.SrcEngine()
		require.NoError(t, err)
		dst, err := req.DstEngine()
		require.NoError(t, err)

		prefix := string(src[0]) + string(dst[0]) + "-"
		assert.True(t, strings.HasPrefix(req.IdempotencyKey, prefix), "key %q", req.IdempotencyKey)
		// Prefix plus a v4 UUID.
		assert.Len(t, req.IdempotencyKey, len(prefix)+36)
	}
}
