package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"fluxsdk/pkg"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Request.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Request.Timeout)
	assert.Equal(t, time.Second, cfg.Request.Backoff)
	assert.False(t, cfg.Request.UseCache)
	assert.False(t, cfg.Request.Coalesce)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, uint32(200_000), cfg.Transaction.ComputeUnitLimit)
	assert.Equal(t, uint64(1000), cfg.Transaction.PriorityFee)
	assert.Equal(t, "confirmed", cfg.RPC.Commitment)
	assert.Equal(t, pkg.FluxCoreProgramID, cfg.ProgramID())

	assert.ErrorContains(t, cfg.Validate(), "rpc.endpoints")
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "flux.yaml", `
rpc:
  endpoints: ["https://rpc.example.com"]
  rate_limit: 7
request:
  max_retries: 3
  timeout: 2s
  use_cache: true
cache:
  ttl: 1m
service:
  watch: ["FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH"]
log:
  level: debug
`)
	t.Setenv("RPC_ENDPOINTS", "https://a.example.com, https://b.example.com")
	t.Setenv("FLUX_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPC.Endpoints)
	assert.Equal(t, 7, cfg.RPC.RateLimit)
	assert.Equal(t, 3, cfg.Request.MaxRetries)
	assert.Equal(t, 750*time.Millisecond, cfg.Request.Timeout)
	assert.True(t, cfg.Request.UseCache)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "wss://a.example.com", cfg.WebSocketEndpoint())
	cfg.RPC.DisablePush = true
	assert.Empty(t, cfg.WebSocketEndpoint())

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "")
	_, err := Load(writeFile(t, "bad.yaml", "rpc: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("FLUX_MAX_RETRIES", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "FLUX_MAX_RETRIES")
}

func TestValidate(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "https://rpc.example.com")
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.RPC.Commitment = "recent"
	assert.ErrorContains(t, bad.Validate(), "commitment")

	bad = *cfg
	bad.Program.ID = "not-a-key"
	assert.ErrorContains(t, bad.Validate(), "program.id")

	bad = *cfg
	bad.Request.MaxRetries = -1
	assert.ErrorContains(t, bad.Validate(), "max_retries")

	bad = *cfg
	bad.Request.MaxRetries = MaxRetriesLimit + 1
	assert.ErrorContains(t, bad.Validate(), "max_retries")

	bad = *cfg
	bad.Service.Watch = []string{"nope"}
	assert.ErrorContains(t, bad.Validate(), "service.watch")

	bad = *cfg
	bad.Log.Level = "loud"
	assert.ErrorContains(t, bad.Validate(), "log.level")
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, ".env", "# comment\nFLUX_TEST_A=one\n\nFLUX_TEST_B = two\nbroken line\n")
	t.Setenv("FLUX_TEST_B", "preset")
	t.Setenv("FLUX_TEST_A", "")

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "one", os.Getenv("FLUX_TEST_A"))
	assert.Equal(t, "preset", os.Getenv("FLUX_TEST_B"))

	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "absent.env")))
}
