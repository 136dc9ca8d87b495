package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalbodeule/pubq-gate/internal/logging"
)

func TestLoadClientFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PUBQ_HOST", "PUBQ_NAMESPACE", "PUBQ_PROTOCOL_VERSION", "PUBQ_CONNECT_TIMEOUT", "PUBQ_REQUEST_TIMEOUT", "PUBQ_HANDSHAKE_WAIT"} {
		t.Setenv(key, "")
	}

	cfg := loadClientFromEnv()
	assert.Equal(t, DefaultPubQHost, cfg.Host)
	assert.Equal(t, DefaultPubQNamespace, cfg.Namespace)
	assert.Equal(t, DefaultProtocolVersion, cfg.ProtocolVersion)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.WaitHandshake)
}

func TestLoadDashboardConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("PUBQ_HTTP_LISTEN", "9090")
	t.Setenv("PUBQ_EXCLUDED_VENDORS", "compassdk_townhallcafe, compassdk_centralcafe,,")
	t.Setenv("PUBQ_CACHE_TTL", "90s")
	t.Setenv("PUBQ_FETCH_ATTEMPTS", "not-a-number")
	t.Setenv("PUBQ_REQUEST_TIMEOUT", "250ms")
	t.Setenv("PUBQ_HANDSHAKE_WAIT", "off")
	t.Setenv("PUBQ_DEBUG", "true")
	t.Setenv("PUBQ_ADMIN_API_KEY", " admin-key ")

	cfg, err := LoadDashboardConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPListen)
	assert.Equal(t, []string{"compassdk_townhallcafe", "compassdk_centralcafe"}, cfg.ExcludedVendors)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.FetchAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.RequestTimeout)
	assert.False(t, cfg.Client.WaitHandshake)
	assert.Equal(t, logging.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "admin-key", cfg.AdminAPIKey)
}

func TestLoadDotEnvFileKeepsExistingEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport PUBQ_TEST_A=\"from-file\"\nPUBQ_TEST_B='b'\nbroken-line\n=novalue\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PUBQ_TEST_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("PUBQ_TEST_A") })

	require.NoError(t, loadDotEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("PUBQ_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("PUBQ_TEST_B"))
}

func TestLoadDotEnvFileMissingIsIgnored(t *testing.T) {
	assert.NoError(t, loadDotEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestNormalizePort(t *testing.T) {
	assert.Equal(t, ":8000", normalizePort("", ":8000"))
	assert.Equal(t, ":80", normalizePort("80", ":8000"))
	assert.Equal(t, ":443", normalizePort(":443", ":8000"))
	assert.Equal(t, "127.0.0.1:8000", normalizePort("127.0.0.1:8000", ":8000"))
}
