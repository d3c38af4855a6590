package hostconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDecodesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otaagentd.toml")
	contents := `
[mqtt]
host = "broker.example.com"
port = 8883
use_tls = true
topic = "fleet/ota"

[ota]
max_retries = 5
current_version = "2.1.0"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.example.com", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.True(t, cfg.MQTT.UseTLS)
	assert.Equal(t, "fleet/ota", cfg.MQTT.Topic)
	assert.Equal(t, 5, cfg.OTA.MaxRetries)
	assert.Equal(t, "2.1.0", cfg.OTA.CurrentVersion)
	// Untouched sections keep their defaults.
	assert.True(t, cfg.OTA.VerifyChecksum)
	assert.Equal(t, 30*time.Second, cfg.OTA.CheckInterval())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otaagentd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[mqtt]
host = "from-file"
`), 0o644))

	t.Setenv("OTAAGENTD_MQTT_HOST", "from-env")
	t.Setenv("OTAAGENTD_OTA_MAX_RETRIES", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MQTT.Host)
	assert.Equal(t, 9, cfg.OTA.MaxRetries)
}
