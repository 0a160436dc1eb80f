package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ProviderModeSimulated, cfg.Provider.Mode)
	assert.Equal(t, "interstitial:events", cfg.Provider.EventChannel)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.RequestTimeout())
	assert.Equal(t, HistoryBackendMemory, cfg.History.Backend)
	assert.InDelta(t, 0.9, cfg.Provider.Simulated.FillRate, 1e-9)
}

func TestLoadFile_EnvPatterns(t *testing.T) {
	t.Setenv("INTERSTITIAL_PORT", "9090")
	t.Setenv("INTERSTITIAL_PROVIDER", "redis")

	cfg, err := LoadFile(writeConfig(t, `
server:
  port: "{INTERSTITIAL_PORT-8080}"
provider:
  mode: "{INTERSTITIAL_PROVIDER-simulated}"
  simulated:
    click_rate: "{INTERSTITIAL_CLICK_RATE-0.25}"
coordinator:
  request_timeout_ms: "{INTERSTITIAL_TIMEOUT_MS-1500}"
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ProviderModeRedis, cfg.Provider.Mode)
	assert.InDelta(t, 0.25, cfg.Provider.Simulated.ClickRate, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, cfg.Coordinator.RequestTimeout())
}

func TestLoadFile_RejectsInvalidSettings(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "provider:\n  mode: carrier-pigeon\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "history:\n  backend: floppy\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "provider:\n  simulated:\n    fill_rate: 1.5\n"))
	assert.Error(t, err)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		value, def string
		want       interface{}
	}{
		{"", "", ""},
		{"secret", "", "secret"},
		{"", "42", 42},
		{"true", "false", true},
		{"0.5", "1", 0.5},
		{"localhost", "db", "localhost"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, convertValue(tt.value, tt.def), "value=%q default=%q", tt.value, tt.def)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
