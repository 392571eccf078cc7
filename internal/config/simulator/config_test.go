package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/okulov/sensorfleet/internal/config/simulator"
)

const sampleConfig = `env: dev
http_addr: ":18080"
store_path: /tmp/fleet/raw_data.csv
run_duration: 30s
sensors:
  - id: TEMP-001
    type: temperature
    interval: 2s
    jitter: 250ms
  - id: HUM-001
    type: humidity
    interval: 1s
    params:
      alpha: 30
      beta: 12
`

func Test_MustLoad_ReadsFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg := config.MustLoad()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/fleet/raw_data.csv", cfg.StorePath)
	assert.Equal(t, 30*time.Second, cfg.RunDuration)

	// Fields the file omits fall back to declared defaults.
	assert.Equal(t, ":9092", cfg.MetricsAddr)
	assert.Equal(t, "csv", cfg.StoreFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.PausePoll)
	assert.False(t, cfg.SyncEvery)

	require.Len(t, cfg.Sensors, 2)
	assert.Equal(t, "TEMP-001", cfg.Sensors[0].ID)
	assert.Equal(t, 2*time.Second, cfg.Sensors[0].Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Sensors[0].Jitter)
	assert.Equal(t, "humidity", cfg.Sensors[1].Type)
	assert.InDelta(t, 30.0, cfg.Sensors[1].Params.Alpha, 1e-9)
	assert.InDelta(t, 12.0, cfg.Sensors[1].Params.Beta, 1e-9)
}

func Test_MustLoad_PanicsWithoutConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	assert.Panics(t, func() { config.MustLoad() })
}

func Test_MustLoad_PanicsOnMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Panics(t, func() { config.MustLoad() })
}
