package api_test

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/sensorfleet/internal/analytics"
	"github.com/okulov/sensorfleet/internal/api"
	"github.com/okulov/sensorfleet/internal/models/reading"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	base := time.Date(2026, time.January, 2, 10, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "processed_data.csv")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(reading.ProcessedHeader))
	for i, v := range []float64{20, 21, 22, 23, 24} {
		rec := reading.Normalize(reading.Reading{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SensorID:  "TEMP-001",
			Kind:      reading.Temperature,
			Value:     v,
			Unit:      "°C",
		})
		require.NoError(t, w.Write(rec.Row()))
	}
	hum := reading.Normalize(reading.Reading{
		Timestamp: base,
		SensorID:  "HUM-001",
		Kind:      reading.Humidity,
		Value:     70,
		Unit:      "%",
	})
	require.NoError(t, w.Write(hum.Row()))
	w.Flush()
	require.NoError(t, w.Error())

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewRouter(analytics.New(path, analytics.WithLogger(log)), log)
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func Test_Routes_StatusCodes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"health", "/healthz", http.StatusOK},
		{"sensors", "/sensors", http.StatusOK},
		{"stats", "/sensors/TEMP-001/stats", http.StatusOK},
		{"stats unknown sensor", "/sensors/TEMP-999/stats", http.StatusNotFound},
		{"latest", "/sensors/TEMP-001/latest", http.StatusOK},
		{"outliers default", "/sensors/TEMP-001/outliers", http.StatusOK},
		{"outliers zscore", "/sensors/TEMP-001/outliers?method=zscore", http.StatusOK},
		{"outliers bad method", "/sensors/TEMP-001/outliers?method=bogus", http.StatusBadRequest},
		{"trend", "/sensors/TEMP-001/trend", http.StatusOK},
		{"trend explicit window", "/sensors/TEMP-001/trend?window=2", http.StatusOK},
		{"trend zero window", "/sensors/TEMP-001/trend?window=0", http.StatusBadRequest},
		{"trend unparseable window", "/sensors/TEMP-001/trend?window=soon", http.StatusBadRequest},
		{"timeseries", "/sensors/TEMP-001/timeseries?bucket=30s", http.StatusOK},
		{"timeseries bad bucket", "/sensors/TEMP-001/timeseries?bucket=-5s", http.StatusBadRequest},
		{"timeseries unparseable bucket", "/sensors/TEMP-001/timeseries?bucket=soon", http.StatusBadRequest},
		{"overview", "/overview", http.StatusOK},
		{"compare", "/compare?type=temperature", http.StatusOK},
		{"compare missing type", "/compare", http.StatusBadRequest},
		{"compare unknown type", "/compare?type=pressure", http.StatusBadRequest},
		{"compare kind without sensors", "/compare?type=noise", http.StatusNotFound},
		{"metrics", "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, router, tt.target)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func Test_Stats_Body(t *testing.T) {
	router := newTestRouter(t)

	rr := get(t, router, "/sensors/TEMP-001/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var st analytics.SensorStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "TEMP-001", st.SensorID)
	assert.Equal(t, 5, st.Count)
	assert.InDelta(t, 22.0, st.Mean, 1e-9)
}

func Test_Sensors_Body(t *testing.T) {
	router := newTestRouter(t)

	rr := get(t, router, "/sensors")
	require.Equal(t, http.StatusOK, rr.Code)

	var sensors []analytics.SensorInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sensors))
	require.Len(t, sensors, 2)
	assert.Equal(t, "HUM-001", sensors[0].SensorID)
	assert.Equal(t, "TEMP-001", sensors[1].SensorID)
	assert.InDelta(t, 24.0, sensors[1].Latest.Value, 1e-9)
}

func Test_Compare_Body(t *testing.T) {
	router := newTestRouter(t)

	rr := get(t, router, "/compare?type=temperature")
	require.Equal(t, http.StatusOK, rr.Code)

	var c analytics.Comparison
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, reading.Temperature, c.Kind)
	require.Len(t, c.Sensors, 1)
	assert.Equal(t, "TEMP-001", c.Sensors[0].SensorID)
	assert.InDelta(t, 22.0, c.Sensors[0].Mean, 1e-9)
}

func Test_Timeseries_Body(t *testing.T) {
	router := newTestRouter(t)

	rr := get(t, router, "/sensors/TEMP-001/timeseries?bucket=2s")
	require.Equal(t, http.StatusOK, rr.Code)

	var buckets []analytics.Bucket
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &buckets))
	require.Len(t, buckets, 3)
	assert.Equal(t, 2, buckets[0].Count)
}

func Test_ErrorBody_IsJSON(t *testing.T) {
	router := newTestRouter(t)

	rr := get(t, router, "/sensors/TEMP-999/trend")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "no data", body["error"])
}

func Test_WriteMethodsRejected(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sensors", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
