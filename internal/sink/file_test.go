package sink_test

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/sensorfleet/internal/models/reading"
	"github.com/okulov/sensorfleet/internal/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func Test_FileSink_WritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Append(reading.New("TEMP-001", reading.Temperature, 21.0)))
	require.NoError(t, fs.Close())

	// Reopening the same store must not add a second header.
	fs, err = sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Append(reading.New("TEMP-001", reading.Temperature, 22.0)))
	require.NoError(t, fs.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, reading.RawHeader, rows[0])
	assert.Equal(t, "21", rows[1][3])
	assert.Equal(t, "22", rows[2][3])
}

func Test_FileSink_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func Test_FileSink_RoundtripCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	want := reading.Reading{
		Timestamp: time.Date(2026, 2, 3, 4, 5, 6, 700000000, time.UTC),
		SensorID:  "HUM-001",
		Kind:      reading.Humidity,
		Value:     68.423,
		Unit:      "%",
	}

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Append(want))
	require.NoError(t, fs.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 2)

	got, err := reading.FromRow(rows[1])
	require.NoError(t, err)
	assert.Equal(t, want.SensorID, got.SensorID)
	assert.Equal(t, want.Value, got.Value)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func Test_FileSink_JSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.jsonl")

	fs, err := sink.NewFileSink(path, sink.WithEncoder(sink.JSONLEncoder{}), sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Append(reading.New("NOISE-001", reading.Noise, 58.7)))
	require.NoError(t, fs.Append(reading.New("NOISE-001", reading.Noise, 61.2)))
	require.NoError(t, fs.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var got reading.Reading
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		assert.Equal(t, "NOISE-001", got.SensorID)
		assert.Equal(t, reading.Noise, got.Kind)
		assert.Equal(t, "dB", got.Unit)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func Test_FileSink_AppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	err = fs.Append(reading.New("TEMP-001", reading.Temperature, 20.0))
	assert.ErrorIs(t, err, sink.ErrClosed)
}

func Test_FileSink_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Append(reading.New("TEMP-001", reading.Temperature, 20.0)))

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
}

func Test_FileSink_CloseFlushesQueuedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, fs.Append(reading.New("TEMP-001", reading.Temperature, float64(i))))
	}
	require.NoError(t, fs.Close())

	rows := readRows(t, path)
	assert.Len(t, rows, 101)
	assert.EqualValues(t, 100, fs.Count())
}

// Three concurrent writers, one thousand records each: nothing lost, nothing
// duplicated, and every writer's own sequence stays in order.
func Test_FileSink_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data.csv")

	fs, err := sink.NewFileSink(path, sink.WithLogger(discardLogger()))
	require.NoError(t, err)

	const (
		writers       = 3
		recordsPerOne = 1000
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		id := fmt.Sprintf("TEMP-%03d", w+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < recordsPerOne; i++ {
				// The value carries the writer's sequence number.
				if err := fs.Append(reading.New(id, reading.Temperature, float64(i))); err != nil {
					t.Errorf("append %s #%d: %v", id, i, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, fs.Close())

	rows := readRows(t, path)
	require.Len(t, rows, writers*recordsPerOne+1)

	lastSeq := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range rows[1:] {
		r, err := reading.FromRow(row)
		require.NoError(t, err)

		if prev, ok := lastSeq[r.SensorID]; ok {
			require.Equal(t, prev+1, r.Value, "per-writer order broken for %s", r.SensorID)
		} else {
			require.Equal(t, 0.0, r.Value, "first record of %s out of order", r.SensorID)
		}
		lastSeq[r.SensorID] = r.Value
		counts[r.SensorID]++
	}

	require.Len(t, counts, writers)
	for id, n := range counts {
		assert.Equal(t, recordsPerOne, n, "record count for %s", id)
	}
}

func Test_ParseEncoding(t *testing.T) {
	enc, err := sink.ParseEncoding("")
	require.NoError(t, err)
	assert.IsType(t, sink.CSVEncoder{}, enc)

	enc, err = sink.ParseEncoding("csv")
	require.NoError(t, err)
	assert.IsType(t, sink.CSVEncoder{}, enc)

	enc, err = sink.ParseEncoding("jsonl")
	require.NoError(t, err)
	assert.IsType(t, sink.JSONLEncoder{}, enc)

	_, err = sink.ParseEncoding("parquet")
	assert.Error(t, err)
}
