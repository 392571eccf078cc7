package etl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"

	"github.com/okulov/sensorfleet/internal/metrics"
	"github.com/okulov/sensorfleet/internal/models/reading"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Range bounds the physically plausible values for one sensor kind.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultRanges returns the plausibility envelope applied to each kind when
// no custom ranges are configured.
func DefaultRanges() map[reading.Kind]Range {
	return map[reading.Kind]Range{
		reading.Temperature: {Min: -50, Max: 100},
		reading.Humidity:    {Min: 0, Max: 100},
		reading.Noise:       {Min: 0, Max: 140},
	}
}

// Stats counts what one cleaning run did with the raw records.
type Stats struct {
	Extracted  int `json:"extracted"`
	Malformed  int `json:"malformed"`
	Duplicates int `json:"duplicates"`
	OutOfRange int `json:"out_of_range"`
	Retained   int `json:"retained"`
}

// RetentionRate is the share of extracted records that survived cleaning.
func (s Stats) RetentionRate() float64 {
	if s.Extracted == 0 {
		return 0
	}
	return float64(s.Retained) / float64(s.Extracted)
}

// Pipeline cleans the raw reading store into the normalized store: it drops
// malformed rows, deduplicates on (timestamp, sensor_id), rejects values
// outside the per-kind range, sorts by timestamp and derives the date, hour
// and minute columns.
type Pipeline struct {
	rawPath       string
	processedPath string
	ranges        map[reading.Kind]Range
	log           *slog.Logger
}

type Option func(*Pipeline)

// WithRanges overrides the per-kind plausibility ranges. Kinds missing from
// the map pass the range check unconditionally.
func WithRanges(ranges map[reading.Kind]Range) Option {
	return func(p *Pipeline) { p.ranges = ranges }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func New(rawPath, processedPath string, opts ...Option) *Pipeline {
	p := &Pipeline{
		rawPath:       rawPath,
		processedPath: processedPath,
		ranges:        DefaultRanges(),
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one extract-transform-load pass. The normalized store is
// replaced atomically, so concurrent readers always see a complete file.
func (p *Pipeline) Run() (Stats, error) {
	records, stats, err := p.extract()
	if err != nil {
		return Stats{}, fmt.Errorf("extract %s: %w", p.rawPath, err)
	}

	cleaned := p.transform(records, &stats)
	stats.Retained = len(cleaned)

	if err := p.load(cleaned); err != nil {
		return Stats{}, fmt.Errorf("load %s: %w", p.processedPath, err)
	}

	metrics.EtlRecordsRetained.Add(float64(stats.Retained))
	metrics.EtlRecordsDropped.WithLabelValues("malformed").Add(float64(stats.Malformed))
	metrics.EtlRecordsDropped.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	metrics.EtlRecordsDropped.WithLabelValues("out_of_range").Add(float64(stats.OutOfRange))

	p.log.Info("cleaning run finished",
		"extracted", stats.Extracted,
		"malformed", stats.Malformed,
		"duplicates", stats.Duplicates,
		"out_of_range", stats.OutOfRange,
		"retained", stats.Retained,
	)
	return stats, nil
}

// extract reads the raw store. The format follows the file extension: .jsonl
// and .ndjson are read as one JSON document per line, anything else as CSV.
func (p *Pipeline) extract() ([]reading.Reading, Stats, error) {
	f, err := os.Open(p.rawPath)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()

	switch filepath.Ext(p.rawPath) {
	case ".jsonl", ".ndjson":
		return extractJSONL(f)
	default:
		return extractCSV(f)
	}
}

func extractCSV(r io.Reader) ([]reading.Reading, Stats, error) {
	rd := csv.NewReader(r)
	rd.FieldsPerRecord = -1

	var (
		out   []reading.Reading
		stats Stats
		first = true
	)
	for {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Extracted++
				stats.Malformed++
				continue
			}
			return nil, stats, err
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == reading.RawHeader[0] {
				continue
			}
		}
		stats.Extracted++
		rec, err := reading.FromRow(row)
		if err != nil || rec.SensorID == "" {
			stats.Malformed++
			continue
		}
		out = append(out, rec)
	}
	return out, stats, nil
}

func extractJSONL(r io.Reader) ([]reading.Reading, Stats, error) {
	var (
		out   []reading.Reading
		stats Stats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Extracted++
		var rec reading.Reading
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.Malformed++
			continue
		}
		if rec.SensorID == "" || !rec.Kind.Valid() || rec.Timestamp.IsZero() {
			stats.Malformed++
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

type dupKey struct {
	unixNano int64
	sensorID string
	value    float64
}

// transform drops duplicates and out-of-range values, normalizes the unit
// from the kind, sorts by timestamp and derives the time columns. A repeated
// (timestamp, sensor_id, value) triple counts as a duplicate; the first
// occurrence wins.
func (p *Pipeline) transform(in []reading.Reading, stats *Stats) []reading.Processed {
	seen := make(map[dupKey]struct{}, len(in))
	out := make([]reading.Processed, 0, len(in))

	for _, rec := range in {
		key := dupKey{rec.Timestamp.UnixNano(), rec.SensorID, rec.Value}
		if _, ok := seen[key]; ok {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		if rng, ok := p.ranges[rec.Kind]; ok && (rec.Value < rng.Min || rec.Value > rng.Max) {
			stats.OutOfRange++
			continue
		}

		rec.Unit = rec.Kind.Unit()
		out = append(out, reading.Normalize(rec))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// load writes the normalized store through a temp file in the target
// directory and renames it into place.
func (p *Pipeline) load(records []reading.Processed) error {
	dir := filepath.Dir(p.processedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.processedPath)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(reading.ProcessedHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), p.processedPath)
}

// RunEvery executes a cleaning pass immediately and then on every tick until
// the context is canceled. Failed passes are logged and retried on the next
// tick.
func (p *Pipeline) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Run(); err != nil {
			p.log.Error("cleaning run failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Watch reruns the pipeline whenever the raw store changes, waiting for the
// debounce window to pass without further writes before each run. The watch
// is on the parent directory so a store recreated by rotation is picked up.
func (p *Pipeline) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.rawPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.log.Info("watching raw store", "path", p.rawPath, "debounce", debounce)

	// The timer stays disarmed until the first matching event.
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.rawPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Error("watcher error", "err", err)
		case <-timer.C:
			if _, err := p.Run(); err != nil {
				p.log.Error("cleaning run failed", "err", err)
			}
		}
	}
}
