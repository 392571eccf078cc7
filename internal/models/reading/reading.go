package reading

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the physical quantity a sensor measures.
type Kind string

const (
	Temperature Kind = "temperature"
	Humidity    Kind = "humidity"
	Noise       Kind = "noise"
)

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{Temperature, Humidity, Noise}
}

// Unit returns the measurement unit attached to every reading of this kind.
func (k Kind) Unit() string {
	switch k {
	case Temperature:
		return "°C"
	case Humidity:
		return "%"
	case Noise:
		return "dB"
	}
	return ""
}

func (k Kind) Valid() bool {
	switch k {
	case Temperature, Humidity, Noise:
		return true
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown sensor type %q", s)
	}
	return k, nil
}

// Reading is a single measurement taken by one sensor.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	SensorID  string    `json:"sensor_id"`
	Kind      Kind      `json:"sensor_type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// New stamps a measurement with the current wall-clock time. The returned
// timestamp carries Go's monotonic reading, so per-sensor ordering survives
// wall-clock adjustments.
func New(sensorID string, kind Kind, value float64) Reading {
	return Reading{
		Timestamp: time.Now(),
		SensorID:  sensorID,
		Kind:      kind,
		Value:     value,
		Unit:      kind.Unit(),
	}
}

// RawHeader is the raw store column order. Column order is fixed; the header
// row itself appears only at the top of a fresh file.
var RawHeader = []string{"timestamp", "sensor_id", "sensor_type", "value", "unit"}

// Row renders the reading in RawHeader order.
func (r Reading) Row() []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.SensorID,
		string(r.Kind),
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Unit,
	}
}

// FromRow parses a raw store row in RawHeader order.
func FromRow(row []string) (Reading, error) {
	if len(row) != len(RawHeader) {
		return Reading{}, fmt.Errorf("want %d columns, got %d", len(RawHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return Reading{}, fmt.Errorf("parse timestamp: %w", err)
	}
	kind, err := ParseKind(row[2])
	if err != nil {
		return Reading{}, err
	}
	value, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return Reading{}, fmt.Errorf("parse value: %w", err)
	}
	return Reading{
		Timestamp: ts,
		SensorID:  row[1],
		Kind:      kind,
		Value:     value,
		Unit:      row[4],
	}, nil
}

// ProcessedHeader is the normalized store column order: the raw columns plus
// the time parts derived during cleaning.
var ProcessedHeader = []string{"timestamp", "sensor_id", "sensor_type", "value", "unit", "date", "hour", "minute"}

// Processed is a cleaned reading with derived time columns, as stored in the
// normalized store.
type Processed struct {
	Reading
	Date   string `json:"date"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
}

// Normalize derives the time columns from the reading's UTC timestamp.
func Normalize(r Reading) Processed {
	ts := r.Timestamp.UTC()
	return Processed{
		Reading: r,
		Date:    ts.Format(time.DateOnly),
		Hour:    ts.Hour(),
		Minute:  ts.Minute(),
	}
}

// Row renders the processed reading in ProcessedHeader order.
func (p Processed) Row() []string {
	return append(p.Reading.Row(),
		p.Date,
		strconv.Itoa(p.Hour),
		strconv.Itoa(p.Minute),
	)
}

// ProcessedFromRow parses a normalized store row in ProcessedHeader order.
func ProcessedFromRow(row []string) (Processed, error) {
	if len(row) != len(ProcessedHeader) {
		return Processed{}, fmt.Errorf("want %d columns, got %d", len(ProcessedHeader), len(row))
	}
	r, err := FromRow(row[:len(RawHeader)])
	if err != nil {
		return Processed{}, err
	}
	hour, err := strconv.Atoi(row[6])
	if err != nil {
		return Processed{}, fmt.Errorf("parse hour: %w", err)
	}
	minute, err := strconv.Atoi(row[7])
	if err != nil {
		return Processed{}, fmt.Errorf("parse minute: %w", err)
	}
	return Processed{
		Reading: r,
		Date:    row[5],
		Hour:    hour,
		Minute:  minute,
	}, nil
}
