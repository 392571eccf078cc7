package sink

import (
	"bytes"
	"encoding/csv"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/okulov/sensorfleet/internal/models/reading"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoder renders one reading as a single line, newline included.
type Encoder interface {
	// Header is written once to the top of a fresh file; nil when the
	// format carries none.
	Header() []byte
	Encode(r reading.Reading) ([]byte, error)
}

// ParseEncoding maps a config value to an encoder.
func ParseEncoding(format string) (Encoder, error) {
	switch format {
	case "", "csv":
		return CSVEncoder{}, nil
	case "jsonl":
		return JSONLEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown store format %q", format)
}

// CSVEncoder writes the raw store schema, one CSV row per reading.
type CSVEncoder struct{}

func (CSVEncoder) Header() []byte {
	return encodeRow(reading.RawHeader)
}

func (CSVEncoder) Encode(r reading.Reading) ([]byte, error) {
	return encodeRow(r.Row()), nil
}

func encodeRow(row []string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// Write on an in-memory buffer cannot fail; Flush surfaces nothing new.
	_ = w.Write(row)
	w.Flush()
	return buf.Bytes()
}

// JSONLEncoder writes one JSON object per line with the raw schema's field
// names as keys.
type JSONLEncoder struct{}

func (JSONLEncoder) Header() []byte { return nil }

func (JSONLEncoder) Encode(r reading.Reading) ([]byte, error) {
	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}
	return append(line, '\n'), nil
}
