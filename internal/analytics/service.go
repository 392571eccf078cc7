package analytics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/okulov/sensorfleet/internal/models/reading"
)

// ErrNoData marks queries that matched no records.
var ErrNoData = errors.New("no data")

const (
	// maxOutliers caps one outlier report.
	maxOutliers = 50

	// defaultTrendWindow is how many recent samples form each side of the
	// trend comparison when the caller does not pick a window.
	defaultTrendWindow = 10

	// trendThreshold is the relative change below which a trend counts as
	// stable.
	trendThreshold = 0.01
)

// Service answers statistical queries over the normalized store. Every query
// reads the store fresh, so results always reflect the latest cleaning run.
type Service struct {
	path string
	log  *slog.Logger
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(processedPath string, opts ...Option) *Service {
	s := &Service{path: processedPath, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SensorStats describes one sensor's value distribution.
type SensorStats struct {
	SensorID string       `json:"sensor_id"`
	Kind     reading.Kind `json:"sensor_type"`
	Unit     string       `json:"unit"`
	Count    int          `json:"count"`
	Mean     float64      `json:"mean"`
	Median   float64      `json:"median"`
	StdDev   float64      `json:"std_dev"`
	Min      float64      `json:"min"`
	Max      float64      `json:"max"`
	Q1       float64      `json:"q1"`
	Q3       float64      `json:"q3"`
	Range    float64      `json:"range"`
	// CV is the coefficient of variation, zero when the mean is zero.
	CV    float64   `json:"cv"`
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// Outlier is one reading flagged by an outlier method. Score is the z-score
// for the zscore method and the distance beyond the nearer fence for iqr.
type Outlier struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Score     float64   `json:"score"`
}

// OutlierReport lists a sensor's outliers, most severe first, capped at
// maxOutliers. Lo and Hi are the value bounds the method treated as normal.
type OutlierReport struct {
	SensorID string    `json:"sensor_id"`
	Method   string    `json:"method"`
	Lo       float64   `json:"lo"`
	Hi       float64   `json:"hi"`
	Total    int       `json:"total"`
	Count    int       `json:"count"`
	Outliers []Outlier `json:"outliers"`
}

// TrendReport compares the mean of a sensor's most recent samples against
// the window preceding them.
type TrendReport struct {
	SensorID    string  `json:"sensor_id"`
	Direction   string  `json:"direction"`
	Window      int     `json:"window"`
	EarlierMean float64 `json:"earlier_mean"`
	RecentMean  float64 `json:"recent_mean"`
	Change      float64 `json:"change"`
}

// SensorAggregate ranks one sensor inside a kind comparison.
type SensorAggregate struct {
	SensorID string  `json:"sensor_id"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Comparison ranks every sensor of one kind, highest mean first.
type Comparison struct {
	Kind    reading.Kind      `json:"sensor_type"`
	Unit    string            `json:"unit"`
	Sensors []SensorAggregate `json:"sensors"`
}

// Bucket is one time-series aggregation window.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
	Mean  float64   `json:"mean"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
}

// SensorInfo identifies one sensor present in the store, carrying its most
// recent reading.
type SensorInfo struct {
	SensorID string            `json:"sensor_id"`
	Kind     reading.Kind      `json:"sensor_type"`
	Count    int               `json:"count"`
	First    time.Time         `json:"first"`
	Latest   reading.Processed `json:"latest"`
}

// Overview summarizes the whole store.
type Overview struct {
	Records int          `json:"records"`
	From    time.Time    `json:"from"`
	To      time.Time    `json:"to"`
	Sensors []SensorInfo `json:"sensors"`
}

// Sensors lists every sensor in the store, sorted by id.
func (s *Service) Sensors() ([]SensorInfo, error) {
	groups, ids, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]SensorInfo, 0, len(ids))
	for _, id := range ids {
		recs := groups[id]
		out = append(out, SensorInfo{
			SensorID: id,
			Kind:     recs[0].Kind,
			Count:    len(recs),
			First:    recs[0].Timestamp,
			Latest:   recs[len(recs)-1],
		})
	}
	return out, nil
}

// Overview summarizes the whole store across all sensors.
func (s *Service) Overview() (Overview, error) {
	sensors, err := s.Sensors()
	if err != nil {
		return Overview{}, err
	}

	var o Overview
	o.Sensors = sensors
	for _, info := range sensors {
		o.Records += info.Count
		if o.From.IsZero() || info.First.Before(o.From) {
			o.From = info.First
		}
		if info.Latest.Timestamp.After(o.To) {
			o.To = info.Latest.Timestamp
		}
	}
	return o, nil
}

// Latest returns a sensor's most recent reading.
func (s *Service) Latest(sensorID string) (reading.Processed, error) {
	recs, err := s.sensor(sensorID)
	if err != nil {
		return reading.Processed{}, err
	}
	return recs[len(recs)-1], nil
}

// Statistics computes the distribution of one sensor's values.
func (s *Service) Statistics(sensorID string) (SensorStats, error) {
	recs, err := s.sensor(sensorID)
	if err != nil {
		return SensorStats{}, err
	}

	vals := values(recs)
	mean, _ := stats.Mean(vals)
	median, _ := stats.Median(vals)
	stdDev, _ := stats.StandardDeviation(vals)
	minV, _ := stats.Min(vals)
	maxV, _ := stats.Max(vals)

	out := SensorStats{
		SensorID: sensorID,
		Kind:     recs[0].Kind,
		Unit:     recs[0].Unit,
		Count:    len(recs),
		Mean:     mean,
		Median:   median,
		StdDev:   stdDev,
		Min:      minV,
		Max:      maxV,
		Range:    maxV - minV,
		First:    recs[0].Timestamp,
		Last:     recs[len(recs)-1].Timestamp,
	}
	// Quartiles of one or two samples come back NaN, which JSON cannot carry.
	if q, err := stats.Quartile(vals); err == nil && !math.IsNaN(q.Q1) && !math.IsNaN(q.Q3) {
		out.Q1 = q.Q1
		out.Q3 = q.Q3
	}
	if mean != 0 {
		out.CV = stdDev / math.Abs(mean)
	}
	return out, nil
}

// Outliers flags a sensor's anomalous readings. Method "iqr" fences values
// beyond 1.5 interquartile ranges outside the quartiles; "zscore" flags
// values more than three population standard deviations from the mean.
func (s *Service) Outliers(sensorID, method string) (OutlierReport, error) {
	recs, err := s.sensor(sensorID)
	if err != nil {
		return OutlierReport{}, err
	}

	var (
		found  []Outlier
		lo, hi float64
	)
	switch method {
	case "", "iqr":
		method = "iqr"
		lo, hi, found = iqrOutliers(recs)
	case "zscore":
		lo, hi, found = zscoreOutliers(recs)
	default:
		return OutlierReport{}, fmt.Errorf("unknown outlier method %q", method)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return math.Abs(found[i].Score) > math.Abs(found[j].Score)
	})
	total := len(found)
	if len(found) > maxOutliers {
		found = found[:maxOutliers]
	}
	return OutlierReport{
		SensorID: sensorID,
		Method:   method,
		Lo:       lo,
		Hi:       hi,
		Total:    total,
		Count:    len(found),
		Outliers: found,
	}, nil
}

func iqrOutliers(recs []reading.Processed) (float64, float64, []Outlier) {
	q, err := stats.Quartile(values(recs))
	if err != nil || math.IsNaN(q.Q1) || math.IsNaN(q.Q3) {
		return 0, 0, nil
	}
	iqr := q.Q3 - q.Q1
	lo := q.Q1 - 1.5*iqr
	hi := q.Q3 + 1.5*iqr

	var out []Outlier
	for _, rec := range recs {
		switch {
		case rec.Value < lo:
			out = append(out, Outlier{Timestamp: rec.Timestamp, Value: rec.Value, Score: rec.Value - lo})
		case rec.Value > hi:
			out = append(out, Outlier{Timestamp: rec.Timestamp, Value: rec.Value, Score: rec.Value - hi})
		}
	}
	return lo, hi, out
}

func zscoreOutliers(recs []reading.Processed) (float64, float64, []Outlier) {
	vals := values(recs)
	mean, _ := stats.Mean(vals)
	stdDev, _ := stats.StandardDeviation(vals)
	if stdDev == 0 {
		return 0, 0, nil
	}

	var out []Outlier
	for _, rec := range recs {
		score := (rec.Value - mean) / stdDev
		if math.Abs(score) > 3 {
			out = append(out, Outlier{Timestamp: rec.Timestamp, Value: rec.Value, Score: score})
		}
	}
	return mean - 3*stdDev, mean + 3*stdDev, out
}

// Trend reports whether a sensor's values are rising, falling or stable. It
// compares the mean of the latest window samples against the window before
// them; window < 1 selects the default, and both windows shrink to half the
// series when fewer than twice window samples exist.
func (s *Service) Trend(sensorID string, window int) (TrendReport, error) {
	recs, err := s.sensor(sensorID)
	if err != nil {
		return TrendReport{}, err
	}

	if window < 1 {
		window = defaultTrendWindow
	}
	if len(recs) < 2*window {
		window = len(recs) / 2
	}
	report := TrendReport{SensorID: sensorID, Direction: "stable", Window: window}
	if window < 1 {
		return report, nil
	}

	vals := values(recs)
	earlier, _ := stats.Mean(vals[len(vals)-2*window : len(vals)-window])
	recent, _ := stats.Mean(vals[len(vals)-window:])

	denom := math.Abs(earlier)
	if denom == 0 {
		denom = 1
	}
	change := (recent - earlier) / denom

	report.EarlierMean = earlier
	report.RecentMean = recent
	report.Change = change
	switch {
	case change > trendThreshold:
		report.Direction = "rising"
	case change < -trendThreshold:
		report.Direction = "falling"
	}
	return report, nil
}

// Compare ranks every sensor of one kind by mean value, highest first. Ties
// keep sensor id order.
func (s *Service) Compare(kind reading.Kind) (Comparison, error) {
	if !kind.Valid() {
		return Comparison{}, fmt.Errorf("unknown sensor type %q", kind)
	}
	groups, ids, err := s.load()
	if err != nil {
		return Comparison{}, err
	}

	out := Comparison{Kind: kind, Unit: kind.Unit()}
	for _, id := range ids {
		recs := groups[id]
		if recs[0].Kind != kind {
			continue
		}
		vals := values(recs)
		mean, _ := stats.Mean(vals)
		stdDev, _ := stats.StandardDeviation(vals)
		minV, _ := stats.Min(vals)
		maxV, _ := stats.Max(vals)
		out.Sensors = append(out.Sensors, SensorAggregate{
			SensorID: id,
			Count:    len(recs),
			Mean:     mean,
			StdDev:   stdDev,
			Min:      minV,
			Max:      maxV,
		})
	}
	if len(out.Sensors) == 0 {
		return Comparison{}, fmt.Errorf("no %s sensors: %w", kind, ErrNoData)
	}
	sort.SliceStable(out.Sensors, func(i, j int) bool {
		return out.Sensors[i].Mean > out.Sensors[j].Mean
	})
	return out, nil
}

// TimeSeries aggregates one sensor's values into fixed-width buckets.
func (s *Service) TimeSeries(sensorID string, bucket time.Duration) ([]Bucket, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket must be positive, got %s", bucket)
	}
	recs, err := s.sensor(sensorID)
	if err != nil {
		return nil, err
	}

	var out []Bucket
	for _, rec := range recs {
		start := rec.Timestamp.Truncate(bucket)
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, Bucket{Start: start, Min: rec.Value, Max: rec.Value})
		}
		b := &out[len(out)-1]
		b.Count++
		b.Mean += rec.Value // running sum until the loop ends
		b.Min = math.Min(b.Min, rec.Value)
		b.Max = math.Max(b.Max, rec.Value)
	}
	for i := range out {
		out[i].Mean /= float64(out[i].Count)
	}
	return out, nil
}

// sensor returns one sensor's records in timestamp order.
func (s *Service) sensor(sensorID string) ([]reading.Processed, error) {
	groups, _, err := s.load()
	if err != nil {
		return nil, err
	}
	recs := groups[sensorID]
	if len(recs) == 0 {
		return nil, fmt.Errorf("sensor %q: %w", sensorID, ErrNoData)
	}
	return recs, nil
}

// load reads the normalized store and groups it by sensor. The cleaning
// pipeline writes records sorted by timestamp, and grouping preserves that
// order. A store that does not exist yet reads as no data.
func (s *Service) load() (map[string][]reading.Processed, []string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%s: %w", s.path, ErrNoData)
		}
		return nil, nil, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(rows) <= 1 {
		return nil, nil, fmt.Errorf("%s: %w", s.path, ErrNoData)
	}

	groups := make(map[string][]reading.Processed)
	for _, row := range rows[1:] {
		rec, err := reading.ProcessedFromRow(row)
		if err != nil {
			s.log.Warn("skipping unreadable record", "err", err)
			continue
		}
		groups[rec.SensorID] = append(groups[rec.SensorID], rec)
	}
	if len(groups) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", s.path, ErrNoData)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return groups, ids, nil
}

func values(recs []reading.Processed) []float64 {
	out := make([]float64, len(recs))
	for i, rec := range recs {
		out[i] = rec.Value
	}
	return out
}
