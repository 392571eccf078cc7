package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okulov/sensorfleet/internal/models/reading"
)

// Default shapes per sensor kind. Temperature is a mild indoor normal,
// humidity a beta concentrated in the 60-80% band, noise a log-normal with
// the heavy right tail of urban sound levels.
const (
	DefaultTemperatureMean   = 22.0
	DefaultTemperatureStdDev = 3.0
	DefaultHumidityAlpha     = 21.0
	DefaultHumidityBeta      = 9.0
	DefaultNoiseMu           = 4.0
	DefaultNoiseSigma        = 0.25

	humidityScale = 100.0
)

var ErrInvalidParams = errors.New("invalid distribution parameters")

// Clamp bounds sampled values when a deployment opts in. Generation is
// unclamped by default.
type Clamp struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Params overrides the default shape for one sensor. Zero-valued fields fall
// back to the kind defaults, so an empty Params is always valid.
type Params struct {
	Mean   float64 `yaml:"mean" json:"mean"`
	StdDev float64 `yaml:"stddev" json:"stddev"`
	Alpha  float64 `yaml:"alpha" json:"alpha"`
	Beta   float64 `yaml:"beta" json:"beta"`
	Mu     float64 `yaml:"mu" json:"mu"`
	Sigma  float64 `yaml:"sigma" json:"sigma"`
	Clamp  *Clamp  `yaml:"clamp" json:"clamp,omitempty"`
}

// Sampler draws independent, identically distributed values for one sensor
// kind. Every call is a fresh draw; no state is carried between calls, so a
// Sampler built with a nil source is safe for concurrent use without
// synchronization.
type Sampler struct {
	kind  reading.Kind
	dist  distuv.Rander
	scale float64
	clamp *Clamp
}

// New builds the sampler for kind, applying any overrides in p. A nil src
// uses the process-wide generator; tests pass a seeded source for
// deterministic draws.
func New(kind reading.Kind, p Params, src rand.Source) (*Sampler, error) {
	if p.Clamp != nil && p.Clamp.Min >= p.Clamp.Max {
		return nil, fmt.Errorf("%w: clamp min %v must be below max %v", ErrInvalidParams, p.Clamp.Min, p.Clamp.Max)
	}

	s := &Sampler{kind: kind, scale: 1, clamp: p.Clamp}

	switch kind {
	case reading.Temperature:
		mean, stddev := p.Mean, p.StdDev
		if mean == 0 {
			mean = DefaultTemperatureMean
		}
		if stddev == 0 {
			stddev = DefaultTemperatureStdDev
		}
		if stddev <= 0 {
			return nil, fmt.Errorf("%w: stddev must be positive, got %v", ErrInvalidParams, stddev)
		}
		s.dist = distuv.Normal{Mu: mean, Sigma: stddev, Src: src}
	case reading.Humidity:
		alpha, beta := p.Alpha, p.Beta
		if alpha == 0 {
			alpha = DefaultHumidityAlpha
		}
		if beta == 0 {
			beta = DefaultHumidityBeta
		}
		if alpha <= 0 || beta <= 0 {
			return nil, fmt.Errorf("%w: beta shape must be positive, got alpha=%v beta=%v", ErrInvalidParams, alpha, beta)
		}
		s.dist = distuv.Beta{Alpha: alpha, Beta: beta, Src: src}
		s.scale = humidityScale
	case reading.Noise:
		mu, sigma := p.Mu, p.Sigma
		if mu == 0 {
			mu = DefaultNoiseMu
		}
		if sigma == 0 {
			sigma = DefaultNoiseSigma
		}
		if sigma <= 0 {
			return nil, fmt.Errorf("%w: sigma must be positive, got %v", ErrInvalidParams, sigma)
		}
		s.dist = distuv.LogNormal{Mu: mu, Sigma: sigma, Src: src}
	default:
		return nil, fmt.Errorf("%w: unknown sensor kind %q", ErrInvalidParams, kind)
	}

	return s, nil
}

// Default builds the stock sampler for kind on the shared source.
func Default(kind reading.Kind) (*Sampler, error) {
	return New(kind, Params{}, nil)
}

func (s *Sampler) Kind() reading.Kind { return s.kind }

// Sample draws one value.
func (s *Sampler) Sample() float64 {
	v := s.dist.Rand() * s.scale
	if s.clamp != nil {
		v = math.Min(s.clamp.Max, math.Max(s.clamp.Min, v))
	}
	return v
}
