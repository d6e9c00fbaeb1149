package prf

import (
	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-prf/internal/mask"
)

// Option configures a Pipeline beyond its Config.
type Option func(*options)

type options struct {
	unitStride   int
	volumeStride int
	capacity     int
	epsilon      float64
	score        ScoreFunc
	log          *logrus.Logger
}

func defaultOptions() *options {
	return &options{
		// Per-unit transforms read large unit-axis chunks; the 3-D reshape
		// of spatial smoothing keeps time-axis chunks small.
		unitStride:   100,
		volumeStride: 10,
		capacity:     100,
		epsilon:      mask.VarianceEpsilon,
		score:        LeastSquares,
		log:          logrus.StandardLogger(),
	}
}

// WithUnitStride sets the unit-axis chunk stride for per-unit transforms.
func WithUnitStride(stride int) Option {
	return func(o *options) {
		if stride > 0 {
			o.unitStride = stride
		}
	}
}

// WithVolumeStride sets the time-axis chunk stride for spatial smoothing.
func WithVolumeStride(stride int) Option {
	return func(o *options) {
		if stride > 0 {
			o.volumeStride = stride
		}
	}
}

// WithChannelCapacity sets the bounded-channel capacity of streaming
// stages. The per-stage memory ceiling is capacity × chunk size.
func WithChannelCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// WithVarianceEpsilon overrides the variance-mask threshold.
func WithVarianceEpsilon(epsilon float64) Option {
	return func(o *options) {
		o.epsilon = epsilon
	}
}

// WithScoreFunc replaces the default least-squares scorer.
func WithScoreFunc(score ScoreFunc) Option {
	return func(o *options) {
		if score != nil {
			o.score = score
		}
	}
}

// WithLogger routes pipeline progress logging to the given logger.
func WithLogger(log *logrus.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
