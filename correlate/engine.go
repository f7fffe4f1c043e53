// Package correlate computes the residual clock offset between a master
// and a slave timestamp stream acquired under the same trigger.
//
// Events are paired per channel by nearest-timestamp association within a
// tolerance window; the offset samples (slave minus master) are reduced to
// min/max/mean/stddev and a bounded quality score. The output is a
// write-once offset report plus a corrected copy of the master stream
// shifted into the slave's time base.
package correlate

import (
	"math"
	"time"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/timetag"
)

// Default engine parameters.
const (
	// DefaultTolerance is the nearest-neighbor match window. Pairs further
	// apart than this are not offset samples but unrelated events.
	DefaultTolerance = time.Millisecond

	// DefaultSyncFraction is the leading fraction of each stream used for
	// correlation; the rest is measurement payload.
	DefaultSyncFraction = 0.1

	// MinSamples is the smallest matched sample count that yields a
	// numeric quality. Below it the report is flagged insufficient_data.
	MinSamples = 2
)

// Config holds the engine parameters. The zero value selects the defaults.
type Config struct {
	// SyncFraction is the leading fraction of each stream to correlate,
	// in (0, 1].
	SyncFraction float64
	// Tolerance is the maximum distance of a matched pair.
	Tolerance time.Duration
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.SyncFraction <= 0 || out.SyncFraction > 1 {
		out.SyncFraction = DefaultSyncFraction
	}
	if out.Tolerance <= 0 {
		out.Tolerance = DefaultTolerance
	}
	return out
}

// Engine correlates timestamp streams. It is stateless and safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger logger.Logger
}

// New creates an engine with the given configuration.
func New(cfg Config, l logger.Logger) *Engine {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Engine{cfg: cfg.withDefaults(), logger: l.With("component", "correlate")}
}

// Correlate pairs the two streams and reduces the offset samples to a
// report. Both streams must be valid per timetag.Validate; an empty or
// non-monotonic stream fails with wire.ErrInvalidInput.
//
// The result is deterministic: identical inputs yield an identical report.
func (e *Engine) Correlate(master, slave []timetag.Record) (*Report, error) {
	if err := timetag.Validate(master); err != nil {
		return nil, err
	}
	if err := timetag.Validate(slave); err != nil {
		return nil, err
	}

	samples := e.matchSamples(master, slave)

	report := reduce(samples)
	e.logger.Info("offset correlation finished",
		"samples", report.Samples,
		"mean_ns", report.MeanNs,
		"stddev_ns", report.StdDevNs,
		"quality", report.Quality,
	)

	return report, nil
}

// matchSamples pairs events channel by channel and returns the offset
// samples in nanoseconds.
func (e *Engine) matchSamples(master, slave []timetag.Record) []int64 {
	masterStreams := timetag.ByChannel(timetag.Leading(master, e.cfg.SyncFraction))
	slaveStreams := timetag.ByChannel(timetag.Leading(slave, e.cfg.SyncFraction))

	tolerance := e.cfg.Tolerance.Nanoseconds()

	var samples []int64
	for _, ch := range timetag.Channels(timetag.Leading(master, e.cfg.SyncFraction)) {
		m := masterStreams[ch]
		s := slaveStreams[ch]
		if len(s) == 0 {
			continue
		}

		// greedy nearest-neighbor sweep: both streams are time ordered, so
		// the best slave candidate for each master event never moves
		// backwards
		j := 0
		for _, ev := range m {
			for j+1 < len(s) && absDiff(s[j+1].Time, ev.Time) <= absDiff(s[j].Time, ev.Time) {
				j++
			}
			if absDiff(s[j].Time, ev.Time) <= tolerance {
				samples = append(samples, s[j].Time-ev.Time)
			}
		}
	}

	return samples
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// reduce computes the report statistics over the offset samples.
func reduce(samples []int64) *Report {
	report := &Report{Samples: len(samples)}

	if len(samples) < MinSamples {
		report.InsufficientData = true
		report.Quality = 0
		return report
	}

	minNs, maxNs := samples[0], samples[0]
	var sum float64
	for _, s := range samples {
		if s < minNs {
			minNs = s
		}
		if s > maxNs {
			maxNs = s
		}
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sqSum float64
	for _, s := range samples {
		d := float64(s) - mean
		sqSum += d * d
	}
	stddev := math.Sqrt(sqSum / float64(len(samples)-1))

	report.MinNs = minNs
	report.MaxNs = maxNs
	report.MeanNs = mean
	report.StdDevNs = stddev
	report.Quality = qualityScore(mean, stddev)

	return report
}

// qualityScore maps sample spread to a confidence in [0, 1]: a spread that
// is small relative to the offset magnitude scores near 1. The score
// saturates at the bounds rather than diverging for tiny means.
func qualityScore(mean, stddev float64) float64 {
	scale := math.Abs(mean)
	if scale < 1 {
		scale = 1 // 1ns floor keeps the ratio finite around zero offset
	}

	q := 1 - stddev/scale
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}

	return q
}
