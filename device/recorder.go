package device

import (
	"context"
	"time"

	"github.com/arloliu/tagsync/timetag"
)

// Recorder produces the timestamp records of one acquisition window. The
// hardware path (a device streaming raw tags after a "REC:" arm) lives
// outside this repository; SimRecorder is the in-repo implementation used
// by both the simulator deployments and the tests.
type Recorder interface {
	// Record returns the events detected between start and start+duration
	// on the given channels, in timestamp order.
	Record(ctx context.Context, start time.Time, duration time.Duration, channels []uint16) ([]timetag.Record, error)
}

// SimRecorder deterministically synthesizes time tags: each channel emits
// one event per Period, starting at the acquisition start plus ClockOffset.
// ClockOffset models the residual clock offset of the local device, so a
// master/slave pair built with different offsets gives the correlation
// engine a known ground truth.
type SimRecorder struct {
	// Period is the spacing between consecutive events on one channel.
	Period time.Duration
	// ClockOffset shifts every emitted timestamp.
	ClockOffset time.Duration
}

var _ Recorder = (*SimRecorder)(nil)

// Record synthesizes the events of one window. It never blocks; ctx is
// checked once so an aborted session does not serialize dead data.
func (r *SimRecorder) Record(ctx context.Context, start time.Time, duration time.Duration, channels []uint16) ([]timetag.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	period := r.Period
	if period <= 0 {
		period = time.Millisecond
	}

	count := int(duration / period)
	if count < 1 {
		count = 1
	}

	base := start.UnixNano() + r.ClockOffset.Nanoseconds()
	recs := make([]timetag.Record, 0, count*len(channels))
	for i := 0; i < count; i++ {
		ts := base + int64(i)*period.Nanoseconds()
		for _, ch := range channels {
			recs = append(recs, timetag.Record{Channel: ch, Time: ts})
		}
	}

	return recs, nil
}
