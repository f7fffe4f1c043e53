// Package timetag defines the timestamp record format produced by an
// acquisition and its two persisted forms: a fixed-width binary file and a
// human-readable text mirror. The two forms are losslessly interconvertible.
package timetag

import (
	"fmt"
	"sort"

	"github.com/arloliu/tagsync/wire"
)

// Record is one detected event: the input channel it arrived on and its
// timestamp in nanoseconds since the epoch.
type Record struct {
	Channel uint16
	Time    int64
}

// RecordSize is the width of one binary record: 2-byte channel id plus
// 8-byte timestamp, both big-endian.
const RecordSize = 10

// Validate reports whether recs form a valid timestamp stream: at least one
// record, and non-decreasing timestamps within every channel.
func Validate(recs []Record) error {
	if len(recs) == 0 {
		return fmt.Errorf("empty record stream: %w", wire.ErrInvalidInput)
	}

	last := make(map[uint16]int64, 4)
	for i, rec := range recs {
		if prev, ok := last[rec.Channel]; ok && rec.Time < prev {
			return fmt.Errorf("record %d: channel %d timestamp %d before %d: %w",
				i, rec.Channel, rec.Time, prev, wire.ErrInvalidInput)
		}
		last[rec.Channel] = rec.Time
	}

	return nil
}

// Channels returns the sorted set of channel ids present in recs.
func Channels(recs []Record) []uint16 {
	seen := make(map[uint16]struct{}, 4)
	for _, rec := range recs {
		seen[rec.Channel] = struct{}{}
	}

	channels := make([]uint16, 0, len(seen))
	for ch := range seen {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	return channels
}

// ByChannel splits recs into per-channel streams, preserving order.
func ByChannel(recs []Record) map[uint16][]Record {
	streams := make(map[uint16][]Record, 4)
	for _, rec := range recs {
		streams[rec.Channel] = append(streams[rec.Channel], rec)
	}

	return streams
}

// Leading returns the leading fraction of recs, at least one record when
// recs is non-empty and fraction is positive.
func Leading(recs []Record, fraction float64) []Record {
	if fraction <= 0 || len(recs) == 0 {
		return nil
	}
	if fraction >= 1 {
		return recs
	}

	n := int(float64(len(recs)) * fraction)
	if n < 1 {
		n = 1
	}

	return recs[:n]
}

// Shift returns a copy of recs with every timestamp moved by delta
// nanoseconds.
func Shift(recs []Record, delta int64) []Record {
	shifted := make([]Record, len(recs))
	for i, rec := range recs {
		shifted[i] = Record{Channel: rec.Channel, Time: rec.Time + delta}
	}

	return shifted
}
