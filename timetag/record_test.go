package timetag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/wire"
)

func TestValidate(t *testing.T) {
	require := require.New(t)

	t.Run("empty stream", func(t *testing.T) {
		require.ErrorIs(Validate(nil), wire.ErrInvalidInput)
	})

	t.Run("monotonic per channel", func(t *testing.T) {
		recs := []Record{
			{Channel: 1, Time: 100},
			{Channel: 2, Time: 90}, // other channel may lag
			{Channel: 1, Time: 100},
			{Channel: 2, Time: 95},
			{Channel: 1, Time: 110},
		}
		require.NoError(Validate(recs))
	})

	t.Run("regression within a channel", func(t *testing.T) {
		recs := []Record{
			{Channel: 1, Time: 100},
			{Channel: 1, Time: 99},
		}
		require.ErrorIs(Validate(recs), wire.ErrInvalidInput)
	})
}

func TestChannelsAndByChannel(t *testing.T) {
	require := require.New(t)

	recs := []Record{
		{Channel: 4, Time: 10},
		{Channel: 1, Time: 11},
		{Channel: 4, Time: 12},
	}

	require.Equal([]uint16{1, 4}, Channels(recs))

	streams := ByChannel(recs)
	require.Len(streams, 2)
	require.Len(streams[4], 2)
	require.Equal(int64(11), streams[1][0].Time)
}

func TestLeading(t *testing.T) {
	require := require.New(t)

	recs := make([]Record, 10)
	for i := range recs {
		recs[i] = Record{Channel: 1, Time: int64(i)}
	}

	require.Len(Leading(recs, 0.3), 3)
	require.Len(Leading(recs, 1.0), 10)
	require.Len(Leading(recs, 2.0), 10)
	// never less than one record for a positive fraction
	require.Len(Leading(recs, 0.001), 1)
	require.Nil(Leading(recs, 0))
	require.Nil(Leading(nil, 0.5))
}

func TestShift(t *testing.T) {
	require := require.New(t)

	recs := []Record{{Channel: 1, Time: 100}, {Channel: 2, Time: 200}}
	shifted := Shift(recs, 11)

	require.Equal(int64(111), shifted[0].Time)
	require.Equal(int64(211), shifted[1].Time)
	// the input is untouched
	require.Equal(int64(100), recs[0].Time)
}
