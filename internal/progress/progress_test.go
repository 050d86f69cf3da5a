package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDeterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Sample{
		BytesWritten:  100,
		TotalWritten:  500,
		TotalExpected: 1000,
		StartTime:     start,
		Now:           start.Add(10 * time.Second),
	}

	first := Calculate(s)
	second := Calculate(s)

	assert.Equal(t, first, second)
	assert.True(t, first.FractionKnown)
	assert.InDelta(t, 0.5, first.Fraction, 1e-9)
	assert.InDelta(t, 50.0, first.Speed, 1e-9)
	assert.True(t, first.RemainingKnown)
	assert.Equal(t, Duration{Seconds: 10}, first.Remaining)
	assert.Equal(t, Size{Value: 500, Unit: "B"}, first.Downloaded)
	assert.Equal(t, Size{Value: 1000, Unit: "B"}, first.Total)
}

func TestCalculateZeroElapsedUsesFloor(t *testing.T) {
	now := time.Now()
	m := Calculate(Sample{TotalWritten: 200, TotalExpected: 800, StartTime: now, Now: now})

	assert.InDelta(t, 0.25, m.Fraction, 1e-9)
	assert.InDelta(t, 200.0, m.Speed, 1e-9)
	assert.Equal(t, Duration{Seconds: 3}, m.Remaining)
}

func TestCalculateUnknownExpected(t *testing.T) {
	start := time.Now()
	m := Calculate(Sample{TotalWritten: 300, TotalExpected: -1, StartTime: start, Now: start.Add(3 * time.Second)})

	assert.False(t, m.FractionKnown)
	assert.False(t, m.RemainingKnown)
	assert.InDelta(t, 100.0, m.Speed, 1e-9)
	assert.Equal(t, Size{}, m.Total)
}

func TestCalculateZeroSpeed(t *testing.T) {
	start := time.Now()
	m := Calculate(Sample{TotalWritten: 0, TotalExpected: 1000, StartTime: start, Now: start.Add(5 * time.Second)})

	assert.True(t, m.FractionKnown)
	assert.Zero(t, m.Fraction)
	assert.False(t, m.RemainingKnown)
	assert.Equal(t, Duration{}, m.Remaining)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, Duration{Hours: 1, Minutes: 1, Seconds: 1}, Split(3661))
	assert.Equal(t, Duration{Minutes: 59, Seconds: 59}, Split(3599))
	assert.Equal(t, Duration{}, Split(0))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		bytes int64
		want  Size
	}{
		{0, Size{0, "B"}},
		{512, Size{512, "B"}},
		{1024, Size{1.0, "KiB"}},
		{1536, Size{1.5, "KiB"}},
		{5 * 1024 * 1024, Size{5.0, "MiB"}},
		{-1, Size{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.bytes), "bytes=%d", tt.bytes)
	}

	assert.Equal(t, "1.5 KiB", Size{1.5, "KiB"}.String())
	assert.Equal(t, "unknown", Size{}.String())
}
