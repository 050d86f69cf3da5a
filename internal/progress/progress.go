// Package progress derives speed, remaining time and display sizes from the
// raw byte counters a transport reports.
package progress

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size is a value paired with its unit label, e.g. {1.5, "MiB"}.
type Size struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Duration is a remaining-time estimate split into clock fields.
type Duration struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Sample is one progress callback plus the timing needed to interpret it.
type Sample struct {
	BytesWritten  int64
	TotalWritten  int64
	TotalExpected int64
	StartTime     time.Time
	Now           time.Time
}

// Metrics is everything derived from a Sample.
type Metrics struct {
	// Fraction is only meaningful when FractionKnown is set; transports
	// report a non-positive expected size when the length is unknown.
	Fraction      float64
	FractionKnown bool

	// Speed is bytes per second since StartTime.
	Speed float64

	Total      Size
	Downloaded Size
	SpeedSize  Size

	Remaining      Duration
	RemainingKnown bool
}

// Calculate derives Metrics from s. A zero StartTime counts as Now.
func Calculate(s Sample) Metrics {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	start := s.StartTime
	if start.IsZero() {
		start = now
	}

	elapsed := now.Sub(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	m := Metrics{
		Speed:      float64(s.TotalWritten) / elapsed,
		Downloaded: Format(s.TotalWritten),
		Total:      Format(s.TotalExpected),
	}
	m.SpeedSize = Format(int64(m.Speed))

	if s.TotalExpected > 0 {
		m.Fraction = float64(s.TotalWritten) / float64(s.TotalExpected)
		m.FractionKnown = true
	}

	// zero speed leaves the estimate unknown
	if m.FractionKnown && m.Speed > 0 {
		remainingBytes := s.TotalExpected - s.TotalWritten
		if remainingBytes < 0 {
			remainingBytes = 0
		}
		m.Remaining = Split(int64(float64(remainingBytes) / m.Speed))
		m.RemainingKnown = true
	}

	return m
}

// Split breaks seconds into hours, minutes and seconds.
func Split(seconds int64) Duration {
	hours := seconds / 3600
	minutes := (seconds - hours*3600) / 60
	return Duration{
		Hours:   int(hours),
		Minutes: int(minutes),
		Seconds: int(seconds - hours*3600 - minutes*60),
	}
}

// Format pairs a byte count with an IEC unit label. Negative counts mean
// unknown and yield a zero Size.
func Format(bytes int64) Size {
	if bytes < 0 {
		return Size{}
	}

	text := humanize.IBytes(uint64(bytes))
	value, unit, ok := strings.Cut(text, " ")
	if !ok {
		return Size{Value: float64(bytes), Unit: "B"}
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Size{Value: float64(bytes), Unit: "B"}
	}
	return Size{Value: v, Unit: unit}
}

// String renders the size the way it was formatted.
func (s Size) String() string {
	if s.Unit == "" {
		return "unknown"
	}
	return strconv.FormatFloat(s.Value, 'f', -1, 64) + " " + s.Unit
}
