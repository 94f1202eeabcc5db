package model

import (
	"fmt"
	"strings"
	"time"
)

// SignalType classifies a detected statistical event.
type SignalType string

const (
	SignalTrend   SignalType = "trend"
	SignalAnomaly SignalType = "anomaly"
	SignalSpike   SignalType = "spike"
)

// Dimension is an aggregation axis.
type Dimension string

const (
	DimensionCompany  Dimension = "company"
	DimensionLocation Dimension = "location"
	DimensionStack    Dimension = "stack"
)

// ParseSignalType validates a signal type string.
func ParseSignalType(s string) (SignalType, error) {
	switch t := SignalType(strings.ToLower(strings.TrimSpace(s))); t {
	case SignalTrend, SignalAnomaly, SignalSpike:
		return t, nil
	default:
		return "", fmt.Errorf("unknown signal type %q", s)
	}
}

// ParseDimension validates a dimension string.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case DimensionCompany, DimensionLocation, DimensionStack:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dimension %q", s)
	}
}

// Signal is an immutable detected event over one dimension value.
type Signal struct {
	ID             string
	Type           SignalType
	Dimension      Dimension
	DimensionValue string        // display value, original casing
	Window         string        // window name, e.g. "weekly"
	WindowSpan     time.Duration // total span covered by the window
	BucketStart    time.Time     // sub-window the signal belongs to
	Score          int           // strength, 0-100
	DetectedAt     time.Time

	// Evidence at detection time.
	Count  int
	Mean   float64
	Stddev float64
}

// Key is the identity of the signal. At most one signal exists per key.
func (s Signal) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		s.Type, s.Dimension, strings.ToLower(s.DimensionValue), s.Window, s.BucketStart.Unix())
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
