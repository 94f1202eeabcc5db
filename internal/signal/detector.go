// Package signal classifies rolling statistics into trend, anomaly and spike
// signals.
package signal

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/signalforge/signalforge/internal/aggregate"
	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/signalforge/signalforge/signal"))

// Detector is stateless; uniqueness across cycles is enforced by the store.
type Detector struct {
	cfg config.SignalConfig
}

// New returns a Detector using the thresholds in cfg.
func New(cfg config.SignalConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns at most one signal per stat. Stats with fewer than
// MinSamples completed buckets are skipped.
func (d *Detector) Detect(stats []aggregate.Stat, now time.Time) []model.Signal {
	var out []model.Signal
	for _, st := range stats {
		v, ok := d.classify(st)
		if !ok {
			continue
		}
		sig := model.Signal{
			Type:           v.typ,
			Dimension:      st.Dimension,
			DimensionValue: st.Value,
			Window:         st.Window,
			WindowSpan:     st.WindowSpan,
			BucketStart:    v.bucketStart,
			Score:          v.strength,
			DetectedAt:     now.UTC(),
			Count:          v.count,
			Mean:           v.mean,
			Stddev:         v.stddev,
		}
		sig.ID = uuid.NewSHA1(signalNamespace, []byte(sig.Key())).String()
		out = append(out, sig)
	}
	return out
}

// verdict is a classification plus the bucket and baseline it was judged on.
type verdict struct {
	typ         model.SignalType
	strength    int
	bucketStart time.Time
	count       int
	mean        float64
	stddev      float64
}

// Classify applies the rules in priority order: spike, anomaly, trend.
func (d *Detector) Classify(st aggregate.Stat) (model.SignalType, int, bool) {
	v, ok := d.classify(st)
	return v.typ, v.strength, ok
}

// classify judges rises on the current bucket, which only grows while it is
// open, and drops on the last completed bucket against the ones before it.
func (d *Detector) classify(st aggregate.Stat) (verdict, bool) {
	if st.SampleCount < d.cfg.MinSamples {
		return verdict{}, false
	}
	std := st.Stddev()
	current := verdict{bucketStart: st.BucketStart, count: st.Count, mean: st.Mean, stddev: std}

	if st.Count > 0 {
		denom := math.Max(std, d.cfg.StddevFloor)
		dev := float64(st.Count) - st.Mean
		if denom > 0 {
			if z := dev / denom; z > d.cfg.SpikeZ {
				current.typ, current.strength = model.SignalSpike, strength(50*z/d.cfg.SpikeZ)
				return current, true
			}
			if band := d.cfg.AnomalyK * denom; dev > band {
				current.typ, current.strength = model.SignalAnomaly, strength(50*dev/band)
				return current, true
			}
		}
	}

	if v, ok := d.drop(st); ok {
		return v, true
	}

	if st.Count > 0 {
		if rise, ok := d.trend(st.Series()); ok {
			current.typ, current.strength = model.SignalTrend, strength(100*rise/math.Max(1, float64(st.Count)))
			return current, true
		}
	}
	return verdict{}, false
}

// drop flags a last completed bucket that fell more than AnomalyK standard
// deviations below the completed buckets before it. An empty bucket counts.
func (d *Detector) drop(st aggregate.Stat) (verdict, bool) {
	n := len(st.History)
	if n-1 < d.cfg.MinSamples || n < 2 {
		return verdict{}, false
	}
	last := st.History[n-1]
	mean, std := meanStddev(st.History[:n-1])
	denom := math.Max(std, d.cfg.StddevFloor)
	if denom <= 0 {
		return verdict{}, false
	}
	dev := mean - float64(last)
	band := d.cfg.AnomalyK * denom
	if dev <= band {
		return verdict{}, false
	}
	return verdict{
		typ:         model.SignalAnomaly,
		strength:    strength(50 * dev / band),
		bucketStart: st.BucketStart.Add(-st.Bucket),
		count:       last,
		mean:        mean,
		stddev:      std,
	}, true
}

// meanStddev returns the mean and population standard deviation of xs.
func meanStddev(xs []int) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (float64(x) - mean) * (float64(x) - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// trend looks at the last TrendBuckets counts, current bucket included.
func (d *Detector) trend(series []int) (float64, bool) {
	n := d.cfg.TrendBuckets
	if n < 2 || len(series) < n {
		return 0, false
	}
	tail := series[len(series)-n:]

	rise := float64(tail[n-1] - tail[0])
	nonDecreasing := true
	for i := 1; i < n; i++ {
		if tail[i] < tail[i-1] {
			nonDecreasing = false
			break
		}
	}
	if nonDecreasing && rise > 0 {
		return rise, true
	}

	slope := leastSquaresSlope(tail)
	if d.cfg.TrendMinSlope > 0 && slope >= d.cfg.TrendMinSlope {
		return math.Max(rise, slope*float64(n-1)), true
	}
	return 0, false
}

// leastSquaresSlope fits y = a + b·x over x = 0..len(ys)-1 and returns b.
func leastSquaresSlope(ys []int) float64 {
	n := float64(len(ys))
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += float64(y)
		sxy += x * float64(y)
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func strength(v float64) int {
	return int(math.Round(math.Min(100, math.Max(0, v))))
}
