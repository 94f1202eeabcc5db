// Package aggregate keeps rolling per-dimension posting counts over fixed
// sub-windows ("buckets").
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/normalize"
)

// Key identifies one rolling series.
type Key struct {
	Dimension model.Dimension
	Value     string // folded
	Window    string
}

// Stat is a point-in-time view of one series.
type Stat struct {
	Dimension   model.Dimension
	Value       string // display value, as first seen
	Window      string
	WindowSpan  time.Duration
	Bucket      time.Duration
	BucketStart time.Time // start of the current bucket
	Count       int       // postings in the current bucket
	History     []int     // completed buckets since first tracked, oldest first
	Mean        float64
	Variance    float64 // population variance of History
	SampleCount int
	LastUpdated time.Time
}

// Stddev is the square root of Variance.
func (s Stat) Stddev() float64 {
	return sqrt(s.Variance)
}

// Series returns History followed by the current Count.
func (s Stat) Series() []int {
	out := make([]int, 0, len(s.History)+1)
	out = append(out, s.History...)
	return append(out, s.Count)
}

// series is a ring of bucket counts. head is the absolute index of the
// newest bucket; slot i%len(counts) holds bucket i.
type series struct {
	display     string
	counts      []int
	head        int64
	first       int64 // bucket the series was first observed in
	lastUpdated time.Time
}

type window struct {
	config.WindowConfig
}

func (w window) index(t time.Time) int64 {
	n := t.UnixNano()
	b := int64(w.Bucket)
	idx := n / b
	if n%b < 0 {
		idx--
	}
	return idx
}

func (w window) start(idx int64) time.Time {
	return time.Unix(0, idx*int64(w.Bucket)).UTC()
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	dims    []model.Dimension
	windows []window
	state   map[Key]*series
}

// New returns an empty Aggregator tracking dims over windows.
func New(dims []model.Dimension, windows []config.WindowConfig) *Aggregator {
	a := &Aggregator{dims: dims, state: make(map[Key]*series)}
	for _, w := range windows {
		a.windows = append(a.windows, window{w})
	}
	return a
}

// Observe counts each job once per dimension value and window, in the bucket
// containing its FirstSeen. Jobs older than a window's span are ignored for
// that window. Buckets are then rolled forward to now.
func (a *Aggregator) Observe(jobs []model.Job, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, job := range jobs {
		for _, dim := range a.dims {
			for _, v := range values(job, dim) {
				for _, w := range a.windows {
					a.observe(Key{Dimension: dim, Value: normalize.Fold(v), Window: w.Name}, v, w, job.FirstSeen)
				}
			}
		}
	}
	a.advance(now)
}

func (a *Aggregator) observe(k Key, display string, w window, at time.Time) {
	idx := w.index(at)
	s, ok := a.state[k]
	if !ok {
		s = &series{display: display, counts: make([]int, w.Length), head: idx, first: idx}
		a.state[k] = s
	}
	if idx <= s.head-int64(w.Length) {
		return
	}
	if idx > s.head {
		roll(s, idx)
	}
	if idx < s.first {
		s.first = idx
	}
	s.counts[mod(idx, len(s.counts))]++
	if at.After(s.lastUpdated) {
		s.lastUpdated = at
	}
}

// roll moves head forward to idx, zeroing the buckets that fall out.
func roll(s *series, idx int64) {
	steps := idx - s.head
	if steps > int64(len(s.counts)) {
		steps = int64(len(s.counts))
	}
	for i := int64(1); i <= steps; i++ {
		s.counts[mod(idx-steps+i, len(s.counts))] = 0
	}
	s.head = idx
}

// advance rolls every series forward to the bucket containing now and forgets
// series with no postings left in their window. Callers hold a.mu.
func (a *Aggregator) advance(now time.Time) {
	for k, s := range a.state {
		w, ok := a.window(k.Window)
		if !ok {
			delete(a.state, k)
			continue
		}
		if idx := w.index(now); idx > s.head {
			roll(s, idx)
		}
		if empty(s.counts) {
			delete(a.state, k)
		}
	}
}

// Snapshot rolls the buckets forward to now and returns every series, ordered
// by dimension, window and value.
func (a *Aggregator) Snapshot(now time.Time) []Stat {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)

	out := make([]Stat, 0, len(a.state))
	for k, s := range a.state {
		w, _ := a.window(k.Window)
		st := Stat{
			Dimension:   k.Dimension,
			Value:       s.display,
			Window:      k.Window,
			WindowSpan:  w.Span(),
			Bucket:      w.Bucket,
			BucketStart: w.start(s.head),
			Count:       s.counts[mod(s.head, len(s.counts))],
			LastUpdated: s.lastUpdated,
		}
		from := max(s.first, s.head-int64(len(s.counts))+1)
		var acc welford
		for i := from; i < s.head; i++ {
			c := s.counts[mod(i, len(s.counts))]
			st.History = append(st.History, c)
			acc.add(float64(c))
		}
		st.SampleCount = acc.n
		st.Mean = acc.mean
		st.Variance = acc.variance()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		if out[i].Window != out[j].Window {
			return out[i].Window < out[j].Window
		}
		return normalize.Fold(out[i].Value) < normalize.Fold(out[j].Value)
	})
	return out
}

// Replay discards all state and rebuilds it from jobs, typically every Job
// first seen within the longest window.
func (a *Aggregator) Replay(jobs []model.Job, now time.Time) {
	a.mu.Lock()
	a.state = make(map[Key]*series)
	a.mu.Unlock()

	sorted := make([]model.Job, len(jobs))
	copy(sorted, jobs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FirstSeen.Before(sorted[j].FirstSeen) })
	a.Observe(sorted, now)
}

// Len is the number of tracked series.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state)
}

func (a *Aggregator) window(name string) (window, bool) {
	for _, w := range a.windows {
		if w.Name == name {
			return w, true
		}
	}
	return window{}, false
}

// values returns the dimension values job contributes to dim.
func values(job model.Job, dim model.Dimension) []string {
	switch dim {
	case model.DimensionCompany:
		if job.Company != "" {
			return []string{job.Company}
		}
	case model.DimensionLocation:
		if job.Location != "" {
			return []string{job.Location}
		}
	case model.DimensionStack:
		return job.Stack
	}
	return nil
}

func empty(counts []int) bool {
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func mod(i int64, n int) int {
	m := int(i % int64(n))
	if m < 0 {
		m += n
	}
	return m
}
