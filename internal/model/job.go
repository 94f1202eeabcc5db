package model

import (
	"context"
	"time"
)

// Job is a deduplicated posting. ID is derived from DedupKey, never from the source.
type Job struct {
	ID          string     // uuid derived from DedupKey
	DedupKey    string     // canonical identity, see normalize.DedupKey
	Title       string     // display title
	Company     string     // display company name, original casing
	Location    string     // display location, original casing
	URL         string     // direct apply link
	Source      string     // configured source name
	Description string     // plain text, may be empty
	Stack       []string   // normalized technology tokens, sorted
	PostedAt    *time.Time // nullable (not all sources provide this)
	FirstSeen   time.Time  // our clock (set on first encounter)
	LastSeen    time.Time  // our clock (bumped on every re-sighting)
	Score       int        // 0-100

	Alerted        bool
	AlertedAt      *time.Time
	AlertAttempts  int
	DeadLettered   bool
	LastAlertError string
}

// AlertState is the position of a Job in the alert lifecycle.
type AlertState string

const (
	AlertBelowThreshold AlertState = "below-threshold"
	AlertEligible       AlertState = "eligible"
	AlertDelivered      AlertState = "delivered"
	AlertDeadLettered   AlertState = "dead-lettered"
)

// AlertState reports where the job sits relative to the given alert threshold.
// Delivered and dead-lettered are terminal.
func (j Job) AlertState(threshold int) AlertState {
	switch {
	case j.Alerted:
		return AlertDelivered
	case j.DeadLettered:
		return AlertDeadLettered
	case j.Score >= threshold:
		return AlertEligible
	default:
		return AlertBelowThreshold
	}
}

// IsRemote reports whether the job advertises a remote location.
func (j Job) IsRemote() bool {
	return containsFold(j.Location, "remote")
}

// RawPosting is a job listing as returned by a source, before normalization.
type RawPosting struct {
	Title       string
	Company     string
	Location    string
	URL         string
	PostedAt    *time.Time
	Description string
	StackHint   []string // optional, source-provided tags
}

// RateLimit caps requests to a single source.
type RateLimit struct {
	Requests int
	Interval time.Duration
}

// SourceOptions are the per-source knobs every collector accepts.
type SourceOptions struct {
	Timeout    time.Duration
	RetryCount int
	RateLimit  RateLimit
}

// Collector fetches raw postings from one configured source.
// Fetch returns a finite slice per call.
type Collector interface {
	Name() string
	Configure(opts SourceOptions) error
	Fetch(ctx context.Context) ([]RawPosting, error)
}

// Notifier delivers alerts for jobs and signals.
type Notifier interface {
	NotifyJob(ctx context.Context, job Job) error
	NotifySignal(ctx context.Context, sig Signal) error
}
