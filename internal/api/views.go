package api

import (
	"time"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

type jobView struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Company        string     `json:"company"`
	Location       string     `json:"location"`
	URL            string     `json:"url"`
	Source         string     `json:"source"`
	Description    string     `json:"description,omitempty"`
	Stack          []string   `json:"stack"`
	PostedAt       *time.Time `json:"posted_at"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	Score          int        `json:"score"`
	Alerted        bool       `json:"alerted"`
	AlertedAt      *time.Time `json:"alerted_at,omitempty"`
	AlertAttempts  int        `json:"alert_attempts"`
	DeadLettered   bool       `json:"dead_lettered"`
	LastAlertError string     `json:"last_alert_error,omitempty"`
}

func newJobView(j model.Job) jobView {
	stack := j.Stack
	if stack == nil {
		stack = []string{}
	}
	return jobView{
		ID:             j.ID,
		Title:          j.Title,
		Company:        j.Company,
		Location:       j.Location,
		URL:            j.URL,
		Source:         j.Source,
		Description:    j.Description,
		Stack:          stack,
		PostedAt:       j.PostedAt,
		FirstSeen:      j.FirstSeen,
		LastSeen:       j.LastSeen,
		Score:          j.Score,
		Alerted:        j.Alerted,
		AlertedAt:      j.AlertedAt,
		AlertAttempts:  j.AlertAttempts,
		DeadLettered:   j.DeadLettered,
		LastAlertError: j.LastAlertError,
	}
}

type jobList struct {
	Jobs   []jobView `json:"jobs"`
	Count  int       `json:"count"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type signalView struct {
	ID             string    `json:"id"`
	SignalType     string    `json:"signal_type"`
	Dimension      string    `json:"dimension"`
	DimensionValue string    `json:"dimension_value"`
	Window         string    `json:"window"`
	WindowSeconds  int64     `json:"window_seconds"`
	BucketStart    time.Time `json:"bucket_start"`
	Score          int       `json:"score"`
	DetectedAt     time.Time `json:"detected_at"`
	Count          int       `json:"count"`
	Mean           float64   `json:"mean"`
	Stddev         float64   `json:"stddev"`
}

func newSignalView(s model.Signal) signalView {
	return signalView{
		ID:             s.ID,
		SignalType:     string(s.Type),
		Dimension:      string(s.Dimension),
		DimensionValue: s.DimensionValue,
		Window:         s.Window,
		WindowSeconds:  int64(s.WindowSpan / time.Second),
		BucketStart:    s.BucketStart,
		Score:          s.Score,
		DetectedAt:     s.DetectedAt,
		Count:          s.Count,
		Mean:           s.Mean,
		Stddev:         s.Stddev,
	}
}

type companyCount struct {
	Company string `json:"company"`
	Count   int    `json:"count"`
}

type locationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

type summaryView struct {
	TotalJobs      int             `json:"total_jobs"`
	HighScoreCount int             `json:"high_score_count"`
	AlertedJobs    int             `json:"alerted_jobs"`
	DeadLettered   int             `json:"dead_lettered_jobs"`
	RecentJobs     int             `json:"recent_jobs"`
	AverageScore   float64         `json:"average_score"`
	RemoteJobs     int             `json:"remote_jobs"`
	TotalSignals   int             `json:"total_signals"`
	TopCompanies   []companyCount  `json:"top_companies"`
	TopLocations   []locationCount `json:"top_locations"`
}

func newSummaryView(s store.Summary) summaryView {
	v := summaryView{
		TotalJobs:      s.TotalJobs,
		HighScoreCount: s.HighScoreJobs,
		AlertedJobs:    s.AlertedJobs,
		DeadLettered:   s.DeadLettered,
		RecentJobs:     s.RecentJobs,
		AverageScore:   s.AverageScore,
		RemoteJobs:     s.RemoteJobs,
		TotalSignals:   s.TotalSignals,
		TopCompanies:   []companyCount{},
		TopLocations:   []locationCount{},
	}
	for _, c := range s.TopCompanies {
		v.TopCompanies = append(v.TopCompanies, companyCount{Company: c.Name, Count: c.Count})
	}
	for _, l := range s.TopLocations {
		v.TopLocations = append(v.TopLocations, locationCount{Location: l.Name, Count: l.Count})
	}
	return v
}
