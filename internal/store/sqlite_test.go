package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalforge/signalforge/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testJob(key string, score int) model.Job {
	posted := t0.Add(-time.Hour)
	return model.Job{
		ID:        "id-" + key,
		DedupKey:  key,
		Title:     "Engineer " + key,
		Company:   "Acme",
		Location:  "Remote",
		URL:       "https://example.com/" + key,
		Source:    "test",
		Stack:     []string{"go", "kubernetes"},
		PostedAt:  &posted,
		FirstSeen: t0,
		LastSeen:  t0,
		Score:     score,
	}
}

func fixed(n int) func(model.Job) int {
	return func(model.Job) int { return n }
}

func TestUpsertJob_CreateThenTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, created, err := s.UpsertJob(ctx, testJob("a", 0), fixed(80))
	if err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	if !created || got.Score != 80 {
		t.Fatalf("created=%v score=%d", created, got.Score)
	}

	again := testJob("a", 0)
	again.Title = "Changed title"
	again.FirstSeen = t0.Add(time.Hour)
	again.LastSeen = t0.Add(time.Hour)
	got, created, err = s.UpsertJob(ctx, again, fixed(80))
	if err != nil {
		t.Fatalf("second UpsertJob: %v", err)
	}
	if created {
		t.Fatal("second upsert should not create")
	}
	if got.Title != "Engineer a" || !got.FirstSeen.Equal(t0) || !got.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Errorf("stored job = %+v, want original fields with last_seen bumped", got)
	}

	stored, err := s.GetJob(ctx, "id-a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !stored.LastSeen.Equal(t0.Add(time.Hour)) || len(stored.Stack) != 2 || stored.PostedAt == nil {
		t.Errorf("GetJob = %+v", stored)
	}
}

func TestUpsertJob_RescoresFromStoredFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertJob(ctx, testJob("a", 0), fixed(40))

	var seen model.Job
	_, _, err := s.UpsertJob(ctx, testJob("a", 0), func(j model.Job) int {
		seen = j
		return 55
	})
	if err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	if seen.ID != "id-a" || !seen.FirstSeen.Equal(t0) {
		t.Errorf("scorer saw %+v, want the stored job", seen)
	}
	got, _ := s.GetJob(ctx, "id-a")
	if got.Score != 55 {
		t.Errorf("Score = %d, want 55", got.Score)
	}
}

func TestUpsertJob_ConcurrentSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.UpsertJob(ctx, testJob("same", 0), fixed(10))
			if err != nil {
				t.Errorf("UpsertJob: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
	jobs, err := s.ListJobs(ctx, JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("stored %d jobs, want 1", len(jobs))
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListJobs_FiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testJob("a", 0)
	b := testJob("b", 0)
	b.Company = "Globex"
	b.Location = "Berlin"
	c := testJob("c", 0)
	older := t0.Add(-30 * 24 * time.Hour)
	c.PostedAt = &older
	d := testJob("d", 0)
	d.PostedAt = nil
	d.Source = "other"

	s.UpsertJob(ctx, a, fixed(50))
	s.UpsertJob(ctx, b, fixed(90))
	s.UpsertJob(ctx, c, fixed(50))
	s.UpsertJob(ctx, d, fixed(50))

	all, err := s.ListJobs(ctx, JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	var ids []string
	for _, j := range all {
		ids = append(ids, j.ID)
	}
	want := []string{"id-b", "id-a", "id-c", "id-d"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	tests := []struct {
		name   string
		filter JobFilter
		want   int
	}{
		{"min score", JobFilter{MinScore: 60}, 1},
		{"location substring", JobFilter{Location: "REMO"}, 3},
		{"company substring", JobFilter{Company: "glob"}, 1},
		{"source", JobFilter{Source: "other"}, 1},
		{"posted after", JobFilter{PostedAfter: ptrTime(t0.Add(-7 * 24 * time.Hour))}, 2},
		{"limit", JobFilter{Limit: 2}, 2},
		{"offset", JobFilter{Offset: 3}, 1},
		{"wildcards escaped", JobFilter{Company: "%"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d jobs, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertJob(ctx, testJob("a", 0), nil)

	ok, err := s.DeleteJob(ctx, "id-a")
	if err != nil || !ok {
		t.Fatalf("DeleteJob = %v, %v", ok, err)
	}
	ok, err = s.DeleteJob(ctx, "id-a")
	if err != nil || ok {
		t.Fatalf("second DeleteJob = %v, %v, want false", ok, err)
	}
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertJob(ctx, testJob("hi", 0), fixed(90))
	s.UpsertJob(ctx, testJob("lo", 0), fixed(10))

	pending, err := s.PendingAlerts(ctx, 70)
	if err != nil {
		t.Fatalf("PendingAlerts: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "id-hi" {
		t.Fatalf("PendingAlerts = %+v", pending)
	}

	ok, err := s.MarkAlerted(ctx, "id-hi", t0)
	if err != nil || !ok {
		t.Fatalf("MarkAlerted = %v, %v", ok, err)
	}
	ok, err = s.MarkAlerted(ctx, "id-hi", t0)
	if err != nil || ok {
		t.Fatalf("second MarkAlerted = %v, %v, want false", ok, err)
	}
	got, _ := s.GetJob(ctx, "id-hi")
	if !got.Alerted || got.AlertedAt == nil || !got.AlertedAt.Equal(t0) {
		t.Errorf("job = %+v", got)
	}

	// A re-sighting never resets alerted.
	s.UpsertJob(ctx, testJob("hi", 0), fixed(95))
	if got, _ := s.GetJob(ctx, "id-hi"); !got.Alerted {
		t.Error("alerted was reset by upsert")
	}
	if pending, _ := s.PendingAlerts(ctx, 70); len(pending) != 0 {
		t.Errorf("PendingAlerts = %+v, want none", pending)
	}
}

func TestRecordAlertFailure_DeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertJob(ctx, testJob("a", 0), fixed(90))

	for i := 1; i <= 3; i++ {
		attempts, dead, err := s.RecordAlertFailure(ctx, "id-a", "boom", 3)
		if err != nil {
			t.Fatalf("RecordAlertFailure: %v", err)
		}
		if attempts != i || dead != (i == 3) {
			t.Fatalf("attempt %d: attempts=%d dead=%v", i, attempts, dead)
		}
	}

	got, _ := s.GetJob(ctx, "id-a")
	if !got.DeadLettered || got.Alerted || got.AlertAttempts != 3 || got.LastAlertError != "boom" {
		t.Errorf("job = %+v", got)
	}
	if got.AlertState(70) != model.AlertDeadLettered {
		t.Errorf("AlertState = %v", got.AlertState(70))
	}
	if _, _, err := s.RecordAlertFailure(ctx, "id-a", "again", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound once dead-lettered", err)
	}
	if pending, _ := s.PendingAlerts(ctx, 70); len(pending) != 0 {
		t.Errorf("dead-lettered job still pending: %+v", pending)
	}
}

func TestMarkDeadLettered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertJob(ctx, testJob("a", 0), fixed(90))
	if err := s.MarkDeadLettered(ctx, "id-a"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetJob(ctx, "id-a"); !got.DeadLettered {
		t.Error("expected dead-lettered")
	}
}

func TestJobsFirstSeenSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := testJob("old", 0)
	old.FirstSeen = t0.Add(-60 * 24 * time.Hour)
	old.LastSeen = old.FirstSeen
	s.UpsertJob(ctx, old, nil)
	s.UpsertJob(ctx, testJob("new", 0), nil)

	got, err := s.JobsFirstSeenSince(ctx, t0.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("JobsFirstSeenSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != "id-new" {
		t.Errorf("got %+v", got)
	}
}

func testSignal(value string, bucket time.Time) model.Signal {
	return model.Signal{
		ID:             "sig-" + value + "-" + bucket.Format("0102"),
		Type:           model.SignalSpike,
		Dimension:      model.DimensionCompany,
		DimensionValue: value,
		Window:         "weekly",
		WindowSpan:     56 * 24 * time.Hour,
		BucketStart:    bucket,
		Score:          90,
		DetectedAt:     t0,
		Count:          10,
		Mean:           2,
		Stddev:         0.5,
	}
}

func TestCreateSignals_UniquePerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSignals(ctx, []model.Signal{testSignal("Acme", t0), testSignal("Globex", t0)})
	if err != nil {
		t.Fatalf("CreateSignals: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d, want 2", len(created))
	}

	// Same key with different casing and a later detection time.
	dup := testSignal("ACME", t0)
	dup.ID = "other-id"
	dup.DetectedAt = t0.Add(time.Hour)
	next := testSignal("Acme", t0.Add(7*24*time.Hour))
	created, err = s.CreateSignals(ctx, []model.Signal{dup, next})
	if err != nil {
		t.Fatalf("CreateSignals: %v", err)
	}
	if len(created) != 1 || created[0].ID != next.ID {
		t.Fatalf("created = %+v, want only the next-bucket signal", created)
	}

	all, err := s.ListSignals(ctx, SignalFilter{})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("stored %d signals, want 3", len(all))
	}

	got, err := s.GetSignal(ctx, next.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if got.WindowSpan != next.WindowSpan || !got.BucketStart.Equal(next.BucketStart) || got.Stddev != 0.5 {
		t.Errorf("GetSignal = %+v", got)
	}
	if _, err := s.GetSignal(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListSignals_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trend := testSignal("Go", t0)
	trend.Type = model.SignalTrend
	trend.Score = 30
	trend.DetectedAt = t0.Add(time.Hour)
	s.CreateSignals(ctx, []model.Signal{testSignal("Acme", t0), trend})

	got, _ := s.ListSignals(ctx, SignalFilter{})
	if len(got) != 2 || got[0].DimensionValue != "Go" {
		t.Errorf("want newest first, got %+v", got)
	}
	if got, _ := s.ListSignals(ctx, SignalFilter{Type: model.SignalSpike}); len(got) != 1 {
		t.Errorf("type filter: got %d", len(got))
	}
	if got, _ := s.ListSignals(ctx, SignalFilter{MinScore: 50}); len(got) != 1 {
		t.Errorf("min score filter: got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx, 70, t0)
	if err != nil {
		t.Fatalf("Stats on empty store: %v", err)
	}
	if empty.TotalJobs != 0 || empty.AverageScore != 0 {
		t.Errorf("empty = %+v", empty)
	}

	a := testJob("a", 0)
	b := testJob("b", 0)
	b.Location = "Berlin"
	c := testJob("c", 0)
	c.Company = "Globex"
	old := t0.Add(-30 * 24 * time.Hour)
	c.PostedAt = &old
	s.UpsertJob(ctx, a, fixed(90))
	s.UpsertJob(ctx, b, fixed(60))
	s.UpsertJob(ctx, c, fixed(30))
	s.MarkAlerted(ctx, "id-a", t0)
	s.CreateSignals(ctx, []model.Signal{testSignal("Acme", t0)})

	sum, err := s.Stats(ctx, 70, t0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if sum.TotalJobs != 3 || sum.HighScoreJobs != 1 || sum.AlertedJobs != 1 || sum.RecentJobs != 2 ||
		sum.RemoteJobs != 2 || sum.AverageScore != 60 || sum.TotalSignals != 1 {
		t.Errorf("Summary = %+v", sum)
	}
	if len(sum.TopCompanies) != 2 || sum.TopCompanies[0] != (NameCount{"Acme", 2}) {
		t.Errorf("TopCompanies = %+v", sum.TopCompanies)
	}
	if len(sum.TopLocations) != 2 || sum.TopLocations[0] != (NameCount{"Remote", 2}) {
		t.Errorf("TopLocations = %+v", sum.TopLocations)
	}
}

func TestProcessLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lock.db")
	first, err := AcquireProcessLock(dbPath)
	if err != nil {
		t.Fatalf("AcquireProcessLock: %v", err)
	}
	if _, err := AcquireProcessLock(dbPath); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire err = %v, want ErrLocked", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := AcquireProcessLock(dbPath)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again.Release()
}

func ptrTime(t time.Time) *time.Time { return &t }
