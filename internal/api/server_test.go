package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for i, j := range []struct {
		company, location string
		score             int
	}{
		{"Acme", "Remote", 90},
		{"Acme", "Berlin", 60},
		{"Globex", "Remote - EU", 30},
	} {
		id := string(rune('a' + i))
		posted := t0.Add(-time.Duration(i) * 24 * time.Hour)
		score := j.score
		_, _, err := st.UpsertJob(ctx, model.Job{
			ID: id, DedupKey: "k" + id, Title: "Engineer", Company: j.company, Location: j.location,
			URL: "https://example.com/" + id, Source: "test", Stack: []string{"go"},
			PostedAt: &posted, FirstSeen: t0, LastSeen: t0,
		}, func(model.Job) int { return score })
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_, err = st.CreateSignals(ctx, []model.Signal{{
		ID: "sig-1", Type: model.SignalSpike, Dimension: model.DimensionCompany, DimensionValue: "Acme",
		Window: "weekly", WindowSpan: 56 * 24 * time.Hour, BucketStart: t0, Score: 100, DetectedAt: t0, Count: 10, Mean: 2, Stddev: 0.5,
	}})
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}

	s := NewServer(st, 70, discardLogger())
	s.now = func() time.Time { return t0 }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s status = %d, want %d (%s)", url, resp.StatusCode, wantStatus, body)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealthAndRoot(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	getJSON(t, srv.URL+"/health", http.StatusOK, &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}
	var root map[string]string
	getJSON(t, srv.URL+"/api", http.StatusOK, &root)
	if root["name"] != "SignalForge API" {
		t.Errorf("root = %v", root)
	}
}

func TestListJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	var all jobList
	getJSON(t, srv.URL+"/api/jobs", http.StatusOK, &all)
	if all.Count != 3 || all.Limit != 50 || all.Jobs[0].ID != "a" {
		t.Errorf("list = %+v", all)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?min_score=50", 2},
		{"?location=remote", 2},
		{"?company=GLOB", 1},
		{"?source=other", 0},
		{"?posted_after=2026-02-28T12:00:00Z", 2},
		{"?posted_after=2026-03-01", 1},
		{"?limit=1&offset=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got jobList
			getJSON(t, srv.URL+"/api/jobs"+tt.query, http.StatusOK, &got)
			if got.Count != tt.want {
				t.Errorf("count = %d, want %d", got.Count, tt.want)
			}
		})
	}
}

func TestListJobs_BadParams(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, q := range []string{"?limit=0", "?limit=201", "?limit=x", "?offset=-1", "?min_score=101", "?posted_after=yesterday"} {
		t.Run(q, func(t *testing.T) {
			getJSON(t, srv.URL+"/api/jobs"+q, http.StatusBadRequest, nil)
		})
	}
	getJSON(t, srv.URL+"/api/jobs?limit=200", http.StatusOK, nil)
}

func TestGetJob(t *testing.T) {
	srv, _ := newTestServer(t)

	var job jobView
	getJSON(t, srv.URL+"/api/jobs/a", http.StatusOK, &job)
	if job.Company != "Acme" || job.Score != 90 || len(job.Stack) != 1 {
		t.Errorf("job = %+v", job)
	}
	getJSON(t, srv.URL+"/api/jobs/missing", http.StatusNotFound, nil)
}

func TestStatsSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	var sum summaryView
	getJSON(t, srv.URL+"/api/jobs/stats/summary", http.StatusOK, &sum)
	if sum.TotalJobs != 3 || sum.HighScoreCount != 1 || sum.RemoteJobs != 2 || sum.AverageScore != 60 || sum.TotalSignals != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.TopCompanies) != 2 || sum.TopCompanies[0].Company != "Acme" || sum.TopCompanies[0].Count != 2 {
		t.Errorf("top companies = %+v", sum.TopCompanies)
	}
}

func TestSignals(t *testing.T) {
	srv, _ := newTestServer(t)

	var list []signalView
	getJSON(t, srv.URL+"/api/signals", http.StatusOK, &list)
	if len(list) != 1 || list[0].SignalType != "spike" || list[0].WindowSeconds != 56*24*3600 {
		t.Errorf("signals = %+v", list)
	}
	getJSON(t, srv.URL+"/api/signals?signal_type=trend", http.StatusOK, &list)
	if len(list) != 0 {
		t.Errorf("trend signals = %+v", list)
	}
	getJSON(t, srv.URL+"/api/signals?signal_type=surge", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/api/signals?limit=500", http.StatusBadRequest, nil)

	var sig signalView
	getJSON(t, srv.URL+"/api/signals/sig-1", http.StatusOK, &sig)
	if sig.DimensionValue != "Acme" {
		t.Errorf("signal = %+v", sig)
	}
	getJSON(t, srv.URL+"/api/signals/nope", http.StatusNotFound, nil)
}

func TestDeleteJob(t *testing.T) {
	srv, st := newTestServer(t)

	del := func() int {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/b", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(); code != http.StatusOK {
		t.Fatalf("first delete = %d, want 200", code)
	}
	if code := del(); code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", code)
	}
	if _, err := st.GetJob(context.Background(), "b"); err != store.ErrNotFound {
		t.Errorf("GetJob after delete err = %v", err)
	}
}
