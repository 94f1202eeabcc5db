package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

const defaultLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "timestamp": s.now().Format(time.RFC3339)})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "SignalForge API", "version": Version, "status": "running"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := page(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minScore, err := intParam(q.Get("min_score"), "min_score", 0, 0, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f := store.JobFilter{
		Limit:    limit,
		Offset:   offset,
		MinScore: minScore,
		Location: q.Get("location"),
		Company:  q.Get("company"),
		Source:   q.Get("source"),
	}
	if v := q.Get("posted_after"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.PostedAfter = &t
	}

	jobs, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		out[i] = newJobView(j)
	}
	writeJSON(w, http.StatusOK, jobList{Jobs: out, Count: len(out), Limit: limit, Offset: offset})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	if err != nil {
		s.internalError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.store.DeleteJob(r.Context(), id)
	if err != nil {
		s.internalError(w, "delete job", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	s.logger.Info("job deleted", "job", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted", "id": id})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Stats(r.Context(), s.threshold, s.now())
	if err != nil {
		s.internalError(w, "job stats", err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(sum))
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := page(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minScore, err := intParam(q.Get("min_score"), "min_score", 0, 0, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f := store.SignalFilter{Limit: limit, Offset: offset, MinScore: minScore}
	if v := q.Get("signal_type"); v != "" {
		typ, err := model.ParseSignalType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Type = typ
	}

	signals, err := s.store.ListSignals(r.Context(), f)
	if err != nil {
		s.internalError(w, "list signals", err)
		return
	}
	out := make([]signalView, len(signals))
	for i, sig := range signals {
		out[i] = newSignalView(sig)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := s.store.GetSignal(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("signal not found"))
		return
	}
	if err != nil {
		s.internalError(w, "get signal", err)
		return
	}
	writeJSON(w, http.StatusOK, newSignalView(sig))
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// page parses limit (1..MaxPageSize, default 50) and offset (>= 0).
func page(limitStr, offsetStr string) (int, int, error) {
	limit, err := intParam(limitStr, "limit", defaultLimit, 1, store.MaxPageSize)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intParam(offsetStr, "offset", 0, 0, -1)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// intParam parses an optional integer in [lo, hi]; hi < 0 means unbounded.
func intParam(v, name string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < lo || (hi >= 0 && n > hi) {
		if hi < 0 {
			return 0, fmt.Errorf("%s must be >= %d", name, lo)
		}
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("posted_after: invalid date %q", v)
}
