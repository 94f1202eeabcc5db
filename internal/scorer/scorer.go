// Package scorer assigns each Job a deterministic 0-100 score.
package scorer

import (
	"math"
	"strings"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/normalize"
)

// Weights is the named weight table the score is built from.
type Weights = config.ScoringConfig

// Factor is one additive contribution to a score.
type Factor struct {
	Name   string
	Points int
}

// Scorer is a pure function of the Job fields and its Weights.
type Scorer struct {
	w             Weights
	titleKeywords []string
	stackKeywords map[string]bool
	penalties     []config.PenaltyRule
}

// New returns a Scorer for w. Keywords are compared case-folded.
func New(w Weights) *Scorer {
	s := &Scorer{w: w}
	for _, k := range w.TitleKeywords {
		if k = normalize.Fold(k); k != "" {
			s.titleKeywords = append(s.titleKeywords, k)
		}
	}
	if len(w.StackKeywords) > 0 {
		s.stackKeywords = make(map[string]bool, len(w.StackKeywords))
		for _, k := range w.StackKeywords {
			s.stackKeywords[normalize.Fold(k)] = true
		}
	}
	for _, p := range w.Penalties {
		rule := config.PenaltyRule{Weight: p.Weight}
		for _, phrase := range p.Any {
			if phrase = normalize.Fold(phrase); phrase != "" {
				rule.Any = append(rule.Any, phrase)
			}
		}
		s.penalties = append(s.penalties, rule)
	}
	return s
}

// Score returns the clamped sum of Breakdown.
func (s *Scorer) Score(job model.Job) int {
	total := 0
	for _, f := range s.Breakdown(job) {
		total += f.Points
	}
	return clamp(total)
}

// Breakdown lists the non-zero contributions for job in a fixed order.
// The sum may fall outside 0..100; Score clamps it.
func (s *Scorer) Breakdown(job model.Job) []Factor {
	var out []Factor
	add := func(name string, pts int) {
		if pts != 0 {
			out = append(out, Factor{Name: name, Points: pts})
		}
	}

	title := normalize.Fold(job.Title)
	for _, k := range s.titleKeywords {
		if strings.Contains(title, k) {
			add("title", s.w.TitleMatch)
			break
		}
	}

	matched := 0
	for _, tok := range job.Stack {
		if s.stackKeywords == nil || s.stackKeywords[tok] {
			matched++
		}
	}
	add("stack", matched*s.w.StackMatch)

	if job.IsRemote() {
		add("remote", s.w.RemoteBonus)
	}

	add("recency", s.recency(job))
	add("source", s.w.SourceTiers[job.Source])

	for _, p := range s.penalties {
		for _, phrase := range p.Any {
			if strings.Contains(title, phrase) {
				add("penalty:"+phrase, -abs(p.Weight))
				break
			}
		}
	}
	return out
}

// recency decays from RecencyMax by half every RecencyHalfLife of age, where
// age runs from PostedAt to FirstSeen so the result never depends on when
// scoring happens.
func (s *Scorer) recency(job model.Job) int {
	if s.w.RecencyMax <= 0 || s.w.RecencyHalfLife <= 0 || job.PostedAt == nil || job.FirstSeen.IsZero() {
		return 0
	}
	age := job.FirstSeen.Sub(*job.PostedAt)
	if age < 0 {
		age = 0
	}
	halves := float64(age) / float64(s.w.RecencyHalfLife)
	return int(math.Round(float64(s.w.RecencyMax) * math.Pow(0.5, halves)))
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
