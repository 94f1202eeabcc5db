// Package normalize turns raw postings into Jobs with a canonical dedup key.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalforge/signalforge/internal/model"
)

// jobNamespace seeds the name-based UUIDs used as Job IDs.
var jobNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/signalforge/signalforge/job"))

type vocabEntry struct {
	token    string
	patterns []*regexp.Regexp
}

// Normalizer cleans raw postings and extracts stack tokens from a fixed
// vocabulary. It is safe for concurrent use once built.
type Normalizer struct {
	vocab []vocabEntry
}

// New builds a Normalizer for vocabulary, which maps each canonical stack
// token to its aliases. The token itself is always matched.
func New(vocabulary map[string][]string) *Normalizer {
	n := &Normalizer{}
	for token, aliases := range vocabulary {
		canonical := Fold(token)
		if canonical == "" {
			continue
		}
		e := vocabEntry{token: canonical}
		for _, term := range append([]string{canonical}, aliases...) {
			term = Fold(term)
			if term == "" {
				continue
			}
			e.patterns = append(e.patterns, wordPattern(term))
		}
		n.vocab = append(n.vocab, e)
	}
	sort.Slice(n.vocab, func(i, j int) bool { return n.vocab[i].token < n.vocab[j].token })
	return n
}

// wordPattern matches term when it is not embedded in a longer alphanumeric
// run. \b is not used because terms like "c++" or "node.js" end in
// non-word characters.
func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^a-z0-9])` + regexp.QuoteMeta(term) + `(?:$|[^a-z0-9])`)
}

// Normalize validates raw and returns the Job it describes as first seen at
// now. Score is left at zero for the scorer.
func (n *Normalizer) Normalize(source string, raw model.RawPosting, now time.Time) (model.Job, error) {
	title := CleanText(raw.Title)
	company := CleanText(raw.Company)
	if title == "" {
		return model.Job{}, &model.ValidationError{Field: "title", Reason: "is empty"}
	}
	if company == "" {
		return model.Job{}, &model.ValidationError{Field: "company", Reason: "is empty"}
	}

	url := strings.TrimSpace(raw.URL)
	key := DedupKey(source, url, title, company)
	now = now.UTC()

	job := model.Job{
		ID:          JobID(key),
		DedupKey:    key,
		Title:       title,
		Company:     company,
		Location:    NormalizeLocation(raw.Location),
		URL:         url,
		Source:      source,
		Description: CleanText(raw.Description),
		FirstSeen:   now,
		LastSeen:    now,
	}
	if raw.PostedAt != nil && !raw.PostedAt.IsZero() {
		t := raw.PostedAt.UTC()
		job.PostedAt = &t
	}
	job.Stack = n.Tokens(append([]string{title, job.Description}, raw.StackHint...)...)
	return job, nil
}

// Tokens returns the sorted, unique canonical stack tokens mentioned in texts.
func (n *Normalizer) Tokens(texts ...string) []string {
	blob := Fold(strings.Join(texts, " \n "))
	if blob == "" {
		return nil
	}
	var out []string
	for _, e := range n.vocab {
		for _, p := range e.patterns {
			if p.MatchString(blob) {
				out = append(out, e.token)
				break
			}
		}
	}
	return out
}

// JobID derives the stable Job ID for a dedup key.
func JobID(key string) string {
	return uuid.NewSHA1(jobNamespace, []byte(key)).String()
}

// DedupKey is source|canonical URL, or title-company|title|company when the
// posting has no URL.
func DedupKey(source, rawURL, title, company string) string {
	if u := CanonicalURL(rawURL); u != "" {
		return strings.ToLower(strings.TrimSpace(source)) + "|" + u
	}
	return "title-company|" + Fold(title) + "|" + Fold(company)
}

// Fold is the comparison form of a display value: whitespace collapsed and
// lower-cased.
func Fold(s string) string {
	return strings.ToLower(CleanText(s))
}

// CleanText collapses runs of whitespace, including non-breaking spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeLocation cleans loc and drops repeated comma-separated parts,
// keeping the first casing seen.
func NormalizeLocation(loc string) string {
	loc = CleanText(loc)
	if loc == "" {
		return ""
	}
	loc = strings.TrimSpace(strings.TrimPrefix(loc, "Location:"))

	seen := map[string]bool{}
	var out []string
	for _, p := range strings.Split(loc, ",") {
		p = CleanText(p)
		if p == "" {
			continue
		}
		k := strings.ToLower(p)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}
