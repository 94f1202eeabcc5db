package collector

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const (
	workdayPageSize = 20
	// Listings posted longer ago than this are not detail-fetched.
	workdayMaxAgeDays = 7
)

type workdayListingRequest struct {
	AppliedFacets map[string]any `json:"appliedFacets"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
	SearchText    string         `json:"searchText"`
}

type workdayListingResponse struct {
	Total       int              `json:"total"`
	JobPostings []workdayListing `json:"jobPostings"`
}

type workdayListing struct {
	Title         string `json:"title"`
	ExternalPath  string `json:"externalPath"`
	LocationsText string `json:"locationsText"`
	PostedOn      string `json:"postedOn"`
}

type workdayDetailResponse struct {
	JobPostingInfo struct {
		Title               string   `json:"title"`
		Location            string   `json:"location"`
		PostedOn            string   `json:"postedOn"`
		StartDate           string   `json:"startDate"`
		ExternalURL         string   `json:"externalUrl"`
		JobDescription      string   `json:"jobDescription"`
		AdditionalLocations []string `json:"additionalLocations"`
	} `json:"jobPostingInfo"`
}

// workday pages through a Workday career site (the cxs JSON API under url)
// and fetches details for recent listings. Listings come newest first.
type workday struct {
	base
	baseURL string
	company string
	now     func() time.Time
}

func newWorkday(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.URL == "" {
		return nil, fmt.Errorf("workday: url is required")
	}
	return &workday{
		base:    newBase(sc, client),
		baseURL: strings.TrimRight(sc.URL, "/"),
		company: companyName(sc),
		now:     time.Now,
	}, nil
}

func (w *workday) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	listings, err := w.fetchListings(ctx)
	if err != nil {
		return nil, err
	}

	var postings []model.RawPosting
	for _, l := range listings {
		if !w.recent(l.PostedOn) {
			continue
		}
		p, err := w.fetchDetail(ctx, l)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, nil
}

func (w *workday) fetchListings(ctx context.Context) ([]workdayListing, error) {
	var all []workdayListing
	for offset := 0; ; offset += workdayPageSize {
		body := workdayListingRequest{AppliedFacets: map[string]any{}, Limit: workdayPageSize, Offset: offset}
		var page workdayListingResponse
		if err := postJSON(ctx, w.client, w.baseURL+"/jobs", body, &page); err != nil {
			return nil, fmt.Errorf("workday listing fetch for %s: %w", w.company, err)
		}
		all = append(all, page.JobPostings...)

		// Newest first: once a page ends on an old listing the rest are older.
		if n := len(page.JobPostings); n == 0 || !w.recent(page.JobPostings[n-1].PostedOn) {
			break
		}
		if offset+workdayPageSize >= page.Total {
			break
		}
	}
	return all, nil
}

func (w *workday) fetchDetail(ctx context.Context, l workdayListing) (model.RawPosting, error) {
	path := l.ExternalPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var detail workdayDetailResponse
	if err := getJSON(ctx, w.client, w.baseURL+path, &detail); err != nil {
		return model.RawPosting{}, fmt.Errorf("workday detail fetch for %s: %w", w.company, err)
	}
	info := detail.JobPostingInfo

	title := info.Title
	if title == "" {
		title = l.Title
	}
	location := info.Location
	if location == "" {
		location = l.LocationsText
	}
	if len(info.AdditionalLocations) > 0 {
		location += "; " + strings.Join(info.AdditionalLocations, "; ")
	}

	p := model.RawPosting{
		Title:       strings.TrimSpace(title),
		Company:     w.company,
		Location:    location,
		URL:         info.ExternalURL,
		Description: extractText(info.JobDescription),
		PostedAt:    parseTime(info.StartDate),
	}
	if p.PostedAt == nil {
		p.PostedAt = w.postedOn(l.PostedOn)
	}
	return p, nil
}

var daysAgoRegex = regexp.MustCompile(`^Posted (\d+)\+? Days? Ago$`)

// postedOn converts Workday's relative "Posted N Days Ago" text to a date.
// "30+ Days Ago" and unknown text yield nil.
func (w *workday) postedOn(s string) *time.Time {
	n, ok := daysAgo(s)
	if !ok || strings.Contains(s, "+") {
		return nil
	}
	now := w.now().UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
	return &t
}

func (w *workday) recent(s string) bool {
	n, ok := daysAgo(s)
	return ok && n <= workdayMaxAgeDays && !strings.Contains(s, "+")
}

func daysAgo(s string) (int, bool) {
	switch s {
	case "Posted Today":
		return 0, true
	case "Posted Yesterday":
		return 1, true
	}
	m := daysAgoRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
