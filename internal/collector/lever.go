package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const leverBaseURL = "https://api.lever.co/v0/postings"

// leverCategories represents the categories object in a Lever job.
type leverCategories struct {
	Team         string   `json:"team"`
	Department   string   `json:"department"`
	Location     string   `json:"location"`
	Commitment   string   `json:"commitment"`
	AllLocations []string `json:"allLocations"`
}

// leverJob represents a single job in the Lever API response.
type leverJob struct {
	ID               string          `json:"id"`
	Text             string          `json:"text"`
	DescriptionPlain string          `json:"descriptionPlain"`
	Categories       leverCategories `json:"categories"`
	CreatedAt        int64           `json:"createdAt"`
	WorkplaceType    string          `json:"workplaceType"`
	HostedURL        string          `json:"hostedUrl"`
	Lists            []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	} `json:"lists"`
}

// lever fetches postings from the Lever public postings API.
type lever struct {
	base
	companySlug string
	company     string
	baseURL     string
}

func newLever(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.BoardToken == "" {
		return nil, fmt.Errorf("lever: board_token is required")
	}
	l := &lever{
		base:        newBase(sc, client),
		companySlug: sc.BoardToken,
		company:     companyName(sc),
		baseURL:     leverBaseURL,
	}
	if sc.URL != "" {
		l.baseURL = strings.TrimRight(sc.URL, "/")
	}
	return l, nil
}

func (l *lever) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	url := fmt.Sprintf("%s/%s?mode=json", l.baseURL, l.companySlug)

	var leverJobs []leverJob
	if err := getJSON(ctx, l.client, url, &leverJobs); err != nil {
		return nil, fmt.Errorf("lever fetch for %s: %w", l.companySlug, err)
	}

	postings := make([]model.RawPosting, 0, len(leverJobs))
	for _, lj := range leverJobs {
		// Determine location: prefer allLocations if available, fallback to location
		location := lj.Categories.Location
		if len(lj.Categories.AllLocations) > 0 {
			location = strings.Join(lj.Categories.AllLocations, ", ")
		}
		if strings.EqualFold(lj.WorkplaceType, "remote") && !strings.Contains(strings.ToLower(location), "remote") {
			location = strings.TrimSpace("Remote " + location)
		}

		var postedAt *time.Time
		if lj.CreatedAt > 0 {
			t := time.UnixMilli(lj.CreatedAt).UTC()
			postedAt = &t
		}

		desc := lj.DescriptionPlain
		for _, list := range lj.Lists {
			desc += " " + list.Text + " " + extractText(list.Content)
		}

		var hints []string
		if lj.Categories.Team != "" {
			hints = append(hints, lj.Categories.Team)
		}

		postings = append(postings, model.RawPosting{
			Title:       strings.TrimSpace(lj.Text),
			Company:     l.company,
			Location:    location,
			URL:         lj.HostedURL,
			PostedAt:    postedAt,
			Description: collapse(desc),
			StackHint:   hints,
		})
	}
	return postings, nil
}
