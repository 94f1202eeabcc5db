package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const ashbyBaseURL = "https://api.ashbyhq.com/posting-api/job-board"

// ashbyJob represents a single job in the Ashby API response.
type ashbyJob struct {
	Title            string `json:"title"`
	Location         string `json:"location"`
	IsRemote         bool   `json:"isRemote"`
	JobURL           string `json:"jobUrl"`
	PublishedAt      string `json:"publishedAt"`
	IsListed         bool   `json:"isListed"`
	Department       string `json:"department"`
	DescriptionPlain string `json:"descriptionPlain"`
	DescriptionHTML  string `json:"descriptionHtml"`
}

// ashbyResponse is the top-level Ashby job board API response.
type ashbyResponse struct {
	Jobs []ashbyJob `json:"jobs"`
}

// ashby fetches postings from the Ashby public job board API.
type ashby struct {
	base
	boardToken string
	company    string
	baseURL    string
}

func newAshby(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.BoardToken == "" {
		return nil, fmt.Errorf("ashby: board_token is required")
	}
	a := &ashby{
		base:       newBase(sc, client),
		boardToken: sc.BoardToken,
		company:    companyName(sc),
		baseURL:    ashbyBaseURL,
	}
	if sc.URL != "" {
		a.baseURL = strings.TrimRight(sc.URL, "/")
	}
	return a, nil
}

func (a *ashby) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	url := fmt.Sprintf("%s/%s?includeCompensation=false", a.baseURL, a.boardToken)

	var resp ashbyResponse
	if err := getJSON(ctx, a.client, url, &resp); err != nil {
		return nil, fmt.Errorf("ashby fetch for %s: %w", a.boardToken, err)
	}

	postings := make([]model.RawPosting, 0, len(resp.Jobs))
	for _, aj := range resp.Jobs {
		if !aj.IsListed {
			continue
		}
		location := aj.Location
		if aj.IsRemote && !strings.Contains(strings.ToLower(location), "remote") {
			location = strings.TrimSpace("Remote " + location)
		}
		desc := aj.DescriptionPlain
		if desc == "" {
			desc = extractText(aj.DescriptionHTML)
		}
		p := model.RawPosting{
			Title:       strings.TrimSpace(aj.Title),
			Company:     a.company,
			Location:    location,
			URL:         aj.JobURL,
			PostedAt:    parseTime(aj.PublishedAt),
			Description: collapse(desc),
		}
		if aj.Department != "" {
			p.StackHint = []string{aj.Department}
		}
		postings = append(postings, p)
	}
	return postings, nil
}
