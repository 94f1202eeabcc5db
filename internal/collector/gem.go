package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const gemBaseURL = "https://api.gem.com/job_board/v0"

type gemJob struct {
	Title          string `json:"title"`
	AbsoluteURL    string `json:"absolute_url"`
	FirstPublished string `json:"first_published_at"`
	UpdatedAt      string `json:"updated_at"`
	Content        string `json:"content"`
	ContentPlain   string `json:"content_plain"`
	Location       struct {
		Name string `json:"name"`
	} `json:"location"`
	Departments []struct {
		Name string `json:"name"`
	} `json:"departments"`
}

// gem fetches postings from the Gem public job board API.
type gem struct {
	base
	boardToken string
	company    string
	baseURL    string
}

func newGem(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.BoardToken == "" {
		return nil, fmt.Errorf("gem: board_token is required")
	}
	g := &gem{
		base:       newBase(sc, client),
		boardToken: sc.BoardToken,
		company:    companyName(sc),
		baseURL:    gemBaseURL,
	}
	if sc.URL != "" {
		g.baseURL = strings.TrimRight(sc.URL, "/")
	}
	return g, nil
}

func (g *gem) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	url := fmt.Sprintf("%s/%s/job_posts/", g.baseURL, g.boardToken)

	var jobs []gemJob
	if err := getJSON(ctx, g.client, url, &jobs); err != nil {
		return nil, fmt.Errorf("gem fetch for %s: %w", g.boardToken, err)
	}

	postings := make([]model.RawPosting, 0, len(jobs))
	for _, gj := range jobs {
		desc := collapse(gj.ContentPlain)
		if desc == "" {
			desc = extractText(gj.Content)
		}
		p := model.RawPosting{
			Title:       strings.TrimSpace(gj.Title),
			Company:     g.company,
			Location:    gj.Location.Name,
			URL:         gj.AbsoluteURL,
			Description: desc,
			PostedAt:    parseTime(gj.FirstPublished),
		}
		if p.PostedAt == nil {
			p.PostedAt = parseTime(gj.UpdatedAt)
		}
		for _, d := range gj.Departments {
			if d.Name != "" {
				p.StackHint = append(p.StackHint, d.Name)
			}
		}
		postings = append(postings, p)
	}
	return postings, nil
}
