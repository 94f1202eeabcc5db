package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// greenhouseJob represents a single job in the Greenhouse API response.
type greenhouseJob struct {
	ID             int64              `json:"id"`
	Title          string             `json:"title"`
	Location       greenhouseLocation `json:"location"`
	AbsoluteURL    string             `json:"absolute_url"`
	Content        string             `json:"content"`
	FirstPublished string             `json:"first_published"`
	UpdatedAt      string             `json:"updated_at"`
	CompanyName    string             `json:"company_name"`
	Departments    []struct {
		Name string `json:"name"`
	} `json:"departments"`
}

type greenhouseLocation struct {
	Name string `json:"name"`
}

// greenhouseResponse is the top-level Greenhouse jobs API response.
type greenhouseResponse struct {
	Jobs []greenhouseJob `json:"jobs"`
}

// greenhouse fetches postings from the Greenhouse public boards API.
type greenhouse struct {
	base
	boardToken string
	company    string
	baseURL    string
}

func newGreenhouse(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.BoardToken == "" {
		return nil, fmt.Errorf("greenhouse: board_token is required")
	}
	g := &greenhouse{
		base:       newBase(sc, client),
		boardToken: sc.BoardToken,
		company:    companyName(sc),
		baseURL:    greenhouseBaseURL,
	}
	if sc.URL != "" {
		g.baseURL = strings.TrimRight(sc.URL, "/")
	}
	return g, nil
}

func (g *greenhouse) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	url := fmt.Sprintf("%s/%s/jobs?content=true", g.baseURL, g.boardToken)

	var resp greenhouseResponse
	if err := getJSON(ctx, g.client, url, &resp); err != nil {
		return nil, fmt.Errorf("greenhouse fetch for %s: %w", g.boardToken, err)
	}

	postings := make([]model.RawPosting, 0, len(resp.Jobs))
	for _, gj := range resp.Jobs {
		company := g.company
		if gj.CompanyName != "" && company == g.boardToken {
			company = gj.CompanyName
		}
		p := model.RawPosting{
			Title:       strings.TrimSpace(gj.Title),
			Company:     company,
			Location:    gj.Location.Name,
			URL:         gj.AbsoluteURL,
			Description: extractText(gj.Content),
		}
		// first_published is when the posting went live; updated_at moves on edits.
		p.PostedAt = parseTime(gj.FirstPublished)
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
