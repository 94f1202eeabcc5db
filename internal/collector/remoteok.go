package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

const remoteOKURL = "https://remoteok.com/api"

// remoteOKJob is one entry of the RemoteOK feed. The first element of the
// feed is a legal notice without a position and is skipped.
type remoteOKJob struct {
	ID          json.RawMessage `json:"id"`
	Epoch       int64           `json:"epoch"`
	Date        string          `json:"date"`
	Company     string          `json:"company"`
	Position    string          `json:"position"`
	Tags        []string        `json:"tags"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	URL         string          `json:"url"`
	ApplyURL    string          `json:"apply_url"`
	Legal       string          `json:"legal"`
}

// remoteOK fetches the public RemoteOK JSON feed. Every posting on it is
// remote, so an empty location is reported as "Remote".
type remoteOK struct {
	base
	url string
}

func newRemoteOK(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	r := &remoteOK{base: newBase(sc, client), url: remoteOKURL}
	if sc.URL != "" {
		r.url = sc.URL
	}
	return r, nil
}

func (r *remoteOK) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	var feed []remoteOKJob
	if err := getJSON(ctx, r.client, r.url, &feed); err != nil {
		return nil, fmt.Errorf("remoteok fetch: %w", err)
	}

	postings := make([]model.RawPosting, 0, len(feed))
	for _, rj := range feed {
		if rj.Legal != "" || rj.Position == "" {
			continue
		}
		location := strings.TrimSpace(rj.Location)
		if location == "" {
			location = "Remote"
		}
		p := model.RawPosting{
			Title:       rj.Position,
			Company:     rj.Company,
			Location:    location,
			URL:         rj.URL,
			Description: extractText(rj.Description),
			StackHint:   rj.Tags,
		}
		if p.URL == "" {
			p.URL = rj.ApplyURL
		}
		if rj.Epoch > 0 {
			t := time.Unix(rj.Epoch, 0).UTC()
			p.PostedAt = &t
		} else {
			p.PostedAt = parseTime(rj.Date)
		}
		postings = append(postings, p)
	}
	return postings, nil
}
