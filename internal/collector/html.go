package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

// htmlPage scrapes a careers page with CSS selectors. Each element matching
// Selectors.Item is one posting; the remaining selectors are evaluated
// relative to it.
type htmlPage struct {
	base
	pageURL   *url.URL
	company   string
	selectors config.HTMLSelectors
}

func newHTML(sc config.SourceConfig, client *http.Client) (model.Collector, error) {
	if sc.Selectors.Item == "" || sc.Selectors.Title == "" {
		return nil, fmt.Errorf("html: selectors.item and selectors.title are required")
	}
	u, err := url.Parse(sc.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("html: invalid url %q", sc.URL)
	}
	sel := sc.Selectors
	if sel.Link == "" {
		sel.Link = "a"
	}
	return &htmlPage{
		base:      newBase(sc, client),
		pageURL:   u,
		company:   sc.Company,
		selectors: sel,
	}, nil
}

func (h *htmlPage) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	doc, err := getDocument(ctx, h.client, h.pageURL.String())
	if err != nil {
		return nil, fmt.Errorf("html fetch for %s: %w", h.pageURL.Host, err)
	}

	var postings []model.RawPosting
	doc.Find(h.selectors.Item).Each(func(_ int, item *goquery.Selection) {
		p := model.RawPosting{
			Title:       h.text(item, h.selectors.Title),
			Company:     h.text(item, h.selectors.Company),
			Location:    h.text(item, h.selectors.Location),
			Description: h.text(item, h.selectors.Description),
		}
		if p.Company == "" {
			p.Company = h.company
		}
		if href, ok := h.link(item); ok {
			p.URL = href
		}
		if h.selectors.PostedAt != "" {
			node := item.Find(h.selectors.PostedAt).First()
			if dt, ok := node.Attr("datetime"); ok {
				p.PostedAt = parseTime(dt)
			} else {
				p.PostedAt = parseTime(strings.TrimSpace(node.Text()))
			}
		}
		postings = append(postings, p)
	})
	return postings, nil
}

func (h *htmlPage) text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapse(item.Find(selector).First().Text())
}

// link resolves the posting link against the page URL. An item that is
// itself an anchor is used directly.
func (h *htmlPage) link(item *goquery.Selection) (string, bool) {
	href, ok := item.Attr("href")
	if !ok {
		href, ok = item.Find(h.selectors.Link).First().Attr("href")
	}
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	return h.pageURL.ResolveReference(ref).String(), true
}
