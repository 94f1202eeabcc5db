package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalforge/signalforge/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// maxRetryAfter caps how long a 429 from Slack may hold the dispatcher.
const maxRetryAfter = 30 * time.Second

// SlackNotifier sends alerts to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier returns a notifier that posts each alert to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// NotifyJob posts one Block Kit message for the job.
func (s *SlackNotifier) NotifyJob(ctx context.Context, j model.Job) error {
	if err := s.send(ctx, buildJobPayload(j)); err != nil {
		return err
	}
	s.logger.Info("slack message sent", "company", j.Company, "title", j.Title)
	return nil
}

// NotifySignal posts one Block Kit message for the signal.
func (s *SlackNotifier) NotifySignal(ctx context.Context, sig model.Signal) error {
	if err := s.send(ctx, buildSignalPayload(sig)); err != nil {
		return err
	}
	s.logger.Info("slack message sent", "signal", sig.Type, "value", sig.DimensionValue)
	return nil
}

// send posts payload, retrying once after the Retry-After delay on 429.
func (s *SlackNotifier) send(ctx context.Context, payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		timer := time.NewTimer(retryAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		if status, _, err = s.post(ctx, body); err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
	}
	if status != http.StatusOK {
		return &model.HTTPError{StatusCode: status, Err: fmt.Errorf("slack returned %d", status)}
	}
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	retryAfter := min(time.Duration(max(secs, 1))*time.Second, maxRetryAfter)
	return resp.StatusCode, retryAfter, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

func buildJobPayload(j model.Job) slackPayload {
	posted := "Just detected"
	if j.PostedAt != nil {
		posted = j.PostedAt.UTC().Format(time.RFC1123)
	}
	stack := "n/a"
	if len(j.Stack) > 0 {
		stack = strings.Join(j.Stack, ", ")
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s: %s", j.Company, j.Title)},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Score:*\n" + strconv.Itoa(j.Score)},
				{Type: "mrkdwn", Text: "*Location:*\n" + j.Location},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Posted:*\n" + posted},
				{Type: "mrkdwn", Text: "*Source:*\n" + j.Source},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Stack:* " + stack},
		},
	}
	if j.URL != "" {
		blocks = append(blocks, slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "Apply Now"},
					URL:   j.URL,
					Style: "primary",
				},
			},
		})
	}
	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Blocks: blocks}
}

func buildSignalPayload(s model.Signal) slackPayload {
	return slackPayload{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s %s: %s", strings.ToUpper(string(s.Type)), s.Dimension, s.DimensionValue)},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Strength:*\n" + strconv.Itoa(s.Score)},
				{Type: "mrkdwn", Text: "*Window:*\n" + s.Window},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("%d postings vs mean %.1f (stddev %.1f)", s.Count, s.Mean, s.Stddev)},
		},
		{Type: "divider"},
	}}
}
