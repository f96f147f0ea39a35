// Package slack posts alerts to a channel via chat.postMessage: disclaimer
// hits, sessions parked for manual review, and result-writer failures.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elie-eliseai/callzilla/internal/session"
)

// Alerter posts Block Kit messages to a Slack channel.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// PostDisclaimerAlert announces a verified disclaimer on a line.
func (a *Alerter) PostDisclaimerAlert(ctx context.Context, job session.Job, snippet string) error {
	return a.post(ctx, "Disclaimer Detected",
		fmt.Sprintf("Disclaimer detected: %s (%s)", job.PropertyName, job.Phone),
		[]map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Property:*\n%s", propertyLabel(job))},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Phone:*\n%s", job.Phone)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Snippet:*\n%s", snippet)},
		})
}

// PostManualReviewAlert announces a session that needs a person to finish.
func (a *Alerter) PostManualReviewAlert(ctx context.Context, job session.Job, reason string) error {
	return a.post(ctx, "Manual Review Needed",
		fmt.Sprintf("Manual review needed: %s (%s)", job.PropertyName, job.Phone),
		[]map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Property:*\n%s", propertyLabel(job))},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Phone:*\n%s", job.Phone)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:*\n%s", reason)},
		})
}

// writeFailurePayload is the subset of fields extracted from system alert
// messages.
type writeFailurePayload struct {
	Message string `json:"message"`
}

// PostWriteFailureAlert forwards a result-writer system alert.
func (a *Alerter) PostWriteFailureAlert(ctx context.Context, subject string, payload []byte) error {
	var wf writeFailurePayload
	_ = json.Unmarshal(payload, &wf)
	if wf.Message == "" {
		wf.Message = "unknown"
	}

	return a.post(ctx, "Result Writer Alert",
		fmt.Sprintf("Result writer alert: %s", wf.Message),
		[]map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:*\n%s", subject)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Message:*\n%s", wf.Message)},
		})
}

// post sends a Block Kit message. It rate-limits to at most one alert per
// 30 seconds to protect against burst storms.
func (a *Alerter) post(ctx context.Context, header, fallback string, fields []map[string]any) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": header,
			},
		},
		{
			"type":   "section",
			"fields": fields,
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fallback,
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("alert posted to Slack", "channel", a.channel, "header", header)
	return nil
}

func propertyLabel(job session.Job) string {
	if job.PropertyName != "" {
		return fmt.Sprintf("%s (%s)", job.PropertyName, job.PropertyID)
	}
	return job.PropertyID
}

// SessionNotifier adapts the alerter to the session's notifier hook,
// logging post failures instead of surfacing them into the call flow.
type SessionNotifier struct {
	Alerter *Alerter
}

func (n *SessionNotifier) DisclaimerFound(ctx context.Context, job session.Job, snippet string) {
	if err := n.Alerter.PostDisclaimerAlert(ctx, job, snippet); err != nil {
		slog.Error("failed to post disclaimer alert", "error", err)
	}
}

func (n *SessionNotifier) ManualReviewNeeded(ctx context.Context, job session.Job, reason string) {
	if err := n.Alerter.PostManualReviewAlert(ctx, job, reason); err != nil {
		slog.Error("failed to post manual review alert", "error", err)
	}
}
