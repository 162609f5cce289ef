// Package slack sends vault and review notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	maxReasonLen = 1000
	httpTimeout  = 10 * time.Second
)

// Notifier posts vault and review events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every send is a
// no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// DetokenizationAlert notifies that a vault reveal was attempted or denied.
func (n *Notifier) DetokenizationAlert(ctx context.Context, actor, prefix, reason string) error {
	msg := map[string]any{
		"blocks": []map[string]any{
			headerBlock("\U0001f534", "PII Detokenization Alert"),
			{"type": "divider"},
			fieldsBlock(map[string]string{
				"Actor":  actor,
				"Prefix": prefix,
			}),
			textBlock("Reason", reason),
			{"type": "divider"},
			contextBlock("vault", time.Now()),
		},
	}
	return n.post(ctx, msg)
}

// ReviewEscalated notifies that a queued review was escalated.
func (n *Notifier) ReviewEscalated(ctx context.Context, reviewID, caseID, priority string) error {
	msg := map[string]any{
		"blocks": []map[string]any{
			headerBlock(priorityEmoji(priority), "Review Escalated"),
			{"type": "divider"},
			fieldsBlock(map[string]string{
				"Review":   reviewID,
				"Case":     caseID,
				"Priority": priority,
			}),
			{"type": "divider"},
			contextBlock("review "+reviewID, time.Now()),
		},
	}
	return n.post(ctx, msg)
}

// post marshals and delivers a block-kit message to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent")
	return nil
}

func headerBlock(emoji, title string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": emoji + " " + title,
		},
	}
}

func fieldsBlock(kv map[string]string) map[string]any {
	fields := make([]map[string]any, 0, len(kv))
	for _, label := range sortedLabels(kv) {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", label, kv[label]),
		})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func textBlock(title, body string) map[string]any {
	text := truncate(body, maxReasonLen)
	if text == "" {
		text = "_Not provided._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", title, text),
		},
	}
}

func contextBlock(subject string, ts time.Time) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("i4g • %s • %s", subject, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}
	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(priority string) string {
	switch strings.ToLower(priority) {
	case "high", "system":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func sortedLabels(kv map[string]string) []string {
	// Fixed display order for known labels, alphabetical for the rest.
	order := []string{"Actor", "Prefix", "Review", "Case", "Priority"}
	out := make([]string, 0, len(kv))
	for _, label := range order {
		if _, ok := kv[label]; ok {
			out = append(out, label)
		}
	}
	for label := range kv {
		seen := false
		for _, have := range out {
			if have == label {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, label)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
