package notifier

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/goflare/flare/model"
)

// SlackNotifier posts a Block Kit message to a Slack Incoming Webhook URL.
type SlackNotifier struct {
	URL string

	client *resty.Client
}

func NewSlack(url string) *SlackNotifier {
	return &SlackNotifier{URL: url, client: resty.New().SetTimeout(sendTimeout)}
}

func (n *SlackNotifier) Send(entry *model.LogEntry) error {
	return post(n.client, n.URL, n.payload(entry))
}

func (n *SlackNotifier) payload(entry *model.LogEntry) map[string]any {
	emoji := "🔴"
	if entry.Level == model.LevelWarning {
		emoji = "🟡"
	}
	endpoint := entry.Endpoint
	if endpoint == "" {
		endpoint = "unknown"
	}

	header := fmt.Sprintf("%s *%s*", emoji, entry.Level)
	if entry.HTTPMethod != "" && entry.HTTPStatus != 0 {
		header += fmt.Sprintf("  `%s %s` → %d", entry.HTTPMethod, endpoint, entry.HTTPStatus)
	} else if endpoint != "unknown" {
		header += fmt.Sprintf("  `%s`", endpoint)
	}

	body := entry.Message
	if entry.Error != "" && entry.Error != entry.Message {
		// Trim long diagnostics to keep the Slack message readable.
		body += fmt.Sprintf("\n```%s```", truncate(entry.Error, 500))
	}

	blocks := []map[string]any{
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": header}},
	}
	if body != "" {
		blocks = append(blocks, map[string]any{
			"type": "section", "text": map[string]any{"type": "mrkdwn", "text": body},
		})
	}
	if !entry.Timestamp.IsZero() {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": "🕐 " + entry.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")},
			},
		})
	}

	return map[string]any{
		"text":   fmt.Sprintf("%s %s — %s", emoji, entry.Level, endpoint),
		"blocks": blocks,
	}
}
