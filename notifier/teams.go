package notifier

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/goflare/flare/model"
)

// TeamsNotifier posts an Adaptive Card to a Microsoft Teams workflow webhook
// (the Power Automate / Workflows format, not the retired connector format).
type TeamsNotifier struct {
	URL string

	client *resty.Client
}

func NewTeams(url string) *TeamsNotifier {
	return &TeamsNotifier{URL: url, client: resty.New().SetTimeout(sendTimeout)}
}

func (n *TeamsNotifier) Send(entry *model.LogEntry) error {
	return post(n.client, n.URL, n.payload(entry))
}

func (n *TeamsNotifier) payload(entry *model.LogEntry) map[string]any {
	color := "attention"
	if entry.Level == model.LevelWarning {
		color = "warning"
	}

	body := []map[string]any{
		{
			"type":   "TextBlock",
			"text":   entryTitle(entry),
			"weight": "Bolder",
			"color":  color,
			"size":   "Medium",
		},
		{"type": "TextBlock", "text": entry.Message, "wrap": true},
	}

	var facts []map[string]any
	if !entry.Timestamp.IsZero() {
		facts = append(facts, map[string]any{"title": "Time", "value": entry.Timestamp.UTC().String()})
	}
	if entry.IPAddress != "" {
		facts = append(facts, map[string]any{"title": "IP", "value": entry.IPAddress})
	}
	if entry.DurationMs > 0 {
		facts = append(facts, map[string]any{"title": "Duration", "value": fmt.Sprintf("%d ms", entry.DurationMs)})
	}
	if entry.Error != "" && entry.Error != entry.Message {
		body = append(body, map[string]any{
			"type":     "TextBlock",
			"text":     fmt.Sprintf("```\n%s\n```", truncate(entry.Error, 500)),
			"wrap":     true,
			"fontType": "Monospace",
			"size":     "Small",
		})
	}
	if facts != nil {
		body = append(body, map[string]any{"type": "FactSet", "facts": facts})
	}

	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]any{
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"type":    "AdaptiveCard",
					"version": "1.4",
					"body":    body,
				},
			},
		},
	}
}
