package notifier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goflare/flare/model"
)

// DiscordNotifier posts an embed to a Discord channel webhook URL.
type DiscordNotifier struct {
	URL string

	client *resty.Client
}

func NewDiscord(url string) *DiscordNotifier {
	return &DiscordNotifier{URL: url, client: resty.New().SetTimeout(sendTimeout)}
}

func (n *DiscordNotifier) Send(entry *model.LogEntry) error {
	return post(n.client, n.URL, n.payload(entry))
}

func (n *DiscordNotifier) payload(entry *model.LogEntry) map[string]any {
	color := 0xE53935 // red
	if entry.Level == model.LevelWarning {
		color = 0xFFB300 // amber
	}

	description := entry.Message
	if entry.Error != "" && entry.Error != entry.Message {
		description += fmt.Sprintf("\n```\n%s\n```", truncate(entry.Error, 800))
	}

	embed := map[string]any{
		"title":       entryTitle(entry),
		"description": description,
		"color":       color,
		"footer":      map[string]any{"text": "flare"},
	}
	if !entry.Timestamp.IsZero() {
		embed["timestamp"] = entry.Timestamp.UTC().Format(time.RFC3339)
	}

	var fields []map[string]any
	if entry.IPAddress != "" {
		fields = append(fields, map[string]any{"name": "IP", "value": entry.IPAddress, "inline": true})
	}
	if entry.DurationMs > 0 {
		fields = append(fields, map[string]any{
			"name": "Duration", "value": fmt.Sprintf("%d ms", entry.DurationMs), "inline": true,
		})
	}
	if fields != nil {
		embed["fields"] = fields
	}

	return map[string]any{"embeds": []map[string]any{embed}}
}
