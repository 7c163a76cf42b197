// Package notifier contains the alert delivery targets used by the alert
// scheduler. Every notifier shares the same dispatch contract: Send is called
// from a detached goroutine, may block on network I/O, and its error is
// logged-and-dropped by the dispatcher — a delivery failure never reaches the
// request path.
package notifier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goflare/flare/model"
)

// Notifier is the capability implemented by all alert targets.
type Notifier interface {
	Send(entry *model.LogEntry) error
}

const sendTimeout = 8 * time.Second

// WebhookNotifier POSTs the raw log entry as JSON to a URL.
// Use Headers for authentication (e.g. {"Authorization": "Bearer ..."}).
type WebhookNotifier struct {
	URL     string
	Headers map[string]string

	client *resty.Client
}

func NewWebhook(url string, headers map[string]string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Headers: headers,
		client:  resty.New().SetTimeout(sendTimeout),
	}
}

func (n *WebhookNotifier) Send(entry *model.LogEntry) error {
	req := n.client.R().SetBody(entry)
	for k, v := range n.Headers {
		req.SetHeader(k, v)
	}
	resp, err := req.Post(n.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned %s", n.URL, resp.Status())
	}
	return nil
}

func post(client *resty.Client, url string, payload any) error {
	resp, err := client.R().SetBody(payload).Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func entryTitle(entry *model.LogEntry) string {
	endpoint := entry.Endpoint
	if endpoint == "" {
		endpoint = "unknown"
	}
	if entry.HTTPMethod != "" && entry.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s %s → %d", entry.Level, entry.HTTPMethod, endpoint, entry.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", entry.Level, endpoint)
}
