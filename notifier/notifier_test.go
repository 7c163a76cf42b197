package notifier

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goflare/flare/model"
)

func sampleEntry() *model.LogEntry {
	return &model.LogEntry{
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Level:      model.LevelError,
		Event:      model.EventUnhandledException,
		Message:    "payment service crashed",
		Endpoint:   "/payments",
		HTTPMethod: "POST",
		HTTPStatus: 500,
		IPAddress:  "10.0.0.1",
		Error:      "runtime error: invalid memory address",
	}
}

// webhookRecorder captures the body of the last POST it served.
type webhookRecorder struct {
	server *httptest.Server
	body   []byte
	status int
}

func newWebhookRecorder(status int) *webhookRecorder {
	rec := &webhookRecorder{status: status}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(rec.status)
	}))
	return rec
}

func (r *webhookRecorder) decode(t *testing.T) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(r.body, &payload))
	return payload
}

func TestWebhookNotifierPostsEntryJSON(t *testing.T) {
	rec := newWebhookRecorder(http.StatusOK)
	defer rec.server.Close()

	n := NewWebhook(rec.server.URL, map[string]string{"Authorization": "Bearer abc"})
	require.NoError(t, n.Send(sampleEntry()))

	payload := rec.decode(t)
	assert.Equal(t, "ERROR", payload["level"])
	assert.Equal(t, "payment service crashed", payload["message"])
	assert.Equal(t, "/payments", payload["endpoint"])
}

func TestWebhookNotifierReportsHTTPErrors(t *testing.T) {
	rec := newWebhookRecorder(http.StatusBadGateway)
	defer rec.server.Close()

	n := NewWebhook(rec.server.URL, nil)
	assert.Error(t, n.Send(sampleEntry()))
}

func TestSlackPayloadShape(t *testing.T) {
	rec := newWebhookRecorder(http.StatusOK)
	defer rec.server.Close()

	n := NewSlack(rec.server.URL)
	require.NoError(t, n.Send(sampleEntry()))

	payload := rec.decode(t)
	assert.Contains(t, payload["text"], "ERROR")
	assert.Contains(t, payload["text"], "/payments")

	blocks := payload["blocks"].([]any)
	require.NotEmpty(t, blocks)
	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	assert.Contains(t, header, "🔴")
	assert.Contains(t, header, "POST /payments")
}

func TestSlackWarningUsesAmberEmoji(t *testing.T) {
	rec := newWebhookRecorder(http.StatusOK)
	defer rec.server.Close()

	entry := sampleEntry()
	entry.Level = model.LevelWarning

	n := NewSlack(rec.server.URL)
	require.NoError(t, n.Send(entry))

	assert.Contains(t, rec.decode(t)["text"], "🟡")
}

func TestDiscordPayloadShape(t *testing.T) {
	rec := newWebhookRecorder(http.StatusOK)
	defer rec.server.Close()

	n := NewDiscord(rec.server.URL)
	require.NoError(t, n.Send(sampleEntry()))

	payload := rec.decode(t)
	embeds := payload["embeds"].([]any)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Contains(t, embed["title"], "ERROR")
	assert.EqualValues(t, 0xE53935, embed["color"])
}

func TestTeamsPayloadShape(t *testing.T) {
	rec := newWebhookRecorder(http.StatusOK)
	defer rec.server.Close()

	n := NewTeams(rec.server.URL)
	require.NoError(t, n.Send(sampleEntry()))

	payload := rec.decode(t)
	attachments := payload["attachments"].([]any)
	require.NotEmpty(t, attachments)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde…", truncate("abcdefgh", 5))
}

func TestEntryTitle(t *testing.T) {
	assert.Equal(t, "ERROR: POST /payments → 500", entryTitle(sampleEntry()))

	entry := sampleEntry()
	entry.HTTPMethod = ""
	entry.Endpoint = ""
	assert.Equal(t, "ERROR: unknown", entryTitle(entry))
}
