// Package capture builds sanitized telemetry entries and hands them to
// storage, alerting and the live feed. Its single guarantee: pushing an entry
// never fails, panics or blocks the request that produced it beyond the
// storage enqueue itself.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/goflare/flare/internal/alerting"
	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/internal/pkg/prom"
	"github.com/goflare/flare/internal/storage"
	"github.com/goflare/flare/model"
)

// Broadcaster receives every accepted entry for live distribution.
// Implementations must not block.
type Broadcaster interface {
	BroadcastEntry(entry *model.LogEntry)
}

// Params carries the raw, unsanitized inputs for one entry.
type Params struct {
	Level       model.Level
	Event       model.Event
	Message     string
	RequestID   string
	Endpoint    string
	HTTPMethod  string
	HTTPStatus  int
	IPAddress   string
	DurationMs  int64
	Error       string
	StackTrace  string
	Context     map[string]any
	RequestBody any
}

// Pipeline is the single entry point for captured telemetry.
type Pipeline struct {
	store     storage.Store
	sanitizer *Sanitizer
	alerts    *alerting.Scheduler
	broadcast Broadcaster
}

func NewPipeline(store storage.Store, sanitizer *Sanitizer, alerts *alerting.Scheduler) *Pipeline {
	return &Pipeline{
		store:     store,
		sanitizer: sanitizer,
		alerts:    alerts,
	}
}

// SetBroadcaster attaches the live feed. Wired once during setup, before any
// traffic flows.
func (p *Pipeline) SetBroadcaster(b Broadcaster) {
	p.broadcast = b
}

// Push sanitizes, stores, alerts and broadcasts one entry. An invalid level
// drops the entry silently; any internal panic is swallowed. The returned
// entry is nil when nothing was captured.
func (p *Pipeline) Push(ctx context.Context, params Params) (entry *model.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			entry = nil
			logger.Warn("capture push panicked", "panic", fmt.Sprint(r))
		}
	}()

	if !params.Level.Valid() {
		return nil
	}

	entry = &model.LogEntry{
		Timestamp:   time.Now().UTC(),
		Level:       params.Level,
		Event:       params.Event,
		Message:     params.Message,
		RequestID:   params.RequestID,
		Endpoint:    params.Endpoint,
		HTTPMethod:  params.HTTPMethod,
		HTTPStatus:  params.HTTPStatus,
		IPAddress:   params.IPAddress,
		DurationMs:  params.DurationMs,
		Error:       params.Error,
		StackTrace:  params.StackTrace,
		Context:     p.sanitizer.SanitizeMap(params.Context),
		RequestBody: p.sanitizer.Sanitize(params.RequestBody),
	}

	p.store.Enqueue(ctx, entry)
	prom.EntriesCaptured.WithLabelValues(string(entry.Level), string(entry.Event)).Inc()

	if p.alerts != nil {
		p.alerts.Schedule(entry)
	}
	if p.broadcast != nil {
		p.broadcast.BroadcastEntry(entry)
	}
	return entry
}

// PushRequest stores one tracked request, sanitized. Same no-fail contract
// as Push.
func (p *Pipeline) PushRequest(ctx context.Context, entry *model.RequestEntry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("capture push request panicked", "panic", fmt.Sprint(r))
		}
	}()

	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.RequestHeaders = p.sanitizer.SanitizeHeaders(entry.RequestHeaders)
	entry.RequestBody = p.sanitizer.Sanitize(entry.RequestBody)

	p.store.EnqueueRequest(ctx, entry)
}
