// Package alerting decides whether captured entries fire external notifiers,
// applying level filtering and per-fingerprint cooldown, then dispatching each
// notifier as a detached goroutine.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/internal/pkg/prom"
	"github.com/goflare/flare/model"
	"github.com/goflare/flare/notifier"
)

// Scheduler evaluates the alert gates and launches notifier dispatches.
// Schedule returns immediately and never blocks or panics, whatever the
// notifiers do.
type Scheduler struct {
	notifiers []notifier.Notifier
	minLevel  model.Level
	cooldown  time.Duration

	mu sync.Mutex
	// lastFired maps fingerprint (event + ":" + endpoint) to the last dispatch
	// time. Entries are never evicted; under adversarial fingerprint diversity
	// this map can grow for the lifetime of the process. In practice
	// fingerprints derive from route templates, whose cardinality the metrics
	// cap already bounds.
	lastFired map[string]time.Time

	// now and spawn are swappable for tests.
	now   func() time.Time
	spawn func(func())
}

func NewScheduler(notifiers []notifier.Notifier, minLevel model.Level, cooldown time.Duration) *Scheduler {
	if !minLevel.Valid() {
		minLevel = model.LevelError
	}
	return &Scheduler{
		notifiers: notifiers,
		minLevel:  minLevel,
		cooldown:  cooldown,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
		spawn:     func(f func()) { go f() },
	}
}

// Fingerprint is the alert-deduplication key for an entry.
func Fingerprint(entry *model.LogEntry) string {
	return fmt.Sprintf("%s:%s", entry.Event, entry.Endpoint)
}

// Schedule fires all registered notifiers for entry if every gate passes:
//  1. at least one notifier is registered;
//  2. the entry level is at or above the configured minimum severity;
//  3. the (event, endpoint) fingerprint is outside its cooldown window.
func (s *Scheduler) Schedule(entry *model.LogEntry) {
	if len(s.notifiers) == 0 {
		return
	}
	if entry.Level.Severity() < s.minLevel.Severity() {
		return
	}

	if s.cooldown > 0 {
		fingerprint := Fingerprint(entry)
		s.mu.Lock()
		last, seen := s.lastFired[fingerprint]
		now := s.now()
		if seen && now.Sub(last) < s.cooldown {
			s.mu.Unlock()
			return // still within cooldown window
		}
		s.lastFired[fingerprint] = now
		s.mu.Unlock()
	}

	for _, n := range s.notifiers {
		n := n
		s.spawn(func() { dispatch(n, entry) })
	}
}

// dispatch supervises one notifier send: errors are logged and dropped,
// panics are recovered. Nothing propagates to the scheduling path.
func dispatch(n notifier.Notifier, entry *model.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			prom.AlertsDispatched.WithLabelValues("panic").Inc()
			logger.Warn("notifier panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := n.Send(entry); err != nil {
		prom.AlertsDispatched.WithLabelValues("error").Inc()
		logger.Debug("notifier send failed", "error", err.Error())
		return
	}
	prom.AlertsDispatched.WithLabelValues("ok").Inc()
}

// CooldownEntries reports the current fingerprint-cache size, exposed for
// introspection and tests.
func (s *Scheduler) CooldownEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastFired)
}
