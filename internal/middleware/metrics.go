package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/goflare/flare/internal/capture"
	"github.com/goflare/flare/internal/metrics"
	"github.com/goflare/flare/internal/pkg/prom"
	"github.com/goflare/flare/model"
)

// TrackingOptions configures the request-tracking side of Metrics.
type TrackingOptions struct {
	TrackRequests  bool
	Track2xx       bool // store successful requests too, not only >= 400
	CaptureHeaders bool
}

// Metrics records every completed request into the endpoint aggregator and,
// when tracking is enabled, into the request ring buffer.
//
// The aggregator is keyed by route template so /users/123 and /users/456
// share one entry; requests that matched no route collapse into the
// unmatched sentinel.
func Metrics(agg *metrics.Aggregator, pipeline *capture.Pipeline, opts TrackingOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = metrics.UnmatchedSentinel
		}

		duration := RequestDuration(c)
		status := c.Writer.Status()

		agg.Record(endpoint, duration.Milliseconds(), status)
		prom.RequestLatency.WithLabelValues(endpoint).Observe(duration.Seconds())

		if !opts.TrackRequests {
			return
		}
		if status < 400 && !opts.Track2xx {
			return
		}

		entry := &model.RequestEntry{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			StatusCode: status,
			DurationMs: duration.Milliseconds(),
			RequestID:  GetRequestID(c),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			ErrorID:    c.GetString(CtxErrorID),
		}
		if opts.CaptureHeaders {
			headers := make(map[string]string, len(c.Request.Header))
			for name := range c.Request.Header {
				headers[name] = c.Request.Header.Get(name)
			}
			entry.RequestHeaders = headers
		}
		if raw := CapturedBody(c); len(raw) > 0 {
			entry.RequestBody = decodedBody(c)
		}

		pipeline.PushRequest(c.Request.Context(), entry)
	}
}
