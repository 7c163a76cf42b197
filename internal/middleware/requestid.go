// Package middleware contains the gin handlers that observe application
// traffic: request identity, error capture, metrics recording, plus the rate
// limit and auth guards for the dashboard API itself.
package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goflare/flare/sqltrace"
)

// Context keys used to hand data between the middlewares.
const (
	CtxRequestID = "flare_request_id"
	CtxStartTime = "flare_start_time"
	CtxBodyBytes = "flare_body_bytes"
	CtxErrorID   = "flare_error_id"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request an ID (honoring an inbound X-Request-ID),
// echoes it on the response, records the start time and snapshots the request
// body for later capture.
//
// The ID and a query log are also attached to the request context, so any
// database call made through a sqltrace-registered driver with
// c.Request.Context() is tagged with the originating request.
//
// The body is read fully and restored with a NopCloser so downstream binding
// sees it untouched; only the first maxBodyBytes are retained.
func RequestID(maxBodyBytes int) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(CtxRequestID, requestID)
		c.Set(CtxStartTime, time.Now())
		c.Header(requestIDHeader, requestID)

		ctx := sqltrace.WithQueryLog(sqltrace.WithRequestID(c.Request.Context(), requestID))
		c.Request = c.Request.WithContext(ctx)

		if maxBodyBytes > 0 && bodyRelevant(c.Request.Method) && c.Request.Body != nil {
			raw, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
				if len(raw) > maxBodyBytes {
					raw = raw[:maxBodyBytes]
				}
				c.Set(CtxBodyBytes, raw)
			}
		}

		c.Next()
	}
}

func bodyRelevant(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return false
	}
	return true
}

// GetRequestID returns the ID assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(CtxRequestID)
}

// RequestDuration returns elapsed time since RequestID ran.
func RequestDuration(c *gin.Context) time.Duration {
	start, ok := c.Get(CtxStartTime)
	if !ok {
		return 0
	}
	t, ok := start.(time.Time)
	if !ok {
		return 0
	}
	return time.Since(t)
}

// CapturedBody returns the retained body bytes, or nil.
func CapturedBody(c *gin.Context) []byte {
	raw, ok := c.Get(CtxBodyBytes)
	if !ok {
		return nil
	}
	b, _ := raw.([]byte)
	return b
}
