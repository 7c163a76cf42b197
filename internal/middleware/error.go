package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/goflare/flare/internal/capture"
	"github.com/goflare/flare/internal/pkg/apperrors"
	"github.com/goflare/flare/model"
	"github.com/goflare/flare/sqltrace"
)

// ErrorCapture converts failed requests into captured telemetry entries.
//
// Three classes, checked in order:
//   - panic                       → ERROR / unhandled_exception, stack trace,
//     generic 500 body (internals never leak to the client);
//   - validator.ValidationErrors  → WARNING / validation_error;
//   - any other gin error or 4xx/5xx status → http_exception, level by status
//     class (4xx WARNING, 5xx ERROR).
//
// Successful requests pass through untouched.
func ErrorCapture(pipeline *capture.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				entry := pipeline.Push(c.Request.Context(), capture.Params{
					Level:       model.LevelError,
					Event:       model.EventUnhandledException,
					Message:     fmt.Sprintf("panic: %v", r),
					RequestID:   GetRequestID(c),
					Endpoint:    endpointOf(c),
					HTTPMethod:  c.Request.Method,
					HTTPStatus:  http.StatusInternalServerError,
					IPAddress:   c.ClientIP(),
					DurationMs:  RequestDuration(c).Milliseconds(),
					Error:       fmt.Sprint(r),
					StackTrace:  string(debug.Stack()),
					RequestBody: decodedBody(c),
					Context:     queryContext(c),
				})
				if entry != nil {
					c.Set(CtxErrorID, entry.ID)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if len(c.Errors) == 0 && status < 400 {
			return
		}

		params := classify(c, status)
		params.RequestID = GetRequestID(c)
		params.Endpoint = endpointOf(c)
		params.HTTPMethod = c.Request.Method
		params.IPAddress = c.ClientIP()
		params.DurationMs = RequestDuration(c).Milliseconds()
		params.RequestBody = decodedBody(c)
		params.Context = queryContext(c)

		if entry := pipeline.Push(c.Request.Context(), params); entry != nil {
			c.Set(CtxErrorID, entry.ID)
		}
	}
}

// classify inspects the gin error list and the response status and picks the
// level, event, message and error detail for the entry.
func classify(c *gin.Context, status int) capture.Params {
	var lastErr error
	if len(c.Errors) > 0 {
		lastErr = c.Errors.Last().Err
	}

	var vErrs validator.ValidationErrors
	if errors.As(lastErr, &vErrs) {
		return capture.Params{
			Level:      model.LevelWarning,
			Event:      model.EventValidationError,
			HTTPStatus: statusOr(status, http.StatusUnprocessableEntity),
			Message:    firstViolation(vErrs),
			Error:      vErrs.Error(),
		}
	}

	var appErr *apperrors.AppError
	if errors.As(lastErr, &appErr) {
		return capture.Params{
			Level:      levelForStatus(appErr.HTTPStatus),
			Event:      model.EventHTTPException,
			HTTPStatus: appErr.HTTPStatus,
			Message:    appErr.Message,
			Error:      appErr.Error(),
		}
	}

	if lastErr != nil && status < 500 {
		// Non-structured error surfaced with a 4xx response.
		return capture.Params{
			Level:      model.LevelWarning,
			Event:      model.EventHTTPException,
			HTTPStatus: statusOr(status, http.StatusBadRequest),
			Message:    lastErr.Error(),
			Error:      lastErr.Error(),
		}
	}

	params := capture.Params{
		Level:      levelForStatus(status),
		Event:      model.EventHTTPException,
		HTTPStatus: status,
		Message:    http.StatusText(status),
	}
	if lastErr != nil {
		params.Level = model.LevelError
		params.Event = model.EventUnhandledException
		params.Message = lastErr.Error()
		params.Error = lastErr.Error()
	}
	return params
}

func levelForStatus(status int) model.Level {
	if status >= 500 {
		return model.LevelError
	}
	return model.LevelWarning
}

func statusOr(status, fallback int) int {
	if status >= 400 {
		return status
	}
	return fallback
}

// firstViolation renders the first failed validation in a compact,
// human-readable form.
func firstViolation(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	fe := errs[0]
	msg := fmt.Sprintf("field %q failed on the %q rule", fe.Field(), fe.Tag())
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (+%d more)", len(errs)-1)
	}
	return msg
}

// decodedBody returns the captured request body as decoded JSON when it
// parses, raw text otherwise, nil when nothing was captured.
func decodedBody(c *gin.Context) any {
	raw := CapturedBody(c)
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return strings.ToValidUTF8(string(raw), "�")
}

// queryContext attaches the queries this request ran through a traced driver,
// so slow or failing SQL shows up next to the error that followed it.
func queryContext(c *gin.Context) map[string]any {
	queries := sqltrace.Queries(c.Request.Context())
	if len(queries) == 0 {
		return nil
	}
	return map[string]any{"queries": queries}
}

func endpointOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
