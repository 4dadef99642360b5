package logger

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// RouteOptions picks the routes Middleware treats specially. Routes are gin
// full paths, e.g. "/v1/events/ws".
type RouteOptions struct {
	// Quiet routes log their summary at debug level: probes and scrapes.
	Quiet []string
	// Streams hold the request open for a whole session. They log once when
	// opened and once when closed with the session length.
	Streams []string
}

// Middleware tags each request with a request_id, and with call_id when the
// route carries an :id parameter, then logs one summary per request.
func Middleware(l *slog.Logger, opts RouteOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		route := c.FullPath()
		reqLogger := l.With("request_id", rid)
		if id := c.Param("id"); id != "" {
			reqLogger = reqLogger.With("call_id", id)
		}
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		stream := route != "" && slices.Contains(opts.Streams, route)
		if stream {
			reqLogger.Info("stream opened", "path", route, "filter_call_id", c.Query("call_id"))
		}

		c.Next()

		if route == "" {
			route = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", route,
			"status", c.Writer.Status(),
		}
		if stream {
			attrs = append(attrs, "session_ms", time.Since(start).Milliseconds())
		} else {
			attrs = append(attrs, "duration_ms", float64(time.Since(start).Milliseconds()))
		}

		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("request", attrs...)
		case stream:
			reqLogger.Info("stream closed", attrs...)
		case slices.Contains(opts.Quiet, route):
			reqLogger.Debug("request", attrs...)
		default:
			reqLogger.Info("request", attrs...)
		}
	}
}

// FromGin pulls the request-scoped logger from the gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
