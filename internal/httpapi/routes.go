package httpapi

import (
	"time"

	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LogRoutes tells the request logger which routes are probes and which are
// long-lived event streams.
var LogRoutes = logger.RouteOptions{
	Quiet:   []string{"/healthz", "/metrics"},
	Streams: []string{"/v1/events/ws", "/v1/events/stream"},
}

// Register wires every route onto r.
// Keep this file free of business logic.
func (h Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	v1.GET("/config", h.GetConfig)
	v1.GET("/provider/health", h.ProviderHealth)

	calls := v1.Group("/calls")
	{
		calls.POST("", h.CreateCall)
		calls.POST("/bulk", h.CreateCallsBulk)
		calls.POST("/cleanup", h.CleanupCalls)
		calls.GET("", h.ListCalls)
		calls.GET("/:id", h.GetCall)
		calls.POST("/:id/terminate", h.TerminateCall)
	}

	v1.GET("/reports/summary", h.ReportSummary)

	ev := v1.Group("/events")
	{
		ev.GET("/ws", h.EventsWS)
		ev.GET("/stream", h.EventsSSE)
	}
}

// Instrument records request counts and latency by route template.
func (h Handlers) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.Metrics.HTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
