package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/events"
	"callpilot/internal/metrics"
	"callpilot/internal/orchestrator"
	"callpilot/internal/reporting"
	"callpilot/internal/telephony"
	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Orch     *orchestrator.Orchestrator
	Provider telephony.Provider
	Reports  *reporting.Service
	Bus      *events.Bus
	Metrics  *metrics.Metrics

	// Settings is the non-secret configuration echoed by GET /v1/config.
	Settings any

	// PingInterval is the keepalive period for event streams.
	PingInterval time.Duration

	// Streams ends every open event stream when cancelled. Ordinary requests
	// do not watch it, so the server can still drain them on shutdown.
	Streams context.Context
}

const (
	maxBulkCalls        = 100
	providerHealthLimit = 10 * time.Second
)

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "in_flight": h.Orch.InFlight()})
}

func (h Handlers) GetConfig(c *gin.Context) {
	out := gin.H{"orchestrator": configView(h.Orch.Config())}
	if h.Provider != nil {
		out["provider"] = h.Provider.Name()
	}
	if h.Settings != nil {
		out["settings"] = h.Settings
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ProviderHealth(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "provider not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), providerHealthLimit)
	defer cancel()
	if err := h.Provider.HealthCheck(ctx); err != nil {
		logger.FromGin(c).Warn("provider health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "provider": h.Provider.Name(), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": h.Provider.Name()})
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req calls.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id, err := h.Orch.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": id, "status": calls.StatusPending})
}

type bulkRequest struct {
	Calls []calls.CallRequest `json:"calls"`
}

type bulkItem struct {
	Index   int                `json:"index"`
	CallID  string             `json:"call_id,omitempty"`
	Error   string             `json:"error,omitempty"`
	Details []calls.FieldError `json:"details,omitempty"`
}

// CreateCallsBulk submits every item independently. 202 when all were
// accepted, 207 when some failed.
func (h Handlers) CreateCallsBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Calls) == 0 || len(req.Calls) > maxBulkCalls {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "calls must hold between 1 and " + strconv.Itoa(maxBulkCalls) + " items"})
		return
	}

	res := h.Orch.SubmitBatch(c.Request.Context(), req.Calls)
	items := make([]bulkItem, 0, len(res))
	accepted := 0
	for _, r := range res {
		it := bulkItem{Index: r.Index, CallID: r.CallID}
		if r.Err != nil {
			it.Error = r.Err.Error()
			var verr *calls.ValidationError
			if errors.As(r.Err, &verr) {
				it.Details = verr.Fields
			}
		} else {
			accepted++
		}
		items = append(items, it)
	}
	code := http.StatusAccepted
	if accepted < len(items) {
		code = http.StatusMultiStatus
	}
	c.JSON(code, gin.H{"accepted": accepted, "results": items})
}

func (h Handlers) ListCalls(c *gin.Context) {
	f := calls.ListFilter{}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s := c.Query("status"); s != "" {
		st, ok := calls.ParseStatus(s)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(s)})
			return
		}
		f.Status = st
	}

	rows, err := h.Orch.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows)})
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) TerminateCall(c *gin.Context) {
	call, err := h.Orch.Terminate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CleanupCalls(c *gin.Context) {
	n, err := h.Orch.CleanupStuck(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("cleanup finished with errors", "cleaned", n, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"cleaned": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaned": n})
}

func (h Handlers) ReportSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	days, err := queryInt(c, "days")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{Days: days})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func configView(cfg orchestrator.Config) gin.H {
	return gin.H{
		"poll_interval_seconds":  cfg.PollInterval.Seconds(),
		"max_polls":              cfg.MaxPolls,
		"queue_stuck_polls":      cfg.QueueStuckPolls,
		"max_consecutive_errors": cfg.MaxConsecutiveErrors,
		"stale_after_seconds":    cfg.StaleAfter.Seconds(),
		"max_concurrent":         cfg.MaxConcurrent,
		"polling_window_seconds": (cfg.PollInterval * time.Duration(cfg.MaxPolls)).Seconds(),
	}
}
