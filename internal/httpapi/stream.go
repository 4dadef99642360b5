package httpapi

import (
	"io"
	"net/http"
	"time"

	"callpilot/internal/events"
	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	wsWriteTimeout      = 5 * time.Second
	wsReadLimit         = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamsDone is nil, and so never ready, when no Streams context is set.
func (h Handlers) streamsDone() <-chan struct{} {
	if h.Streams == nil {
		return nil
	}
	return h.Streams.Done()
}

func (h Handlers) pingInterval() time.Duration {
	if h.PingInterval > 0 {
		return h.PingInterval
	}
	return defaultPingInterval
}

// EventsWS streams every call event as one JSON text frame. ?call_id= narrows
// the stream to one call. Slow clients miss events rather than stall the bus.
func (h Handlers) EventsWS(c *gin.Context) {
	log := logger.FromGin(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.Bus.Subscribe(events.DefaultBuffer)
	defer sub.Close()
	filter := c.Query("call_id")
	ping := h.pingInterval()

	// The dashboard never sends data; reading only services control frames
	// and notices the client going away.
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * ping))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	closing := h.streamsDone()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev := <-sub.Events():
			if filter != "" && ev.CallID != filter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

// EventsSSE is the Server-Sent Events variant of EventsWS.
func (h Handlers) EventsSSE(c *gin.Context) {
	sub := h.Bus.Subscribe(events.DefaultBuffer)
	defer sub.Close()
	filter := c.Query("call_id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.pingInterval())
	defer ticker.Stop()

	// Flush headers so clients see the stream open before the first event.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	closing := h.streamsDone()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-closing:
			return false
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case ev := <-sub.Events():
			if filter == "" || ev.CallID == filter {
				c.SSEvent("call_update", ev)
			}
			return true
		}
	})
}
