package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/erp/orderboard/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSE event names
const (
	EventConnected    = "connected"
	EventChange       = "change"
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
	EventClosed       = "closed"
)

// SSEMessage is one server-sent event
type SSEMessage struct {
	Event string
	ID    string
	Data  string
}

// StreamHandler streams a session's changes and notifications over SSE.
// A connected stream consumes the session's notifications.
type StreamHandler struct {
	BaseHandler
	sessions   *DashboardHandler
	logger     *zap.Logger
	heartbeat  time.Duration
	buffer     int
	maxStreams int
	active     atomic.Int64
}

// StreamOption configures a StreamHandler
type StreamOption func(*StreamHandler)

// WithStreamLogger sets the logger for the handler
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *StreamHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStreamHeartbeat sets the heartbeat interval
func WithStreamHeartbeat(interval time.Duration) StreamOption {
	return func(h *StreamHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithStreamBuffer sets the per-stream change buffer
func WithStreamBuffer(size int) StreamOption {
	return func(h *StreamHandler) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithMaxStreams caps concurrent streams; zero means unlimited
func WithMaxStreams(max int) StreamOption {
	return func(h *StreamHandler) { h.maxStreams = max }
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(sessions *DashboardHandler, opts ...StreamOption) *StreamHandler {
	h := &StreamHandler{
		sessions:  sessions,
		logger:    zap.NewNop(),
		heartbeat: 30 * time.Second,
		buffer:    64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ActiveStreams returns the number of connected streams
func (h *StreamHandler) ActiveStreams() int {
	return int(h.active.Load())
}

// Stream holds the connection open and forwards changes, notifications and
// heartbeats until the client leaves or the session closes
func (h *StreamHandler) Stream(c *gin.Context) {
	s, ok := h.sessions.session(c)
	if !ok {
		return
	}
	if h.maxStreams > 0 && int(h.active.Load()) >= h.maxStreams {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeRateLimited, "Maximum number of streams reached")
		return
	}
	h.active.Add(1)
	defer h.active.Add(-1)

	changes, cancel := s.Watch(h.buffer)
	defer cancel()
	notes := s.Notifications()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	log := h.logger.With(zap.String("session_id", s.ID()), zap.String("user_id", s.Viewer().ID))
	log.Info("stream connected")

	h.send(c, SSEMessage{
		Event: EventConnected,
		ID:    strconv.FormatUint(s.Cache().Generation(), 10),
		Data:  h.marshal(gin.H{"session_id": s.ID(), "generation": s.Cache().Generation(), "size": s.Cache().Len()}),
	})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info("stream disconnected")
			return
		case change, open := <-changes:
			if !open {
				h.send(c, SSEMessage{Event: EventClosed, Data: h.marshal(gin.H{"session_id": s.ID()})})
				log.Info("stream closed with session")
				return
			}
			h.send(c, SSEMessage{
				Event: EventChange,
				ID:    strconv.FormatUint(change.Generation, 10),
				Data:  h.marshal(change),
			})
		case note, open := <-notes:
			if !open {
				notes = nil
				continue
			}
			h.send(c, SSEMessage{Event: EventNotification, Data: h.marshal(note)})
		case now := <-ticker.C:
			h.send(c, SSEMessage{Event: EventHeartbeat, Data: fmt.Sprintf(`{"timestamp":%d}`, now.Unix())})
		}
	}
}

func (h *StreamHandler) marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal stream event", zap.Error(err))
		return "{}"
	}
	return string(data)
}

func (h *StreamHandler) send(c *gin.Context, msg SSEMessage) {
	writeEvent(c.Writer, msg)
	c.Writer.Flush()
}

// writeEvent writes an SSE event to w
func writeEvent(w io.Writer, msg SSEMessage) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	if msg.ID != "" {
		fmt.Fprintf(w, "id: %s\n", msg.ID)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}
