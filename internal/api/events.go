package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/civicledger/approvald/internal/db"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/models"
)

const (
	streamBuffer      = 64
	heartbeatInterval = 30 * time.Second
)

// listEvents pages through the outbox. Filters: type, entity_type, entity_id.
func (s *Server) listEvents(c *gin.Context) {
	if s.eventLog == nil {
		fail(c, http.StatusNotImplemented, kindUnavailable, "event log is not available for this storage backend")
		return
	}

	q := db.EventQuery{Cursor: c.Query("cursor"), Limit: 100}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}
	if v := c.Query("type"); v != "" {
		t := models.EventType(v)
		q.Type = &t
	}
	if v := c.Query("entity_type"); v != "" {
		et := models.EntityType(v)
		q.EntityType = &et
	}
	if v := c.Query("entity_id"); v != "" {
		q.EntityID = &v
	}

	page, err := s.eventLog.Query(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	success(c, page)
}

// streamEvents relays published events as server-sent events.
func (s *Server) streamEvents(c *gin.Context) {
	if s.publisher == nil {
		fail(c, http.StatusNotImplemented, kindUnavailable, "event stream is not enabled")
		return
	}

	filter := events.Filter{EntityID: c.Query("entity_id")}
	for _, t := range c.QueryArray("type") {
		filter.EventTypes = append(filter.EventTypes, models.EventType(t))
	}
	for _, et := range c.QueryArray("entity_type") {
		filter.EntityTypes = append(filter.EntityTypes, models.EntityType(et))
	}

	clientID := "sse-" + uuid.NewString()
	stream := make(chan *models.Event, streamBuffer)
	err := s.publisher.Subscribe(clientID, filter, func(event *models.Event) {
		select {
		case stream <- event:
		default:
			s.logger.Warn().Str("client_id", clientID).Str("event_id", event.ID).Msg("sse client too slow, event dropped")
		}
	})
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	defer func() { _ = s.publisher.Unsubscribe(clientID) }()

	// The stream outlives the server-wide write timeout.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug().Err(err).Str("client_id", clientID).Msg("cannot clear write deadline")
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("connected", gin.H{"client_id": clientID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case event := <-stream:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to encode event")
				continue
			}
			_, _ = fmt.Fprintf(c.Writer, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
			c.Writer.Flush()
		case <-heartbeat.C:
			_, _ = c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
