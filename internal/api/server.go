// Package api serves the engine over HTTP with gin.
//
// Every /v1 route requires a bearer token; the token subject and role claim
// become the caller passed to the engine. Mutations answer with the
// engine's TransitionResult, queries with the entity or page.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/db"
	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
)

// EventLog is the queryable event outbox.
type EventLog interface {
	Query(ctx context.Context, q db.EventQuery) (*db.EventPage, error)
}

// Options configures a Server.
type Options struct {
	Engine   *engine.Engine
	Verifier *identity.Verifier

	// Publisher feeds the SSE stream.
	Publisher events.Publisher

	// Sink, when set, receives each result's events right after the call.
	// Leave nil when an outbox relay delivers them instead.
	Sink events.Sink

	// EventLog enables GET /v1/events.
	EventLog EventLog

	Logger *zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	engine    *engine.Engine
	verifier  *identity.Verifier
	publisher events.Publisher
	sink      events.Sink
	eventLog  EventLog
	logger    zerolog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	logger := logging.Component("api")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Server{
		engine:    opts.Engine,
		verifier:  opts.Verifier,
		publisher: opts.Publisher,
		sink:      opts.Sink,
		eventLog:  opts.EventLog,
		logger:    logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", Auth(s.verifier))

	wf := v1.Group("/workflows")
	wf.POST("", s.createWorkflow)
	wf.GET("", s.listWorkflows)
	wf.GET("/:id", s.getWorkflow)
	wf.GET("/:id/history", s.workflowHistory)
	wf.POST("/:id/approve", s.approveWorkflow)
	wf.POST("/:id/reject", s.rejectWorkflow)
	wf.POST("/:id/cancel", s.cancelWorkflow)

	doc := v1.Group("/documents")
	doc.POST("", s.createDocument)
	doc.GET("", s.listDocuments)
	doc.GET("/:id", s.getDocument)
	doc.GET("/:id/history", s.documentHistory)
	doc.GET("/:id/verify", s.verifyDocument)
	doc.POST("/:id/submit", s.submitDocument)
	doc.POST("/:id/approve", s.approveDocument)
	doc.POST("/:id/reject", s.rejectDocument)
	doc.POST("/:id/revoke", s.revokeDocument)
	doc.PUT("/:id/status", s.forceDocumentStatus)

	v1.GET("/events", s.listEvents)
	v1.GET("/events/stream", s.streamEvents)

	return r
}

// respond writes a mutation result and forwards its events.
func (s *Server) respond(c *gin.Context, status int, res *models.TransitionResult, err error) {
	if err != nil {
		engineError(c, err)
		return
	}
	if s.sink != nil && len(res.Events) > 0 {
		if perr := events.PublishAll(c.Request.Context(), s.sink, res.Events); perr != nil {
			s.logger.Warn().Err(perr).Str("id", res.ID).Msg("event publish failed")
		}
	}
	c.JSON(status, Response{Message: "success", Data: res})
}
