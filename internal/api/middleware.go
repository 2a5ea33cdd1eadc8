package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
)

const (
	actorKey = "actor"

	// RequestIDHeader carries the request id in and out.
	RequestIDHeader = "X-Request-ID"
)

// RequestID assigns each request an id, honouring an incoming header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Request.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Next()
	}
}

// AccessLog logs one line per request. Query strings are redacted.
func AccessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		reqLogger := logging.FromContext(c.Request.Context(), logger)
		if actor, ok := actorFrom(c); ok {
			reqLogger = logging.WithActor(reqLogger, actor.ID, string(actor.Role))
		}

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = reqLogger.Error()
		case status >= 400:
			event = reqLogger.Warn()
		default:
			event = reqLogger.Info()
		}

		event = event.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start))
		if query != "" {
			event = event.Str("query", logging.RedactQuery(query))
		}
		if len(c.Errors) > 0 {
			event = event.Str("error", logging.Redact(c.Errors.String()))
		}
		event.Msg("request")
	}
}

// Auth resolves the caller from a bearer token. The token may also be
// passed as ?token= for clients that cannot set headers, such as
// EventSource.
func Auth(verifier *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if header := c.GetHeader("Authorization"); header != "" {
			scheme, value, ok := strings.Cut(header, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			fail(c, http.StatusUnauthorized, kindUnauthorized, "authorization is required")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			fail(c, http.StatusUnauthorized, kindUnauthorized, "invalid or expired token")
			return
		}
		actor, err := identity.Resolve(claims)
		if err != nil {
			fail(c, http.StatusUnauthorized, kindUnauthorized, err.Error())
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (models.Actor, bool) {
	value, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	return actor, ok
}

// caller returns the authenticated actor. Auth guarantees it is present.
func caller(c *gin.Context) models.Actor {
	actor, _ := actorFrom(c)
	return actor
}
