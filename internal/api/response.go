package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/models"
)

// Response is the body of every reply.
type Response struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	// Errors lists rejected fields on invalid_input failures.
	Errors []models.FieldError `json:"errors,omitempty"`
}

// Kind values for failures that do not come from the engine.
const (
	kindUnauthorized = "unauthorized"
	kindBadRequest   = "invalid_input"
	kindUnavailable  = "unavailable"
)

// StatusFor maps an engine error kind to an HTTP status.
func StatusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindAlreadyExists, engine.KindInvalidState, engine.KindConflict:
		return http.StatusConflict
	case engine.KindInvalidInput:
		return http.StatusBadRequest
	case engine.KindForbidden, engine.KindNotAnApprover:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Message: "success", Data: data})
}

func fail(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, Response{Kind: kind, Message: message})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, kindBadRequest, message)
}

func engineError(c *gin.Context, err error) {
	kind := engine.KindOf(err)
	message := err.Error()
	if kind == engine.KindInternal {
		_ = c.Error(err)
		message = "internal error"
	}
	resp := Response{Kind: string(kind), Message: message}
	var validation *models.ValidationErrors
	if errors.As(err, &validation) {
		resp.Errors = validation.Errors
	}
	c.AbortWithStatusJSON(StatusFor(kind), resp)
}
