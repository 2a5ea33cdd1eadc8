package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/models"
)

type createWorkflowRequest struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	TargetID    string          `json:"target_id"`
	RequesterID string          `json:"requester_id"`
	ApproverIDs []string        `json:"approver_ids"`
	Details     json.RawMessage `json:"details"`
	Priority    string          `json:"priority"`
	Deadline    string          `json:"deadline"`
}

type decisionRequest struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment"`
	Reason     string `json:"reason"`
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	in := engine.CreateWorkflowInput{
		ID:          req.ID,
		Kind:        models.WorkflowKind(upper(req.Kind)),
		TargetID:    req.TargetID,
		RequesterID: req.RequesterID,
		ApproverIDs: req.ApproverIDs,
		Details:     req.Details,
		Priority:    models.Priority(upper(req.Priority)),
	}
	if strings.TrimSpace(req.Deadline) != "" {
		deadline, err := models.ParseDate(req.Deadline)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		in.Deadline = &deadline
	}

	res, err := s.engine.CreateWorkflow(c.Request.Context(), caller(c), in)
	s.respond(c, http.StatusCreated, res, err)
}

func (s *Server) approveWorkflow(c *gin.Context) {
	var req decisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.ApproveWorkflow(c.Request.Context(), caller(c), c.Param("id"), req.ApproverID, req.Comment)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) rejectWorkflow(c *gin.Context) {
	var req decisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.RejectWorkflow(c.Request.Context(), caller(c), c.Param("id"), req.ApproverID, req.Reason)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	var req decisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.CancelWorkflow(c.Request.Context(), caller(c), c.Param("id"), req.Reason)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) getWorkflow(c *gin.Context) {
	w, err := s.engine.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, w)
}

func (s *Server) workflowHistory(c *gin.Context) {
	entries, err := s.engine.WorkflowHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, entries)
}

// listWorkflows accepts at most one of state, kind, target or approver.
func (s *Server) listWorkflows(c *gin.Context) {
	page, ok := pageParams(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		result *engine.WorkflowPage
		err    error
	)
	switch {
	case c.Query("state") != "":
		result, err = s.engine.ListWorkflowsByState(ctx, models.WorkflowState(upper(c.Query("state"))), page)
	case c.Query("kind") != "":
		result, err = s.engine.ListWorkflowsByKind(ctx, models.WorkflowKind(upper(c.Query("kind"))), page)
	case c.Query("target") != "":
		result, err = s.engine.ListWorkflowsByTarget(ctx, c.Query("target"), page)
	case c.Query("approver") != "":
		result, err = s.engine.ListPendingForApprover(ctx, c.Query("approver"), page)
	default:
		result, err = s.engine.ListWorkflows(ctx, page)
	}
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, result)
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, into any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBindJSON(into); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pageParams(c *gin.Context) (engine.Page, bool) {
	page := engine.Page{Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return engine.Page{}, false
		}
		page.Limit = limit
	}
	return page, true
}

func upper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
