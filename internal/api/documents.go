package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/models"
)

type createDocumentRequest struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	OwnerID     string         `json:"owner_id"`
	IssuerID    string         `json:"issuer_id"`
	IssueDate   string         `json:"issue_date"`
	ValidUntil  string         `json:"valid_until"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata"`
}

type documentDecisionRequest struct {
	ApproverID string `json:"approver_id"`
	RejectorID string `json:"rejector_id"`
	RevokerID  string `json:"revoker_id"`
	Comment    string `json:"comment"`
	Reason     string `json:"reason"`
}

type statusRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (s *Server) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	in := engine.CreateDocumentInput{
		ID:          req.ID,
		Type:        req.Type,
		OwnerID:     req.OwnerID,
		IssuerID:    req.IssuerID,
		ContentHash: req.ContentHash,
		Metadata:    req.Metadata,
	}
	var err error
	if strings.TrimSpace(req.IssueDate) != "" {
		if in.IssueDate, err = models.ParseDate(req.IssueDate); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if in.ValidUntil, err = models.ParseValidity(req.ValidUntil); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.engine.CreateDocument(c.Request.Context(), caller(c), in)
	s.respond(c, http.StatusCreated, res, err)
}

func (s *Server) submitDocument(c *gin.Context) {
	res, err := s.engine.SubmitDocument(c.Request.Context(), caller(c), c.Param("id"))
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) approveDocument(c *gin.Context) {
	var req documentDecisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.ApproveDocument(c.Request.Context(), caller(c), c.Param("id"), req.ApproverID, req.Comment)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) rejectDocument(c *gin.Context) {
	var req documentDecisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.RejectDocument(c.Request.Context(), caller(c), c.Param("id"), req.RejectorID, req.Reason)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) revokeDocument(c *gin.Context) {
	var req documentDecisionRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := s.engine.RevokeDocument(c.Request.Context(), caller(c), c.Param("id"), req.RevokerID, req.Reason)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) forceDocumentStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	res, err := s.engine.ForceDocumentStatus(c.Request.Context(), caller(c), c.Param("id"), models.DocumentState(upper(req.State)), req.Reason)
	s.respond(c, http.StatusOK, res, err)
}

func (s *Server) verifyDocument(c *gin.Context) {
	res, err := s.engine.VerifyDocument(c.Request.Context(), caller(c), c.Param("id"), c.Query("hash"))
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, res)
}

func (s *Server) getDocument(c *gin.Context) {
	d, err := s.engine.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, d)
}

func (s *Server) documentHistory(c *gin.Context) {
	entries, err := s.engine.DocumentHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, entries)
}

// listDocuments accepts at most one of owner or state.
func (s *Server) listDocuments(c *gin.Context) {
	page, ok := pageParams(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		result *engine.DocumentPage
		err    error
	)
	switch {
	case c.Query("owner") != "":
		result, err = s.engine.ListDocumentsByOwner(ctx, c.Query("owner"), page)
	case c.Query("state") != "":
		result, err = s.engine.ListDocumentsByState(ctx, models.DocumentState(upper(c.Query("state"))), page)
	default:
		result, err = s.engine.ListDocuments(ctx, page)
	}
	if err != nil {
		engineError(c, err)
		return
	}
	success(c, result)
}
