package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/domain"
)

// handleAllowancesList implements GET /api/livestream/allowances.
func (s *Server) handleAllowancesList(c *gin.Context) {
	list, err := s.admin.ListAllowances(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "allowances": list})
}

// handleAllowancesUpsert implements POST /api/livestream/allowances.
func (s *Server) handleAllowancesUpsert(c *gin.Context) {
	var a domain.DJAllowanceOverride
	if err := c.ShouldBindJSON(&a); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	if err := s.admin.UpsertAllowance(c.Request.Context(), a); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type deleteAllowanceRequest struct {
	DJID string `json:"djId"`
}

// handleAllowancesDelete implements DELETE /api/livestream/allowances.
func (s *Server) handleAllowancesDelete(c *gin.Context) {
	var req deleteAllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DJID == "" {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "djId is required"))
		return
	}
	if err := s.admin.DeleteAllowance(c.Request.Context(), req.DJID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleChatCleanupList implements GET /api/livestream/chat-cleanup, and
// GET .../chat-cleanup?execute=true to run the due-job sweep inline instead
// of listing.
func (s *Server) handleChatCleanupList(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("execute") == "true" {
		executed, err := s.admin.ExecuteDueChatCleanups(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "executed": executed})
		return
	}
	jobs, err := s.admin.ListChatCleanupJobs(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

type chatCleanupCommandRequest struct {
	Action    string `json:"action"` // schedule | cancel | execute
	StreamID  string `json:"streamId"`
	CleanupAt string `json:"cleanupAt"`
}

// handleChatCleanupCommand implements POST /api/livestream/chat-cleanup.
func (s *Server) handleChatCleanupCommand(c *gin.Context) {
	var req chatCleanupCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "schedule":
		at, err := time.Parse(time.RFC3339, req.CleanupAt)
		if err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "cleanupAt must be RFC3339"))
			return
		}
		job, err := s.admin.ScheduleChatCleanup(ctx, req.StreamID, at)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "job": job})

	case "cancel":
		if err := s.admin.CancelChatCleanup(ctx, req.StreamID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "execute":
		executed, err := s.admin.ExecuteDueChatCleanups(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "executed": executed})

	default:
		writeError(c, apperr.New(apperr.KindInvalidRequest, "unknown action"))
	}
}
