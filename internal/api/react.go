package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/reactions"
)

type reactCommandRequest struct {
	Action    string `json:"action"`
	StreamID  string `json:"streamId"`
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName"`
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
	Rating    int    `json:"rating"`
	Message   string `json:"message"`
}

// handleReactCommand implements POST /api/livestream/react — presence and
// reaction mutations, dispatched on action (§4.4, §6).
func (s *Server) handleReactCommand(c *gin.Context) {
	ident, hasIdent := identityFrom(c)
	var req reactCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	if req.StreamID == "" {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "streamId is required"))
		return
	}
	userID := anonymousOr(ident.UserID, hasIdent, req.SessionID)
	userName := ident.Name
	if userName == "" {
		userName = req.UserName
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "join":
		vs, err := s.react.Join(ctx, req.StreamID, userID, req.SessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "session": vs})

	case "leave":
		if err := s.react.Leave(ctx, req.StreamID, req.SessionID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "heartbeat":
		slot, err := s.react.Heartbeat(ctx, req.StreamID, req.SessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "currentViewers": slot.CurrentViewers})

	case "like":
		slot, err := s.react.Like(ctx, req.StreamID, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "totalLikes": slot.TotalLikes})

	case "rate":
		slot, err := s.react.Rate(ctx, req.StreamID, userID, req.Rating)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "averageRating": slot.AverageRating, "ratingCount": slot.RatingCount})

	case "emoji":
		err := s.react.Emoji(ctx, req.StreamID, reactions.EmojiPayload{Emoji: req.Emoji, UserName: userName, UserID: userID, SessionID: req.SessionID})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "star":
		err := s.react.Star(ctx, req.StreamID, reactions.StarPayload{Count: req.Count, UserName: userName, UserID: userID})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "shoutout":
		err := s.react.Shoutout(ctx, req.StreamID, reactions.ShoutoutPayload{Name: userName, Message: req.Message})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	default:
		writeError(c, apperr.New(apperr.KindInvalidRequest, "unknown action"))
	}
}

// handleReactQuery implements GET /api/livestream/react — the caller's
// prior like/rating state for a stream (§6).
func (s *Server) handleReactQuery(c *gin.Context) {
	ident, hasIdent := identityFrom(c)
	streamID := c.Query("streamId")
	if streamID == "" {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "streamId is required"))
		return
	}
	userID := anonymousOr(ident.UserID, hasIdent, c.Query("sessionId"))
	rec, err := s.react.PriorRating(c.Request.Context(), streamID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "prior": rec})
}

// anonymousOr resolves the reaction-author id: the authenticated user id if
// present, else the anonymous session id (§4.4 allows anonymous viewers).
func anonymousOr(userID string, hasIdent bool, sessionID string) string {
	if hasIdent {
		return userID
	}
	return "anon:" + sessionID
}
