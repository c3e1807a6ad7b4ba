package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
)

// handlePlaylistGet implements GET /api/playlist — the current global
// playlist snapshot plus the latecomer seek offset (§4.5 Synchronization
// contract).
func (s *Server) handlePlaylistGet(c *gin.Context) {
	gp, err := s.playlist.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"queue":        gp.Queue,
		"currentIndex": gp.CurrentIndex,
		"isPlaying":    gp.IsPlaying,
		"current":      gp.CurrentItem(),
		"seekOffset":   s.playlist.SeekOffset(gp).Seconds(),
		"lastUpdated":  gp.LastUpdated,
	})
}

type playlistAddRequest struct {
	URL      string `json:"url"`
	UserName string `json:"userName"`
}

// handlePlaylistAdd implements POST /api/playlist/add.
func (s *Server) handlePlaylistAdd(c *gin.Context) {
	ident, hasIdent := identityFrom(c)
	var req playlistAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	userID := ident.UserID
	userName := ident.Name
	if !hasIdent {
		userID = "anon:" + c.ClientIP()
		if req.UserName != "" {
			userName = req.UserName
		} else {
			userName = "Anonymous"
		}
	}
	item, err := s.playlist.Add(c.Request.Context(), req.URL, userID, userName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": item})
}

// handlePlaylistRemove implements DELETE /api/playlist/:itemId.
func (s *Server) handlePlaylistRemove(c *gin.Context) {
	ident, _ := identityFrom(c)
	itemID := c.Param("itemId")
	if err := s.playlist.Remove(c.Request.Context(), itemID, ident.UserID, ident.IsAdmin()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
