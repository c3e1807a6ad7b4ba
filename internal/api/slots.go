package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
)

// handleSlotsQuery implements GET /api/livestream/slots, including the
// action=checkStreamKey|currentLive|canGoLiveAfter|history special cases
// (§6).
func (s *Server) handleSlotsQuery(c *gin.Context) {
	switch c.Query("action") {
	case "checkStreamKey":
		djID := c.Query("djId")
		if djID == "" {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "djId is required"))
			return
		}
		status, err := s.sess.KeyRevealStatus(c.Request.Context(), djID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "keyAvailable": status.KeyAvailable, "timeUntilKey": status.TimeUntilKey.Seconds(), "slot": publicSlot(status.Slot)})
		return

	case "currentLive":
		status, err := s.sess.CurrentLiveStatus(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true, "slot": publicSlot(status.Slot),
			"timeRemaining": status.TimeRemaining.Seconds(), "showCountdown": status.ShowCountdown,
		})
		return

	case "canGoLiveAfter":
		djID := c.Query("djId")
		if djID == "" {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "djId is required"))
			return
		}
		can, err := s.sess.CanGoLiveAfter(c.Request.Context(), djID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "canGoLiveAfter": can})
		return

	case "history":
		slots, err := s.sched.History(c.Request.Context(), c.Query("djId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "slots": slots})
		return
	}

	now := s.clk.Now()
	start := parseTimeParam(c.Query("start"), now.AddDate(0, 0, -1))
	end := parseTimeParam(c.Query("end"), now.AddDate(0, 0, 30))
	qw, err := s.sched.QuerySchedule(c.Request.Context(), start, end, c.Query("djId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slots": qw.Slots, "currentLive": publicSlot(qw.CurrentLive), "upcoming": qw.Upcoming})
}

type slotsCommandRequest struct {
	Action      string `json:"action"`
	Start       string `json:"startTime"`
	DurationMin int    `json:"duration"`
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	SlotID      string `json:"slotId"`
	RelayURL    string `json:"relayUrl"`
}

// handleSlotsCommand implements POST /api/livestream/slots, dispatching on
// the body's action field (§6).
func (s *Server) handleSlotsCommand(c *gin.Context) {
	ident, _ := identityFrom(c)
	var req slotsCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "book":
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(c, apperr.New(apperr.KindInvalidRequest, "startTime must be RFC3339"))
			return
		}
		slot, err := s.sched.Book(ctx, scheduler.BookRequest{
			DJID: ident.UserID, DJName: ident.Name, Start: start, DurationMin: req.DurationMin,
			Title: req.Title, Genre: req.Genre, Description: req.Description,
		})
		respondSlot(c, slot, err)

	case "go_live_now", "go_live":
		slot, err := s.sched.GoLiveNow(ctx, scheduler.GoLiveNowRequest{
			DJID: ident.UserID, DJName: ident.Name, Title: req.Title, Genre: req.Genre, DurationMin: req.DurationMin,
		})
		respondSlot(c, slot, err)

	case "go_live_after":
		slot, err := s.sched.GoLiveAfter(ctx, scheduler.GoLiveAfterRequest{
			DJID: ident.UserID, DJName: ident.Name, DurationMin: req.DurationMin, Title: req.Title, Genre: req.Genre,
		})
		respondSlot(c, slot, err)

	case "early_start":
		slot, err := s.sched.EarlyStart(ctx, ident.UserID)
		respondSlot(c, slot, err)

	case "cancel":
		slot, err := s.sched.Cancel(ctx, req.SlotID, ident.UserID, ident.IsAdmin())
		respondSlot(c, slot, err)

	case "endStream":
		slot, err := s.sched.EndStream(ctx, req.SlotID, ident.UserID, ident.IsAdmin())
		if err == nil {
			if sweepErr := s.react.SweepInactiveOnStreamEnd(ctx, slot.ID); sweepErr != nil {
				s.log.Warn("api: viewer-session sweep on endStream failed", "slotId", slot.ID, "err", sweepErr)
			}
		}
		respondSlot(c, slot, err)

	case "getStreamKey":
		slot, rtmp, hls, err := s.sched.GetStreamKey(ctx, req.SlotID, ident.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "streamKey": slot.StreamKey, "rtmpUrl": rtmp, "hlsUrl": hls, "slot": publicSlot(slot)})

	case "generate_key":
		slot, err := s.sched.GenerateKey(ctx, ident.UserID, ident.Name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "streamKey": slot.StreamKey, "slot": publicSlot(slot)})

	case "start_relay":
		slot, err := s.sched.StartRelay(ctx, ident.UserID, ident.Name, req.RelayURL, req.DurationMin)
		respondSlot(c, slot, err)

	default:
		writeError(c, apperr.New(apperr.KindInvalidRequest, "unknown action"))
	}
}

func respondSlot(c *gin.Context, slot any, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slot": slot})
}

type slotsDeleteRequest struct {
	SlotID      string `json:"slotId"`
	AdminCancel bool   `json:"adminCancel"`
}

// handleSlotsDelete implements DELETE /api/livestream/slots — equivalent to
// the cancel action (§6).
func (s *Server) handleSlotsDelete(c *gin.Context) {
	ident, _ := identityFrom(c)
	var req slotsDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	slot, err := s.sched.Cancel(c.Request.Context(), req.SlotID, ident.UserID, ident.IsAdmin() && req.AdminCancel)
	respondSlot(c, slot, err)
}
