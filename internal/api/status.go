package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/domain"
)

// handleStatus implements GET /api/livestream/status[?streamId=] — the
// public, unauthenticated "what's on now" projection. Never includes a
// streamKey (§6, §9 "duplicated legacy collections"). With streamId set it
// fetches that one stream (404 if not found); otherwise it returns the
// platform-wide isLive/streams/primaryStream|scheduled projection, cached
// briefly: 10s while live, 30s while offline, so polling clients don't
// re-run the schedule query on every request.
func (s *Server) handleStatus(c *gin.Context) {
	if streamID := c.Query("streamId"); streamID != "" {
		sl, err := s.sched.GetSlot(c.Request.Context(), streamID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stream": publicSlot(sl)})
		return
	}

	now := s.clk.Now()

	s.statusMu.Lock()
	if s.statusCache != nil && now.Before(s.statusCacheUntil) {
		body := s.statusCache
		s.statusMu.Unlock()
		c.JSON(http.StatusOK, body)
		return
	}
	s.statusMu.Unlock()

	all, err := s.sched.AllSlots(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	var live []domain.Slot
	var scheduled *domain.Slot
	for i := range all {
		sl := all[i]
		switch {
		case sl.Status == domain.StatusLive:
			live = append(live, sl)
		case sl.Status == domain.StatusScheduled && sl.Start.After(now):
			if scheduled == nil || sl.Start.Before(scheduled.Start) {
				cp := sl
				scheduled = &cp
			}
		}
	}

	streams := make([]*publicView, 0, len(live))
	for i := range live {
		streams = append(streams, publicSlot(&live[i]))
	}

	body := gin.H{
		"success": true,
		"isLive":  len(streams) > 0,
		"streams": streams,
	}
	if len(streams) > 0 {
		body["primaryStream"] = streams[0]
	} else if scheduled != nil {
		body["scheduled"] = publicSlot(scheduled)
	}

	ttl := 30 * time.Second
	if len(streams) > 0 {
		ttl = 10 * time.Second
	}

	s.statusMu.Lock()
	s.statusCache = body
	s.statusCacheUntil = now.Add(ttl)
	s.statusMu.Unlock()

	c.JSON(http.StatusOK, body)
}
