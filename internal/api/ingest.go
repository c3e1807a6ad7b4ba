package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/signing"
)

// validateBody is the control-plane (POST) shape used by RTMP ingest
// servers that support an HTTP publish callback. §9 Open Question b unifies
// it and the GET query-string shape behind the same extraction priority
// order (credential.ExtractKeyFromIngest): key, name, streamKey. The
// validate-stream routes have no key path segment, so both handlers pass no
// path and a key carried only in the URL path is not read.
type validateBody struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	StreamKey string `json:"streamKey"`
}

// handleValidateStreamPOST implements POST /api/livestream/validate-stream —
// the ingest-server publish callback. Responds 200/allow or an error
// status; the ingest server enforces the decision.
func (s *Server) handleValidateStreamPOST(c *gin.Context) {
	raw, _ := c.GetRawData()
	var body validateBody
	_ = json.Unmarshal(raw, &body)

	bodyMap := map[string]any{"key": body.Key, "name": body.Name, "streamKey": body.StreamKey}
	key := credential.ExtractKeyFromIngest(nil, bodyMap, "")
	s.respondValidate(c, key)
}

// handleValidateStreamGET implements GET /api/livestream/validate-stream —
// the query-string shape some ingest servers use instead of a POST body.
func (s *Server) handleValidateStreamGET(c *gin.Context) {
	q := map[string]string{}
	for _, k := range []string{"key", "name", "streamKey"} {
		if v := c.Query(k); v != "" {
			q[k] = v
		}
	}
	key := credential.ExtractKeyFromIngest(q, nil, "")
	s.respondValidate(c, key)
}

func (s *Server) respondValidate(c *gin.Context, key string) {
	if key == "" {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "no stream key present in request"))
		return
	}
	slot, err := s.sess.ValidateStreamKey(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "allowed": true, "slotId": slot.ID, "djId": slot.DJID})
}

type webhookBody struct {
	Event     string         `json:"event"`
	StreamKey string         `json:"streamKey"`
	ClientIP  string         `json:"clientIp"`
	Metadata  map[string]any `json:"metadata"`
}

// handleWebhook implements POST /api/livestream/red5-webhook. Verifies the
// HMAC-SHA256 request signature, then always responds 200 regardless of
// reconciliation outcome — failures are logged, never surfaced to the
// ingest server (§4.2).
func (s *Server) handleWebhook(c *gin.Context) {
	raw, _ := c.GetRawData()

	sig := c.GetHeader("X-Red5-Signature")
	if sig == "" {
		sig = c.GetHeader("X-Webhook-Signature")
	}
	if s.webhookSecret != "" && !signing.VerifyHMACHex(s.webhookSecret, string(raw), sig) {
		writeError(c, apperr.New(apperr.KindUnauthorized, "invalid webhook signature"))
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}

	ev := session.WebhookEvent{
		Event: body.Event, StreamKey: body.StreamKey, ClientIP: body.ClientIP, Metadata: body.Metadata,
		Timestamp: s.clk.Now(),
	}
	if err := s.sess.ProcessWebhook(c.Request.Context(), ev); err != nil {
		s.log.Warn("api: webhook reconciliation failed", "event", ev.Event, "err", err)
	}
	if ev.Event == "unpublish" {
		if slot, err := s.sched.FindSlotByStreamKey(c.Request.Context(), ev.StreamKey); err == nil {
			if sweepErr := s.react.SweepInactiveOnStreamEnd(c.Request.Context(), slot.ID); sweepErr != nil {
				s.log.Warn("api: viewer-session sweep on unpublish failed", "slotId", slot.ID, "err", sweepErr)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
