// Package api implements the HTTP surface (§6): thin gin handlers binding
// JSON and delegating to the service layer, exactly the split the station's
// own (never-wired) internal/radio/handler + internal/radio/service
// packages modeled but never connected to main.go. This module wires that
// split up for real.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/admin"
	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/identity"
	"github.com/afterhours-fm/afterhours/internal/playlistcoord"
	"github.com/afterhours-fm/afterhours/internal/ratelimit"
	"github.com/afterhours-fm/afterhours/internal/reactions"
	"github.com/afterhours-fm/afterhours/internal/realtime"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
)

// Server wires every subsystem behind the gin router.
type Server struct {
	Engine *gin.Engine

	sched    *scheduler.Scheduler
	sess     *session.Service
	react    *reactions.Service
	playlist *playlistcoord.Coordinator
	admin    *admin.Service
	cred     *credential.Service
	verifier identity.Verifier
	login    *identity.LocalVerifier
	hub      *realtime.Hub
	limiter  *ratelimit.Table
	clk      clock.Clock
	log      *slog.Logger

	ingestWireShape string
	webhookSecret   string

	statusMu         sync.Mutex
	statusCache      gin.H
	statusCacheUntil time.Time
}

// Deps bundles the constructor's dependencies.
type Deps struct {
	Scheduler        *scheduler.Scheduler
	Session          *session.Service
	Reactions        *reactions.Service
	Playlist         *playlistcoord.Coordinator
	Admin            *admin.Service
	Credential       *credential.Service
	Verifier         identity.Verifier
	Login            *identity.LocalVerifier
	Hub              *realtime.Hub
	Limiter          *ratelimit.Table
	Clock            clock.Clock
	Logger           *slog.Logger
	IngestWireShape  string
	WebhookSecret    string
}

func NewServer(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		Engine: engine, sched: d.Scheduler, sess: d.Session, react: d.Reactions,
		playlist: d.Playlist, admin: d.Admin, cred: d.Credential, verifier: d.Verifier,
		login: d.Login, hub: d.Hub, limiter: d.Limiter, clk: d.Clock, log: d.Logger,
		ingestWireShape: d.IngestWireShape, webhookSecret: d.WebhookSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Engine.Use(securityHeaders())

	s.Engine.POST("/api/auth/login", s.handleLogin)

	live := s.Engine.Group("/api/livestream")
	live.GET("/slots", s.handleSlotsQuery)
	live.POST("/slots", s.authRequired(), s.handleSlotsCommand)
	live.DELETE("/slots", s.authRequired(), s.handleSlotsDelete)
	live.GET("/status", s.handleStatus)
	live.POST("/validate-stream", s.handleValidateStreamPOST)
	live.GET("/validate-stream", s.handleValidateStreamGET)
	live.POST("/red5-webhook", s.handleWebhook)
	live.POST("/react", s.authOptional(), s.rateLimited(ratelimit.RuleJoinHeartbeat), s.handleReactCommand)
	live.GET("/react", s.handleReactQuery)
	live.GET("/allowances", s.authRequired(), s.adminOnly(), s.handleAllowancesList)
	live.POST("/allowances", s.authRequired(), s.adminOnly(), s.handleAllowancesUpsert)
	live.DELETE("/allowances", s.authRequired(), s.adminOnly(), s.handleAllowancesDelete)
	live.GET("/chat-cleanup", s.authRequired(), s.adminOnly(), s.handleChatCleanupList)
	live.POST("/chat-cleanup", s.authRequired(), s.adminOnly(), s.handleChatCleanupCommand)

	playlist := s.Engine.Group("/api/playlist")
	playlist.GET("", s.handlePlaylistGet)
	playlist.POST("/add", s.authOptional(), s.rateLimited(ratelimit.RuleJoinHeartbeat), s.handlePlaylistAdd)
	playlist.DELETE("/:itemId", s.authRequired(), s.handlePlaylistRemove)

	s.Engine.GET("/ws/stream/:slotId", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request, session.StreamTopic(c.Param("slotId")))
	})
	s.Engine.GET("/ws/playlist", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request, playlistcoord.TopicLivePlaylist)
	})
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// writeError renders the {success:false, error, ...hints} shape (§6, §7).
func writeError(c *gin.Context, err error) {
	if ae, ok := apperr.As(err); ok {
		body := gin.H{"success": false, "error": ae.Message}
		for k, v := range ae.Hints {
			body[k] = v
		}
		if ae.Kind == apperr.KindRateLimited {
			c.Header("Retry-After", "60")
		}
		c.JSON(ae.Status(), body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
}

func parseTimeParam(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t
}
