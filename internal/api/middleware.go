package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/identity"
	"github.com/afterhours-fm/afterhours/internal/ratelimit"
)

const identityContextKey = "identity"

// authRequired verifies the bearer token and aborts with 401 on failure.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := s.verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, apperr.New(apperr.KindUnauthorized, "missing or invalid bearer token"))
			c.Abort()
			return
		}
		c.Set(identityContextKey, ident)
		c.Next()
	}
}

// authOptional verifies the bearer token if present, but does not require
// it — used by routes where anonymous and authenticated callers share a
// path (§4.4 reactions can come from logged-in or anonymous viewers).
func (s *Server) authOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			if ident, err := s.verifier.Verify(c.Request.Context(), header); err == nil {
				c.Set(identityContextKey, ident)
			}
		}
		c.Next()
	}
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := identityFrom(c)
		if !ok || !ident.IsAdmin() {
			writeError(c, apperr.New(apperr.KindForbidden, "admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimited enforces rule per (route, client). Client identity falls back
// to the remote address for anonymous callers.
func (s *Server) rateLimited(rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if ident, ok := identityFrom(c); ok {
			clientID = ident.UserID
		}
		if !s.limiter.Allow(c.FullPath(), clientID, rule) {
			writeError(c, apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindInvalidRequest, "invalid request body"))
		return
	}
	token, ident, err := s.login.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "identity": ident})
}
