// Package identity defines the pluggable authentication boundary. The spec
// treats user authentication as an external collaborator, "assumed to yield
// a verified user identity and a role classification" — this package is
// that boundary: a small Verifier interface production deployments plug a
// real IdP into, plus a local JWT+bcrypt implementation (grounded on the
// station's own hand-rolled auth package) so the HTTP API is exercisable
// end to end without one.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
)

// Role classifies the caller for authorization decisions (§4.1 owner/admin
// checks, §6 admin-only routes).
type Role string

const (
	RoleListener Role = "listener"
	RoleDJ       Role = "dj"
	RoleAdmin    Role = "admin"
)

// Identity is the verified caller, as every handler in §6 expects it.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Verifier authenticates a bearer token into an Identity. Swap this out for
// a real IdP in production; the local JWT verifier below is the dev/test
// default.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (Identity, error)
}

// claims is the local JWT's payload shape.
type claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// LocalVerifier is a self-contained dev/test identity provider: bcrypt
// credential check plus HS256 JWT issuance and verification, generalized
// from the station's own auth.Config/Auth split (username/password,
// JWTSecret, TokenTTL) to multi-identity login instead of a single DJ
// account.
type LocalVerifier struct {
	secret   []byte
	ttl      time.Duration
	clk      clock.Clock
	mu       sync.RWMutex
	accounts map[string]account // username -> account
}

type account struct {
	userID       string
	name         string
	role         Role
	passwordHash []byte
}

// NewLocalVerifier builds a verifier with one seeded admin account, matching
// the station's single-DJ-account bootstrap but generalized to roles.
func NewLocalVerifier(secret string, ttl time.Duration, clk clock.Clock, adminUser, adminPass string) (*LocalVerifier, error) {
	lv := &LocalVerifier{secret: []byte(secret), ttl: ttl, clk: clk, accounts: map[string]account{}}
	if adminUser != "" {
		if err := lv.Register(adminUser, adminPass, adminUser, RoleAdmin); err != nil {
			return nil, err
		}
	}
	return lv, nil
}

// Register adds or replaces a login account.
func (lv *LocalVerifier) Register(username, password, displayName string, role Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	userID := "user_" + randomHex(8)
	lv.mu.Lock()
	defer lv.mu.Unlock()
	lv.accounts[username] = account{userID: userID, name: displayName, role: role, passwordHash: hash}
	return nil
}

// Authenticate checks username/password and issues a bearer token.
func (lv *LocalVerifier) Authenticate(username, password string) (string, Identity, error) {
	lv.mu.RLock()
	acc, ok := lv.accounts[username]
	lv.mu.RUnlock()
	if !ok {
		return "", Identity{}, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return "", Identity{}, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	ident := Identity{UserID: acc.userID, Name: acc.name, Role: acc.role}
	token, err := lv.issue(ident)
	if err != nil {
		return "", Identity{}, apperr.Wrap(apperr.KindInternal, "issue token", err)
	}
	return token, ident, nil
}

func (lv *LocalVerifier) issue(ident Identity) (string, error) {
	now := lv.clk.Now()
	c := claims{
		UserID: ident.UserID,
		Name:   ident.Name,
		Role:   ident.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lv.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(lv.secret)
}

// Verify implements Verifier using the local HS256 JWT.
func (lv *LocalVerifier) Verify(_ context.Context, bearerToken string) (Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(bearerToken, "Bearer "))
	if token == "" {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "missing bearer token")
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return lv.secret, nil
	}, jwt.WithTimeFunc(lv.clk.Now))
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	return Identity{UserID: c.UserID, Name: c.Name, Role: c.Role}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
