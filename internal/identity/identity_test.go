package identity

import (
	"context"
	"testing"
	"time"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
)

func TestAuthenticateHappyPath(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Hour, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}

	token, ident, err := lv.Authenticate("admin", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
	if !ident.IsAdmin() {
		t.Fatalf("ident.Role = %v, want admin", ident.Role)
	}

	verified, err := lv.Verify(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.UserID != ident.UserID {
		t.Fatalf("verified.UserID = %q, want %q", verified.UserID, ident.UserID)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Hour, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	_, _, err = lv.Authenticate("admin", "wrong-password")
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("err = %v, want Unauthorized", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Hour, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	_, _, err = lv.Authenticate("nobody", "whatever")
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("err = %v, want Unauthorized", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Minute, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	token, _, err := lv.Authenticate("admin", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	clk.Advance(2 * time.Minute)
	_, err = lv.Verify(context.Background(), "Bearer "+token)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("err = %v, want Unauthorized for an expired token", err)
	}
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Hour, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	if _, err := lv.Verify(context.Background(), ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("err = %v, want Unauthorized", err)
	}
}

func TestRegisterAddsANewRole(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	lv, err := NewLocalVerifier("test-secret", time.Hour, clk, "", "")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	if err := lv.Register("dj-alice", "pw", "Alice", RoleDJ); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, ident, err := lv.Authenticate("dj-alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Role != RoleDJ {
		t.Fatalf("Role = %v, want dj", ident.Role)
	}
	if ident.IsAdmin() {
		t.Fatal("a DJ account should not be an admin")
	}
}
