package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "inadialog-auth"
	testAudience = "inadialog-api"
)

func mustTokenIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
		NewSubjectID:  func() string { return "fixed" },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesAnonymousTokens(t *testing.T) {
	issuer := mustTokenIssuer(t, nil)

	issued, err := issuer.IssueAnonymous(context.Background())
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if issued.Subject != "anon-fixed" {
		t.Fatalf("unexpected subject %q", issued.Subject)
	}
	if issued.ExpiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry %d", issued.ExpiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(issued.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	}); err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Issuer != testIssuer || len(claims.Audience) == 0 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected claims %#v", claims)
	}

	principal, err := issuer.ValidateToken(issued.AccessToken)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if principal.Subject != "anon-fixed" || !principal.Anonymous {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestTokenIssuerRejectsMissingSecretAndSubject(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
	issuer := mustTokenIssuer(t, nil)
	if _, err := issuer.Issue(context.Background(), "  "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := mustTokenIssuer(t, func() time.Time { return now })

	issued, err := issuer.Issue(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	principal, err := issuer.ValidateToken(issued.AccessToken)
	if err != nil || principal.Anonymous || principal.Subject != "user-321" {
		t.Fatalf("unexpected validation result %+v %v", principal, err)
	}

	now = now.Add(time.Hour)
	if _, err := issuer.ValidateToken(issued.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("other"), Issuer: testIssuer, Audience: testAudience})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	foreign, err := other.Issue(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	now = time.Now()
	if _, err := issuer.ValidateToken(foreign.AccessToken); err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}
