package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 24 * time.Hour

	// AnonymousSubjectPrefix marks user ids minted for visitors without a session.
	AnonymousSubjectPrefix = "anon-"
	// TokenType is reported alongside issued tokens.
	TokenType = "Bearer"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingSubject       = errors.New("auth: subject required")
	ErrInvalidToken         = errors.New("auth: invalid token")
)

// Principal is the identity carried by a validated backend token.
type Principal struct {
	Subject   string
	Anonymous bool
}

// IssuedToken is a signed backend token.
type IssuedToken struct {
	AccessToken string
	ExpiresIn   int64
	Subject     string
}

type backendClaims struct {
	Anonymous bool `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
	NewSubjectID  func() string
}

// TokenIssuer signs and validates HS256 backend tokens.
type TokenIssuer struct {
	secret       []byte
	issuer       string
	audience     string
	ttl          time.Duration
	clock        func() time.Time
	newSubjectID func() string
}

// NewTokenIssuer validates the configuration and applies defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newSubjectID := cfg.NewSubjectID
	if newSubjectID == nil {
		newSubjectID = uuid.NewString
	}
	return &TokenIssuer{
		secret:       append([]byte(nil), cfg.SigningSecret...),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		ttl:          ttl,
		clock:        clock,
		newSubjectID: newSubjectID,
	}, nil
}

// IssueAnonymous mints a fresh anonymous user id and a token for it.
func (i *TokenIssuer) IssueAnonymous(ctx context.Context) (IssuedToken, error) {
	return i.issue(ctx, AnonymousSubjectPrefix+i.newSubjectID(), true)
}

// Issue signs a token for an already resolved user id.
func (i *TokenIssuer) Issue(ctx context.Context, subject string) (IssuedToken, error) {
	return i.issue(ctx, subject, false)
}

func (i *TokenIssuer) issue(_ context.Context, subject string, anonymous bool) (IssuedToken, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return IssuedToken{}, ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := backendClaims{
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		AccessToken: signed,
		ExpiresIn:   int64(expiresAt.Sub(now).Seconds()),
		Subject:     subject,
	}, nil
}

// ValidateToken checks signature, issuer, audience and expiry.
func (i *TokenIssuer) ValidateToken(tokenString string) (Principal, error) {
	claims := &backendClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrMissingSubject
	}
	return Principal{Subject: claims.Subject, Anonymous: claims.Anonymous}, nil
}
