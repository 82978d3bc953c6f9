// Package auth resolves the caller's identity from the hosted auth provider's
// session token. The provider issues RS256 JWTs; this service only verifies
// them and never stores credentials.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller as described by the auth provider.
type Principal struct {
	Subject   string `json:"subject"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// SessionClaims are the claims carried by the provider's session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Config struct {
	PublicKeyPEM  string
	Issuer        string
	DevBypass     bool
	AdminSubjects []string
}

// ConfigFromEnv reads AUTH_* variables.
func ConfigFromEnv() Config {
	var admins []string
	for _, s := range strings.Split(os.Getenv("AUTH_ADMIN_SUBJECTS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			admins = append(admins, s)
		}
	}
	return Config{
		PublicKeyPEM:  os.Getenv("AUTH_JWT_PUBLIC_KEY"),
		Issuer:        os.Getenv("AUTH_JWT_ISSUER"),
		DevBypass:     os.Getenv("AUTH_DEV_BYPASS") == "1",
		AdminSubjects: admins,
	}
}

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Authenticator verifies session tokens.
type Authenticator struct {
	key       *rsa.PublicKey
	issuer    string
	devBypass bool
	admins    map[string]struct{}
}

// NewAuthenticator parses the PEM public key. An empty key is allowed only
// together with the dev bypass; otherwise every request is unauthenticated.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{issuer: cfg.Issuer, devBypass: cfg.DevBypass, admins: map[string]struct{}{}}
	for _, s := range cfg.AdminSubjects {
		a.admins[s] = struct{}{}
	}
	if strings.TrimSpace(cfg.PublicKeyPEM) == "" {
		return a, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse AUTH_JWT_PUBLIC_KEY: %w", err)
	}
	a.key = key
	return a, nil
}

// IsAdmin reports whether subject may call operator endpoints.
func (a *Authenticator) IsAdmin(subject string) bool {
	_, ok := a.admins[subject]
	return ok
}

// Verify validates a raw session token and returns its principal.
func (a *Authenticator) Verify(token string) (*Principal, error) {
	if a.key == nil {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &SessionClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) { return a.key, nil }, opts...)
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return &Principal{Subject: claims.Subject, Email: claims.Email, Name: claims.Name, AvatarURL: claims.ImageURL}, nil
}

// FromRequest resolves the principal from the Authorization header, the
// provider's __session cookie or, when enabled, the dev bypass headers.
func (a *Authenticator) FromRequest(r *http.Request) (*Principal, error) {
	if a.devBypass {
		if sub := strings.TrimSpace(r.Header.Get("X-User-Sub")); sub != "" {
			return &Principal{
				Subject: sub,
				Email:   strings.TrimSpace(r.Header.Get("X-User-Email")),
				Name:    strings.TrimSpace(r.Header.Get("X-User-Name")),
			}, nil
		}
	}
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
			return nil, fmt.Errorf("%w: expected Bearer scheme", ErrInvalidToken)
		}
		token = strings.TrimSpace(h[7:])
	} else if c, err := r.Cookie("__session"); err == nil {
		token = c.Value
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	return a.Verify(token)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Middleware, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
