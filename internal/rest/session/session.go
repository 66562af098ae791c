// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package session derives the database identity of a request and installs it
on the transaction executing that request's statements.

A request authenticates with an API key (the anon or service key) and
optionally upgrades with a bearer JWT. The resulting session names one of
three engine roles:

  - anon: the public, unauthenticated role.
  - authenticated: a verified JWT subject.
  - service_role: the trusted backend key, bypassing row security.

Install runs SET LOCAL and set_config inside the request transaction so the
role and JWT claims are visible to row-level security policies and reset
automatically at transaction end. When the engine lacks the expected roles,
the session degrades instead of failing and access control falls back to
the gateway's own table guard.
*/
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
)

// Role is an engine role a session can assume.
type Role string

const (
	RoleAnon          Role = "anon"
	RoleAuthenticated Role = "authenticated"
	RoleService       Role = "service_role"
)

// Session is the resolved identity of one request.
type Session struct {
	Role Role
	// Subject is the JWT sub claim, empty for key-only sessions.
	Subject string
	// Claims holds the full verified JWT claim set, nil for key-only
	// sessions.
	Claims map[string]any
	// Degraded records that Install could not assume the engine role, so
	// row security is not in effect for this transaction.
	Degraded bool
}

// Authenticator validates API keys and bearer tokens.
type Authenticator struct {
	anonKey    string
	serviceKey string
	jwtSecret  []byte
}

// NewAuthenticator builds an authenticator from the gateway's configured
// keys. jwtSecret signs bearer tokens with HS256.
func NewAuthenticator(anonKey, serviceKey string, jwtSecret []byte) *Authenticator {
	return &Authenticator{
		anonKey:    anonKey,
		serviceKey: serviceKey,
		jwtSecret:  jwtSecret,
	}
}

// FromRequest resolves the session for one request.
//
// The apikey (or x-api-key) header must match a configured key; anything
// else is rejected before the engine is touched. The service key wins over
// any bearer token. With the anon key, a valid bearer token upgrades the
// session to authenticated; an invalid one is rejected rather than silently
// downgraded.
func (a *Authenticator) FromRequest(r *http.Request) (*Session, *pgrsterr.Error) {
	key := r.Header.Get("apikey")
	if key == "" {
		key = r.Header.Get("x-api-key")
	}

	switch key {
	case "":
		return nil, pgrsterr.Unauthorized("No API key found in request")
	case a.serviceKey:
		return &Session{Role: RoleService}, nil
	case a.anonKey:
	default:
		return nil, pgrsterr.Unauthorized("Invalid API key")
	}

	token := bearerToken(r)
	if token == "" || token == a.anonKey {
		return &Session{Role: RoleAnon}, nil
	}
	if token == a.serviceKey {
		return &Session{Role: RoleService}, nil
	}

	return a.verify(token)
}

func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "Bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return ""
}

// verify checks the bearer token's HS256 signature and expiry, then shapes
// a session from its claims.
func (a *Authenticator) verify(token string) (*Session, *pgrsterr.Error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, pgrsterr.Unauthorized("JWT verification failed")
	}

	sess := &Session{Role: RoleAuthenticated, Claims: claims}

	if role, ok := claims["role"].(string); ok && role != "" {
		sess.Role = Role(role)
	}
	if subject, ok := claims["sub"].(string); ok {
		sess.Subject = subject
	}

	return sess, nil
}

// # Transaction Setup

// Execer is the slice of a transaction the installer depends on.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Install assumes the session's role and publishes its claims on the given
// transaction. SET LOCAL scopes everything to the transaction, so no
// teardown is needed on the happy path.
//
// A failure to assume the role (the engine was never provisioned with the
// expected roles) marks the session degraded and returns nil; publishing
// claims on a healthy role is mandatory and returns the engine error.
func Install(ctx context.Context, tx Execer, sess *Session) error {
	// An already-degraded session skips engine setup entirely. Attempting
	// SET LOCAL ROLE against an unprovisioned engine would abort the
	// transaction.
	if sess.Degraded {
		return nil
	}

	role := string(sess.Role)
	if !validRoleName(role) {
		sess.Degraded = true
		return nil
	}

	if _, err := tx.Exec(ctx, `SET LOCAL ROLE "`+role+`"`); err != nil {
		sess.Degraded = true
		return nil
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.role', $1, true)`, role); err != nil {
		return fmt.Errorf("session: publish role: %w", err)
	}

	if sess.Claims != nil {
		encoded, err := json.Marshal(sess.Claims)
		if err != nil {
			return fmt.Errorf("session: encode claims: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(encoded)); err != nil {
			return fmt.Errorf("session: publish claims: %w", err)
		}
	}

	if sess.Subject != "" {
		if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true)`, sess.Subject); err != nil {
			return fmt.Errorf("session: publish subject: %w", err)
		}
	}

	return nil
}

// validRoleName restricts SET LOCAL ROLE to identifier-safe names, since
// role names cannot be bound as parameters.
func validRoleName(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range role {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
