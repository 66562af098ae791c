// Copyright (c) 2026 Tidebase. All rights reserved.

package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebase/tidebase/internal/rest/session"
)

const (
	testAnonKey    = "anon-key-123"
	testServiceKey = "service-key-456"
)

var testSecret = []byte("super-secret-jwt-signing-key")

func newAuthenticator() *session.Authenticator {
	return session.NewAuthenticator(testAnonKey, testServiceKey, testSecret)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func requestWith(apikey, bearer string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/rest/v1/products", nil)
	if apikey != "" {
		r.Header.Set("apikey", apikey)
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	return r
}

/*
TestFromRequest_MissingKey verifies requests without any API key are
rejected with the unauthorized envelope.
*/
func TestFromRequest_MissingKey(t *testing.T) {
	_, err := newAuthenticator().FromRequest(requestWith("", ""))

	require.NotNil(t, err)
	assert.Equal(t, "PGRST301", err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.Status)
}

/*
TestFromRequest_UnknownKey verifies a key matching neither configured value
is rejected.
*/
func TestFromRequest_UnknownKey(t *testing.T) {
	_, err := newAuthenticator().FromRequest(requestWith("bogus", ""))

	require.NotNil(t, err)
	assert.Equal(t, "PGRST301", err.Code)
}

/*
TestFromRequest_AnonKey verifies the anon key alone yields the anon role.
*/
func TestFromRequest_AnonKey(t *testing.T) {
	sess, err := newAuthenticator().FromRequest(requestWith(testAnonKey, ""))

	require.Nil(t, err)
	assert.Equal(t, session.RoleAnon, sess.Role)
	assert.Empty(t, sess.Subject)
}

/*
TestFromRequest_ServiceKey verifies the service key yields service_role and
ignores any bearer token.
*/
func TestFromRequest_ServiceKey(t *testing.T) {
	bearer := signToken(t, jwt.MapClaims{"sub": "user-1", "role": "authenticated"})
	sess, err := newAuthenticator().FromRequest(requestWith(testServiceKey, bearer))

	require.Nil(t, err)
	assert.Equal(t, session.RoleService, sess.Role)
}

/*
TestFromRequest_XAPIKeyFallback verifies x-api-key is accepted when apikey
is absent.
*/
func TestFromRequest_XAPIKeyFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/rest/v1/products", nil)
	r.Header.Set("x-api-key", testAnonKey)

	sess, err := newAuthenticator().FromRequest(r)

	require.Nil(t, err)
	assert.Equal(t, session.RoleAnon, sess.Role)
}

/*
TestFromRequest_BearerUpgrade verifies a valid bearer JWT over the anon key
upgrades the session and carries the claim set.
*/
func TestFromRequest_BearerUpgrade(t *testing.T) {
	bearer := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	sess, err := newAuthenticator().FromRequest(requestWith(testAnonKey, bearer))

	require.Nil(t, err)
	assert.Equal(t, session.RoleAuthenticated, sess.Role)
	assert.Equal(t, "user-1", sess.Subject)
	assert.Equal(t, "authenticated", sess.Claims["role"])
}

/*
TestFromRequest_BearerEqualsAnonKey verifies clients that echo the anon key
as the bearer token stay anonymous instead of failing JWT verification.
*/
func TestFromRequest_BearerEqualsAnonKey(t *testing.T) {
	sess, err := newAuthenticator().FromRequest(requestWith(testAnonKey, testAnonKey))

	require.Nil(t, err)
	assert.Equal(t, session.RoleAnon, sess.Role)
}

/*
TestFromRequest_BadSignature verifies a token signed with the wrong secret
is rejected, not downgraded to anon.
*/
func TestFromRequest_BadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	forged, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, perr := newAuthenticator().FromRequest(requestWith(testAnonKey, forged))

	require.NotNil(t, perr)
	assert.Equal(t, "PGRST301", perr.Code)
}

/*
TestFromRequest_ExpiredToken verifies expired tokens are rejected.
*/
func TestFromRequest_ExpiredToken(t *testing.T) {
	bearer := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, perr := newAuthenticator().FromRequest(requestWith(testAnonKey, bearer))

	require.NotNil(t, perr)
	assert.Equal(t, "PGRST301", perr.Code)
}

// # Install

// recordingExecer captures executed statements; failRole makes the SET
// LOCAL ROLE statement fail to simulate an unprovisioned engine.
type recordingExecer struct {
	statements []string
	args       [][]any
	failRole   bool
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if r.failRole && len(sql) >= 14 && sql[:14] == "SET LOCAL ROLE" {
		return pgconn.CommandTag{}, assert.AnError
	}
	r.statements = append(r.statements, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, nil
}

/*
TestInstall_SetsRoleAndClaims verifies the transaction receives the role
switch plus the claim configuration parameters.
*/
func TestInstall_SetsRoleAndClaims(t *testing.T) {
	execer := &recordingExecer{}
	sess := &session.Session{
		Role:    session.RoleAuthenticated,
		Subject: "user-1",
		Claims:  map[string]any{"sub": "user-1", "role": "authenticated"},
	}

	err := session.Install(context.Background(), execer, sess)
	require.NoError(t, err)
	assert.False(t, sess.Degraded)

	require.NotEmpty(t, execer.statements)
	assert.Equal(t, `SET LOCAL ROLE "authenticated"`, execer.statements[0])

	joined := ""
	for _, statement := range execer.statements {
		joined += statement + "\n"
	}
	assert.Contains(t, joined, "request.jwt.claims")
	assert.Contains(t, joined, "request.jwt.claim.sub")
}

/*
TestInstall_DegradesWithoutRole verifies a failed role switch marks the
session degraded instead of failing the request.
*/
func TestInstall_DegradesWithoutRole(t *testing.T) {
	execer := &recordingExecer{failRole: true}
	sess := &session.Session{Role: session.RoleAnon}

	err := session.Install(context.Background(), execer, sess)
	require.NoError(t, err)
	assert.True(t, sess.Degraded)
	assert.Empty(t, execer.statements)
}

/*
TestInstall_RejectsUnsafeRoleName verifies claim-supplied role names that
are not identifier-safe degrade rather than reach SET LOCAL ROLE.
*/
func TestInstall_RejectsUnsafeRoleName(t *testing.T) {
	execer := &recordingExecer{}
	sess := &session.Session{Role: `postgres"; DROP ROLE other; --`}

	err := session.Install(context.Background(), execer, sess)
	require.NoError(t, err)
	assert.True(t, sess.Degraded)
	assert.Empty(t, execer.statements)
}
