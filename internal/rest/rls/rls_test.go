// Copyright (c) 2026 Tidebase. All rights reserved.

package rls_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/rls"
	"github.com/tidebase/tidebase/internal/rest/session"
)

func guardedQuery() *parse.Query {
	return &parse.Query{
		Schema: "public",
		Table:  "orders",
		Where: []parse.Condition{
			parse.Filter{Column: "status", Op: parse.OpEq, Value: parse.Value{Text: "open"}},
		},
	}
}

/*
TestApply_HealthySessionPassesThrough verifies the guard never touches a
query when engine row security is in effect.
*/
func TestApply_HealthySessionPassesThrough(t *testing.T) {
	guard := rls.NewGuard([]string{"public.orders"})
	q := guardedQuery()

	out := guard.Apply(q, &session.Session{Role: session.RoleAnon, Degraded: false})

	assert.Same(t, q, out)
}

/*
TestApply_DegradedAnonDenied verifies a degraded anonymous session on a
guarded table gets the always-false condition on a copy, leaving the
original query intact.
*/
func TestApply_DegradedAnonDenied(t *testing.T) {
	guard := rls.NewGuard([]string{"public.orders"})
	q := guardedQuery()

	out := guard.Apply(q, &session.Session{Role: session.RoleAnon, Degraded: true})

	require.NotSame(t, q, out)
	require.Len(t, out.Where, 2)
	assert.IsType(t, parse.Deny{}, out.Where[1])
	assert.Len(t, q.Where, 1)
}

/*
TestApply_DegradedAuthenticatedAllowed verifies authenticated sessions are
not blocked by the fallback.
*/
func TestApply_DegradedAuthenticatedAllowed(t *testing.T) {
	guard := rls.NewGuard([]string{"public.orders"})
	q := guardedQuery()

	out := guard.Apply(q, &session.Session{Role: session.RoleAuthenticated, Degraded: true})

	assert.Same(t, q, out)
}

/*
TestApply_ServiceRoleBypasses verifies the service role is never filtered,
degraded or not.
*/
func TestApply_ServiceRoleBypasses(t *testing.T) {
	guard := rls.NewGuard([]string{"public.orders"})

	out := guard.Apply(guardedQuery(), &session.Session{Role: session.RoleService, Degraded: true})

	assert.Len(t, out.Where, 1)
}

/*
TestApply_UnguardedTablePassesThrough verifies tables outside the guard
list stay readable for degraded anonymous sessions.
*/
func TestApply_UnguardedTablePassesThrough(t *testing.T) {
	guard := rls.NewGuard([]string{"public.orders"})
	q := &parse.Query{Schema: "public", Table: "products"}

	out := guard.Apply(q, &session.Session{Role: session.RoleAnon, Degraded: true})

	assert.Same(t, q, out)
}

/*
TestGuarded_BareNameMatchesAnySchema verifies unqualified guard entries
apply across schemas.
*/
func TestGuarded_BareNameMatchesAnySchema(t *testing.T) {
	guard := rls.NewGuard([]string{"orders"})

	assert.True(t, guard.Guarded("public", "orders"))
	assert.True(t, guard.Guarded("tenant_a", "orders"))
	assert.False(t, guard.Guarded("public", "products"))
}
