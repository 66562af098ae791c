// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package rls is the gateway-side fallback for row-level security.

The primary access control mechanism is the engine's own row security,
activated by the role the session installs on each transaction. When the
engine was never provisioned with those roles the session runs degraded,
and this guard keeps protected tables from leaking: queries from sessions
that would not pass engine policy get an always-false condition spliced
into their WHERE tree, so they execute normally and return zero rows.

The guard never mutates the parsed query; it works on a copy.
*/
package rls

import (
	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/session"
)

// Guard holds the set of tables that require an authenticated identity
// when engine row security is unavailable.
type Guard struct {
	guarded map[string]bool
}

// NewGuard builds a guard over schema-qualified table names
// ("public.orders"). Bare names guard the table in every schema.
func NewGuard(tables []string) *Guard {
	guarded := make(map[string]bool, len(tables))
	for _, table := range tables {
		guarded[table] = true
	}
	return &Guard{guarded: guarded}
}

// Guarded reports whether the table requires authentication under the
// fallback.
func (g *Guard) Guarded(schema, table string) bool {
	return g.guarded[schema+"."+table] || g.guarded[table]
}

// Apply returns the query to execute for the given session. Healthy
// sessions and trusted roles pass through untouched; a degraded anonymous
// session on a guarded table gets a copy with an always-false condition.
func (g *Guard) Apply(q *parse.Query, sess *session.Session) *parse.Query {
	if !sess.Degraded || sess.Role == session.RoleService {
		return q
	}
	if sess.Role == session.RoleAuthenticated {
		return q
	}
	if !g.Guarded(q.Schema, q.Table) {
		return q
	}

	denied := q.Clone()
	denied.Where = append(denied.Where, parse.Deny{})
	return denied
}
