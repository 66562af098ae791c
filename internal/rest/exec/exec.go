// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package exec runs compiled statements against the engine.

Every request executes inside a single transaction: the session role and
claims are installed with SET LOCAL, the statement runs, and the
transaction commits. Result rows are aggregated to JSON inside the engine
(json_agg over a CTE), so values arrive formatted by the engine's own type
output and the gateway never re-encodes timestamps, numerics, or arrays.

Writes compiled without RETURNING skip the CTE wrap and report the
affected-row count from the command tag.

An optional Redis layer caches anonymous read results for a short TTL.
*/
package exec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tidebase/tidebase/internal/platform/constants"
	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
	"github.com/tidebase/tidebase/internal/rest/schema"
	"github.com/tidebase/tidebase/internal/rest/session"
	"github.com/tidebase/tidebase/internal/rest/sqlgen"
)

// Result is the outcome of one executed statement.
type Result struct {
	// JSON is the engine-formatted JSON array of result rows. Nil for
	// writes that return no representation.
	JSON []byte
	// Rows is the number of result rows, or the affected count for
	// minimal writes.
	Rows int64
}

// Executor owns the connection pool and the per-request transaction
// pipeline.
type Executor struct {
	pool    *pgxpool.Pool
	schemas *schema.Cache
	cache   *redis.Client
	timeout time.Duration
	ttl     time.Duration
	logger  *slog.Logger

	probeOnce   sync.Once
	provisioned bool
}

// New builds an executor. cache may be nil to disable result caching.
func New(pool *pgxpool.Pool, schemas *schema.Cache, cache *redis.Client, timeout, cacheTTL time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		pool:    pool,
		schemas: schemas,
		cache:   cache,
		timeout: timeout,
		ttl:     cacheTTL,
		logger:  logger,
	}
}

// Schemas exposes the FK snapshot cache the executor invalidates on
// undefined-relation errors.
func (e *Executor) Schemas() *schema.Cache {
	return e.schemas
}

// RolesProvisioned reports whether the engine carries the anon,
// authenticated, and service_role roles. Probed once; when false, sessions
// run degraded and the gateway-side table guard takes over.
func (e *Executor) RolesProvisioned(ctx context.Context) bool {
	e.probeOnce.Do(func() {
		var count int
		err := e.pool.QueryRow(ctx,
			`SELECT count(*) FROM pg_roles WHERE rolname = ANY($1)`,
			[]string{string(session.RoleAnon), string(session.RoleAuthenticated), string(session.RoleService)},
		).Scan(&count)
		if err != nil {
			e.logger.WarnContext(ctx, "role probe failed", slog.String("error", err.Error()))
			return
		}
		e.provisioned = count == 3
	})
	return e.provisioned
}

// Run executes one statement under the session's identity. cacheable marks
// anonymous reads whose results may be served from and stored in Redis.
func (e *Executor) Run(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement, cacheable bool) (*Result, error) {
	useCache := cacheable && e.cache != nil && sess.Role == session.RoleAnon && !sess.Degraded

	var key string
	if useCache {
		key = cacheKey(stmt)
		if cached, err := e.cache.Get(ctx, key).Bytes(); err == nil {
			return &Result{JSON: cached, Rows: countJSONRows(cached)}, nil
		} else if !errors.Is(err, redis.Nil) {
			e.logger.WarnContext(ctx, "result cache read failed", slog.String("error", err.Error()))
		}
	}

	result, err := e.inTransaction(ctx, sess, func(ctx context.Context, tx pgx.Tx) (*Result, error) {
		return runStatement(ctx, tx, stmt)
	})
	if err != nil {
		return nil, err
	}

	if useCache && result.JSON != nil {
		if err := e.cache.Set(ctx, key, result.JSON, e.ttl).Err(); err != nil {
			e.logger.WarnContext(ctx, "result cache write failed", slog.String("error", err.Error()))
		}
	}

	return result, nil
}

// CountExact runs the count companion query and returns the total.
func (e *Executor) CountExact(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement) (int64, error) {
	result, err := e.inTransaction(ctx, sess, func(ctx context.Context, tx pgx.Tx) (*Result, error) {
		var total int64
		if err := tx.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&total); err != nil {
			return nil, err
		}
		return &Result{Rows: total}, nil
	})
	if err != nil {
		return 0, err
	}
	return result.Rows, nil
}

// CountEstimated derives a row estimate from the planner instead of
// scanning, serving both the planned and estimated count preferences.
func (e *Executor) CountEstimated(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement) (int64, error) {
	explain := &sqlgen.Statement{SQL: "EXPLAIN (FORMAT JSON) " + stmt.SQL, Args: stmt.Args}

	result, err := e.inTransaction(ctx, sess, func(ctx context.Context, tx pgx.Tx) (*Result, error) {
		var plan []byte
		if err := tx.QueryRow(ctx, explain.SQL, explain.Args...).Scan(&plan); err != nil {
			return nil, err
		}
		return &Result{JSON: plan}, nil
	})
	if err != nil {
		return 0, err
	}

	return planRows(result.JSON)
}

// # Transaction Pipeline

func (e *Executor) inTransaction(ctx context.Context, sess *session.Session, fn func(context.Context, pgx.Tx) (*Result, error)) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, pgrsterr.PoolTimeout()
		}
		return nil, pgrsterr.FromEngine(err)
	}
	defer tx.Rollback(ctx)

	if err := session.Install(ctx, tx, sess); err != nil {
		return nil, pgrsterr.FromEngine(err)
	}

	result, err := fn(ctx, tx)
	if err != nil {
		if pgrsterr.IsUndefinedTable(err) {
			e.schemas.Invalidate()
		}
		return nil, pgrsterr.FromEngine(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgrsterr.FromEngine(err)
	}

	return result, nil
}

// runStatement executes stmt, aggregating result rows to JSON inside the
// engine when the statement produces rows.
func runStatement(ctx context.Context, tx pgx.Tx, stmt *sqlgen.Statement) (*Result, error) {
	if !returnsRows(stmt.SQL) {
		tag, err := tx.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: tag.RowsAffected()}, nil
	}

	wrapped := `WITH "_tb_source" AS (` + stmt.SQL + `) ` +
		`SELECT COALESCE(json_agg(row_to_json("_tb_source")), '[]'::json), count(*) FROM "_tb_source"`

	var payload []byte
	var rows int64
	if err := tx.QueryRow(ctx, wrapped, stmt.Args...).Scan(&payload, &rows); err != nil {
		return nil, err
	}

	return &Result{JSON: payload, Rows: rows}, nil
}

// returnsRows reports whether the statement produces a result set: reads
// always do, writes only when compiled with RETURNING.
func returnsRows(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH") {
		return true
	}
	return strings.Contains(sql, " RETURNING ")
}

// # Helpers

func cacheKey(stmt *sqlgen.Statement) string {
	hash := sha256.New()
	hash.Write([]byte(stmt.SQL))
	for _, arg := range stmt.Args {
		fmt.Fprintf(hash, "\x00%v", arg)
	}
	return constants.RedisPrefixQueryResult + hex.EncodeToString(hash.Sum(nil))
}

// countJSONRows counts the elements of a cached JSON array without fully
// materializing it.
func countJSONRows(payload []byte) int64 {
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return 0
	}
	return int64(len(rows))
}

// planRows extracts the planner's row estimate from EXPLAIN (FORMAT JSON)
// output.
func planRows(plan []byte) (int64, error) {
	var parsed []struct {
		Plan struct {
			PlanRows float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal(plan, &parsed); err != nil {
		return 0, fmt.Errorf("exec: parse plan: %w", err)
	}
	if len(parsed) == 0 {
		return 0, errors.New("exec: empty plan")
	}
	return int64(parsed[0].Plan.PlanRows), nil
}
