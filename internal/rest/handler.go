// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package rest is the PostgREST-compatible query surface.

It dispatches /rest/v1/{table} and /rest/v1/rpc/{function} through a fixed
pipeline: authenticate the API key, parse the URL dialect into an AST,
apply the access guard, compile SQL, execute under the session's role, and
shape the HTTP response.

Architecture:

  - parse: URL dialect and header semantics to a typed AST.
  - sqlgen: AST to parameterized SQL.
  - session / rls: identity resolution and row-security fallback.
  - exec: transaction pipeline against the engine.
  - render: status, header, and body shaping.
  - pgrsterr: the single error envelope all of the above raise.
*/
package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tidebase/tidebase/internal/rest/exec"
	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
	"github.com/tidebase/tidebase/internal/rest/render"
	"github.com/tidebase/tidebase/internal/rest/rls"
	"github.com/tidebase/tidebase/internal/rest/schema"
	"github.com/tidebase/tidebase/internal/rest/session"
	"github.com/tidebase/tidebase/internal/rest/sqlgen"
)

// Executor is the slice of the execution layer the handler depends on.
// Tests substitute a fake; production wires [exec.Executor].
type Executor interface {
	Run(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement, cacheable bool) (*exec.Result, error)
	CountExact(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement) (int64, error)
	CountEstimated(ctx context.Context, sess *session.Session, stmt *sqlgen.Statement) (int64, error)
	RolesProvisioned(ctx context.Context) bool
	Schemas() *schema.Cache
}

// Handler serves the REST surface.
type Handler struct {
	auth     *session.Authenticator
	guard    *rls.Guard
	executor Executor
	log      *slog.Logger

	// exposed restricts which schemas profile headers may select. Empty
	// means only the default schema.
	exposed map[string]bool
	// maxRows caps every read's page size. Zero disables the cap.
	maxRows int
}

// NewHandler wires the REST pipeline.
func NewHandler(auth *session.Authenticator, guard *rls.Guard, executor Executor, exposedSchemas []string, maxRows int, log *slog.Logger) *Handler {
	exposed := make(map[string]bool, len(exposedSchemas)+1)
	exposed[parse.DefaultSchema] = true
	for _, name := range exposedSchemas {
		exposed[name] = true
	}

	return &Handler{
		auth:     auth,
		guard:    guard,
		executor: executor,
		exposed:  exposed,
		maxRows:  maxRows,
		log:      log,
	}
}

// Routes mounts the table and function endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/rpc/{function}", h.handleRPC)
	r.Post("/rpc/{function}", h.handleRPC)

	for _, method := range []string{
		http.MethodGet, http.MethodHead, http.MethodPost,
		http.MethodPatch, http.MethodPut, http.MethodDelete,
	} {
		r.MethodFunc(method, "/{table}", h.handleTable)
	}
	r.MethodFunc(http.MethodTrace, "/{table}", h.methodNotAllowed)
	r.MethodFunc(http.MethodConnect, "/{table}", h.methodNotAllowed)

	return r
}

// # Table Dispatch

func (h *Handler) handleTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, perr := h.auth.FromRequest(r)
	if perr != nil {
		h.writeError(w, r, perr)
		return
	}
	sess.Degraded = !h.executor.RolesProvisioned(ctx)

	q, perr := parse.Parse(r.Method, chi.URLParam(r, "table"), r.URL.Query(), r.Header)
	if perr != nil {
		h.writeError(w, r, perr)
		return
	}
	if !h.exposed[q.Schema] {
		h.writeError(w, r, pgrsterr.SchemaNotExposed(q.Schema))
		return
	}
	h.capLimit(q)

	q = h.guard.Apply(q, sess)

	response, err := h.dispatch(ctx, r, sess, q)
	if err != nil {
		h.writeError(w, r, pgrsterr.FromEngine(err))
		return
	}

	if r.Method == http.MethodHead {
		response.Body = nil
	}
	h.write(w, response)
}

func (h *Handler) dispatch(ctx context.Context, r *http.Request, sess *session.Session, q *parse.Query) (*render.Response, error) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return h.read(ctx, sess, q)
	case http.MethodPost, http.MethodPut:
		return h.insert(ctx, r, sess, q)
	case http.MethodPatch:
		return h.update(ctx, r, sess, q)
	case http.MethodDelete:
		return h.delete(ctx, sess, q)
	default:
		return nil, pgrsterr.MethodNotAllowed(r.Method)
	}
}

func (h *Handler) read(ctx context.Context, sess *session.Session, q *parse.Query) (*render.Response, error) {
	result, stmt, err := h.runCompiled(ctx, sess, true, func(snap *schema.Snapshot) (*sqlgen.Statement, error) {
		return sqlgen.Select(q, snap)
	})
	if err != nil {
		return nil, err
	}

	total, err := h.total(ctx, sess, q, stmt)
	if err != nil {
		return nil, err
	}

	response, perr := render.Read(q, result, total)
	if perr != nil {
		return nil, perr
	}
	return response, nil
}

// total resolves the requested count preference. Exact runs the stripped
// count companion; planned and estimated both ask the planner. A count that
// fails after the page already loaded downgrades the total to unknown
// instead of failing the request.
func (h *Handler) total(ctx context.Context, sess *session.Session, q *parse.Query, selectStmt *sqlgen.Statement) (*int64, error) {
	switch q.Count {
	case parse.CountExact:
		countStmt, err := sqlgen.Count(q)
		if err != nil {
			return nil, err
		}
		total, err := h.executor.CountExact(ctx, sess, countStmt)
		if err != nil {
			h.log.WarnContext(ctx, "count query failed", slog.Any("error", err))
			return nil, nil
		}
		return &total, nil

	case parse.CountPlanned, parse.CountEstimated:
		total, err := h.executor.CountEstimated(ctx, sess, selectStmt)
		if err != nil {
			h.log.WarnContext(ctx, "count estimate failed", slog.Any("error", err))
			return nil, nil
		}
		return &total, nil

	default:
		return nil, nil
	}
}

func (h *Handler) insert(ctx context.Context, r *http.Request, sess *session.Session, q *parse.Query) (*render.Response, error) {
	// PUT is a full-row upsert; without an explicit preference it merges.
	if r.Method == http.MethodPut && q.Resolution == parse.ResolutionNone {
		q.Resolution = parse.ResolutionMergeDuplicates
	}

	body, perr := parse.DecodeWriteBody(r.Body)
	if perr != nil {
		return nil, perr
	}

	// A zero-row array body writes nothing and succeeds with an empty
	// representation.
	if body.IsArray && len(body.Rows) == 0 {
		response, perr := render.Write(r.Method, q, &exec.Result{JSON: []byte("[]")}, nil, nil)
		if perr != nil {
			return nil, perr
		}
		return response, nil
	}

	var pk []string
	result, _, err := h.runCompiled(ctx, sess, false, func(snap *schema.Snapshot) (*sqlgen.Statement, error) {
		pk = snap.PrimaryKey(q.Schema, q.Table)
		return sqlgen.Insert(q, body, pk)
	})
	if err != nil {
		return nil, err
	}

	response, perr := render.Write(r.Method, q, result, nil, pk)
	if perr != nil {
		return nil, perr
	}
	return response, nil
}

func (h *Handler) update(ctx context.Context, r *http.Request, sess *session.Session, q *parse.Query) (*render.Response, error) {
	if !q.HasFilters() {
		return nil, pgrsterr.InvalidBody("UPDATE requires at least one filter")
	}

	body, perr := parse.DecodeWriteBody(r.Body)
	if perr != nil {
		return nil, perr
	}
	if len(body.Rows) != 1 || body.IsArray {
		return nil, pgrsterr.InvalidBody("PATCH accepts a single JSON object")
	}

	result, _, err := h.runCompiled(ctx, sess, false, func(*schema.Snapshot) (*sqlgen.Statement, error) {
		return sqlgen.Update(q, body.Rows[0])
	})
	if err != nil {
		return nil, err
	}

	response, perr := render.Write(http.MethodPatch, q, result, nil, nil)
	if perr != nil {
		return nil, perr
	}
	return response, nil
}

func (h *Handler) delete(ctx context.Context, sess *session.Session, q *parse.Query) (*render.Response, error) {
	if !q.HasFilters() {
		return nil, pgrsterr.InvalidBody("DELETE requires at least one filter")
	}

	result, _, err := h.runCompiled(ctx, sess, false, func(*schema.Snapshot) (*sqlgen.Statement, error) {
		return sqlgen.Delete(q)
	})
	if err != nil {
		return nil, err
	}

	response, perr := render.Write(http.MethodDelete, q, result, nil, nil)
	if perr != nil {
		return nil, perr
	}
	return response, nil
}

// # Function Dispatch

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, perr := h.auth.FromRequest(r)
	if perr != nil {
		h.writeError(w, r, perr)
		return
	}
	sess.Degraded = !h.executor.RolesProvisioned(ctx)

	fn := chi.URLParam(r, "function")

	var fnArgs map[string]any
	values := r.URL.Query()
	if r.Method == http.MethodGet {
		values, fnArgs = splitRPCParams(values)
	} else {
		fnArgs, perr = parse.DecodeRPCBody(r.Body)
		if perr != nil {
			h.writeError(w, r, perr)
			return
		}
	}

	q, perr := parse.Parse(r.Method, fn, values, r.Header)
	if perr != nil {
		h.writeError(w, r, perr)
		return
	}
	if !h.exposed[q.Schema] {
		h.writeError(w, r, pgrsterr.SchemaNotExposed(q.Schema))
		return
	}
	h.capLimit(q)

	snap, err := h.executor.Schemas().Snapshot(ctx)
	if err != nil {
		h.writeError(w, r, pgrsterr.FromEngine(err))
		return
	}

	stmt, err := sqlgen.Call(q, snap, fnArgs)
	if err != nil {
		h.writeError(w, r, pgrsterr.FromEngine(err))
		return
	}

	result, err := h.executor.Run(ctx, sess, stmt, false)
	if err != nil {
		h.writeError(w, r, pgrsterr.FromEngine(err))
		return
	}

	response, perr := render.RPC(q, result)
	if perr != nil {
		h.writeError(w, r, perr)
		return
	}
	h.write(w, response)
}

// splitRPCParams partitions GET parameters into result-set query parameters
// and named function arguments. Reserved keys and values shaped like
// `op.value` filters stay with the query; everything else is an argument.
func splitRPCParams(values url.Values) (url.Values, map[string]any) {
	query := url.Values{}
	args := map[string]any{}

	for key, items := range values {
		switch key {
		case "select", "order", "limit", "offset", "columns", "on_conflict",
			"or", "and", "not.or", "not.and":
			query[key] = items
			continue
		}

		if len(items) > 0 && parse.LooksLikeFilter(items[0]) {
			query[key] = items
			continue
		}
		if len(items) > 0 {
			args[key] = items[0]
		}
	}

	return query, args
}

// # Response Plumbing

// runCompiled compiles against the current FK snapshot and executes. When
// the engine reports a relation missing from its catalog, the snapshot is
// refreshed and the statement recompiled and retried once, healing stale
// embed resolutions after DDL. The original error is kept if the retry
// cannot be attempted.
func (h *Handler) runCompiled(ctx context.Context, sess *session.Session, cacheable bool, compile func(*schema.Snapshot) (*sqlgen.Statement, error)) (*exec.Result, *sqlgen.Statement, error) {
	snap, err := h.executor.Schemas().Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	stmt, err := compile(snap)
	if err != nil {
		return nil, nil, err
	}

	result, err := h.executor.Run(ctx, sess, stmt, cacheable)
	if err == nil || !pgrsterr.IsUndefinedTable(err) {
		return result, stmt, err
	}

	snap, refreshErr := h.executor.Schemas().Refresh(ctx)
	if refreshErr != nil {
		return nil, nil, err
	}
	stmt, compileErr := compile(snap)
	if compileErr != nil {
		return nil, nil, err
	}

	result, err = h.executor.Run(ctx, sess, stmt, cacheable)
	return result, stmt, err
}

func (h *Handler) capLimit(q *parse.Query) {
	if h.maxRows <= 0 {
		return
	}
	if q.Limit == nil || *q.Limit > h.maxRows {
		limit := h.maxRows
		q.Limit = &limit
	}
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, pgrsterr.MethodNotAllowed(r.Method))
}

func (h *Handler) write(w http.ResponseWriter, response *render.Response) {
	for key, values := range response.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(response.Status)
	if len(response.Body) > 0 {
		w.Write(response.Body)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, perr *pgrsterr.Error) {
	if perr.Status >= 500 && perr.Cause != nil {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", perr.Code),
			slog.String("error", perr.Cause.Error()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.Status)
	json.NewEncoder(w).Encode(perr)
}
