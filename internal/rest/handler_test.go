// Copyright (c) 2026 Tidebase. All rights reserved.

package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebase/tidebase/internal/rest"
	"github.com/tidebase/tidebase/internal/rest/exec"
	"github.com/tidebase/tidebase/internal/rest/rls"
	"github.com/tidebase/tidebase/internal/rest/schema"
	"github.com/tidebase/tidebase/internal/rest/session"
	"github.com/tidebase/tidebase/internal/rest/sqlgen"
)

const (
	anonKey    = "test-anon"
	serviceKey = "test-service"
)

// fakeExecutor records compiled statements and plays back canned results.
type fakeExecutor struct {
	statements []*sqlgen.Statement
	result     *exec.Result
	total      int64
	err        error
	countErr   error
	cache      *schema.Cache
	degraded   bool
}

func (f *fakeExecutor) Run(_ context.Context, _ *session.Session, stmt *sqlgen.Statement, _ bool) (*exec.Result, error) {
	f.statements = append(f.statements, stmt)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) CountExact(context.Context, *session.Session, *sqlgen.Statement) (int64, error) {
	return f.total, f.countErr
}

func (f *fakeExecutor) CountEstimated(context.Context, *session.Session, *sqlgen.Statement) (int64, error) {
	return f.total, f.countErr
}

func (f *fakeExecutor) RolesProvisioned(context.Context) bool { return !f.degraded }

func (f *fakeExecutor) Schemas() *schema.Cache { return f.cache }

func newTestHandler(executor *fakeExecutor, guarded []string, maxRows int) http.Handler {
	if executor.cache == nil {
		snap := schema.NewSnapshot()
		snap.SetPrimaryKey("public", "products", []string{"id"})
		executor.cache = schema.NewStaticCache(snap)
	}

	auth := session.NewAuthenticator(anonKey, serviceKey, []byte("secret"))
	handler := rest.NewHandler(auth, rls.NewGuard(guarded), executor, nil, maxRows,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return handler.Routes()
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	r := httptest.NewRequest(method, target, reader)
	r.Header.Set("apikey", anonKey)
	for key, value := range headers {
		r.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

/*
TestHandler_MissingAPIKey verifies the unauthorized envelope is returned
before any parsing happens.
*/
func TestHandler_MissingAPIKey(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[]`)}}
	handler := newTestHandler(executor, nil, 0)

	r := httptest.NewRequest(http.MethodGet, "/products", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "PGRST301", envelope["code"])
	assert.Empty(t, executor.statements)
}

/*
TestHandler_Get verifies the read path end to end against the fake
executor: filters compile, results pass through, Content-Range is present.
*/
func TestHandler_Get(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products?id=eq.1", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1}]`, w.Body.String())
	assert.Equal(t, "0-0/*", w.Header().Get("Content-Range"))

	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `"public"."products"."id" = $1`)
}

/*
TestHandler_GetWithExactCount verifies the count preference threads through
to the Content-Range total.
*/
func TestHandler_GetWithExactCount(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}, total: 42}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products", "", map[string]string{
		"Prefer": "count=exact",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0-0/42", w.Header().Get("Content-Range"))
	assert.Contains(t, w.Header().Get("Preference-Applied"), "count=exact")
}

/*
TestHandler_GetCountFailureFallsBack verifies that a failing count companion
downgrades the Content-Range total to unknown instead of failing the page.
*/
func TestHandler_GetCountFailureFallsBack(t *testing.T) {
	executor := &fakeExecutor{
		result:   &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1},
		countErr: errors.New("count timed out"),
	}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products", "", map[string]string{
		"Prefer": "count=exact",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1}]`, w.Body.String())
	assert.Equal(t, "0-0/*", w.Header().Get("Content-Range"))
}

/*
TestHandler_Head verifies HEAD runs the read but sends no body.
*/
func TestHandler_Head(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodHead, "/products", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.NotEmpty(t, w.Header().Get("Content-Range"))
}

/*
TestHandler_ParseErrorShortCircuits verifies malformed queries never reach
the executor.
*/
func TestHandler_ParseErrorShortCircuits(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products?id=banana.5", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "PGRST100", envelope["code"])
	assert.Empty(t, executor.statements)
}

/*
TestHandler_SchemaNotExposed verifies profile headers outside the exposed
set are refused.
*/
func TestHandler_SchemaNotExposed(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products", "", map[string]string{
		"Accept-Profile": "private",
	})

	assert.Equal(t, http.StatusNotAcceptable, w.Code)
}

/*
TestHandler_MaxRowsCap verifies the configured cap overrides both absent
and oversized limits.
*/
func TestHandler_MaxRowsCap(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[]`)}}
	handler := newTestHandler(executor, nil, 25)

	doRequest(t, handler, http.MethodGet, "/products?limit=500", "", nil)

	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, "LIMIT 25")
}

/*
TestHandler_Post verifies inserts return 201 and compile the payload into
a parameterized INSERT.
*/
func TestHandler_Post(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodPost, "/products", `{"name":"Chai"}`, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `INSERT INTO "public"."products" ("name") VALUES ($1)`)
}

/*
TestHandler_PostUpsert verifies the resolution preference compiles an ON
CONFLICT clause using the table's primary key.
*/
func TestHandler_PostUpsert(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodPost, "/products", `{"id":1,"name":"Chai"}`, map[string]string{
		"Prefer": "resolution=merge-duplicates",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `ON CONFLICT ("id") DO UPDATE SET`)
}

/*
TestHandler_PatchRequiresFilter verifies unfiltered updates are refused
before execution with the missing-WHERE envelope.
*/
func TestHandler_PatchRequiresFilter(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodPatch, "/products", `{"name":"x"}`, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "PGRST102", envelope["code"])
	assert.Empty(t, executor.statements)
}

/*
TestHandler_PostEmptyArray verifies a zero-row array body succeeds with an
empty representation and never reaches the executor.
*/
func TestHandler_PostEmptyArray(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodPost, "/products", `[]`, map[string]string{
		"Prefer": "return=representation",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Empty(t, executor.statements)
}

/*
TestHandler_Delete verifies filtered deletes execute and return 204 under
the minimal default.
*/
func TestHandler_Delete(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodDelete, "/products?id=eq.1", "", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `DELETE FROM "public"."products"`)
}

/*
TestHandler_DeleteRequiresFilter verifies unfiltered deletes are refused
before execution with the missing-WHERE envelope.
*/
func TestHandler_DeleteRequiresFilter(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodDelete, "/products", "", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "PGRST102", envelope["code"])
	assert.Empty(t, executor.statements)
}

/*
TestHandler_DegradedGuard verifies a degraded anonymous session on a
guarded table compiles an always-false condition instead of leaking rows.
*/
func TestHandler_DegradedGuard(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[]`)}, degraded: true}
	handler := newTestHandler(executor, []string{"public.products"}, 0)

	w := doRequest(t, handler, http.MethodGet, "/products", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, "FALSE")
}

/*
TestHandler_RPCPost verifies named arguments from the body reach the
compiled call.
*/
func TestHandler_RPCPost(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"search_products":3}]`), Rows: 1}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodPost, "/rpc/search_products", `{"term":"chai"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Body.String())
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `"public"."search_products"("term" := $1)`)
}

/*
TestHandler_RPCGet verifies GET calls split query parameters into function
arguments and result filters.
*/
func TestHandler_RPCGet(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"id":1},{"id":2}]`), Rows: 2}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/rpc/search_products?term=chai&unit_price=lt.50", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, executor.statements, 1)
	assert.Contains(t, executor.statements[0].SQL, `"term" := $1`)
	assert.Contains(t, executor.statements[0].SQL, `"_tb_rpc"."unit_price" < $2`)
}

/*
TestHandler_SingleObject verifies the vnd.pgrst.object accept header is
honored through the full stack.
*/
func TestHandler_SingleObject(t *testing.T) {
	executor := &fakeExecutor{result: &exec.Result{JSON: []byte(`[{"id":1},{"id":2}]`), Rows: 2}}
	handler := newTestHandler(executor, nil, 0)

	w := doRequest(t, handler, http.MethodGet, "/products", "", map[string]string{
		"Accept": "application/vnd.pgrst.object+json",
	})

	assert.Equal(t, http.StatusNotAcceptable, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "PGRST116", envelope["code"])
}
