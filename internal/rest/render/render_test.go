// Copyright (c) 2026 Tidebase. All rights reserved.

package render_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebase/tidebase/internal/rest/exec"
	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/render"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

/*
TestRead_Plain verifies a straightforward read: 200, JSON body passthrough,
and an open Content-Range.
*/
func TestRead_Plain(t *testing.T) {
	q := &parse.Query{Table: "products"}
	result := &exec.Result{JSON: []byte(`[{"id":1},{"id":2}]`), Rows: 2}

	response, err := render.Read(q, result, nil)
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, response.Status)
	assert.Equal(t, "application/json", response.Header.Get("Content-Type"))
	assert.Equal(t, "0-1/*", response.Header.Get("Content-Range"))
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(response.Body))
}

/*
TestRead_CountedRange verifies a ranged, counted read reports 206 with the
full Content-Range.
*/
func TestRead_CountedRange(t *testing.T) {
	q := &parse.Query{
		Table:    "products",
		Offset:   intPtr(10),
		Limit:    intPtr(5),
		Count:    parse.CountExact,
		HasRange: true,
	}
	result := &exec.Result{JSON: []byte(`[{"id":11},{"id":12},{"id":13},{"id":14},{"id":15}]`), Rows: 5}

	response, err := render.Read(q, result, int64Ptr(77))
	require.Nil(t, err)

	assert.Equal(t, http.StatusPartialContent, response.Status)
	assert.Equal(t, "10-14/77", response.Header.Get("Content-Range"))
}

/*
TestRead_RangeCoveringWholeSet verifies no 206 when the range reaches the
end of the set.
*/
func TestRead_RangeCoveringWholeSet(t *testing.T) {
	q := &parse.Query{Table: "products", Offset: intPtr(0), HasRange: true, Count: parse.CountExact}
	result := &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}

	response, err := render.Read(q, result, int64Ptr(1))
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, response.Status)
	assert.Equal(t, "0-0/1", response.Header.Get("Content-Range"))
}

/*
TestRead_EmptySet verifies the star Content-Range form for zero rows.
*/
func TestRead_EmptySet(t *testing.T) {
	q := &parse.Query{Table: "products", Count: parse.CountExact}
	result := &exec.Result{JSON: []byte(`[]`), Rows: 0}

	response, err := render.Read(q, result, int64Ptr(0))
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, response.Status)
	assert.Equal(t, "*/0", response.Header.Get("Content-Range"))
	assert.Equal(t, "[]", string(response.Body))
}

/*
TestRead_SingleObject verifies the vnd.pgrst.object unwrap for exactly one
row and the 406 mismatch otherwise.
*/
func TestRead_SingleObject(t *testing.T) {
	q := &parse.Query{Table: "products", SingleObject: true}

	response, err := render.Read(q, &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}, nil)
	require.Nil(t, err)
	assert.Equal(t, "application/vnd.pgrst.object+json", response.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"id":1}`, string(response.Body))

	_, err = render.Read(q, &exec.Result{JSON: []byte(`[{"id":1},{"id":2}]`), Rows: 2}, nil)
	require.NotNil(t, err)
	assert.Equal(t, "PGRST116", err.Code)
	assert.Equal(t, http.StatusNotAcceptable, err.Status)
}

/*
TestWrite_PostCreated verifies POST returns 201 with no body under the
minimal default.
*/
func TestWrite_PostCreated(t *testing.T) {
	q := &parse.Query{Table: "products"}
	result := &exec.Result{Rows: 1}

	response, err := render.Write(http.MethodPost, q, result, nil, nil)
	require.Nil(t, err)

	assert.Equal(t, http.StatusCreated, response.Status)
	assert.Empty(t, response.Body)
}

/*
TestWrite_PostRepresentation verifies return=representation echoes the
inserted rows.
*/
func TestWrite_PostRepresentation(t *testing.T) {
	q := &parse.Query{Table: "products", Return: parse.ReturnRepresentation}
	result := &exec.Result{JSON: []byte(`[{"id":7,"name":"Chai"}]`), Rows: 1}

	response, err := render.Write(http.MethodPost, q, result, nil, nil)
	require.Nil(t, err)

	assert.Equal(t, http.StatusCreated, response.Status)
	assert.JSONEq(t, `[{"id":7,"name":"Chai"}]`, string(response.Body))
	assert.Contains(t, response.Header.Get("Preference-Applied"), "return=representation")
}

/*
TestWrite_PostHeadersOnlyLocation verifies the Location header is derived
from the primary key of a single inserted row.
*/
func TestWrite_PostHeadersOnlyLocation(t *testing.T) {
	q := &parse.Query{Table: "products", Return: parse.ReturnHeadersOnly}
	result := &exec.Result{JSON: []byte(`[{"id":7,"name":"Chai"}]`), Rows: 1}

	response, err := render.Write(http.MethodPost, q, result, nil, []string{"id"})
	require.Nil(t, err)

	assert.Equal(t, http.StatusCreated, response.Status)
	assert.Equal(t, "/products?id=eq.7", response.Header.Get("Location"))
	assert.Empty(t, response.Body)
}

/*
TestWrite_UpsertStatus verifies the hidden marker column selects 201 only
when every row was inserted and 200 as soon as any row merged into an
existing one, and that the marker is stripped from the representation.
*/
func TestWrite_UpsertStatus(t *testing.T) {
	q := &parse.Query{
		Table:      "products",
		Return:     parse.ReturnRepresentation,
		Resolution: parse.ResolutionMergeDuplicates,
	}

	inserted := &exec.Result{JSON: []byte(`[{"id":1,"_tb_inserted":true}]`), Rows: 1}
	response, err := render.Write(http.MethodPost, q, inserted, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, http.StatusCreated, response.Status)
	assert.JSONEq(t, `[{"id":1}]`, string(response.Body))

	merged := &exec.Result{JSON: []byte(`[{"id":1,"_tb_inserted":false}]`), Rows: 1}
	response, err = render.Write(http.MethodPost, q, merged, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, response.Status)
	assert.JSONEq(t, `[{"id":1}]`, string(response.Body))

	mixed := &exec.Result{
		JSON: []byte(`[{"id":1,"_tb_inserted":true},{"id":2,"_tb_inserted":false}]`),
		Rows: 2,
	}
	response, err = render.Write(http.MethodPost, q, mixed, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, response.Status)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(response.Body))
}

/*
TestWrite_PatchAndDelete verifies the 200-with-representation versus
204-no-content split for mutating verbs.
*/
func TestWrite_PatchAndDelete(t *testing.T) {
	minimal := &parse.Query{Table: "products"}
	response, err := render.Write(http.MethodPatch, minimal, &exec.Result{Rows: 3}, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, http.StatusNoContent, response.Status)
	assert.Empty(t, response.Body)

	represented := &parse.Query{Table: "products", Return: parse.ReturnRepresentation}
	response, err = render.Write(http.MethodDelete, represented, &exec.Result{JSON: []byte(`[{"id":1}]`), Rows: 1}, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, response.Status)
	assert.JSONEq(t, `[{"id":1}]`, string(response.Body))
}

/*
TestRPC_ScalarUnwrap verifies a single-column single-row function result
named after the function renders as a bare JSON value.
*/
func TestRPC_ScalarUnwrap(t *testing.T) {
	q := &parse.Query{Table: "add_them"}
	result := &exec.Result{JSON: []byte(`[{"add_them":42}]`), Rows: 1}

	response, err := render.RPC(q, result)
	require.Nil(t, err)

	assert.Equal(t, "42", string(response.Body))
}

/*
TestRPC_SetReturning verifies multi-row function results stay a JSON array.
*/
func TestRPC_SetReturning(t *testing.T) {
	q := &parse.Query{Table: "search_products"}
	result := &exec.Result{JSON: []byte(`[{"id":1,"name":"Chai"},{"id":2,"name":"Chang"}]`), Rows: 2}

	response, err := render.RPC(q, result)
	require.Nil(t, err)

	assert.JSONEq(t, `[{"id":1,"name":"Chai"},{"id":2,"name":"Chang"}]`, string(response.Body))
}
