// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package render shapes executed results into HTTP responses: status code
selection, Content-Range and Preference-Applied headers, single-object
unwrapping, and the write-verb status rules.

The executor delivers rows as engine-formatted JSON; this package slices
and annotates that payload without re-encoding values wherever possible.
*/
package render

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/exec"
	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
	"github.com/tidebase/tidebase/internal/rest/sqlgen"
	"github.com/tidebase/tidebase/pkg/httprange"
)

const (
	contentTypeJSON         = "application/json"
	contentTypeSingleObject = parse.MediaTypeSingleObject
)

// Response is a fully shaped HTTP reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func newResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

func (r *Response) setPreferenceApplied(q *parse.Query) {
	if applied := q.PreferenceApplied(); applied != "" {
		r.Header.Set("Preference-Applied", applied)
	}
}

// Read shapes a GET or HEAD result. total is the requested count, nil when
// no count preference applied.
func Read(q *parse.Query, result *exec.Result, total *int64) (*Response, *pgrsterr.Error) {
	response := newResponse(http.StatusOK)
	response.setPreferenceApplied(q)

	offset := 0
	if q.Offset != nil {
		offset = *q.Offset
	}
	response.Header.Set("Content-Range", httprange.ContentRange(offset, int(result.Rows), total))

	if q.HasRange && total != nil && result.Rows > 0 && int64(offset)+result.Rows < *total {
		response.Status = http.StatusPartialContent
	}

	body, contentType, err := shapeBody(q, result)
	if err != nil {
		return nil, err
	}
	response.Header.Set("Content-Type", contentType)
	response.Body = body

	return response, nil
}

// Write shapes an INSERT, UPSERT, UPDATE, or DELETE result following the
// verb's status rules.
func Write(method string, q *parse.Query, result *exec.Result, total *int64, pk []string) (*Response, *pgrsterr.Error) {
	status := writeStatus(method, q, result)

	response := newResponse(status)
	response.setPreferenceApplied(q)

	if total != nil {
		response.Header.Set("Content-Range", httprange.ContentRange(0, int(result.Rows), total))
	}

	if method == http.MethodPost && q.Return == parse.ReturnHeadersOnly {
		if location := locationHeader(q, result, pk); location != "" {
			response.Header.Set("Location", location)
		}
	}

	if q.Return != parse.ReturnRepresentation {
		return response, nil
	}

	body, contentType, err := shapeBody(q, result)
	if err != nil {
		return nil, err
	}
	response.Header.Set("Content-Type", contentType)
	response.Body = body

	return response, nil
}

// RPC shapes a function-call result. A result of exactly one row with a
// single column named after the function unwraps to a bare JSON value.
func RPC(q *parse.Query, result *exec.Result) (*Response, *pgrsterr.Error) {
	response := newResponse(http.StatusOK)
	response.setPreferenceApplied(q)
	response.Header.Set("Content-Type", contentTypeJSON)

	if scalar, ok := scalarValue(q.Table, result); ok && !q.SingleObject {
		response.Body = scalar
		return response, nil
	}

	body, contentType, err := shapeBody(q, result)
	if err != nil {
		return nil, err
	}
	response.Header.Set("Content-Type", contentType)
	response.Body = body

	return response, nil
}

// # Body Shaping

// shapeBody applies single-object unwrapping and hidden-column stripping.
func shapeBody(q *parse.Query, result *exec.Result) ([]byte, string, *pgrsterr.Error) {
	payload := result.JSON
	if payload == nil {
		payload = []byte("[]")
	}

	if q.Resolution != parse.ResolutionNone {
		stripped, err := stripHiddenColumns(payload)
		if err != nil {
			return nil, "", pgrsterr.Internal(err)
		}
		payload = stripped
	}

	if !q.SingleObject {
		return payload, contentTypeJSON, nil
	}

	if result.Rows != 1 {
		return nil, "", pgrsterr.SingularityMismatch(int(result.Rows))
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, "", pgrsterr.Internal(err)
	}
	return rows[0], contentTypeSingleObject, nil
}

// stripHiddenColumns removes the upsert marker from every row while keeping
// all other values byte-identical.
func stripHiddenColumns(payload []byte) ([]byte, error) {
	if !bytes.Contains(payload, []byte(sqlgen.InsertedColumn)) {
		return payload, nil
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		delete(row, sqlgen.InsertedColumn)
	}
	return json.Marshal(rows)
}

// # Write Status Rules

func writeStatus(method string, q *parse.Query, result *exec.Result) int {
	switch method {
	case http.MethodPost, http.MethodPut:
		if q.Resolution != parse.ResolutionNone && !allInserted(result) {
			return http.StatusOK
		}
		return http.StatusCreated
	default:
		if q.Return == parse.ReturnRepresentation {
			return http.StatusOK
		}
		return http.StatusNoContent
	}
}

// allInserted inspects the upsert marker column. A row that existed before
// the write carries a false marker and downgrades the status to 200.
// Without a representation the marker is unavailable and the insert status
// stands.
func allInserted(result *exec.Result) bool {
	if result.JSON == nil {
		return true
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(result.JSON, &rows); err != nil {
		return true
	}
	for _, row := range rows {
		if marker, ok := row[sqlgen.InsertedColumn]; ok && string(marker) == "false" {
			return false
		}
	}
	return true
}

// locationHeader derives the canonical row URL from the primary key of a
// single inserted row.
func locationHeader(q *parse.Query, result *exec.Result, pk []string) string {
	if len(pk) == 0 || result.Rows != 1 || result.JSON == nil {
		return ""
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(result.JSON, &rows); err != nil || len(rows) != 1 {
		return ""
	}

	filters := make([]string, 0, len(pk))
	for _, column := range pk {
		raw, ok := rows[0][column]
		if !ok {
			return ""
		}
		value := strings.Trim(string(raw), `"`)
		filters = append(filters, column+"=eq."+value)
	}

	return "/" + q.Table + "?" + strings.Join(filters, "&")
}

// # Helpers

// scalarValue unwraps set-returning scalar functions: one row whose only
// column carries the function's own name.
func scalarValue(fn string, result *exec.Result) ([]byte, bool) {
	if result.Rows != 1 || result.JSON == nil {
		return nil, false
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(result.JSON, &rows); err != nil || len(rows) != 1 {
		return nil, false
	}
	if len(rows[0]) != 1 {
		return nil, false
	}

	value, ok := rows[0][fn]
	return value, ok
}
