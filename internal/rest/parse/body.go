// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

import (
	"encoding/json"
	"io"

	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
)

// WriteBody is a decoded INSERT / UPSERT / UPDATE payload.
type WriteBody struct {
	// Rows holds one map per record. A single-object payload yields one row.
	Rows []map[string]any
	// IsArray records whether the client sent a JSON array, which controls
	// whether the representation is shaped as an array or a bare object.
	IsArray bool
}

// DecodeWriteBody reads an INSERT/UPSERT/UPDATE body: a JSON object or an
// array of objects. Heterogeneous objects are allowed; missing keys become
// DEFAULT at build time. Numbers are kept as [json.Number] so numeric
// precision survives the round trip to the engine.
func DecodeWriteBody(r io.Reader) (*WriteBody, *pgrsterr.Error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		if err == io.EOF {
			return nil, pgrsterr.InvalidBody("request body is empty")
		}
		return nil, pgrsterr.InvalidBody(err.Error())
	}

	switch typed := payload.(type) {
	case map[string]any:
		return &WriteBody{Rows: []map[string]any{typed}}, nil

	case []any:
		rows := make([]map[string]any, 0, len(typed))
		for _, element := range typed {
			row, ok := element.(map[string]any)
			if !ok {
				return nil, pgrsterr.InvalidBody("array elements must be JSON objects")
			}
			rows = append(rows, row)
		}
		return &WriteBody{Rows: rows, IsArray: true}, nil

	default:
		return nil, pgrsterr.InvalidBody("body must be a JSON object or an array of objects")
	}
}

// DecodeRPCBody reads a function-call body: a single JSON object of named
// arguments, or nothing at all. Array bodies are rejected; a function is
// invoked once per request.
func DecodeRPCBody(r io.Reader) (map[string]any, *pgrsterr.Error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, pgrsterr.InvalidBody(err.Error())
	}

	args, ok := payload.(map[string]any)
	if !ok {
		return nil, pgrsterr.InvalidBody("RPC body must be a JSON object of named arguments")
	}

	return args, nil
}
