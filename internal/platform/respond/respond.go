// Copyright (c) 2026 Tidebase. All rights reserved.

// Package respond provides HTTP response helpers for the infrastructure
// endpoints.
//
// # Architecture
//
// The query surface shapes its own wire format; this package serves the
// operational endpoints (health probes) that live outside that dialect.
package respond

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON response with the given status code.
func JSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}

// OK writes a 200 OK response.
func OK(writer http.ResponseWriter, payload interface{}) {
	JSON(writer, http.StatusOK, payload)
}
