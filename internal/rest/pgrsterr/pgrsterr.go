// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package pgrsterr defines the PostgREST-compatible error envelope used by the
entire REST surface.

Every failure that reaches a client is serialized as:

	{ "code": "...", "message": "...", "details": ..., "hint": ... }

with an HTTP status derived from the error class. Engine errors keep their
native SQLSTATE code, message, detail, and hint verbatim so that clients can
discriminate between constraint classes (unique vs. foreign key vs. check).

Architecture:

  - Error: the single error type crossing the formatter boundary.
  - Constructors: one per PGRST error class the gateway can raise itself.
  - FromEngine: classification of pgx/pgconn errors by SQLSTATE.

All error paths in the gateway converge here; handlers never hand-build
error bodies.
*/
package pgrsterr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error is the canonical PostgREST-style error envelope.
//
// Details and Hint are pointers so that absent values serialize as JSON null,
// matching the PostgREST wire format.
type Error struct {
	// Code is either a PGRSTnnn gateway code or a native SQLSTATE.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Details carries engine detail text, or null.
	Details *string `json:"details"`
	// Hint carries engine hint text, or null.
	Hint *string `json:"hint"`
	// Status is the HTTP response status code.
	Status int `json:"-"`
	// Cause is the underlying error, for server-side logging only.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// WithDetails attaches detail text and returns the receiver for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = &details
	return e
}

// WithHint attaches hint text and returns the receiver for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = &hint
	return e
}

// New creates an [Error] with the given code, HTTP status, and message.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// # Gateway Errors (raised before the engine is touched)

// Parse reports a malformed query string, unknown operator, or bad literal.
func Parse(detail string) *Error {
	return New("PGRST100", http.StatusBadRequest, "Failed to parse request").WithDetails(detail)
}

// InvalidBody reports a missing or malformed request body.
func InvalidBody(detail string) *Error {
	return New("PGRST102", http.StatusUnprocessableEntity, "Invalid request body").WithDetails(detail)
}

// RangeNotSatisfiable reports an unusable Range header.
func RangeNotSatisfiable() *Error {
	return New("PGRST103", http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
}

// MethodNotAllowed reports an HTTP verb the surface does not dispatch.
func MethodNotAllowed(method string) *Error {
	return New("PGRST105", http.StatusMethodNotAllowed, fmt.Sprintf("Method %s is not allowed", method))
}

// SchemaNotExposed reports an Accept-Profile / Content-Profile schema that is
// not on the exposed list.
func SchemaNotExposed(schema string) *Error {
	return New("PGRST106", http.StatusNotAcceptable, fmt.Sprintf("The schema %q is not exposed through this API", schema))
}

// SingularityMismatch reports a single-object request that matched a row
// count other than one.
func SingularityMismatch(rows int) *Error {
	return New("PGRST116", http.StatusNotAcceptable,
		fmt.Sprintf("JSON object requested, multiple (or no) rows returned. Got %d rows", rows))
}

// AmbiguousEmbed reports an embedded relation reachable through more than one
// foreign key with no disambiguating hint.
func AmbiguousEmbed(relation string, candidates []string) *Error {
	e := New("PGRST201", http.StatusMultipleChoices,
		fmt.Sprintf("Could not embed %q because more than one relationship was found", relation))
	if len(candidates) > 0 {
		e.WithHint(fmt.Sprintf("Try changing %q to one of the following: %v", relation, candidates))
	}
	return e
}

// UnknownFunction reports an RPC target that does not exist.
func UnknownFunction(fn string) *Error {
	return New("PGRST202", http.StatusNotFound, fmt.Sprintf("Could not find the function %q in the schema cache", fn))
}

// UnknownRelation reports a table or view that does not exist.
func UnknownRelation(table string) *Error {
	return New("PGRST205", http.StatusNotFound, fmt.Sprintf("Could not find the table %q in the schema cache", table))
}

// Unauthorized reports a missing or invalid API key or bearer token.
func Unauthorized(detail string) *Error {
	return New("PGRST301", http.StatusUnauthorized, "Invalid or missing credentials").WithDetails(detail)
}

// PoolTimeout reports failure to acquire a connection in time.
func PoolTimeout() *Error {
	return New("PGRST003", http.StatusGatewayTimeout, "Timed out acquiring a database connection")
}

// Internal wraps an unexpected server-side failure. The cause is kept for
// logging and never serialized.
func Internal(cause error) *Error {
	return &Error{
		Code:    "PGRST000",
		Status:  http.StatusInternalServerError,
		Message: "An unexpected error occurred",
		Cause:   cause,
	}
}

// # Engine Error Classification

// sqlstateStatus maps SQLSTATE classes the gateway cares about to HTTP
// statuses. Anything absent falls through to 400 for client-class states and
// 500 otherwise.
var sqlstateStatus = map[string]int{
	pgerrcode.UniqueViolation:                        http.StatusConflict,
	pgerrcode.ForeignKeyViolation:                    http.StatusConflict,
	pgerrcode.NotNullViolation:                       http.StatusUnprocessableEntity,
	pgerrcode.CheckViolation:                         http.StatusUnprocessableEntity,
	pgerrcode.ExclusionViolation:                     http.StatusConflict,
	pgerrcode.UndefinedTable:                         http.StatusNotFound,
	pgerrcode.UndefinedColumn:                        http.StatusBadRequest,
	pgerrcode.UndefinedFunction:                      http.StatusNotFound,
	pgerrcode.InsufficientPrivilege:                  http.StatusForbidden,
	pgerrcode.InvalidTextRepresentation:              http.StatusBadRequest,
	pgerrcode.NumericValueOutOfRange:                 http.StatusBadRequest,
	pgerrcode.StringDataRightTruncationDataException: http.StatusBadRequest,
	pgerrcode.InvalidDatetimeFormat:                  http.StatusBadRequest,
	pgerrcode.CardinalityViolation:                   http.StatusBadRequest,
	pgerrcode.RaiseException:                         http.StatusBadRequest,
	pgerrcode.QueryCanceled:                          http.StatusGatewayTimeout,
}

// FromEngine converts any error surfaced by the executor into an [Error].
//
// Native PostgreSQL errors keep their SQLSTATE as the envelope code and their
// message/detail/hint verbatim. Context cancellation becomes a timeout-class
// error. Errors that are already an [*Error] pass through unchanged.
func FromEngine(err error) *Error {
	if err == nil {
		return nil
	}

	var envelope *Error
	if errors.As(err, &envelope) {
		return envelope
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		status, ok := sqlstateStatus[pgErr.Code]
		if !ok {
			status = http.StatusInternalServerError
			// Class 22/23/42 without an explicit mapping is still a client error.
			if len(pgErr.Code) >= 2 {
				switch pgErr.Code[:2] {
				case "22", "23", "42":
					status = http.StatusBadRequest
				}
			}
		}

		mapped := New(pgErr.Code, status, pgErr.Message)
		if pgErr.Detail != "" {
			mapped.WithDetails(pgErr.Detail)
		}
		if pgErr.Hint != "" {
			mapped.WithHint(pgErr.Hint)
		}
		mapped.Cause = err
		return mapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New("57014", http.StatusGatewayTimeout, "Statement timed out")
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return SingularityMismatch(0)
	}

	return Internal(err)
}

// IsUndefinedTable reports whether err carries SQLSTATE 42P01, the signal the
// schema cache uses to refresh its foreign-key snapshot.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
