// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package sqlgen compiles the parsed query AST into parameterized SQL for every
verb the REST surface supports: SELECT (with embeds and aggregates), INSERT,
UPSERT, UPDATE, DELETE, RPC, and the auxiliary count query.

Safety model:

  - Every user-supplied value becomes a positional parameter. The engine
    infers parameter types from the expression context, so textual values
    survive numeric, array, range, and jsonb comparisons without the builder
    guessing column types.
  - Identifiers (schemas, tables, columns, function and constraint names)
    are validated against a strict pattern and then double-quoted. Invalid
    identifiers fail before any SQL is assembled; user strings are never
    spliced into identifier position.
  - The only literals rendered inline are IS keywords (NULL/TRUE/FALSE/
    UNKNOWN) and validated text-search language names, both drawn from
    closed sets.
*/
package sqlgen

import (
	"fmt"
	"regexp"
	"strconv"
)

// Statement is a compiled SQL string plus its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// argList accumulates positional parameters during compilation.
type argList struct {
	args []any
}

// add appends v and returns its placeholder ($1, $2, ...).
func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return "$" + strconv.Itoa(len(a.args))
}

// # Identifier Handling

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrBadIdentifier wraps an identifier that failed validation.
type ErrBadIdentifier struct {
	Name string
}

func (e *ErrBadIdentifier) Error() string {
	return fmt.Sprintf("invalid identifier %q", e.Name)
}

// quoteIdent validates and double-quotes a single identifier segment.
func quoteIdent(name string) (string, error) {
	if name == "*" {
		return "*", nil
	}
	if !identPattern.MatchString(name) {
		return "", &ErrBadIdentifier{Name: name}
	}
	return `"` + name + `"`, nil
}

// qualify renders schema.table with both segments validated.
func qualify(schema, table string) (string, error) {
	quotedSchema, err := quoteIdent(schema)
	if err != nil {
		return "", err
	}
	quotedTable, err := quoteIdent(table)
	if err != nil {
		return "", err
	}
	return quotedSchema + "." + quotedTable, nil
}

// ValidIdent reports whether name is usable in identifier position.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}
