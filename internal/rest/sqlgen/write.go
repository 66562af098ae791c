// Copyright (c) 2026 Tidebase. All rights reserved.

package sqlgen

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
)

// InsertedColumn is the hidden RETURNING column upserts use to distinguish
// inserted rows from updated ones. The renderer strips it from responses.
const InsertedColumn = "_tb_inserted"

// Insert compiles an INSERT, optionally with upsert conflict handling. pk
// supplies the conflict target when the request carries no ?on_conflict=.
func Insert(q *parse.Query, body *parse.WriteBody, pk []string) (*Statement, error) {
	if len(body.Rows) == 0 {
		return nil, pgrsterr.InvalidBody("no rows to insert")
	}

	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	columns, err := insertColumns(body, q.Columns)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, pgrsterr.InvalidBody("all object keys must match a writable column")
	}

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i], err = quoteIdent(column)
		if err != nil {
			return nil, wrapIdentErr(err)
		}
	}

	args := &argList{}
	valueRows := make([]string, 0, len(body.Rows))
	for _, row := range body.Rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			value, present := row[column]
			if !present {
				cells[i] = "DEFAULT"
				continue
			}
			cells[i] = args.add(bindValue(value))
		}
		valueRows = append(valueRows, "("+strings.Join(cells, ", ")+")")
	}

	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(target)
	sql.WriteString(" (")
	sql.WriteString(strings.Join(quoted, ", "))
	sql.WriteString(") VALUES ")
	sql.WriteString(strings.Join(valueRows, ", "))

	upsert := q.Resolution != parse.ResolutionNone
	if upsert {
		conflict, err := conflictClause(q, quoted, columns, pk)
		if err != nil {
			return nil, err
		}
		sql.WriteString(conflict)
	}

	if returning := returningClause(q.Return, upsert); returning != "" {
		sql.WriteString(returning)
	}

	return &Statement{SQL: sql.String(), Args: args.args}, nil
}

// Update compiles an UPDATE from a single-object payload. The WHERE tree
// comes from the query string; guarding against unfiltered updates is the
// caller's concern.
func Update(q *parse.Query, row map[string]any) (*Statement, error) {
	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	columns, err := writeColumns(row, q.Columns)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, pgrsterr.InvalidBody("no columns to update")
	}

	args := &argList{}
	assignments := make([]string, len(columns))
	for i, column := range columns {
		quotedColumn, err := quoteIdent(column)
		if err != nil {
			return nil, wrapIdentErr(err)
		}
		assignments[i] = quotedColumn + " = " + args.add(bindValue(row[column]))
	}

	var sql strings.Builder
	sql.WriteString("UPDATE ")
	sql.WriteString(target)
	sql.WriteString(" SET ")
	sql.WriteString(strings.Join(assignments, ", "))

	where, err := renderWhere(q.Where, target, args)
	if err != nil {
		return nil, wrapIdentErr(err)
	}
	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	if returning := returningClause(q.Return, false); returning != "" {
		sql.WriteString(returning)
	}

	return &Statement{SQL: sql.String(), Args: args.args}, nil
}

// Delete compiles a DELETE over the query's WHERE tree.
func Delete(q *parse.Query) (*Statement, error) {
	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	args := &argList{}
	where, err := renderWhere(q.Where, target, args)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	sql := "DELETE FROM " + target
	if where != "" {
		sql += " WHERE " + where
	}
	if returning := returningClause(q.Return, false); returning != "" {
		sql += returning
	}

	return &Statement{SQL: sql, Args: args.args}, nil
}

// # Helpers

// insertColumns computes the sorted union of payload keys across all rows,
// filtered through an optional ?columns= restriction.
func insertColumns(body *parse.WriteBody, restriction []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, row := range body.Rows {
		for key := range row {
			seen[key] = true
		}
	}

	if len(restriction) > 0 {
		allowed := make(map[string]bool, len(restriction))
		for _, column := range restriction {
			allowed[column] = true
		}
		for key := range seen {
			if !allowed[key] {
				delete(seen, key)
			}
		}
	}

	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns, nil
}

func writeColumns(row map[string]any, restriction []string) ([]string, error) {
	return insertColumns(&parse.WriteBody{Rows: []map[string]any{row}}, restriction)
}

// conflictClause renders ON CONFLICT for upserts. Merge updates every
// inserted column from EXCLUDED; ignore does nothing on conflict.
func conflictClause(q *parse.Query, quoted, columns []string, pk []string) (string, error) {
	targetColumns := q.OnConflict
	if len(targetColumns) == 0 {
		targetColumns = pk
	}
	if len(targetColumns) == 0 {
		return "", pgrsterr.Parse("upsert requires on_conflict columns or a primary key")
	}

	quotedTargets := make([]string, len(targetColumns))
	for i, column := range targetColumns {
		quotedColumn, err := quoteIdent(column)
		if err != nil {
			return "", wrapIdentErr(err)
		}
		quotedTargets[i] = quotedColumn
	}

	clause := " ON CONFLICT (" + strings.Join(quotedTargets, ", ") + ")"

	if q.Resolution == parse.ResolutionIgnoreDuplicates {
		return clause + " DO NOTHING", nil
	}

	assignments := make([]string, 0, len(columns))
	for i := range columns {
		assignments = append(assignments, quoted[i]+" = EXCLUDED."+quoted[i])
	}
	return clause + " DO UPDATE SET " + strings.Join(assignments, ", "), nil
}

// returningClause renders RETURNING when the response needs row data.
// Upserts add a hidden marker column so the renderer can pick the status.
func returningClause(mode parse.ReturnMode, upsert bool) string {
	if mode != parse.ReturnRepresentation && mode != parse.ReturnHeadersOnly {
		return ""
	}
	clause := " RETURNING *"
	if upsert {
		clause += ", (xmax = 0) AS " + InsertedColumn
	}
	return clause
}

// bindValue converts a decoded JSON value into a bindable parameter.
// Scalars pass through; objects and arrays are re-encoded as JSON text and
// left to the engine's parameter type inference.
func bindValue(value any) any {
	switch typed := value.(type) {
	case nil, string, bool:
		return typed
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil
		}
		return string(encoded)
	}
}
