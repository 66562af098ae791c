// Copyright (c) 2026 Tidebase. All rights reserved.

package sqlgen

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/schema"
)

// rpcAlias names the function result set so filters and ordering from the
// query string can address its columns.
const rpcAlias = `"_tb_rpc"`

// Call compiles a stored-function invocation. Arguments bind by name, so
// callers may pass them in any order and rely on engine defaults for the
// rest. Query-string filters, projections, ordering, and pagination apply
// to the function's result set.
func Call(q *parse.Query, snap *schema.Snapshot, fnArgs map[string]any) (*Statement, error) {
	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	args := &argList{}

	names := make([]string, 0, len(fnArgs))
	for name := range fnArgs {
		names = append(names, name)
	}
	sort.Strings(names)

	namedArgs := make([]string, 0, len(names))
	for _, name := range names {
		quotedName, err := quoteIdent(name)
		if err != nil {
			return nil, wrapIdentErr(err)
		}
		namedArgs = append(namedArgs, quotedName+" := "+args.add(bindValue(fnArgs[name])))
	}

	builder := &selectBuilder{snap: snap, args: args}
	columns, groupBy, err := builder.projectionList(q.Select, q.Schema, q.Table, rpcAlias)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(columns)
	sql.WriteString(" FROM ")
	sql.WriteString(target)
	sql.WriteString("(")
	sql.WriteString(strings.Join(namedArgs, ", "))
	sql.WriteString(") ")
	sql.WriteString(rpcAlias)

	where, err := renderWhere(q.Where, rpcAlias, args)
	if err != nil {
		return nil, wrapIdentErr(err)
	}
	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	if groupBy != "" {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(groupBy)
	}

	order, err := renderOrder(q.Order, rpcAlias)
	if err != nil {
		return nil, wrapIdentErr(err)
	}
	if order != "" {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(order)
	}

	if q.Limit != nil {
		sql.WriteString(" LIMIT ")
		sql.WriteString(strconv.Itoa(*q.Limit))
	}
	if q.Offset != nil {
		sql.WriteString(" OFFSET ")
		sql.WriteString(strconv.Itoa(*q.Offset))
	}

	return &Statement{SQL: sql.String(), Args: args.args}, nil
}
