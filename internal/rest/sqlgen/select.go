// Copyright (c) 2026 Tidebase. All rights reserved.

package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/parse"
	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
	"github.com/tidebase/tidebase/internal/rest/schema"
)

// Select compiles a read query, including embedded relations rendered as
// correlated JSON subselects and aggregate projections with their implied
// GROUP BY.
func Select(q *parse.Query, snap *schema.Snapshot) (*Statement, error) {
	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	builder := &selectBuilder{snap: snap, args: &argList{}}

	columns, groupBy, err := builder.projectionList(q.Select, q.Schema, q.Table, target)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(columns)
	sql.WriteString(" FROM ")
	sql.WriteString(target)

	where, err := renderWhere(q.Where, target, builder.args)
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

	order, err := renderOrder(q.Order, target)
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

	return &Statement{SQL: sql.String(), Args: builder.args.args}, nil
}

// Count compiles the exact-count companion query: the same target and WHERE
// tree with projections, ordering, and pagination stripped.
func Count(q *parse.Query) (*Statement, error) {
	target, err := qualify(q.Schema, q.Table)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	args := &argList{}
	where, err := renderWhere(q.Where, target, args)
	if err != nil {
		return nil, wrapIdentErr(err)
	}

	sql := "SELECT count(*) FROM " + target
	if where != "" {
		sql += " WHERE " + where
	}

	return &Statement{SQL: sql, Args: args.args}, nil
}

// wrapIdentErr upgrades identifier validation failures to the wire-level
// parse error; other errors pass through unchanged.
func wrapIdentErr(err error) error {
	if bad, ok := err.(*ErrBadIdentifier); ok {
		return pgrsterr.Parse(bad.Error())
	}
	return err
}

// # Projection Rendering

// selectBuilder carries the shared argument list and an embed counter used
// to mint unique subquery aliases across nesting levels.
type selectBuilder struct {
	snap  *schema.Snapshot
	args  *argList
	embed int
}

// projectionList renders the SELECT columns for one relation level and the
// GROUP BY list implied by any aggregate projections. qualifier is the
// rendered reference to the current relation (a qualified name at the top
// level, a subquery alias inside embeds).
func (b *selectBuilder) projectionList(projections []parse.Projection, schemaName, table, qualifier string) (columns, groupBy string, err error) {
	if len(projections) == 0 {
		return qualifier + ".*", "", nil
	}

	var hasAggregate bool
	for _, projection := range projections {
		if projection.Kind == parse.KindAggregate {
			hasAggregate = true
			break
		}
	}

	rendered := make([]string, 0, len(projections))
	var groups []string
	for _, projection := range projections {
		expression, err := b.projectionExpr(&projection, schemaName, table, qualifier)
		if err != nil {
			return "", "", err
		}

		if hasAggregate && projection.Kind != parse.KindAggregate && projection.Kind != parse.KindEmbed {
			groups = append(groups, expression)
		}

		if alias := projectionAlias(&projection); alias != "" {
			quoted, err := quoteIdent(alias)
			if err != nil {
				return "", "", err
			}
			expression += " AS " + quoted
		}
		rendered = append(rendered, expression)
	}

	return strings.Join(rendered, ", "), strings.Join(groups, ", "), nil
}

// projectionAlias returns the output name for a projection, or empty when
// the engine default applies.
func projectionAlias(projection *parse.Projection) string {
	if projection.Alias != "" {
		return projection.Alias
	}
	if projection.Kind == parse.KindEmbed {
		return projection.Embed.Relation
	}
	return ""
}

func (b *selectBuilder) projectionExpr(projection *parse.Projection, schemaName, table, qualifier string) (string, error) {
	switch projection.Kind {
	case parse.KindColumn:
		base, err := qualifiedColumn(qualifier, projection.Name)
		if err != nil {
			return "", err
		}
		return castExpr(base, projection.Cast)

	case parse.KindJSONPath:
		base, err := qualifiedColumn(qualifier, projection.Name)
		if err != nil {
			return "", err
		}
		for _, step := range projection.Path {
			arrow := "->"
			if step.AsText {
				arrow = "->>"
			}
			base += arrow + "'" + strings.ReplaceAll(step.Key, "'", "''") + "'"
		}
		return castExpr(base, projection.Cast)

	case parse.KindAggregate:
		return b.aggregateExpr(projection, qualifier)

	case parse.KindEmbed:
		return b.embedExpr(projection.Embed, schemaName, table, qualifier)

	default:
		return "", fmt.Errorf("unsupported projection kind %d", projection.Kind)
	}
}

func qualifiedColumn(qualifier, name string) (string, error) {
	column, err := quoteIdent(name)
	if err != nil {
		return "", err
	}
	return qualifier + "." + column, nil
}

func castExpr(expression, cast string) (string, error) {
	if cast == "" {
		return expression, nil
	}
	if !ValidIdent(cast) {
		return "", &ErrBadIdentifier{Name: cast}
	}
	return "(" + expression + ")::" + cast, nil
}

// aggregateFunctions is the closed set accepted in select lists.
var aggregateFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}

func (b *selectBuilder) aggregateExpr(projection *parse.Projection, qualifier string) (string, error) {
	fn := strings.ToLower(projection.Aggregate)
	if !aggregateFunctions[fn] {
		return "", pgrsterr.Parse(fmt.Sprintf("unknown aggregate function %q", projection.Aggregate))
	}

	operand := "*"
	if projection.Name != "" && projection.Name != "*" {
		column, err := qualifiedColumn(qualifier, projection.Name)
		if err != nil {
			return "", err
		}
		operand = column
	} else if fn != "count" {
		return "", pgrsterr.Parse(fmt.Sprintf("aggregate %q requires a column", fn))
	}

	return castExpr(fn+"("+operand+")", projection.Cast)
}

// # Embeds

// embedExpr renders a related relation as a correlated subselect. To-one
// edges produce a JSON object (or null), to-many and many-to-many edges a
// JSON array that coalesces to [] when no rows match.
func (b *selectBuilder) embedExpr(embed *parse.Embed, parentSchema, parentTable, parentQualifier string) (string, error) {
	rel, err := b.snap.Resolve(parentSchema, parentTable, embed.Relation, embed.Hint)
	if err != nil {
		return "", err
	}

	b.embed++
	alias := `"_tb_embed_` + strconv.Itoa(b.embed) + `"`

	target, err := qualify(rel.TargetSchema, rel.TargetTable)
	if err != nil {
		return "", err
	}

	columns, _, err := b.projectionList(embed.Select, rel.TargetSchema, rel.TargetTable, alias)
	if err != nil {
		return "", err
	}

	join, err := b.embedJoin(rel, alias, parentQualifier)
	if err != nil {
		return "", err
	}

	conditions := []string{join}
	if filter, err := renderWhere(embed.Where, alias, b.args); err != nil {
		return "", err
	} else if filter != "" {
		conditions = append(conditions, filter)
	}

	inner := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s", columns, target, alias, strings.Join(conditions, " AND "))

	rowAlias := `"_tb_row_` + strconv.Itoa(b.embed) + `"`
	if rel.Cardinality == schema.ToOne {
		return fmt.Sprintf("(SELECT row_to_json(%s) FROM (%s LIMIT 1) %s)", rowAlias, inner, rowAlias), nil
	}
	return fmt.Sprintf("COALESCE((SELECT json_agg(row_to_json(%s)) FROM (%s) %s), '[]'::json)", rowAlias, inner, rowAlias), nil
}

// embedJoin renders the correlation predicate tying the embed to its parent
// row, routing through the junction table for many-to-many edges.
func (b *selectBuilder) embedJoin(rel *schema.Relationship, alias, parentQualifier string) (string, error) {
	parentColumn, err := quoteIdent(rel.ParentColumn)
	if err != nil {
		return "", err
	}
	childColumn, err := quoteIdent(rel.ChildColumn)
	if err != nil {
		return "", err
	}

	if rel.Cardinality != schema.ManyToMany {
		return fmt.Sprintf("%s.%s = %s.%s", alias, childColumn, parentQualifier, parentColumn), nil
	}

	junction, err := qualify(rel.JunctionSchema, rel.Junction)
	if err != nil {
		return "", err
	}
	junctionParentFK, err := quoteIdent(rel.JunctionParentFK)
	if err != nil {
		return "", err
	}
	junctionChildFK, err := quoteIdent(rel.JunctionChildFK)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"%s.%s IN (SELECT j.%s FROM %s j WHERE j.%s = %s.%s)",
		alias, childColumn,
		junctionChildFK, junction, junctionParentFK,
		parentQualifier, parentColumn,
	), nil
}

// # Ordering

func renderOrder(specs []parse.OrderSpec, qualifier string) (string, error) {
	if len(specs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(specs))
	for _, spec := range specs {
		column, err := qualifiedColumn(qualifier, spec.Column)
		if err != nil {
			return "", err
		}

		direction := " ASC"
		if !spec.Ascending {
			direction = " DESC"
		}
		key := column + direction

		if spec.NullsFirst != nil {
			if *spec.NullsFirst {
				key += " NULLS FIRST"
			} else {
				key += " NULLS LAST"
			}
		}
		keys = append(keys, key)
	}

	return strings.Join(keys, ", "), nil
}
