// Copyright (c) 2026 Tidebase. All rights reserved.

package sqlgen

import (
	"fmt"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/parse"
)

// renderWhere joins top-level conditions with AND. qualifier optionally
// prefixes column references (used inside embed subselects).
func renderWhere(conditions []parse.Condition, qualifier string, args *argList) (string, error) {
	if len(conditions) == 0 {
		return "", nil
	}

	fragments := make([]string, 0, len(conditions))
	for _, condition := range conditions {
		fragment, err := renderCondition(condition, qualifier, args)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, fragment)
	}

	return strings.Join(fragments, " AND "), nil
}

func renderCondition(condition parse.Condition, qualifier string, args *argList) (string, error) {
	switch typed := condition.(type) {
	case parse.Filter:
		return renderFilter(&typed, qualifier, args)
	case parse.Group:
		return renderGroup(&typed, qualifier, args)
	case parse.Deny:
		return "FALSE", nil
	default:
		return "", fmt.Errorf("unsupported condition type %T", condition)
	}
}

func renderGroup(group *parse.Group, qualifier string, args *argList) (string, error) {
	conjunction := " AND "
	if group.Or {
		conjunction = " OR "
	}

	fragments := make([]string, 0, len(group.Children))
	for _, child := range group.Children {
		fragment, err := renderCondition(child, qualifier, args)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, fragment)
	}

	rendered := "(" + strings.Join(fragments, conjunction) + ")"
	if group.Negated {
		rendered = "NOT " + rendered
	}
	return rendered, nil
}

// renderFilter produces one comparison fragment from the operator table.
func renderFilter(filter *parse.Filter, qualifier string, args *argList) (string, error) {
	column, err := quoteIdent(filter.Column)
	if err != nil {
		return "", err
	}
	if qualifier != "" {
		column = qualifier + "." + column
	}

	spec, known := parse.Operators[filter.Op]
	if !known {
		return "", fmt.Errorf("unknown operator %q", filter.Op)
	}

	var fragment string
	switch {
	case spec.TSQuery != "":
		fragment, err = renderTextSearch(column, filter, spec, args)
		if err != nil {
			return "", err
		}

	case spec.List:
		fragment = fmt.Sprintf("%s = ANY(%s)", column, args.add(filter.Value.List))

	case spec.Keyword:
		// Keyword domain is validated at parse time; render literally.
		fragment = fmt.Sprintf("%s IS %s", column, strings.ToUpper(filter.Value.Text))

	case spec.Pattern:
		pattern := strings.ReplaceAll(filter.Value.Text, "*", "%")
		fragment = fmt.Sprintf("%s %s %s", column, spec.SQL, args.add(pattern))

	default:
		fragment = fmt.Sprintf("%s %s %s", column, spec.SQL, args.add(filter.Value.Text))
	}

	if filter.Negated {
		fragment = "NOT (" + fragment + ")"
	}
	return fragment, nil
}

// renderTextSearch emits the to_tsvector @@ to_tsquery family. The language
// modifier is an identifier-validated regconfig rendered as a literal.
func renderTextSearch(column string, filter *parse.Filter, spec parse.OpSpec, args *argList) (string, error) {
	query := args.add(filter.Value.Text)

	if filter.Modifier != "" {
		if !ValidIdent(filter.Modifier) {
			return "", fmt.Errorf("invalid text search configuration %q", filter.Modifier)
		}
		language := "'" + filter.Modifier + "'"
		return fmt.Sprintf("to_tsvector(%s, %s) @@ %s(%s, %s)",
			language, column, spec.TSQuery, language, query), nil
	}

	return fmt.Sprintf("to_tsvector(%s) @@ %s(%s)", column, spec.TSQuery, query), nil
}
