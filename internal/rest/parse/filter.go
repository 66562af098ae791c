// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

import (
	"fmt"
	"strings"
)

// parseFilterValue splits a filter value of the form `[not.]op[(mod)].rest`
// into a [Filter] leaf for the given column.
func parseFilterValue(column, raw string) (*Filter, error) {

	// 1. Optional negation prefix
	negated := false
	if strings.HasPrefix(raw, "not.") {
		negated = true
		raw = strings.TrimPrefix(raw, "not.")
	}

	// 2. Operator token, with an optional (modifier) suffix used by the
	// full-text family: fts(english).value
	dot := strings.Index(raw, ".")
	if dot < 0 {
		return nil, fmt.Errorf("missing operator in filter %q", column+"="+raw)
	}
	opToken := raw[:dot]
	rest := raw[dot+1:]

	modifier := ""
	if open := strings.Index(opToken, "("); open >= 0 {
		if !strings.HasSuffix(opToken, ")") {
			return nil, fmt.Errorf("malformed operator modifier in %q", opToken)
		}
		modifier = opToken[open+1 : len(opToken)-1]
		opToken = opToken[:open]
	}

	op := Operator(opToken)
	spec, known := Operators[op]
	if !known {
		return nil, fmt.Errorf("unknown operator %q", opToken)
	}
	if modifier != "" && spec.TSQuery == "" {
		return nil, fmt.Errorf("operator %q does not accept a modifier", opToken)
	}

	// 3. Value shaping per operator class
	filter := &Filter{Column: column, Op: op, Modifier: modifier, Negated: negated}
	switch {
	case spec.List:
		list, err := splitListLiteral(rest)
		if err != nil {
			return nil, err
		}
		filter.Value = Value{Kind: ValueList, List: list}

	case spec.Keyword:
		keyword := strings.ToLower(rest)
		if !isKeywordValue(keyword) {
			return nil, fmt.Errorf("%q is not a valid IS value; expected null, true, false or unknown", rest)
		}
		filter.Value = Value{Kind: ValueKeyword, Text: keyword}

	default:
		filter.Value = Value{Kind: ValueScalar, Text: rest}
	}

	return filter, nil
}

// LooksLikeFilter reports whether a query parameter value has the
// `[not.]op.value` shape of a filter. GET function calls use it to tell
// result-set filters apart from named function arguments.
func LooksLikeFilter(value string) bool {
	value = strings.TrimPrefix(value, "not.")

	dot := strings.Index(value, ".")
	if dot <= 0 {
		return false
	}

	opToken := value[:dot]
	if open := strings.Index(opToken, "("); open >= 0 && strings.HasSuffix(opToken, ")") {
		opToken = opToken[:open]
	}

	_, known := Operators[Operator(opToken)]
	return known
}

// splitListLiteral parses an `in` list literal: `(1,2,3)` with optional
// double-quoted elements that may contain commas.
func splitListLiteral(raw string) ([]string, error) {
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, fmt.Errorf("list value %q must be wrapped in parentheses", raw)
	}
	body := raw[1 : len(raw)-1]
	if body == "" {
		return []string{}, nil
	}

	var items []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '\\' && inQuotes && i+1 < len(body):
			// Escaped character inside a quoted element.
			i++
			current.WriteByte(body[i])
		case ch == ',' && !inQuotes:
			items = append(items, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote in list value %q", raw)
	}
	items = append(items, strings.TrimSpace(current.String()))

	return items, nil
}

// # Logical Groups

// parseGroup parses an `or=(...)` / `and=(...)` parameter value into a
// [Group]. Elements are `column.op.value` triples or nested
// `and(...)`/`or(...)` groups, each optionally prefixed with `not.`.
func parseGroup(raw string, or, negated bool) (*Group, error) {
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, fmt.Errorf("logical group %q must be wrapped in parentheses", raw)
	}

	elements, err := splitTopLevel(raw[1:len(raw)-1], ',')
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("empty logical group")
	}

	group := &Group{Or: or, Negated: negated}
	for _, element := range elements {
		child, err := parseGroupElement(element)
		if err != nil {
			return nil, err
		}
		group.Children = append(group.Children, child)
	}

	return group, nil
}

// parseGroupElement parses one comma-separated element inside a group body.
func parseGroupElement(element string) (Condition, error) {
	element = strings.TrimSpace(element)

	negated := false
	if strings.HasPrefix(element, "not.") {
		rest := strings.TrimPrefix(element, "not.")
		// `not.` may prefix either a nested group or a leaf operator; leaf
		// negation is handled inside parseFilterValue, so only consume the
		// prefix here for the group forms.
		if strings.HasPrefix(rest, "and(") || strings.HasPrefix(rest, "or(") {
			negated = true
			element = rest
		}
	}

	switch {
	case strings.HasPrefix(element, "and("):
		nested, err := parseGroup(element[len("and"):], false, negated)
		if err != nil {
			return nil, err
		}
		return *nested, nil
	case strings.HasPrefix(element, "or("):
		nested, err := parseGroup(element[len("or"):], true, negated)
		if err != nil {
			return nil, err
		}
		return *nested, nil
	}

	// Leaf: column.rest-of-filter
	dot := strings.Index(element, ".")
	if dot <= 0 {
		return nil, fmt.Errorf("malformed condition %q in logical group", element)
	}
	filter, err := parseFilterValue(element[:dot], element[dot+1:])
	if err != nil {
		return nil, err
	}
	return *filter, nil
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// parentheses or double quotes.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	var current strings.Builder
	depth := 0
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case inQuotes:
			current.WriteByte(ch)
		case ch == '(':
			depth++
			current.WriteByte(ch)
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
			current.WriteByte(ch)
		case ch == sep && depth == 0:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", s)
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if current.Len() > 0 || len(parts) > 0 {
		parts = append(parts, current.String())
	}

	return parts, nil
}
