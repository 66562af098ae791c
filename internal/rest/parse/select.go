// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

import (
	"fmt"
	"strings"
)

// aggregateFunctions is the closed set accepted in `col.fn()` projections.
var aggregateFunctions = map[string]bool{
	"count": true,
	"sum":   true,
	"avg":   true,
	"min":   true,
	"max":   true,
}

// parseSelect parses the full `select=` parameter into a projection list.
func parseSelect(raw string) ([]Projection, error) {
	items, err := splitTopLevel(raw, ',')
	if err != nil {
		return nil, err
	}

	projections := make([]Projection, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty projection in select list")
		}
		projection, err := parseProjection(item)
		if err != nil {
			return nil, err
		}
		projections = append(projections, *projection)
	}

	return projections, nil
}

// parseProjection parses one comma-separated select item:
//
//	column            alias:column       column::cast
//	meta->a->>b       total:count()      price.sum()
//	author(id,name)   books!fk_author(title)
func parseProjection(item string) (*Projection, error) {

	// 1. Optional alias prefix. The colon must come before any parenthesis
	// so that embed bodies are not mistaken for aliases.
	alias := ""
	if colon := strings.Index(item, ":"); colon >= 0 {
		paren := strings.Index(item, "(")
		cast := strings.Index(item, "::")
		if (paren < 0 || colon < paren) && (cast < 0 || colon < cast) {
			alias = item[:colon]
			item = item[colon+1:]
			if alias == "" || item == "" {
				return nil, fmt.Errorf("malformed alias in projection %q", alias+":"+item)
			}
		}
	}

	// 2. Embed: name[!hint](nested select)
	if open := strings.Index(item, "("); open >= 0 && strings.HasSuffix(item, ")") && !isAggregateItem(item, open) {
		return parseEmbedProjection(item, alias, open)
	}

	// 3. Trailing ::cast
	cast := ""
	if idx := strings.LastIndex(item, "::"); idx >= 0 {
		cast = item[idx+2:]
		item = item[:idx]
		if cast == "" {
			return nil, fmt.Errorf("empty cast in projection")
		}
	}

	// 4. Aggregate: col.fn() (or bare count())
	if strings.HasSuffix(item, "()") {
		return parseAggregateProjection(item, alias, cast)
	}

	// 5. JSON path: col->a->>b
	if strings.Contains(item, "->") {
		return parseJSONPathProjection(item, alias, cast)
	}

	// 6. Plain column
	return &Projection{Kind: KindColumn, Name: item, Alias: alias, Cast: cast}, nil
}

// isAggregateItem distinguishes `price.sum()` from `author(...)` when an
// opening parenthesis is present: aggregates have an empty body.
func isAggregateItem(item string, open int) bool {
	return strings.HasSuffix(item, "()") && open == len(item)-2
}

func parseEmbedProjection(item, alias string, open int) (*Projection, error) {
	head := item[:open]
	body := item[open+1 : len(item)-1]

	hint := ""
	if bang := strings.Index(head, "!"); bang >= 0 {
		hint = head[bang+1:]
		head = head[:bang]
		if hint == "" {
			return nil, fmt.Errorf("empty foreign key hint in embed %q", item)
		}
	}
	if head == "" {
		return nil, fmt.Errorf("missing relation name in embed %q", item)
	}

	embed := &Embed{Relation: head, Hint: hint}
	if strings.TrimSpace(body) != "" {
		nested, err := parseSelect(body)
		if err != nil {
			return nil, err
		}
		embed.Select = nested
	}

	return &Projection{Kind: KindEmbed, Name: head, Alias: alias, Embed: embed}, nil
}

func parseAggregateProjection(item, alias, cast string) (*Projection, error) {
	call := strings.TrimSuffix(item, "()")

	// Bare count() has no source column.
	if call == "count" {
		return &Projection{Kind: KindAggregate, Aggregate: "count", Alias: alias, Cast: cast}, nil
	}

	dot := strings.LastIndex(call, ".")
	if dot <= 0 || dot == len(call)-1 {
		return nil, fmt.Errorf("malformed aggregate %q", item)
	}
	column, fn := call[:dot], call[dot+1:]
	if !aggregateFunctions[fn] {
		return nil, fmt.Errorf("unknown aggregate function %q", fn)
	}

	return &Projection{Kind: KindAggregate, Name: column, Aggregate: fn, Alias: alias, Cast: cast}, nil
}

func parseJSONPathProjection(item, alias, cast string) (*Projection, error) {
	segments := strings.Split(item, "->")
	column := segments[0]
	if column == "" {
		return nil, fmt.Errorf("missing column in JSON path %q", item)
	}

	steps := make([]PathStep, 0, len(segments)-1)
	for _, segment := range segments[1:] {
		step := PathStep{Key: segment}
		if strings.HasPrefix(segment, ">") {
			// A `->>` split leaves a leading `>` on the segment.
			step.AsText = true
			step.Key = segment[1:]
		}
		if step.Key == "" {
			return nil, fmt.Errorf("empty step in JSON path %q", item)
		}
		steps = append(steps, step)
	}

	// Without an explicit alias the output field is named after the last
	// path key, matching PostgREST.
	if alias == "" {
		alias = steps[len(steps)-1].Key
	}

	return &Projection{Kind: KindJSONPath, Name: column, Alias: alias, Cast: cast, Path: steps}, nil
}
