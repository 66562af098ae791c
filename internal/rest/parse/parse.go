// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
	"github.com/tidebase/tidebase/pkg/httprange"
)

// DefaultSchema is the schema targeted when no profile header is present.
const DefaultSchema = "public"

// Parse builds the query AST for one request against the named table.
//
// method selects which profile header carries the schema (Accept-Profile for
// reads, Content-Profile for writes). All failures are PGRST100-class parse
// errors; the database is never touched on a parse failure.
func Parse(method, table string, values url.Values, header http.Header) (*Query, *pgrsterr.Error) {
	q := &Query{
		Schema: profileSchema(method, header),
		Table:  table,
	}

	if err := applyQueryValues(q, values); err != nil {
		return nil, pgrsterr.Parse(err.Error())
	}

	if err := applyPrefer(q, header); err != nil {
		return nil, pgrsterr.Parse(err.Error())
	}

	q.SingleObject = wantsSingleObject(header)

	if err := applyRange(q, header); err != nil {
		return nil, err
	}

	return q, nil
}

// profileSchema resolves the logical schema from the profile headers.
func profileSchema(method string, header http.Header) string {
	profile := header.Get("Accept-Profile")
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		if contentProfile := header.Get("Content-Profile"); contentProfile != "" {
			profile = contentProfile
		}
	}
	if profile == "" {
		return DefaultSchema
	}
	return strings.TrimSpace(profile)
}

// applyQueryValues folds every query parameter into the AST.
//
// The select list is parsed first because dotted filter parameters attach to
// the embeds it declares. The remaining parameters are visited in sorted key
// order so repeated parses of the same URL produce an identical AST
// regardless of map iteration order.
func applyQueryValues(q *Query, values url.Values) error {
	if selectParam := values.Get("select"); selectParam != "" {
		projections, err := parseSelect(selectParam)
		if err != nil {
			return err
		}
		q.Select = projections
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		if key != "select" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, value := range values[key] {
			if err := applyParam(q, key, value); err != nil {
				return err
			}
		}
	}

	return nil
}

func applyParam(q *Query, key, value string) error {
	switch key {
	case "order":
		order, err := parseOrder(value)
		if err != nil {
			return err
		}
		q.Order = append(q.Order, order...)

	case "limit":
		n, err := parseNonNegative("limit", value)
		if err != nil {
			return err
		}
		q.Limit = &n

	case "offset":
		n, err := parseNonNegative("offset", value)
		if err != nil {
			return err
		}
		q.Offset = &n

	case "on_conflict":
		q.OnConflict = splitCSV(value)

	case "columns":
		q.Columns = splitCSV(value)

	case "or", "and", "not.or", "not.and":
		group, err := parseGroup(value,
			strings.HasSuffix(key, "or"),
			strings.HasPrefix(key, "not."))
		if err != nil {
			return err
		}
		q.Where = append(q.Where, *group)

	default:
		return applyFilterParam(q, key, value)
	}

	return nil
}

// applyFilterParam handles any non-reserved parameter as a column filter.
// Dotted keys address an embedded relation (`tags.name=eq.x`).
func applyFilterParam(q *Query, key, value string) error {
	if relation, column, found := strings.Cut(key, "."); found {
		filter, err := parseFilterValue(column, value)
		if err != nil {
			return err
		}
		return attachEmbedFilter(q, relation, *filter)
	}

	filter, err := parseFilterValue(key, value)
	if err != nil {
		return err
	}
	q.Where = append(q.Where, *filter)
	return nil
}

// attachEmbedFilter routes a dotted filter to the embed it addresses, by
// relation name or alias.
func attachEmbedFilter(q *Query, relation string, filter Filter) error {
	for i := range q.Select {
		projection := &q.Select[i]
		if projection.Kind != KindEmbed {
			continue
		}
		if projection.Embed.Relation == relation || projection.Alias == relation {
			projection.Embed.Where = append(projection.Embed.Where, filter)
			return nil
		}
	}
	return fmt.Errorf("filter on %q requires it to be part of the select list", relation)
}

// parseOrder parses `order=col.asc.nullsfirst,other.desc`.
func parseOrder(raw string) ([]OrderSpec, error) {
	var order []OrderSpec

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty order term")
		}

		parts := strings.Split(item, ".")
		spec := OrderSpec{Column: parts[0], Ascending: true}
		if spec.Column == "" {
			return nil, fmt.Errorf("missing column in order term %q", item)
		}

		for _, modifier := range parts[1:] {
			switch modifier {
			case "asc":
				spec.Ascending = true
			case "desc":
				spec.Ascending = false
			case "nullsfirst":
				first := true
				spec.NullsFirst = &first
			case "nullslast":
				first := false
				spec.NullsFirst = &first
			default:
				return nil, fmt.Errorf("unknown order modifier %q", modifier)
			}
		}

		order = append(order, spec)
	}

	return order, nil
}

func parseNonNegative(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, value)
	}
	return n, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// applyRange derives pagination from the Range header. Explicit limit/offset
// parameters always win; the header applies only when both are absent. A
// header-driven slice defaults the count mode to exact so Content-Range can
// report a total.
func applyRange(q *Query, header http.Header) *pgrsterr.Error {
	if q.Limit != nil || q.Offset != nil {
		return nil
	}

	spec, err := httprange.Parse(header.Get("Range"), header.Get("Range-Unit"))
	if err != nil {
		return pgrsterr.RangeNotSatisfiable().WithDetails(err.Error())
	}
	if spec == nil {
		return nil
	}

	q.HasRange = true
	q.Offset = &spec.Offset
	q.Limit = spec.Limit
	if q.Count == CountNone {
		q.Count = CountExact
	}

	return nil
}

// HasAggregates reports whether any projection is a computed aggregate,
// which makes the plain columns an implicit GROUP BY key.
func (q *Query) HasAggregates() bool {
	for _, projection := range q.Select {
		if projection.Kind == KindAggregate {
			return true
		}
	}
	return false
}

// HasFilters reports whether the query carries any WHERE condition. UPDATE
// and DELETE refuse to run without one.
func (q *Query) HasFilters() bool {
	return len(q.Where) > 0
}

// Clone returns a shallow copy with an independent condition slice, used by
// the access-control fallback to splice predicates without mutating the
// original AST.
func (q *Query) Clone() *Query {
	clone := *q
	clone.Where = make([]Condition, len(q.Where))
	copy(clone.Where, q.Where)
	return &clone
}
