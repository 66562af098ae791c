// Copyright (c) 2026 Tidebase. All rights reserved.

// Package httprange implements the HTTP Range pagination dialect used by
// PostgREST clients.
//
// # Overview
//
// It standardizes how row slices are requested via the `Range` header
// (`Range: 0-9` with `Range-Unit: items`) and how the resulting slice is
// reported back through `Content-Range` (`0-9/42`, with `*` for an unknown
// total).
package httprange

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit is the only Range-Unit the REST surface accepts.
const Unit = "items"

// Spec is a parsed Range header.
type Spec struct {
	// Offset is the zero-based index of the first requested row.
	Offset int
	// Limit is the requested row count; nil for an open-ended range (`5-`).
	Limit *int
}

// Parse interprets a `Range: a-b` header value as a row slice.
//
// The unit argument carries the Range-Unit header; it must be empty (items is
// implied) or exactly "items". Returns (nil, nil) when the header is absent.
func Parse(header, unit string) (*Spec, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	if unit != "" && unit != Unit {
		return nil, fmt.Errorf("unsupported range unit %q", unit)
	}

	first, last, found := strings.Cut(header, "-")
	if !found {
		return nil, fmt.Errorf("malformed range %q", header)
	}

	start, err := strconv.Atoi(first)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("malformed range start %q", first)
	}

	spec := &Spec{Offset: start}
	if last != "" {
		end, err := strconv.Atoi(last)
		if err != nil || end < start {
			return nil, fmt.Errorf("malformed range end %q", last)
		}
		limit := end - start + 1
		spec.Limit = &limit
	}

	return spec, nil
}

// ContentRange renders the Content-Range header for a returned slice.
//
// offset is the slice's first row index, returned is the number of rows in
// the body, and total is the counted table cardinality (nil when unknown,
// rendered as `*`).
func ContentRange(offset, returned int, total *int64) string {
	totalText := "*"
	if total != nil {
		totalText = strconv.FormatInt(*total, 10)
	}

	// An empty slice has no satisfiable range: `*/total`.
	if returned == 0 {
		return "*/" + totalText
	}

	return fmt.Sprintf("%d-%d/%s", offset, offset+returned-1, totalText)
}
