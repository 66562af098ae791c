// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

import (
	"fmt"
	"net/http"
	"strings"
)

// MediaTypeSingleObject is the Accept variant requesting exactly one object.
const MediaTypeSingleObject = "application/vnd.pgrst.object+json"

// applyPrefer folds every Prefer header into the query.
//
// Tokens are comma-separated `key=value` pairs. Recognized keys with an
// unknown value fail with PGRST100; unrecognized keys are ignored, matching
// PostgREST's lenient default handling. When a key repeats, the last
// occurrence wins.
func applyPrefer(q *Query, header http.Header) error {
	for _, headerValue := range header.Values("Prefer") {
		for _, token := range strings.Split(headerValue, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}

			key, value, found := strings.Cut(token, "=")
			if !found {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.ToLower(strings.TrimSpace(value))

			switch key {
			case "count":
				mode, err := parseCountMode(value)
				if err != nil {
					return err
				}
				q.Count = mode

			case "return":
				switch value {
				case "minimal":
					q.Return = ReturnMinimal
				case "representation":
					q.Return = ReturnRepresentation
				case "headers-only":
					q.Return = ReturnHeadersOnly
				default:
					return fmt.Errorf("invalid preference: return=%s", value)
				}

			case "resolution":
				switch value {
				case "merge-duplicates":
					q.Resolution = ResolutionMergeDuplicates
				case "ignore-duplicates":
					q.Resolution = ResolutionIgnoreDuplicates
				default:
					return fmt.Errorf("invalid preference: resolution=%s", value)
				}
			}
		}
	}

	return nil
}

func parseCountMode(value string) (CountMode, error) {
	switch value {
	case "exact":
		return CountExact, nil
	case "planned":
		return CountPlanned, nil
	case "estimated":
		return CountEstimated, nil
	case "none":
		return CountNone, nil
	}
	return CountNone, fmt.Errorf("invalid preference: count=%s", value)
}

// PreferenceApplied renders the Preference-Applied header value for the
// preferences the gateway honored, in a stable order.
func (q *Query) PreferenceApplied() string {
	var applied []string

	switch q.Return {
	case ReturnMinimal:
		applied = append(applied, "return=minimal")
	case ReturnRepresentation:
		applied = append(applied, "return=representation")
	case ReturnHeadersOnly:
		applied = append(applied, "return=headers-only")
	}

	switch q.Resolution {
	case ResolutionMergeDuplicates:
		applied = append(applied, "resolution=merge-duplicates")
	case ResolutionIgnoreDuplicates:
		applied = append(applied, "resolution=ignore-duplicates")
	}

	switch q.Count {
	case CountExact:
		applied = append(applied, "count=exact")
	case CountPlanned:
		applied = append(applied, "count=planned")
	case CountEstimated:
		applied = append(applied, "count=estimated")
	}

	return strings.Join(applied, ", ")
}

// wantsSingleObject reports whether the Accept header requests the
// single-object media type.
func wantsSingleObject(header http.Header) bool {
	for _, accept := range header.Values("Accept") {
		for _, media := range strings.Split(accept, ",") {
			media = strings.TrimSpace(media)
			if mediaType, _, _ := strings.Cut(media, ";"); strings.TrimSpace(mediaType) == MediaTypeSingleObject {
				return true
			}
		}
	}
	return false
}
