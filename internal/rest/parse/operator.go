// Copyright (c) 2026 Tidebase. All rights reserved.

package parse

// Operator is a validated member of the PostgREST filter operator table.
type Operator string

// The closed operator set. Anything outside this table fails parsing with a
// PGRST100 error before any SQL is built.
const (
	OpEq     Operator = "eq"
	OpNeq    Operator = "neq"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
	OpLike   Operator = "like"
	OpILike  Operator = "ilike"
	OpMatch  Operator = "match"
	OpIMatch Operator = "imatch"
	OpIn     Operator = "in"
	OpIs     Operator = "is"

	// Array / JSON / range containment.
	OpContains  Operator = "cs"
	OpContained Operator = "cd"
	OpOverlap   Operator = "ov"

	// Range position operators.
	OpStrictlyLeft   Operator = "sl"
	OpStrictlyRight  Operator = "sr"
	OpNotExtendLeft  Operator = "nxl"
	OpNotExtendRight Operator = "nxr"
	OpAdjacent       Operator = "adj"

	// Full-text search family.
	OpFts   Operator = "fts"
	OpPlFts Operator = "plfts"
	OpPhFts Operator = "phfts"
	OpWFts  Operator = "wfts"
)

// OpSpec describes how an operator parses and renders.
type OpSpec struct {
	// SQL is the binary operator fragment (`=`, `LIKE`, `@>`, `&&`, ...).
	SQL string
	// List marks operators whose value is a parenthesized list (`in`).
	List bool
	// Pattern marks LIKE-family operators whose `*` wildcards are rewritten
	// to `%` at build time.
	Pattern bool
	// Keyword marks operators whose value is an IS-class keyword rendered
	// literally rather than bound as a parameter.
	Keyword bool
	// TSQuery names the to_tsquery variant for the fts family.
	TSQuery string
}

// Operators is the canonical operator table shared by the parser (validation)
// and the SQL builder (rendering).
var Operators = map[Operator]OpSpec{
	OpEq:     {SQL: "="},
	OpNeq:    {SQL: "<>"},
	OpGt:     {SQL: ">"},
	OpGte:    {SQL: ">="},
	OpLt:     {SQL: "<"},
	OpLte:    {SQL: "<="},
	OpLike:   {SQL: "LIKE", Pattern: true},
	OpILike:  {SQL: "ILIKE", Pattern: true},
	OpMatch:  {SQL: "~"},
	OpIMatch: {SQL: "~*"},
	OpIn:     {SQL: "= ANY", List: true},
	OpIs:     {SQL: "IS", Keyword: true},

	OpContains:  {SQL: "@>"},
	OpContained: {SQL: "<@"},
	OpOverlap:   {SQL: "&&"},

	OpStrictlyLeft:   {SQL: "<<"},
	OpStrictlyRight:  {SQL: ">>"},
	OpNotExtendLeft:  {SQL: "&<"},
	OpNotExtendRight: {SQL: "&>"},
	OpAdjacent:       {SQL: "-|-"},

	OpFts:   {TSQuery: "to_tsquery"},
	OpPlFts: {TSQuery: "plainto_tsquery"},
	OpPhFts: {TSQuery: "phraseto_tsquery"},
	OpWFts:  {TSQuery: "websearch_to_tsquery"},
}

// isKeywordValue reports whether s is a legal IS right-hand side.
func isKeywordValue(s string) bool {
	switch s {
	case "null", "true", "false", "unknown":
		return true
	}
	return false
}
