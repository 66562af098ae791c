// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package parse turns an HTTP request (URL query string, headers, and body)
into a typed query AST understood by the SQL builder.

The wire dialect is the PostgREST URL convention: `column=op.value` filters,
`select=` projections with nested embeds, `order=`, `limit=`/`offset=`, and
`Prefer`/`Range`/`Accept` header semantics.

Architecture:

  - Query: the immutable AST produced per request.
  - Projection / Condition: tagged variants, never untyped maps. Invalid
    shapes fail at construction with a PGRST100-class error, so the SQL
    builder only ever sees well-formed input.
  - The parser preserves filter values textually; type coercion is deferred
    to SQL casts where the engine needs them.
*/
package parse

// # Query AST

// CountMode selects how (and whether) the total row count is computed.
type CountMode int

const (
	CountNone CountMode = iota
	CountExact
	CountPlanned
	CountEstimated
)

// ReturnMode selects what a write operation returns.
type ReturnMode int

const (
	// ReturnDefault means the verb's PostgREST default applies.
	ReturnDefault ReturnMode = iota
	ReturnMinimal
	ReturnRepresentation
	ReturnHeadersOnly
)

// Resolution selects upsert conflict behavior.
type Resolution int

const (
	ResolutionNone Resolution = iota
	ResolutionMergeDuplicates
	ResolutionIgnoreDuplicates
)

// Query is the parsed form of one REST request. It is built once by [Parse]
// and treated as read-only afterwards; the RLS fallback works on a copy.
type Query struct {
	// Schema is the logical schema the request targets (Accept-Profile /
	// Content-Profile, defaulting to the public schema).
	Schema string
	// Table is the relation or function name from the URL path.
	Table string

	// Select is the ordered projection list. Empty means `*`.
	Select []Projection
	// Where is the top-level condition list, combined with AND.
	Where []Condition
	// Order is the ordered sequence of sort keys.
	Order []OrderSpec

	// Limit and Offset are optional non-negative pagination bounds.
	Limit  *int
	Offset *int

	// Columns restricts which payload keys a write may use (?columns=).
	Columns []string
	// OnConflict names the upsert conflict target columns (?on_conflict=).
	OnConflict []string

	Count      CountMode
	Return     ReturnMode
	Resolution Resolution

	// SingleObject is set by Accept: application/vnd.pgrst.object+json.
	SingleObject bool
	// HasRange records that pagination came from an explicit Range header,
	// which upgrades a partial result to 206.
	HasRange bool
}

// # Projections

// ProjectionKind tags the variant held by a [Projection].
type ProjectionKind int

const (
	// KindColumn is a plain column, optionally aliased and cast.
	KindColumn ProjectionKind = iota
	// KindJSONPath is a col->a->>b navigation.
	KindJSONPath
	// KindAggregate is a col.sum() style computed column.
	KindAggregate
	// KindEmbed is a nested relation selection.
	KindEmbed
)

// PathStep is one arrow hop inside a JSON path projection.
type PathStep struct {
	// Key is the object key or array index being navigated to.
	Key string
	// AsText marks the ->> (text extraction) form.
	AsText bool
}

// Projection is one element of the select list.
type Projection struct {
	Kind ProjectionKind

	// Name is the column name, or `*`.
	Name string
	// Alias renames the output field. Empty means the engine default.
	Alias string
	// Cast applies a ::type coercion to the projected value.
	Cast string

	// Path holds the JSON navigation steps for [KindJSONPath].
	Path []PathStep

	// Aggregate is the function name for [KindAggregate] (sum, avg, min,
	// max, count).
	Aggregate string

	// Embed holds the nested selection for [KindEmbed].
	Embed *Embed
}

// Embed is a nested relation selection inside a select list.
type Embed struct {
	// Relation is the related table name as written by the client.
	Relation string
	// Hint disambiguates between multiple foreign keys (`author!fk(...)`).
	Hint string
	// Select is the nested projection list. Empty means `*`.
	Select []Projection
	// Where carries filters addressed to the embedded relation
	// (`tags.name=eq.x` style parameters).
	Where []Condition
}

// # Conditions

// Condition is a node of the WHERE tree: either a [Filter] leaf or a
// [Group] of children joined by AND/OR. The interface is sealed so the SQL
// builder can switch exhaustively.
type Condition interface {
	condition()
}

// Filter is a single column comparison.
type Filter struct {
	Column string
	// Op is a validated entry of the operator table.
	Op Operator
	// Modifier carries the to_tsquery language for the fts family.
	Modifier string
	Value    Value
	// Negated wraps the rendered fragment in NOT (...).
	Negated bool
}

func (Filter) condition() {}

// Group combines child conditions with a single conjunction.
type Group struct {
	// Or selects OR; false means AND.
	Or       bool
	Negated  bool
	Children []Condition
}

func (Group) condition() {}

// Deny is an always-false condition. The access guard splices it into a
// query when engine row security is unavailable and the session may not
// see the table.
type Deny struct{}

func (Deny) condition() {}

// ValueKind tags the shape of a filter's right-hand side.
type ValueKind int

const (
	// ValueScalar is a single literal kept in textual form.
	ValueScalar ValueKind = iota
	// ValueList is a parenthesized list, as used by `in`.
	ValueList
	// ValueKeyword is an IS-class keyword (NULL, TRUE, FALSE, UNKNOWN).
	ValueKeyword
)

// Value is a filter right-hand side. The textual form is preserved; the SQL
// builder decides parameter typing and casts.
type Value struct {
	Kind ValueKind
	Text string
	List []string
}

// # Ordering

// OrderSpec is one ORDER BY key.
type OrderSpec struct {
	Column    string
	Ascending bool
	// NullsFirst is nil when the engine default applies.
	NullsFirst *bool
}
