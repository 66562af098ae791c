// Copyright (c) 2026 Tidebase. All rights reserved.

/*
Package schema maintains the foreign-key metadata the gateway needs to
resolve embedded relations.

Architecture:

  - Snapshot: an immutable view of the FK graph and primary keys, safe to
    read from any request goroutine without locking.
  - Cache: a read-mostly holder that swaps whole snapshots under a RWMutex.
    The cold path (information_schema introspection) runs on first use and
    again when the engine reports an undefined relation, never while a
    request holds the snapshot.

Snapshots are never mutated after publication; refresh builds a new one and
swaps the pointer.
*/
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/tidebase/tidebase/internal/rest/pgrsterr"
)

// Cardinality describes how an embedded relation attaches to its parent.
type Cardinality int

const (
	// ToOne: the parent table holds the foreign key (many-to-one embed,
	// rendered as a JSON object).
	ToOne Cardinality = iota
	// ToMany: the embedded table holds the foreign key (one-to-many embed,
	// rendered as a JSON array).
	ToMany
	// ManyToMany: the tables are linked through a junction table.
	ManyToMany
)

// Relationship is one resolved foreign-key edge between a parent table and
// an embeddable relation.
type Relationship struct {
	// Constraint is the FK constraint name, used for `!hint` matching.
	Constraint  string
	Cardinality Cardinality

	// TargetSchema and TargetTable name the embedded relation.
	TargetSchema string
	TargetTable  string

	// ParentColumn and ChildColumn are the joined columns on the parent and
	// embedded side respectively.
	ParentColumn string
	ChildColumn  string

	// Junction fields are set only for ManyToMany edges.
	Junction         string
	JunctionSchema   string
	JunctionParentFK string
	JunctionChildFK  string
}

// tableKey identifies a table inside a snapshot.
type tableKey struct {
	schema string
	table  string
}

// Snapshot is an immutable FK-graph view.
type Snapshot struct {
	relationships map[tableKey][]Relationship
	primaryKeys   map[tableKey][]string
}

// NewSnapshot builds a snapshot from pre-resolved metadata. Production code
// uses [Cache.Snapshot]; tests construct snapshots directly.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		relationships: make(map[tableKey][]Relationship),
		primaryKeys:   make(map[tableKey][]string),
	}
}

// AddRelationship registers an embeddable edge for the given parent table.
func (s *Snapshot) AddRelationship(schema, table string, rel Relationship) {
	key := tableKey{schema, table}
	s.relationships[key] = append(s.relationships[key], rel)
}

// SetPrimaryKey registers the primary key columns of a table.
func (s *Snapshot) SetPrimaryKey(schema, table string, columns []string) {
	s.primaryKeys[tableKey{schema, table}] = columns
}

// PrimaryKey returns the primary key columns of a table, or nil when the
// table is unknown or keyless.
func (s *Snapshot) PrimaryKey(schema, table string) []string {
	return s.primaryKeys[tableKey{schema, table}]
}

// Resolve finds the relationship joining relation (a table name or alias
// written by the client) to the parent table. An ambiguous edge set without
// a hint fails with PGRST201; no edge at all fails with PGRST200-class
// detail inside a parse error.
func (s *Snapshot) Resolve(schema, table, relation, hint string) (*Relationship, error) {
	var matches []Relationship
	for _, rel := range s.relationships[tableKey{schema, table}] {
		if rel.TargetTable != relation {
			continue
		}
		if hint != "" && rel.Constraint != hint && rel.ChildColumn != hint && rel.ParentColumn != hint {
			continue
		}
		matches = append(matches, rel)
	}

	switch len(matches) {
	case 0:
		return nil, pgrsterr.Parse(
			fmt.Sprintf("could not find a relationship between %q and %q in the schema cache", table, relation))
	case 1:
		match := matches[0]
		return &match, nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, match := range matches {
			candidates = append(candidates, relation+"!"+match.Constraint)
		}
		return nil, pgrsterr.AmbiguousEmbed(relation, candidates)
	}
}

// # Cache

// Querier is the slice of the connection pool the loader depends on.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Cache holds the current snapshot and rebuilds it on demand.
type Cache struct {
	db Querier

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache creates an empty cache over the given pool. The first call to
// [Cache.Snapshot] populates it.
func NewCache(db Querier) *Cache {
	return &Cache{db: db}
}

// NewStaticCache wraps a fixed snapshot with no loader behind it. Refresh
// and Invalidate are no-ops; used by tests and fixed topologies.
func NewStaticCache(snap *Snapshot) *Cache {
	return &Cache{snap: snap}
}

// Snapshot returns the current FK snapshot, loading it on first use.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil {
		return snap, nil
	}
	return c.Refresh(ctx)
}

// Refresh rebuilds the snapshot from information_schema and publishes it.
// Called on the cold path and after an undefined-relation engine error.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	if c.db == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.snap, nil
	}

	snap, err := c.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema: refresh failed: %w", err)
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	return snap, nil
}

// Invalidate drops the current snapshot so the next reader reloads.
func (c *Cache) Invalidate() {
	if c.db == nil {
		return
	}
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// foreignKeyQuery lists every FK edge with its constrained and referenced
// columns. Both directions of each edge are derived from the same rows.
const foreignKeyQuery = `
	SELECT
		tc.constraint_name,
		tc.table_schema,
		tc.table_name,
		kcu.column_name,
		ccu.table_schema AS foreign_schema,
		ccu.table_name   AS foreign_table,
		ccu.column_name  AS foreign_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
`

// primaryKeyQuery lists primary key columns in ordinal order.
const primaryKeyQuery = `
	SELECT tc.table_schema, tc.table_name, kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
	ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position
`

// foreignKeyEdge is one raw information_schema FK row.
type foreignKeyEdge struct {
	constraint    string
	schema        string
	table         string
	column        string
	foreignSchema string
	foreignTable  string
	foreignColumn string
}

func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	edges, err := c.loadForeignKeys(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.loadPrimaryKeys(ctx, snap); err != nil {
		return nil, err
	}

	// Each FK edge is embeddable from both ends: the constrained table sees
	// a to-one relationship, the referenced table a to-many.
	for _, edge := range edges {
		snap.AddRelationship(edge.schema, edge.table, Relationship{
			Constraint:   edge.constraint,
			Cardinality:  ToOne,
			TargetSchema: edge.foreignSchema,
			TargetTable:  edge.foreignTable,
			ParentColumn: edge.column,
			ChildColumn:  edge.foreignColumn,
		})
		snap.AddRelationship(edge.foreignSchema, edge.foreignTable, Relationship{
			Constraint:   edge.constraint,
			Cardinality:  ToMany,
			TargetSchema: edge.schema,
			TargetTable:  edge.table,
			ParentColumn: edge.foreignColumn,
			ChildColumn:  edge.column,
		})
	}

	addJunctionEdges(snap, edges)

	return snap, nil
}

func (c *Cache) loadForeignKeys(ctx context.Context) ([]foreignKeyEdge, error) {
	rows, err := c.db.Query(ctx, foreignKeyQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []foreignKeyEdge
	for rows.Next() {
		var edge foreignKeyEdge
		if err := rows.Scan(
			&edge.constraint,
			&edge.schema, &edge.table, &edge.column,
			&edge.foreignSchema, &edge.foreignTable, &edge.foreignColumn,
		); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}

	return edges, rows.Err()
}

func (c *Cache) loadPrimaryKeys(ctx context.Context, snap *Snapshot) error {
	rows, err := c.db.Query(ctx, primaryKeyQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return err
		}
		key := tableKey{schema, table}
		snap.primaryKeys[key] = append(snap.primaryKeys[key], column)
	}

	return rows.Err()
}

// addJunctionEdges detects many-to-many relationships: a table whose FKs
// reach two different tables acts as a junction between them.
func addJunctionEdges(snap *Snapshot, edges []foreignKeyEdge) {
	byTable := make(map[tableKey][]foreignKeyEdge)
	for _, edge := range edges {
		key := tableKey{edge.schema, edge.table}
		byTable[key] = append(byTable[key], edge)
	}

	for junction, outgoing := range byTable {
		if len(outgoing) < 2 {
			continue
		}
		for i, left := range outgoing {
			for j, right := range outgoing {
				if i == j {
					continue
				}
				if left.foreignTable == right.foreignTable && left.foreignSchema == right.foreignSchema {
					continue
				}
				snap.AddRelationship(left.foreignSchema, left.foreignTable, Relationship{
					Constraint:       junction.table + "_" + strings.ToLower(right.foreignTable),
					Cardinality:      ManyToMany,
					TargetSchema:     right.foreignSchema,
					TargetTable:      right.foreignTable,
					ParentColumn:     left.foreignColumn,
					ChildColumn:      right.foreignColumn,
					Junction:         junction.table,
					JunctionSchema:   junction.schema,
					JunctionParentFK: left.column,
					JunctionChildFK:  right.column,
				})
			}
		}
	}
}
