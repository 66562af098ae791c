// Copyright (c) 2026 Tidebase. All rights reserved.

package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebase/tidebase/internal/rest/sqlgen"
)

/*
TestReturnsRows verifies the result-set detection that decides between the
JSON-aggregating wrap and a plain Exec.
*/
func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows(`SELECT * FROM "public"."products"`))
	assert.True(t, returnsRows(`WITH x AS (SELECT 1) SELECT * FROM x`))
	assert.True(t, returnsRows(`INSERT INTO "t" ("a") VALUES ($1) RETURNING *`))
	assert.False(t, returnsRows(`INSERT INTO "t" ("a") VALUES ($1)`))
	assert.False(t, returnsRows(`DELETE FROM "t" WHERE "t"."id" = $1`))
}

/*
TestCacheKey verifies keys are stable for identical statements and change
with either SQL or arguments.
*/
func TestCacheKey(t *testing.T) {
	base := &sqlgen.Statement{SQL: "SELECT 1", Args: []any{"a", "b"}}

	assert.Equal(t, cacheKey(base), cacheKey(&sqlgen.Statement{SQL: "SELECT 1", Args: []any{"a", "b"}}))
	assert.NotEqual(t, cacheKey(base), cacheKey(&sqlgen.Statement{SQL: "SELECT 2", Args: []any{"a", "b"}}))
	assert.NotEqual(t, cacheKey(base), cacheKey(&sqlgen.Statement{SQL: "SELECT 1", Args: []any{"ab"}}))
}

/*
TestCountJSONRows verifies cached payload row counting.
*/
func TestCountJSONRows(t *testing.T) {
	assert.EqualValues(t, 0, countJSONRows([]byte(`[]`)))
	assert.EqualValues(t, 2, countJSONRows([]byte(`[{"a":1},{"a":2}]`)))
	assert.EqualValues(t, 0, countJSONRows([]byte(`not json`)))
}

/*
TestPlanRows verifies the planner estimate extraction from EXPLAIN output.
*/
func TestPlanRows(t *testing.T) {
	rows, err := planRows([]byte(`[{"Plan": {"Plan Rows": 1234, "Node Type": "Seq Scan"}}]`))
	require.NoError(t, err)
	assert.EqualValues(t, 1234, rows)

	_, err = planRows([]byte(`[]`))
	require.Error(t, err)
}
