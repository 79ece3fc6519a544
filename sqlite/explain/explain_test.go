package explain

import (
	"database/sql/driver"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ins(opcode string, p1, p2, p3 int64) Instruction {
	return Instruction{Opcode: opcode, P1: p1, P2: p2, P3: p3}
}

func insP4(opcode string, p1, p2, p3 int64, p4 string) Instruction {
	return Instruction{Opcode: opcode, P1: p1, P2: p2, P3: p3, P4: p4}
}

func TestSimulateSelectConstants(t *testing.T) {
	// SELECT 1 AS x, NULL AS y
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opInteger, 1, 1, 0),    // r[1] = 1
		ins(opNull, 0, 2, 0),       // r[2] = NULL
		ins(opResultRow, 1, 2, 0),  // output r[1..2]
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeInteger, TypeNull}, types)
	require.Equal(t, []Tri{TriFalse, TriTrue}, nullable)
}

func TestSimulateSchemaColumn(t *testing.T) {
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeInteger, Nullable: TriFalse},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),  // cursor 0 over rootpage 2 of main
		ins(opColumn, 0, 0, 1),    // r[1] = cursor 0 column 0
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulateNullRowMakesColumnsNullable(t *testing.T) {
	// The shape of the inner side of a LEFT JOIN: NullRow runs on the
	// cursor when there is no match, so the NOT NULL column must come
	// back nullable.
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeInteger, Nullable: TriFalse},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opNullRow, 0, 0, 0),
		ins(opColumn, 0, 0, 1),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateEmptyTableBranchWidensNullability(t *testing.T) {
	// Rewind forks: the empty-table branch produces NULL, the non-empty
	// branch produces the schema type. Any nullable branch makes the
	// merged column nullable.
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeInteger, Nullable: TriFalse},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opRewind, 0, 6, 0),
		ins(opColumn, 0, 0, 1),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
		ins(opNull, 0, 1, 0),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateBranchMergePrefersNonNullType(t *testing.T) {
	// Once forks; one path outputs TEXT NOT NULL, the other NULL. The
	// merged type is the first non-NULL one seen, and nullability widens.
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOnce, 0, 4, 0),
		ins(opString8, 0, 1, 0),   // r[1] = 'text', NOT NULL
		ins(opResultRow, 1, 1, 0),
		ins(opNull, 0, 1, 0),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeText}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateCoroutine(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opInitCoroutine, 1, 5, 2), // r[1] = 2, goto 5
		ins(opInteger, 7, 2, 0),       // coroutine body: r[2] = 7
		ins(opYield, 1, 0, 0),         // yield back to the caller
		ins(opEndCoroutine, 1, 0, 0),
		ins(opYield, 1, 0, 0), // start the coroutine
		ins(opResultRow, 2, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulateGosubReturn(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opGosub, 1, 4, 0),     // r[1] = 1, goto 4
		ins(opResultRow, 2, 1, 0), // after return
		ins(opHalt, 0, 0, 0),
		ins(opString8, 0, 2, 0), // subroutine: r[2] = text
		ins(opReturn, 1, 0, 0),  // back to 2
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeText}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulatePseudoCursor(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opInteger, 5, 1, 0),    // r[1] = 5
		ins(opNull, 0, 2, 0),       // r[2] = NULL
		ins(opMakeRecord, 1, 2, 3), // r[3] = record(r[1], r[2])
		ins(opOpenPseudo, 0, 3, 2), // cursor 0 aliases r[3]
		ins(opColumn, 0, 1, 4),     // r[4] = record column 1
		ins(opColumn, 0, 0, 5),     // r[5] = record column 0
		ins(opResultRow, 4, 2, 0),  // output r[4], r[5]
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeNull, TypeInteger}, types)
	require.Equal(t, []Tri{TriTrue, TriFalse}, nullable)
}

func TestSimulateCountAggregate(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opNull, 0, 2, 0),
		insP4(opAggStep, 0, 2, 1, "count(0)"),
		insP4(opAggFinal, 1, 0, 0, "count(0)"),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulateSumAggregate(t *testing.T) {
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeInteger, Nullable: TriTrue},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opColumn, 0, 0, 2),
		insP4(opAggStep, 0, 2, 1, "sum(1)"),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateDateFunctions(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		insP4(opFunction, 0, 0, 1, "datetime(-1)"), // no args: never NULL
		insP4(opFunction, 0, 1, 2, "julianday(-1)"),
		ins(opResultRow, 1, 2, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeText, TypeFloat}, types)
	require.Equal(t, []Tri{TriFalse, TriTrue}, nullable)
}

func TestSimulateCastKeepsNullability(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opNull, 0, 1, 0),
		ins(opCast, 1, 'B', 0), // cast to TEXT affinity
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeText}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateHaltIfNullNarrows(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opNull, 0, 1, 0),
		ins(opHaltIfNull, 0, 0, 1),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	_, nullable := Simulate(program, nil)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulateBinaryOperator(t *testing.T) {
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeFloat, Nullable: TriTrue},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opColumn, 0, 0, 1), // r[1] = REAL, nullable
		ins(opInteger, 2, 2, 0),
		ins(opAdd, 1, 2, 3), // r[3] = r[1] + r[2]
		ins(opResultRow, 3, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeFloat}, types)
	require.Equal(t, []Tri{TriTrue}, nullable)
}

func TestSimulateInfiniteLoopTerminates(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opGoto, 0, 1, 0), // jumps to itself forever
	}

	types, nullable := Simulate(program, nil)
	assert.Empty(t, types)
	assert.Empty(t, nullable)
}

func TestSimulateDeterminism(t *testing.T) {
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeText, Nullable: TriTrue},
			{Datatype: TypeInteger, Nullable: TriFalse},
		}),
	}

	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opRewind, 0, 8, 0),
		ins(opColumn, 0, 0, 1),
		ins(opColumn, 0, 1, 2),
		ins(opResultRow, 1, 2, 0),
		ins(opNext, 0, 3, 0),
		ins(opHalt, 0, 0, 0),
		ins(opNull, 0, 1, 2),
		ins(opResultRow, 1, 2, 0),
		ins(opHalt, 0, 0, 0),
	}

	firstTypes, firstNullable := Simulate(program, schema)
	for i := 0; i < 10; i++ {
		types, nullable := Simulate(program, schema)
		require.Equal(t, firstTypes, types)
		require.Equal(t, firstNullable, nullable)
	}
}

func TestSimulateIsNullNarrowsBothSides(t *testing.T) {
	schema := SchemaMap{
		{Db: 0, Page: 2}: fromDenseRecord([]ColumnType{
			{Datatype: TypeText, Nullable: TriTrue},
		}),
	}

	// IsNull forks; on the fall-through side the register is known NOT
	// NULL afterwards.
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins(opOpenRead, 0, 2, 0),
		ins(opColumn, 0, 0, 1),
		ins(opIsNull, 1, 6, 0), // null side jumps to Halt
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, schema)
	require.Equal(t, []DataType{TypeText}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestSimulateUnknownOpcodeIgnored(t *testing.T) {
	program := []Instruction{
		ins(opInit, 0, 1, 0),
		ins("Expire", 0, 0, 0), // not modeled: no-op
		ins(opInteger, 1, 1, 0),
		ins(opResultRow, 1, 1, 0),
		ins(opHalt, 0, 0, 0),
	}

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

// fakeQuerier serves canned driver rows keyed by the statement text.
type fakeQuerier struct {
	cols map[string][]string
	rows map[string][][]driver.Value
}

func (f *fakeQuerier) Query(query string, _ []driver.Value) (driver.Rows, error) {
	return &fakeRows{cols: f.cols[query], rows: f.rows[query]}, nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	next int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

func TestLoadProgram(t *testing.T) {
	explainCols := []string{"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment"}
	conn := &fakeQuerier{
		cols: map[string][]string{"EXPLAIN SELECT 1": explainCols},
		rows: map[string][][]driver.Value{
			"EXPLAIN SELECT 1": {
				{int64(0), "Init", int64(0), int64(2), int64(0), "", int64(0), nil},
				{int64(1), "Halt", int64(0), int64(0), int64(0), "", int64(0), nil},
				{int64(2), "Integer", int64(1), int64(1), int64(0), "", int64(0), nil},
				{int64(3), "ResultRow", int64(1), int64(1), int64(0), "", int64(0), nil},
				{int64(4), "Goto", int64(0), int64(1), int64(0), "", int64(0), nil},
			},
		},
	}

	program, err := LoadProgram(conn, "SELECT 1")
	require.NoError(t, err)
	require.Len(t, program, 5)
	assert.Equal(t, "Integer", program[2].Opcode)
	assert.Equal(t, int64(1), program[2].P1)

	types, nullable := Simulate(program, nil)
	require.Equal(t, []DataType{TypeInteger}, types)
	require.Equal(t, []Tri{TriFalse}, nullable)
}

func TestLoadSchema(t *testing.T) {
	conn := &fakeQuerier{
		cols: map[string][]string{
			schemaQuery: {"dbnum", "rootpage", "colnum", "type", "notnull"},
		},
		rows: map[string][][]driver.Value{
			schemaQuery: {
				{int64(0), int64(2), int64(0), "INTEGER", int64(0)},
				{int64(0), int64(2), int64(1), "TEXT", int64(1)},
				{int64(1), int64(3), int64(0), "REAL", int64(1)},
			},
		},
	}

	schema, err := LoadSchema(conn)
	require.NoError(t, err)
	require.Len(t, schema, 2)

	main := schema[RootPage{Db: 0, Page: 2}]
	col0, ok := main.get(0)
	require.True(t, ok)
	assert.Equal(t, TypeInteger, col0.Datatype)
	assert.Equal(t, TriTrue, col0.Nullable)
	col1, ok := main.get(1)
	require.True(t, ok)
	assert.Equal(t, TypeText, col1.Datatype)
	assert.Equal(t, TriFalse, col1.Nullable)

	temp := schema[RootPage{Db: 1, Page: 3}]
	col0, ok = temp.get(0)
	require.True(t, ok)
	assert.Equal(t, TypeFloat, col0.Datatype)
	assert.Equal(t, TriFalse, col0.Nullable)
}
