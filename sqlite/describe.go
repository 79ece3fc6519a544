package sqlite

import (
	"github.com/sqlbridge/sqlbridge/sqlite/explain"
)

// ColumnDescription is the inferred shape of one result column.
type ColumnDescription struct {
	Name string
	// Type is the most informative storage class any execution path
	// produced for this column.
	Type explain.DataType
	// Nullable is TriTrue when some path can produce NULL here, TriFalse
	// when provably not, TriUnknown otherwise.
	Nullable explain.Tri
}

// Describe is statement metadata inferred without executing the query.
type Describe struct {
	Columns    []ColumnDescription
	Parameters int
}

// describeQuery runs on the worker thread: it drives the explain simulator
// over the raw bytecode and combines the inference with the prepared
// statement's column names.
func describeQuery(state *ConnectionState, query string) (Describe, error) {
	types, nullable, err := explain.Explain(state.handle, query)
	if err != nil {
		return Describe{}, err
	}

	names, params := statementMetadata(state, query)

	columns := make([]ColumnDescription, len(types))
	for i := range types {
		col := ColumnDescription{Type: types[i], Nullable: nullable[i]}
		if i < len(names) {
			col.Name = names[i]
		}
		columns[i] = col
	}
	return Describe{Columns: columns, Parameters: params}, nil
}

// statementMetadata compiles the query to read its column names and bind
// parameter count. Column names are available after prepare without stepping
// the statement; failures here degrade to unnamed columns rather than
// failing the describe.
func statementMetadata(state *ConnectionState, query string) ([]string, int) {
	stmt, err := state.handle.Prepare(query)
	if err != nil {
		return nil, 0
	}
	defer stmt.Close()

	params := stmt.NumInput()

	rows, err := stmt.Query(nil)
	if err != nil {
		return nil, params
	}
	defer rows.Close()
	return rows.Columns(), params
}
