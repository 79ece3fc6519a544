package explain

import (
	"database/sql/driver"
	"io"

	"github.com/pkg/errors"
)

// Querier is the slice of the native connection the simulator needs: run one
// statement, iterate raw driver rows. The worker's connection handle
// satisfies it, as does any database/sql/driver connection.
type Querier interface {
	Query(query string, args []driver.Value) (driver.Rows, error)
}

// RootPage identifies a btree root: which attached database (0 = main,
// 1 = temp) and which root page number. OpenRead/OpenWrite name their target
// by this pair.
type RootPage struct {
	Db   int64
	Page int64
}

// SchemaMap carries the declared column types and NOT NULL flags for every
// table and index root page, the raw material OpenRead uses to seed cursor
// column metadata.
type SchemaMap map[RootPage]intMap[ColumnType]

// schemaQuery joins sqlite_schema of the main and temp databases with
// pragma_table_info for tables and pragma_index_info for indexes, yielding
// one row per (root page, column).
const schemaQuery = `SELECT s.dbnum, s.rootpage, col.cid AS colnum, col.type, col."notnull"
 FROM (
     SELECT 1 dbnum, tss.* FROM temp.sqlite_schema tss
     UNION ALL SELECT 0 dbnum, mss.* FROM main.sqlite_schema mss
     ) s
 JOIN pragma_table_info(s.name) AS col
 WHERE s.type = 'table'
 UNION ALL
 SELECT s.dbnum, s.rootpage, idx.seqno AS colnum, col.type, col."notnull"
 FROM (
     SELECT 1 dbnum, tss.* FROM temp.sqlite_schema tss
     UNION ALL SELECT 0 dbnum, mss.* FROM main.sqlite_schema mss
     ) s
 JOIN pragma_index_info(s.name) AS idx
 LEFT JOIN pragma_table_info(s.tbl_name) AS col
   ON col.cid = idx.cid
   WHERE s.type = 'index'`

// LoadSchema builds the schema map from the live connection.
func LoadSchema(conn Querier) (SchemaMap, error) {
	rows, err := conn.Query(schemaQuery, nil)
	if err != nil {
		return nil, errors.Wrap(err, "loading schema column metadata")
	}
	defer rows.Close()

	out := make(SchemaMap)
	dest := make([]driver.Value, 5)
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "reading schema column metadata")
		}

		page := RootPage{Db: valueToInt(dest[0]), Page: valueToInt(dest[1])}
		colnum := valueToInt(dest[2])
		declared := valueToString(dest[3])
		notnull := valueToInt(dest[4]) != 0

		cols := out[page]
		nullable := TriTrue
		if notnull {
			nullable = TriFalse
		}
		cols.put(colnum, ColumnType{
			Datatype: ParseDeclaredType(declared),
			Nullable: nullable,
		})
		out[page] = cols
	}
	return out, nil
}

func valueToInt(v driver.Value) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case bool:
		if val {
			return 1
		}
		return 0
	case float64:
		return int64(val)
	default:
		return 0
	}
}

func valueToString(v driver.Value) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}
