package sqlite

import (
	"database/sql/driver"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Conn is the surface of the native SQLite connection the worker owns. The
// production implementation wraps a mattn/go-sqlite3 driver connection; tests
// substitute in-memory fakes. Nothing outside the worker thread or a
// LockedHandle holder ever touches a Conn.
type Conn interface {
	// Query runs a statement and iterates raw driver rows. This is also
	// the surface the explain simulator reads bytecode and schema through.
	Query(query string, args []driver.Value) (driver.Rows, error)
	// Exec runs a statement for its side effects.
	Exec(query string, args []driver.Value) (driver.Result, error)
	// Prepare compiles a statement.
	Prepare(query string) (driver.Stmt, error)
	// Serialize snapshots a schema into a memory buffer.
	Serialize(schema string) ([]byte, error)
	// Deserialize replaces a schema from a memory buffer.
	Deserialize(data []byte, schema string) error
	// SetUpdateHook registers the row-change callback; nil unregisters.
	SetUpdateHook(fn func(op int, db, table string, rowid int64))
	// SetCommitHook registers the commit callback; returning nonzero
	// converts the commit into a rollback. nil unregisters.
	SetCommitHook(fn func() int)
	// SetRollbackHook registers the rollback callback; nil unregisters.
	SetRollbackHook(fn func())
	// Close tears the connection down.
	Close() error
}

// nativeConn adapts *sqlite3.SQLiteConn to Conn.
type nativeConn struct {
	conn *sqlite3.SQLiteConn
}

// openNative establishes a new native connection for the given DSN.
func openNative(dsn string) (Conn, error) {
	d := &sqlite3.SQLiteDriver{}
	conn, err := d.Open(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %q", dsn)
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.Errorf("unexpected driver connection type %T", conn)
	}
	return &nativeConn{conn: sc}, nil
}

func (c *nativeConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.conn.Query(query, args)
}

func (c *nativeConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.conn.Exec(query, args)
}

func (c *nativeConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(query)
}

func (c *nativeConn) Serialize(schema string) ([]byte, error) {
	return c.conn.Serialize(schema)
}

func (c *nativeConn) Deserialize(data []byte, schema string) error {
	return c.conn.Deserialize(data, schema)
}

func (c *nativeConn) SetUpdateHook(fn func(op int, db, table string, rowid int64)) {
	c.conn.RegisterUpdateHook(fn)
}

func (c *nativeConn) SetCommitHook(fn func() int) {
	c.conn.RegisterCommitHook(fn)
}

func (c *nativeConn) SetRollbackHook(fn func()) {
	c.conn.RegisterRollbackHook(fn)
}

func (c *nativeConn) Close() error {
	return c.conn.Close()
}
