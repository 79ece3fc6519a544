package sqlite

import (
	"context"
	"database/sql/driver"
	"io"

	"github.com/pkg/errors"
)

// Connection is the async façade over one worker-owned native connection.
// Methods may be called from any goroutine; the worker serializes them.
type Connection struct {
	worker *Worker
	opts   Options
}

// Open establishes a connection to the given DSN (a file path, or
// ":memory:") and starts its worker.
func Open(dsn string, opts Options) (*Connection, error) {
	return NewConnection(func() (Conn, error) { return openNative(dsn) }, opts)
}

// NewConnection starts a worker over a caller-supplied native connection
// constructor. The constructor runs on the worker thread.
func NewConnection(open func() (Conn, error), opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	worker, err := startWorker(opts, open)
	if err != nil {
		return nil, err
	}
	return &Connection{worker: worker, opts: opts}, nil
}

// Prepare compiles the statement into the connection's statement cache and
// returns its description.
func (c *Connection) Prepare(ctx context.Context, query string) (Statement, error) {
	return c.worker.prepare(ctx, query)
}

// Describe infers result column types and nullability for the query without
// executing it.
func (c *Connection) Describe(ctx context.Context, query string) (Describe, error) {
	return c.worker.describe(ctx, query)
}

// Execute runs the statement through the cached prepared statement and
// streams rows back over a bounded channel. A limit greater than zero stops
// the stream after that many rows and discards the statement state
// immediately.
func (c *Connection) Execute(ctx context.Context, query string, args []driver.Value, limit int) (*Rows, error) {
	return c.worker.execCommand(ctx, query, args, true, limit, c.opts.RowChannelSize)
}

// ExecuteOnce is Execute without statement caching, for one-off statements.
func (c *Connection) ExecuteOnce(ctx context.Context, query string, args []driver.Value) (*Rows, error) {
	return c.worker.execCommand(ctx, query, args, false, 0, c.opts.RowChannelSize)
}

// Begin opens a transaction, or a savepoint when one is already open.
func (c *Connection) Begin(ctx context.Context) (*Tx, error) {
	return c.BeginWith(ctx, "")
}

// BeginWith opens a transaction with custom BEGIN SQL (for example BEGIN
// IMMEDIATE). Custom SQL is rejected with ErrInvalidSavepointStatement when a
// transaction is already open.
func (c *Connection) BeginWith(ctx context.Context, statement string) (*Tx, error) {
	if err := c.worker.beginCommand(ctx, statement); err != nil {
		return nil, err
	}
	return &Tx{conn: c}, nil
}

// Ping checks that the worker is alive and processing commands.
func (c *Connection) Ping(ctx context.Context) error {
	return c.worker.ping(ctx)
}

// Serialize snapshots the named schema ("" means main) into a buffer.
func (c *Connection) Serialize(ctx context.Context, schema string) ([]byte, error) {
	return c.worker.serialize(ctx, schema)
}

// Deserialize replaces the named schema ("" means main) from a buffer.
func (c *Connection) Deserialize(ctx context.Context, schema string, data []byte) error {
	return c.worker.deserialize(ctx, schema, data)
}

// ClearCache drops every cached prepared statement.
func (c *Connection) ClearCache(ctx context.Context) error {
	return c.worker.clearCache(ctx)
}

// LockHandle suspends the worker and grants exclusive access to the raw
// connection state, for hook registration and other out-of-band work. The
// worker resumes when the handle is unlocked.
func (c *Connection) LockHandle(ctx context.Context) (*LockedHandle, error) {
	return c.worker.lockHandle(ctx)
}

// Shared exposes the observable worker counters.
func (c *Connection) Shared() *SharedState {
	return c.worker.shared
}

// Close shuts the worker down, closing the native connection.
func (c *Connection) Close(ctx context.Context) error {
	return c.worker.shutdown(ctx)
}

// Rows is the receiving end of an Execute stream. It is not safe for
// concurrent use.
type Rows struct {
	items   <-chan ExecItem
	cancel  chan struct{}
	cols    []string
	done    bool
	closed  bool
	lastErr error
}

// Columns returns the column names once the stream has started. It blocks
// until the worker has sent the header.
func (r *Rows) Columns(ctx context.Context) ([]string, error) {
	if r.cols != nil || r.done {
		return r.cols, r.lastErr
	}
	select {
	case item, ok := <-r.items:
		if !ok {
			r.done = true
			return nil, r.lastErr
		}
		if item.Err != nil {
			r.done = true
			r.lastErr = item.Err
			return nil, item.Err
		}
		r.cols = item.Columns
		return r.cols, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next returns the next row. io.EOF signals the end of the stream.
func (r *Rows) Next(ctx context.Context) ([]driver.Value, error) {
	if r.done {
		if r.lastErr != nil {
			return nil, r.lastErr
		}
		return nil, io.EOF
	}
	for {
		select {
		case item, ok := <-r.items:
			if !ok {
				// The worker closed the stream without a Done
				// marker: the row limit cut it short.
				r.done = true
				return nil, io.EOF
			}
			switch {
			case item.Err != nil:
				r.done = true
				r.lastErr = item.Err
				return nil, item.Err
			case item.Done:
				r.done = true
				return nil, io.EOF
			case item.Columns != nil:
				r.cols = item.Columns
				continue
			default:
				return item.Row, nil
			}
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "reading row stream")
		}
	}
}

// Close abandons the stream. The worker notices on its next send and
// discards any remaining rows and statement state.
func (r *Rows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.cancel)
}
