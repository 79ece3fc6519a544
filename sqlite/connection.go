package sqlite

import (
	"database/sql/driver"

	"github.com/sirupsen/logrus"
)

// ConnectionState is everything the worker thread owns: the native handle,
// the statement cache, and the hook registrations that must be torn down
// before the handle closes. Only the worker thread and a LockedHandle holder
// ever touch it.
type ConnectionState struct {
	handle     Conn
	statements *statementCache

	// Registered callbacks, retained so teardown can unregister them and
	// replacement never leaks a previous registration.
	updateHook   func(op int, db, table string, rowid int64)
	commitHook   func() int
	rollbackHook func()

	closed bool
	log    *logrus.Entry
}

func newConnectionState(handle Conn, log *logrus.Entry) *ConnectionState {
	return &ConnectionState{
		handle:     handle,
		statements: newStatementCache(),
		log:        log,
	}
}

func (s *ConnectionState) exec(query string) error {
	_, err := s.handle.Exec(query, nil)
	return err
}

// SetUpdateHook installs the row-change callback, replacing any previous one.
func (s *ConnectionState) SetUpdateHook(fn func(op int, db, table string, rowid int64)) {
	s.updateHook = fn
	s.handle.SetUpdateHook(fn)
}

// SetCommitHook installs the commit callback; returning nonzero from the
// callback turns the commit into a rollback.
func (s *ConnectionState) SetCommitHook(fn func() int) {
	s.commitHook = fn
	s.handle.SetCommitHook(fn)
}

// SetRollbackHook installs the rollback callback.
func (s *ConnectionState) SetRollbackHook(fn func()) {
	s.rollbackHook = fn
	s.handle.SetRollbackHook(fn)
}

func (s *ConnectionState) RemoveUpdateHook() {
	s.updateHook = nil
	s.handle.SetUpdateHook(nil)
}

func (s *ConnectionState) RemoveCommitHook() {
	s.commitHook = nil
	s.handle.SetCommitHook(nil)
}

func (s *ConnectionState) RemoveRollbackHook() {
	s.rollbackHook = nil
	s.handle.SetRollbackHook(nil)
}

// Close unregisters the hooks, finalizes every cached statement, and closes
// the handle, in that order. Idempotent.
func (s *ConnectionState) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.updateHook != nil {
		s.RemoveUpdateHook()
	}
	if s.commitHook != nil {
		s.RemoveCommitHook()
	}
	if s.rollbackHook != nil {
		s.RemoveRollbackHook()
	}
	s.statements.clear(s.log)
	return s.handle.Close()
}

// statementCache holds prepared statements keyed by their SQL. Eviction
// policy is intentionally out of scope here; the cache only supports insert,
// lookup, and wholesale clear.
type statementCache struct {
	stmts map[string]driver.Stmt
}

func newStatementCache() *statementCache {
	return &statementCache{stmts: make(map[string]driver.Stmt)}
}

// prepare returns the cached statement for the query, compiling and caching
// it on a miss.
func (c *statementCache) prepare(handle Conn, query string) (driver.Stmt, error) {
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := handle.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

func (c *statementCache) len() int {
	return len(c.stmts)
}

func (c *statementCache) clear(log *logrus.Entry) {
	for query, stmt := range c.stmts {
		if err := stmt.Close(); err != nil {
			log.WithError(err).WithField("query", query).Warnln("Failed to finalize cached statement")
		}
	}
	c.stmts = make(map[string]driver.Stmt)
}

// LockedHandle is exclusive access to the connection state from outside the
// worker, granted through the UnlockDb hand-off. The worker is parked in the
// fair mutex queue behind the holder and resumes when Unlock is called.
type LockedHandle struct {
	worker   *Worker
	state    *ConnectionState
	unlocked bool
}

// Conn exposes the raw handle.
func (h *LockedHandle) Conn() Conn { return h.state.handle }

// SetUpdateHook registers the row-change callback on the connection.
func (h *LockedHandle) SetUpdateHook(fn func(op int, db, table string, rowid int64)) {
	h.state.SetUpdateHook(fn)
}

// SetCommitHook registers the commit callback on the connection.
func (h *LockedHandle) SetCommitHook(fn func() int) {
	h.state.SetCommitHook(fn)
}

// SetRollbackHook registers the rollback callback on the connection.
func (h *LockedHandle) SetRollbackHook(fn func()) {
	h.state.SetRollbackHook(fn)
}

func (h *LockedHandle) RemoveUpdateHook()   { h.state.RemoveUpdateHook() }
func (h *LockedHandle) RemoveCommitHook()   { h.state.RemoveCommitHook() }
func (h *LockedHandle) RemoveRollbackHook() { h.state.RemoveRollbackHook() }

// Unlock returns the connection to the worker. Idempotent.
func (h *LockedHandle) Unlock() {
	if h.unlocked {
		return
	}
	h.unlocked = true
	h.worker.shared.connMu.Unlock()
}
