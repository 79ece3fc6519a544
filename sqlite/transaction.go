package sqlite

import (
	"context"
	"fmt"
)

// Transaction SQL for a given nesting depth: the outermost level uses plain
// BEGIN/COMMIT/ROLLBACK, inner levels use savepoints named by depth.

func beginTransactionSQL(depth int64) string {
	if depth == 0 {
		return "BEGIN"
	}
	return fmt.Sprintf("SAVEPOINT sp_%d", depth)
}

func commitTransactionSQL(depth int64) string {
	if depth == 1 {
		return "COMMIT"
	}
	return fmt.Sprintf("RELEASE SAVEPOINT sp_%d", depth-1)
}

func rollbackTransactionSQL(depth int64) string {
	if depth == 1 {
		return "ROLLBACK"
	}
	return fmt.Sprintf("ROLLBACK TO SAVEPOINT sp_%d", depth-1)
}

// Tx is a transaction or savepoint scope opened through the worker. Exactly
// one of Commit or Rollback should be called; Close rolls back when neither
// happened, mirroring how an abandoned transaction guard must not leak an
// open transaction.
type Tx struct {
	conn *Connection
	done bool
}

// Commit releases the scope.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.conn.worker.commit(ctx)
}

// Rollback rolls the scope back.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.conn.worker.rollback(ctx)
}

// Close rolls back if the transaction was neither committed nor rolled back.
// The rollback is fire-and-forget: the worker pairs it with the preceding
// Begin even when this caller is already gone.
func (tx *Tx) Close() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.conn.worker.startRollback()
}
