// Copyright 2025 SQLBridge, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite serializes all access to one native SQLite connection.
//
// SQLite's C API is blocking and single-threaded per connection, so each
// connection gets a dedicated worker goroutine pinned to an OS thread. Async
// callers talk to it over a bounded command channel; replies come back on
// one-shot channels, row data on bounded row channels, and transaction
// lifecycle outcomes on rendezvous channels so the worker always knows
// whether the caller observed them. Abandoning any in-flight call is safe:
// the worker still runs the command to completion and compensates where an
// unobserved outcome would leak state (most importantly, a BEGIN whose caller
// vanished is rolled back immediately).
package sqlite

import (
	"context"
	"database/sql/driver"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SharedState is the slice of worker state observers may read concurrently:
// the transaction depth and statement cache size as atomics, and the fair
// mutex guarding the connection state. Both counters are written only by the
// worker thread; external reads see an eventually consistent snapshot.
type SharedState struct {
	transactionDepth atomic.Int64
	cachedStatements atomic.Int64

	connMu fairMutex
	state  *ConnectionState
}

// TransactionDepth reports the number of open transaction scopes.
func (s *SharedState) TransactionDepth() int64 {
	return s.transactionDepth.Load()
}

// CachedStatementsSize reports the number of cached prepared statements.
func (s *SharedState) CachedStatementsSize() int64 {
	return s.cachedStatements.Load()
}

// Statement is the caller-visible description of a prepared statement.
type Statement struct {
	SQL      string
	NumInput int
}

// ExecItem is one element of an Execute stream: the column names arrive
// first, then rows, then either the completion marker or an error. A stream
// cut short by its row limit closes with neither.
type ExecItem struct {
	Columns []string
	Row     []driver.Value
	Done    bool
	Err     error
}

type commandKind uint8

const (
	cmdPrepare commandKind = iota
	cmdDescribe
	cmdExecute
	cmdBegin
	cmdCommit
	cmdRollback
	cmdSerialize
	cmdDeserialize
	cmdUnlockDb
	cmdClearCache
	cmdPing
	cmdShutdown
)

type commandResult struct {
	err       error
	statement Statement
	describe  Describe
	data      []byte
}

// command is one queued request plus its trace context. Exactly one of the
// reply mechanisms is populated, depending on the kind.
type command struct {
	kind commandKind

	query      string
	args       []driver.Value
	persistent bool
	limit      int

	beginSQL string
	schema   string
	data     []byte

	rows   chan<- ExecItem
	cancel <-chan struct{}
	reply  chan commandResult
	ack    *rendezvous[error]

	span *logrus.Entry
}

// Worker owns one native connection for its whole life. Create it with
// startWorker; talk to it only through the command channel.
type Worker struct {
	commands chan command
	shared   *SharedState
	done     chan struct{}
	log      *logrus.Entry
}

func startWorker(opts Options, open func() (Conn, error)) (*Worker, error) {
	opts = opts.withDefaults()
	w := &Worker{
		commands: make(chan command, opts.CommandChannelSize),
		shared:   &SharedState{},
		done:     make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "sqlite.worker",
			"worker":    uuid.NewString(),
			"thread":    opts.ThreadName,
		}),
	}

	establish := make(chan error, 1)
	go w.run(open, establish)

	if err := <-establish; err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) run(open func() (Conn, error), establish chan<- error) {
	// The native library is blocking and per-connection single-threaded;
	// pin the goroutine so every call lands on one OS thread.
	runtime.LockOSThread()
	defer close(w.done)

	handle, err := open()
	if err != nil {
		establish <- err
		return
	}

	state := newConnectionState(handle, w.log)
	w.shared.state = state
	// The worker holds the connection lock by default; UnlockDb is the
	// only hand-off point.
	w.shared.connMu.TryLock()

	establish <- nil

	// If a COMMIT or ROLLBACK is processed but never acknowledged, the
	// abandoned Tx will still emit its drop-time rollback. That rollback
	// must be discarded or it would roll back the next transaction.
	ignoreNextStartRollback := false

	for cmd := range w.commands {
		if w.handleCommand(state, cmd, &ignoreNextStartRollback) {
			if err := state.Close(); err != nil {
				w.log.WithError(err).Warnln("Failed to close connection state")
			}
			return
		}
	}
}

// handleCommand processes one command on the worker thread. A true return
// stops the worker.
func (w *Worker) handleCommand(state *ConnectionState, cmd command, ignoreNextStartRollback *bool) bool {
	log := w.log
	if cmd.span != nil {
		log = cmd.span
	}

	switch cmd.kind {
	case cmdPrepare:
		var res commandResult
		stmt, err := state.statements.prepare(state.handle, cmd.query)
		if err != nil {
			res.err = err
		} else {
			res.statement = Statement{SQL: cmd.query, NumInput: stmt.NumInput()}
		}
		w.updateCachedStatementsSize(state)
		cmd.reply <- res

	case cmdDescribe:
		desc, err := describeQuery(state, cmd.query)
		cmd.reply <- commandResult{describe: desc, err: err}

	case cmdExecute:
		w.execute(state, cmd)
		w.updateCachedStatementsSize(state)

	case cmdBegin:
		return w.begin(state, cmd, log)

	case cmdCommit:
		depth := w.shared.transactionDepth.Load()
		var err error
		if depth > 0 {
			if err = state.exec(commitTransactionSQL(depth)); err == nil {
				w.shared.transactionDepth.Add(-1)
			}
		}
		if !cmd.ack.Send(err) && err == nil {
			// Processed but unacknowledged: the abandoned Tx will
			// still emit a rollback on drop, which must be ignored.
			*ignoreNextStartRollback = true
		}

	case cmdRollback:
		if *ignoreNextStartRollback && cmd.ack == nil {
			*ignoreNextStartRollback = false
			return false
		}
		depth := w.shared.transactionDepth.Load()
		var err error
		if depth > 0 {
			if err = state.exec(rollbackTransactionSQL(depth)); err == nil {
				w.shared.transactionDepth.Add(-1)
			}
		}
		if cmd.ack != nil {
			if !cmd.ack.Send(err) && err == nil {
				*ignoreNextStartRollback = true
			}
		}

	case cmdSerialize:
		data, err := serializeSchema(state, cmd.schema)
		cmd.reply <- commandResult{data: data, err: err}

	case cmdDeserialize:
		cmd.reply <- commandResult{err: deserializeSchema(state, cmd.schema, cmd.data)}

	case cmdUnlockDb:
		// Hand the connection to whoever queued up for it. The mutex
		// is fair, so the external waiter that enqueued before this
		// command was processed wins over our immediate relock.
		w.shared.connMu.Unlock()
		_ = w.shared.connMu.Lock(context.Background())

	case cmdClearCache:
		state.statements.clear(log)
		w.updateCachedStatementsSize(state)
		cmd.reply <- commandResult{}

	case cmdPing:
		cmd.reply <- commandResult{}

	case cmdShutdown:
		// Tear the connection down before confirming: statements and
		// hook registrations must be gone when the caller proceeds.
		if err := state.Close(); err != nil {
			w.log.WithError(err).Warnln("Failed to close connection state")
		}
		cmd.reply <- commandResult{}
		return true
	}
	return false
}

func (w *Worker) begin(state *ConnectionState, cmd command, log *logrus.Entry) bool {
	depth := w.shared.transactionDepth.Load()

	beginSQL := cmd.beginSQL
	if beginSQL != "" && depth > 0 {
		// Custom BEGIN statements cannot nest; inner scopes must be
		// savepoints.
		if !cmd.ack.Send(ErrInvalidSavepointStatement) {
			return true
		}
		return false
	}
	if beginSQL == "" {
		beginSQL = beginTransactionSQL(depth)
	}

	err := state.exec(beginSQL)
	if err == nil {
		w.shared.transactionDepth.Add(1)
	}

	if !cmd.ack.Send(err) && err == nil {
		// The BEGIN was processed but nobody received the outcome, so
		// no Tx owns this transaction and nothing will ever commit or
		// roll it back. Compensate immediately.
		if rbErr := state.exec(rollbackTransactionSQL(depth + 1)); rbErr != nil {
			// The compensating rollback failed; the connection is
			// in an indeterminate state. Stop the worker so every
			// subsequent command fails fast.
			log.WithError(rbErr).Errorln("Failed to rollback cancelled transaction")
			return true
		}
		w.shared.transactionDepth.Add(-1)
	}
	return false
}

func (w *Worker) execute(state *ConnectionState, cmd command) {
	defer close(cmd.rows)

	var (
		rows driver.Rows
		err  error
	)
	if cmd.persistent {
		stmt, perr := state.statements.prepare(state.handle, cmd.query)
		if perr != nil {
			w.sendRow(cmd, ExecItem{Err: perr})
			return
		}
		rows, err = stmt.Query(cmd.args)
	} else {
		rows, err = state.handle.Query(cmd.query, cmd.args)
	}
	if err != nil {
		w.sendRow(cmd, ExecItem{Err: err})
		return
	}
	defer rows.Close()

	cols := rows.Columns()
	if !w.sendRow(cmd, ExecItem{Columns: cols}) {
		return
	}

	produced := 0
	for {
		dest := make([]driver.Value, len(cols))
		nerr := rows.Next(dest)
		if nerr == io.EOF {
			w.sendRow(cmd, ExecItem{Done: true})
			return
		}
		if nerr != nil {
			w.sendRow(cmd, ExecItem{Err: nerr})
			return
		}
		if !w.sendRow(cmd, ExecItem{Row: dest}) {
			// The receiver dropped the stream: discard the rest
			// immediately.
			return
		}
		produced++
		if cmd.limit > 0 && produced >= cmd.limit {
			// Row limit reached; drop remaining statement state now.
			return
		}
	}
}

func (w *Worker) sendRow(cmd command, item ExecItem) bool {
	select {
	case cmd.rows <- item:
		return true
	case <-cmd.cancel:
		return false
	}
}

func (w *Worker) updateCachedStatementsSize(state *ConnectionState) {
	w.shared.cachedStatements.Store(int64(state.statements.len()))
}

// send enqueues a command, failing fast when the worker is gone.
func (w *Worker) send(ctx context.Context, cmd command) error {
	select {
	case <-w.done:
		return ErrWorkerCrashed
	default:
	}
	select {
	case w.commands <- cmd:
		return nil
	case <-w.done:
		return ErrWorkerCrashed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roundTrip sends a command with a plain one-shot reply. If the caller gives
// up first, the worker still completes the command and the reply is silently
// dropped.
func (w *Worker) roundTrip(ctx context.Context, cmd command) (commandResult, error) {
	reply := make(chan commandResult, 1)
	cmd.reply = reply
	cmd.span = w.log

	if err := w.send(ctx, cmd); err != nil {
		return commandResult{}, err
	}

	select {
	case res := <-reply:
		return res, nil
	default:
	}
	select {
	case res := <-reply:
		return res, nil
	case <-w.done:
		return commandResult{}, ErrWorkerCrashed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// ackTrip sends a transaction lifecycle command over a rendezvous channel.
func (w *Worker) ackTrip(ctx context.Context, cmd command) error {
	rv := newRendezvous[error]()
	cmd.ack = rv
	cmd.span = w.log

	if err := w.send(ctx, cmd); err != nil {
		return err
	}

	res, err := rv.Recv(ctx, w.done)
	if err != nil {
		return err
	}
	return res
}

func (w *Worker) prepare(ctx context.Context, query string) (Statement, error) {
	res, err := w.roundTrip(ctx, command{kind: cmdPrepare, query: query})
	if err != nil {
		return Statement{}, err
	}
	return res.statement, res.err
}

func (w *Worker) describe(ctx context.Context, query string) (Describe, error) {
	res, err := w.roundTrip(ctx, command{kind: cmdDescribe, query: query})
	if err != nil {
		return Describe{}, err
	}
	return res.describe, res.err
}

func (w *Worker) execCommand(ctx context.Context, query string, args []driver.Value, persistent bool, limit, chanSize int) (*Rows, error) {
	items := make(chan ExecItem, chanSize)
	cancel := make(chan struct{})

	cmd := command{
		kind:       cmdExecute,
		query:      query,
		args:       args,
		persistent: persistent,
		limit:      limit,
		rows:       items,
		cancel:     cancel,
		span:       w.log,
	}
	if err := w.send(ctx, cmd); err != nil {
		return nil, err
	}
	return &Rows{items: items, cancel: cancel}, nil
}

func (w *Worker) beginCommand(ctx context.Context, statement string) error {
	return w.ackTrip(ctx, command{kind: cmdBegin, beginSQL: statement})
}

func (w *Worker) commit(ctx context.Context) error {
	return w.ackTrip(ctx, command{kind: cmdCommit})
}

func (w *Worker) rollback(ctx context.Context) error {
	return w.ackTrip(ctx, command{kind: cmdRollback})
}

// startRollback is the fire-and-forget rollback a dropped Tx emits: no ack
// channel, so an unacknowledged commit/rollback flag can swallow it.
func (w *Worker) startRollback() error {
	select {
	case <-w.done:
		return ErrWorkerCrashed
	default:
	}
	select {
	case w.commands <- command{kind: cmdRollback, span: w.log}:
		return nil
	case <-w.done:
		return ErrWorkerCrashed
	}
}

func (w *Worker) ping(ctx context.Context) error {
	_, err := w.roundTrip(ctx, command{kind: cmdPing})
	return err
}

func (w *Worker) serialize(ctx context.Context, schema string) ([]byte, error) {
	res, err := w.roundTrip(ctx, command{kind: cmdSerialize, schema: schema})
	if err != nil {
		return nil, err
	}
	return res.data, res.err
}

func (w *Worker) deserialize(ctx context.Context, schema string, data []byte) error {
	res, err := w.roundTrip(ctx, command{kind: cmdDeserialize, schema: schema, data: data})
	if err != nil {
		return err
	}
	return res.err
}

func (w *Worker) clearCache(ctx context.Context) error {
	_, err := w.roundTrip(ctx, command{kind: cmdClearCache})
	return err
}

// lockHandle implements the UnlockDb hand-off: join the fair mutex queue
// first, then ask the worker to unlock. Because the queue is FIFO, the worker
// relocking immediately afterwards cannot jump ahead of us.
func (w *Worker) lockHandle(ctx context.Context) (*LockedHandle, error) {
	grant := w.shared.connMu.enqueue()

	giveBack := func() {
		go func() {
			<-grant
			w.shared.connMu.Unlock()
		}()
	}

	if err := w.send(ctx, command{kind: cmdUnlockDb, span: w.log}); err != nil {
		giveBack()
		return nil, err
	}

	select {
	case <-grant:
		return &LockedHandle{worker: w, state: w.shared.state}, nil
	case <-ctx.Done():
		giveBack()
		return nil, ctx.Err()
	case <-w.done:
		giveBack()
		return nil, ErrWorkerCrashed
	}
}

func (w *Worker) shutdown(ctx context.Context) error {
	_, err := w.roundTrip(ctx, command{kind: cmdShutdown})
	return err
}
