package pgcatalog

import (
	"errors"
	"fmt"
)

// Lookup errors returned by Get and friends. They describe how much the
// catalog knows about a reference, not a transport failure.
var (
	// ErrUndeclared: the reference was never declared in the local catalog.
	ErrUndeclared = errors.New("type was never declared in the local catalog")
	// ErrUnfetched: declared, but never fetched from the database.
	ErrUnfetched = errors.New("type was never fetched from the database")
	// ErrMissing: the database was queried and the type does not exist.
	ErrMissing = errors.New("type is missing from the database")
)

// ResolveError is returned by Resolve when some type in the transitive
// dependency graph prevents a deep resolution. Blocker identifies the
// offending type, which may be the requested type itself.
type ResolveError struct {
	Blocker TypeRef
	Cause   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot deeply resolve: %s: %s", e.Blocker, e.Cause)
}

func (e *ResolveError) Unwrap() error { return e.Cause }

// ConflictError is returned by InsertType when a different record is already
// cached for the same oid. The catalog assumes immutable types; hitting this
// usually means the local cache must be cleared after a DDL change.
type ConflictError struct {
	Existing TypeRecord
	Incoming TypeRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting type records for oid %d: cached %q, inserting %q",
		e.Existing.OID, e.Existing.Name, e.Incoming.Name)
}
