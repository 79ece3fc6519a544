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

// Package pgcatalog keeps a local, incrementally populated cache of the
// remote Postgres type graph.
//
// Postgres types form a potentially cyclic dependency graph: arrays, domains,
// ranges and composite types all reference other types, and a composite type
// may even reference itself. The catalog caches fetched pg_type rows keyed by
// oid, tracks how far each cached type's transitive dependencies have been
// resolved, and suspends resolution whenever it reaches a dependency that has
// not been fetched yet so the connection code can query the database and feed
// the row back in.
//
// Two assumptions are made about the remote database: it contains the
// standard builtin types under their default oids and names, and types are
// immutable for the lifetime of the cache. Run DDL that changes types and the
// cache must be discarded.
package pgcatalog

import (
	"github.com/lib/pq/oid"
	"github.com/sirupsen/logrus"
)

// refState is how much the catalog knows about a single reference.
type refState uint8

const (
	// Declared: the local program thinks the object exists, but it was
	// never queried from the database.
	stateDeclared refState = iota
	// Missing: the database was queried and the object was not found.
	stateMissing
	// Fetched: the row was fetched; the record is in the cache.
	stateFetched
)

type refEntry struct {
	state refState
	// cache key, valid when state == stateFetched
	oid oid.Oid
}

// resolutionKind tags the resolution progress of a fetched type.
type resolutionKind uint8

const (
	// Some transitive dependency is not resolved yet; blocker names the
	// dependency currently preventing progress.
	resolutionPartial resolutionKind = iota
	// The type and every transitively reachable dependency is fetched.
	resolutionFull
	// A transitive dependency is missing from the database; the type will
	// never resolve.
	resolutionDepMissing
)

type resolution struct {
	kind    resolutionKind
	blocker oid.Oid // resolutionPartial
	depth   Depth   // resolutionFull
	missing oid.Oid // resolutionDepMissing
}

type typeEntry struct {
	state  refState
	record TypeRecord // valid when state == stateFetched
	res    resolution // valid when state == stateFetched
}

type pendingEntry struct {
	owner oid.Oid
	res   *pendingResolution
}

// Catalog is the local Postgres type catalog. It is owned by a single
// connection and is not safe for concurrent use.
type Catalog struct {
	// name -> reference state (oid valid once fetched)
	names map[string]refEntry
	// oid -> type state
	types map[oid.Oid]*typeEntry
	// dependency oid -> resolutions parked until that oid is inserted
	pending map[oid.Oid][]pendingEntry

	log *logrus.Entry
}

// New returns an empty catalog. It is not really empty: every builtin type is
// implicitly present, fully resolved with depth zero.
func New() *Catalog {
	return &Catalog{
		names:   make(map[string]refEntry),
		types:   make(map[oid.Oid]*typeEntry),
		pending: make(map[oid.Oid][]pendingEntry),
		log:     logrus.WithField("component", "pgcatalog"),
	}
}

// DeclareOid records that a type with this oid has been mentioned by the
// client. Idempotent; never downgrades a fetched entry.
func (c *Catalog) DeclareOid(o oid.Oid) {
	if _, ok := c.types[o]; !ok {
		c.types[o] = &typeEntry{state: stateDeclared}
	}
}

// DeclareName records that a type with this local name has been mentioned by
// the client. Idempotent; never downgrades a fetched entry.
func (c *Catalog) DeclareName(name string) {
	if _, ok := c.names[name]; !ok {
		c.names[name] = refEntry{state: stateDeclared}
	}
}

// Declare records a reference. If the reference carries an oid the oid entry
// is declared too.
func (c *Catalog) Declare(ref TypeRef) {
	if ref.HasOID {
		c.DeclareOid(ref.OID)
	}
	if ref.HasName {
		c.DeclareName(ref.Name)
	}
}

// MarkMissingOid records that the database was queried for this oid and no
// row came back. A fetched entry is never overwritten. Resolutions parked on
// the oid are resumed so their owners settle as dependency-missing.
func (c *Catalog) MarkMissingOid(o oid.Oid) {
	if e, ok := c.types[o]; ok && e.state == stateFetched {
		return
	}
	c.types[o] = &typeEntry{state: stateMissing}
	c.advanceResolutions(o)
}

// MarkMissingName records that the database was queried for this name and no
// row came back.
func (c *Catalog) MarkMissingName(name string) {
	if e, ok := c.names[name]; ok && e.state == stateFetched {
		return
	}
	c.names[name] = refEntry{state: stateMissing}
}

// InsertType stores a freshly fetched type record, declares every direct
// dependency, and advances any resolution waiting on this oid. Inserting a
// record identical to the cached one is a no-op; inserting a different record
// for an already-cached oid returns a ConflictError.
func (c *Catalog) InsertType(rec TypeRecord) error {
	if existing, ok := c.types[rec.OID]; ok && existing.state == stateFetched {
		if existing.record.Equal(rec) {
			return nil
		}
		return &ConflictError{Existing: existing.record, Incoming: rec}
	}

	for _, dep := range rec.Kind.Dependencies() {
		c.DeclareOid(dep)
	}

	// The entry starts blocked on itself; the fresh pending resolution
	// parked on its own oid is resumed immediately below.
	c.types[rec.OID] = &typeEntry{
		state:  stateFetched,
		record: rec,
		res:    resolution{kind: resolutionPartial, blocker: rec.OID},
	}
	c.names[rec.Name] = refEntry{state: stateFetched, oid: rec.OID}

	c.pending[rec.OID] = append(c.pending[rec.OID], pendingEntry{
		owner: rec.OID,
		res:   newPendingResolution(rec.OID),
	})
	c.advanceResolutions(rec.OID)
	return nil
}

// advanceResolutions resumes every resolution parked on a freshly fetched
// oid. Completing one resolution may unblock others, so a local worklist of
// newly resolved oids is drained until no progress remains.
func (c *Catalog) advanceResolutions(initial oid.Oid) {
	worklist := []oid.Oid{initial}
	for len(worklist) > 0 {
		dep := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		parked, ok := c.pending[dep]
		if !ok {
			continue
		}
		delete(c.pending, dep)

		for _, p := range parked {
			var next resolution
			if blocker, done := p.res.resume(c); !done {
				// Still suspended; re-park on the new blocker.
				c.pending[blocker] = append(c.pending[blocker], p)
				next = resolution{kind: resolutionPartial, blocker: blocker}
			} else if missing, failed := p.res.failure(); failed {
				worklist = append(worklist, p.owner)
				next = resolution{kind: resolutionDepMissing, missing: missing}
			} else {
				worklist = append(worklist, p.owner)
				next = resolution{kind: resolutionFull, depth: p.res.depth()}
			}

			entry, ok := c.types[p.owner]
			if !ok || entry.state != stateFetched {
				c.log.WithField("oid", p.owner).
					Panic("type resolution progressed but the type is missing from the catalog")
			}
			entry.res = next
		}
	}
}

// lookupOid returns the record and resolution state for an oid, consulting
// the builtin table first.
func (c *Catalog) lookupOid(o oid.Oid) (TypeRecord, resolution, error) {
	if t, ok := builtinByOid[o]; ok {
		return t, resolution{kind: resolutionFull, depth: FiniteDepth(0)}, nil
	}
	entry, ok := c.types[o]
	if !ok {
		return TypeRecord{}, resolution{}, ErrUndeclared
	}
	switch entry.state {
	case stateDeclared:
		return TypeRecord{}, resolution{}, ErrUnfetched
	case stateMissing:
		return TypeRecord{}, resolution{}, ErrMissing
	default:
		return entry.record, entry.res, nil
	}
}

// GetByOid returns the shallow type record for an oid. Dependencies of the
// returned record may or may not themselves be fetched.
func (c *Catalog) GetByOid(o oid.Oid) (TypeRecord, error) {
	rec, _, err := c.lookupOid(o)
	return rec, err
}

// GetByName returns the shallow type record for a local type name.
func (c *Catalog) GetByName(name string) (TypeRecord, error) {
	if t, ok := builtinByName[name]; ok {
		return t, nil
	}
	entry, ok := c.names[name]
	if !ok {
		return TypeRecord{}, ErrUndeclared
	}
	switch entry.state {
	case stateDeclared:
		return TypeRecord{}, ErrUnfetched
	case stateMissing:
		return TypeRecord{}, ErrMissing
	default:
		return c.GetByOid(entry.oid)
	}
}

// Get returns the shallow type record for a reference. A reference carrying
// both an oid and a name only succeeds when both lookups agree.
func (c *Catalog) Get(ref TypeRef) (TypeRecord, error) {
	switch {
	case ref.HasOID && ref.HasName:
		byOid, err := c.GetByOid(ref.OID)
		if err != nil {
			return TypeRecord{}, err
		}
		if byOid.Name != ref.Name {
			return TypeRecord{}, ErrUndeclared
		}
		return byOid, nil
	case ref.HasOID:
		return c.GetByOid(ref.OID)
	case ref.HasName:
		return c.GetByName(ref.Name)
	default:
		return TypeRecord{}, ErrUndeclared
	}
}

// Resolve returns a deep view of the type: the record itself plus the
// guarantee that every transitively reachable dependency is fetched, so
// dependency accessors on the result never fail. If resolution is blocked or
// doomed, the returned ResolveError names the offending oid.
func (c *Catalog) Resolve(o oid.Oid) (*DeepType, error) {
	rec, res, err := c.lookupOid(o)
	if err != nil {
		return nil, &ResolveError{Blocker: ByOid(o), Cause: err}
	}
	switch res.kind {
	case resolutionFull:
		return &DeepType{cat: c, rec: rec, depth: res.depth}, nil
	case resolutionPartial:
		return nil, &ResolveError{Blocker: ByOid(res.blocker), Cause: ErrUnfetched}
	default:
		return nil, &ResolveError{Blocker: ByOid(res.missing), Cause: ErrMissing}
	}
}
