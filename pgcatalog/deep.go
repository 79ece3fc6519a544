package pgcatalog

import (
	"fmt"

	"github.com/lib/pq/oid"
)

// DeepType is a fully resolved type attached to its catalog. Every type
// reachable from it through the dependency accessors is guaranteed to be
// fetched, so the accessors never fail. Dependencies stay oid-keyed arena
// references; a DeepType is a view, not a copy of the subgraph, which is what
// lets self-referential composite types resolve.
type DeepType struct {
	cat   *Catalog
	rec   TypeRecord
	depth Depth
}

// Record returns the shallow record backing this view.
func (t *DeepType) Record() TypeRecord { return t.rec }

// OID returns the type oid.
func (t *DeepType) OID() oid.Oid { return t.rec.OID }

// Name returns the local type name.
func (t *DeepType) Name() string { return t.rec.Name }

// Kind returns the shallow kind. Use the typed accessors below for deep
// dependency views.
func (t *DeepType) Kind() TypeKind { return t.rec.Kind }

// Depth returns the dependency graph depth recorded when the type resolved.
// Self-referential and mutually recursive types report a circular depth.
func (t *DeepType) Depth() Depth { return t.depth }

// dependency re-enters the catalog for a dependency oid. The resolution
// invariant guarantees the dependency is fetched; anything else is a bug.
func (t *DeepType) dependency(o oid.Oid) *DeepType {
	rec, res, err := t.cat.lookupOid(o)
	if err != nil {
		panic(fmt.Sprintf("pgcatalog: deep type %d points at unresolved dependency %d: %v", t.rec.OID, o, err))
	}
	depth := res.depth
	if res.kind != resolutionFull {
		// Members of a dependency cycle all become Full together once
		// the cycle closes; a non-Full entry reachable from a Full
		// owner can only be part of a cycle mid-advance.
		depth = CircularDepth()
	}
	return &DeepType{cat: t.cat, rec: rec, depth: depth}
}

// DomainBase returns the wrapped type of a domain.
func (t *DeepType) DomainBase() *DeepType {
	if t.rec.Kind.Kind != KindDomain {
		panic(fmt.Sprintf("pgcatalog: DomainBase on %s type %q", t.rec.Kind.Kind, t.rec.Name))
	}
	return t.dependency(t.rec.Kind.Dep)
}

// Elem returns the element type of an array.
func (t *DeepType) Elem() *DeepType {
	if t.rec.Kind.Kind != KindArray {
		panic(fmt.Sprintf("pgcatalog: Elem on %s type %q", t.rec.Kind.Kind, t.rec.Name))
	}
	return t.dependency(t.rec.Kind.Dep)
}

// RangeSubtype returns the subtype of a range.
func (t *DeepType) RangeSubtype() *DeepType {
	if t.rec.Kind.Kind != KindRange {
		panic(fmt.Sprintf("pgcatalog: RangeSubtype on %s type %q", t.rec.Kind.Kind, t.rec.Name))
	}
	return t.dependency(t.rec.Kind.Dep)
}

// DeepField is a composite field with its type resolved deeply.
type DeepField struct {
	Name string
	Type *DeepType
}

// Fields returns the fields of a composite type with deep type views.
func (t *DeepType) Fields() []DeepField {
	if t.rec.Kind.Kind != KindComposite {
		panic(fmt.Sprintf("pgcatalog: Fields on %s type %q", t.rec.Kind.Kind, t.rec.Name))
	}
	fields := make([]DeepField, len(t.rec.Kind.Fields))
	for i, f := range t.rec.Kind.Fields {
		fields[i] = DeepField{Name: f.Name, Type: t.dependency(f.Type)}
	}
	return fields
}
