package pgcatalog

import (
	"fmt"
	"strings"

	"github.com/lib/pq/oid"
)

// Kind discriminates what a Postgres type means: a primitive leaf, a pseudo
// type, or an advanced type that depends on other types (domains, arrays,
// ranges, enums, composites).
type Kind uint8

const (
	KindSimple Kind = iota
	KindPseudo
	KindDomain
	KindArray
	KindRange
	KindEnum
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindPseudo:
		return "pseudo"
	case KindDomain:
		return "domain"
	case KindArray:
		return "array"
	case KindRange:
		return "range"
	case KindEnum:
		return "enum"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// CompositeField is one attribute of a composite type. The field type is a
// shallow reference by oid.
type CompositeField struct {
	Name string
	Type oid.Oid
}

// TypeKind describes the meaning of a type. Dependencies are always shallow
// oid references into the owning catalog, never pointers; this is what makes
// cyclic composite types representable without any lifetime juggling.
type TypeKind struct {
	Kind     Kind
	Dep      oid.Oid          // Domain, Array, Range
	Variants []string         // Enum
	Fields   []CompositeField // Composite
}

func Simple() TypeKind { return TypeKind{Kind: KindSimple} }
func Pseudo() TypeKind { return TypeKind{Kind: KindPseudo} }
func Domain(dep oid.Oid) TypeKind { return TypeKind{Kind: KindDomain, Dep: dep} }
func Array(elem oid.Oid) TypeKind { return TypeKind{Kind: KindArray, Dep: elem} }
func Range(sub oid.Oid) TypeKind { return TypeKind{Kind: KindRange, Dep: sub} }
func Enum(variants ...string) TypeKind {
	return TypeKind{Kind: KindEnum, Variants: variants}
}
func Composite(fields ...CompositeField) TypeKind {
	return TypeKind{Kind: KindComposite, Fields: fields}
}

// Dependencies returns the direct type dependencies in declaration order.
func (k TypeKind) Dependencies() []oid.Oid {
	switch k.Kind {
	case KindDomain, KindArray, KindRange:
		return []oid.Oid{k.Dep}
	case KindComposite:
		deps := make([]oid.Oid, len(k.Fields))
		for i, f := range k.Fields {
			deps[i] = f.Type
		}
		return deps
	default:
		return nil
	}
}

func (k TypeKind) equal(other TypeKind) bool {
	if k.Kind != other.Kind || k.Dep != other.Dep {
		return false
	}
	if len(k.Variants) != len(other.Variants) || len(k.Fields) != len(other.Fields) {
		return false
	}
	for i, v := range k.Variants {
		if other.Variants[i] != v {
			return false
		}
	}
	for i, f := range k.Fields {
		if other.Fields[i] != f {
			return false
		}
	}
	return true
}

// TypeRecord is a fetched type: complete identity (oid and name) plus a kind
// whose dependencies are shallow oid references. This is what a single
// pg_catalog.pg_type row distills to.
type TypeRecord struct {
	OID  oid.Oid
	Name string
	Kind TypeKind
}

// Equal reports whether two records describe the same type row.
func (t TypeRecord) Equal(other TypeRecord) bool {
	return t.OID == other.OID && t.Name == other.Name && t.Kind.equal(other.Kind)
}

// TypeRef is a potentially incomplete type identity: oid, name, or both.
// When both are present, both must match for a lookup to succeed.
type TypeRef struct {
	OID     oid.Oid
	Name    string
	HasOID  bool
	HasName bool
}

func ByOid(o oid.Oid) TypeRef { return TypeRef{OID: o, HasOID: true} }
func ByName(name string) TypeRef { return TypeRef{Name: name, HasName: true} }
func ByOidAndName(o oid.Oid, name string) TypeRef {
	return TypeRef{OID: o, Name: name, HasOID: true, HasName: true}
}

func (r TypeRef) String() string {
	var sb strings.Builder
	sb.WriteString("type ")
	switch {
	case r.HasOID && r.HasName:
		fmt.Fprintf(&sb, "oid=%d name=%q", r.OID, r.Name)
	case r.HasOID:
		fmt.Fprintf(&sb, "oid=%d", r.OID)
	case r.HasName:
		fmt.Fprintf(&sb, "name=%q", r.Name)
	default:
		sb.WriteString("<empty ref>")
	}
	return sb.String()
}

// Depth measures a dependency graph: zero for a builtin type, one more than
// the deepest direct dependency for a fetched type (so a fetched type with no
// dependencies has depth one), or circular when the graph contains a cycle.
type Depth struct {
	Circular bool
	N        int
}

func FiniteDepth(n int) Depth { return Depth{N: n} }
func CircularDepth() Depth    { return Depth{Circular: true} }

func (d Depth) addOne() Depth {
	if d.Circular {
		return d
	}
	return Depth{N: d.N + 1}
}

// maxDepth orders finite depths by magnitude; circular dominates everything.
func maxDepth(a, b Depth) Depth {
	if a.Circular || b.Circular {
		return CircularDepth()
	}
	if b.N > a.N {
		return b
	}
	return a
}

func (d Depth) String() string {
	if d.Circular {
		return "circular"
	}
	return fmt.Sprintf("finite(%d)", d.N)
}
