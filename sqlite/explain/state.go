package explain

import (
	"encoding/binary"
	"strings"
)

// ColumnType is the simulator's knowledge about one value: either a single
// scalar with a storage class and a nullability bit, or a record (an ordered
// bundle of column types) as produced by MakeRecord and RowData. Records nest.
type ColumnType struct {
	Datatype DataType
	Nullable Tri
	// Rec is non-nil for record values; Datatype and Nullable are then
	// meaningless.
	Rec *recordType
}

type recordType struct {
	cols intMap[ColumnType]
}

// defaultColumnType is the value of a register that was never written: NULL
// of unknown nullability.
func defaultColumnType() ColumnType {
	return ColumnType{Datatype: TypeNull, Nullable: TriUnknown}
}

// nullColumnType is an explicit NULL: known nullable.
func nullColumnType() ColumnType {
	return ColumnType{Datatype: TypeNull, Nullable: TriTrue}
}

func (c ColumnType) mapToDatatype() DataType {
	if c.Rec != nil {
		// A record coerced to a scalar context is invalid; treat as
		// NULL.
		return TypeNull
	}
	return c.Datatype
}

func (c ColumnType) mapToNullable() Tri {
	if c.Rec != nil {
		return TriUnknown
	}
	return c.Nullable
}

func (c ColumnType) clone() ColumnType {
	if c.Rec == nil {
		return c
	}
	return ColumnType{Rec: &recordType{cols: c.Rec.cols.clone(ColumnType.clone)}}
}

func (c ColumnType) encode(sb *strings.Builder) {
	if c.Rec != nil {
		sb.WriteByte('R')
		encodeMap(sb, &c.Rec.cols, ColumnType.encode)
		return
	}
	sb.WriteByte('S')
	sb.WriteByte(byte(c.Datatype))
	sb.WriteByte(byte(c.Nullable))
}

// regValue is the content of one register: either a tracked column type or an
// exact small integer. Exact integers matter for control flow (Gosub/Return
// targets, If on counters, coroutine slots).
type regValue struct {
	isInt  bool
	intVal int64
	col    ColumnType
}

func intReg(v int64) regValue { return regValue{isInt: true, intVal: v} }
func colReg(c ColumnType) regValue { return regValue{col: c} }

func (r regValue) mapToDatatype() DataType {
	if r.isInt {
		return TypeInteger
	}
	return r.col.mapToDatatype()
}

func (r regValue) mapToNullable() Tri {
	if r.isInt {
		return TriFalse
	}
	return r.col.mapToNullable()
}

func (r regValue) mapToColumnType() ColumnType {
	if r.isInt {
		return ColumnType{Datatype: TypeInteger, Nullable: TriFalse}
	}
	return r.col
}

func (r regValue) clone() regValue {
	if r.isInt {
		return r
	}
	return regValue{col: r.col.clone()}
}

func (r regValue) encode(sb *strings.Builder) {
	if r.isInt {
		sb.WriteByte('I')
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(r.intVal))
		sb.Write(buf[:])
		return
	}
	r.col.encode(sb)
}

// tableState is what a normal cursor points at: per-column types plus
// three-valued emptiness (TriTrue: known empty, TriFalse: known non-empty,
// TriUnknown: no idea).
type tableState struct {
	cols    intMap[ColumnType]
	isEmpty Tri
}

func (t tableState) clone() tableState {
	return tableState{cols: t.cols.clone(ColumnType.clone), isEmpty: t.isEmpty}
}

func (t tableState) encode(sb *strings.Builder) {
	sb.WriteByte('T')
	sb.WriteByte(byte(t.isEmpty))
	encodeMap(sb, &t.cols, ColumnType.encode)
}

// cursorState is either a normal cursor over a table handle or a pseudo
// cursor aliasing a register that holds a record.
type cursorState struct {
	pseudo bool
	handle int64
}

func (c cursorState) clone() cursorState { return c }

func (c cursorState) encode(sb *strings.Builder) {
	if c.pseudo {
		sb.WriteByte('P')
	} else {
		sb.WriteByte('N')
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(c.handle))
	sb.Write(buf[:])
}

// columns resolves the column map a cursor currently exposes.
func (c cursorState) columns(mem *memoryState) *intMap[ColumnType] {
	if c.pseudo {
		if r := mem.r.ref(c.handle); r != nil && !r.isInt && r.col.Rec != nil {
			return &r.col.Rec.cols
		}
		return nil
	}
	if tab := mem.t.ref(c.handle); tab != nil {
		return &tab.cols
	}
	return nil
}

// table resolves the backing table of a normal cursor.
func (c cursorState) table(mem *memoryState) *tableState {
	if c.pseudo {
		return nil
	}
	return mem.t.ref(c.handle)
}

// emptiness reports whether the cursor could be positioned on no rows.
func (c cursorState) emptiness(mem *memoryState) Tri {
	if c.pseudo {
		// Pseudo cursors have exactly one row.
		return TriFalse
	}
	if tab := mem.t.ref(c.handle); tab != nil {
		return tab.isEmpty
	}
	return TriTrue
}

// memoryState is the full symbolic machine state of one branch: the program
// counter, the registers, the open cursors, and the tables cursors point at.
// Branch deduplication is keyed by its canonical encoding.
type memoryState struct {
	pc int
	r  intMap[regValue]
	p  intMap[cursorState]
	t  intMap[tableState]
}

func (m *memoryState) clone() memoryState {
	return memoryState{
		pc: m.pc,
		r:  m.r.clone(regValue.clone),
		p:  m.p.clone(cursorState.clone),
		t:  m.t.clone(tableState.clone),
	}
}

// key returns a canonical encoding of the state, used for both equality and
// hashing in the dedup set.
func (m *memoryState) key() string {
	var sb strings.Builder
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.pc))
	sb.Write(buf[:])
	encodeMap(&sb, &m.r, regValue.encode)
	encodeMap(&sb, &m.p, cursorState.encode)
	encodeMap(&sb, &m.t, tableState.encode)
	return sb.String()
}

func encodeMap[T any](sb *strings.Builder, m *intMap[T], enc func(T, *strings.Builder)) {
	sb.WriteByte('{')
	m.each(func(key int64, val *T) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(key))
		sb.Write(buf[:])
		enc(*val, sb)
	})
	sb.WriteByte('}')
}
