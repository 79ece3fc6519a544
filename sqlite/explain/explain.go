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

// Package explain infers result column types and nullability for a SQLite
// query without executing it, by symbolically interpreting the VDBE bytecode
// that EXPLAIN prints.
//
// The VDBE is a real machine, so the interpreter is a bounded, branching
// symbolic execution: every conditional opcode forks the machine state, a
// shared content-addressed set deduplicates identical states, a
// per-instruction visit cap kills looping branches, and a global gas budget
// bounds the whole pass. Every branch that reaches ResultRow contributes one
// plausible output row; the per-column merge of those rows is the inference.
// Completeness is deliberately traded for termination: unknown opcodes are
// no-ops and exhausted budgets just stop the search.
package explain

import (
	"database/sql/driver"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// maxLoopCount is the per-branch visit cap for a single instruction.
	maxLoopCount = 2
	// maxTotalInstructionCount is the gas budget for a whole explain pass,
	// shared across branches.
	maxTotalInstructionCount = 100_000
)

// Instruction is one row of EXPLAIN output. Numeric operands are signed; P4
// carries the rendered auxiliary operand (function names, comments on some
// builds).
type Instruction struct {
	Addr   int64
	Opcode string
	P1     int64
	P2     int64
	P3     int64
	P4     string
	P5     int64
}

// LoadProgram runs EXPLAIN <query> on the connection and collects the
// program.
func LoadProgram(conn Querier, query string) ([]Instruction, error) {
	rows, err := conn.Query("EXPLAIN "+query, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "explaining %q", query)
	}
	defer rows.Close()

	ncols := len(rows.Columns())
	dest := make([]driver.Value, ncols)
	var program []Instruction
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "reading explain output for %q", query)
		}
		in := Instruction{
			Addr:   valueToInt(dest[0]),
			Opcode: valueToString(dest[1]),
			P1:     valueToInt(dest[2]),
			P2:     valueToInt(dest[3]),
			P3:     valueToInt(dest[4]),
		}
		if ncols > 5 {
			in.P4 = valueToString(dest[5])
		}
		if ncols > 6 {
			in.P5 = valueToInt(dest[6])
		}
		program = append(program, in)
	}
	return program, nil
}

// Explain loads the schema map and the bytecode for the query from the live
// connection and simulates it. The two returned slices are parallel, one
// entry per result column.
func Explain(conn Querier, query string) ([]DataType, []Tri, error) {
	schema, err := LoadSchema(conn)
	if err != nil {
		return nil, nil, err
	}
	program, err := LoadProgram(conn, query)
	if err != nil {
		return nil, nil, err
	}
	types, nullable := Simulate(program, schema)
	return types, nullable, nil
}

// Simulate symbolically executes the program against the schema map. It is a
// pure function of its inputs and always returns a best-effort inference.
func Simulate(program []Instruction, schema SchemaMap) ([]DataType, []Tri) {
	sim := &simulator{
		program: program,
		schema:  schema,
		gas:     maxTotalInstructionCount,
		log:     logrus.WithField("component", "sqlite.explain"),
	}
	sim.run()
	return sim.merge()
}

type simulator struct {
	program []Instruction
	schema  SchemaMap
	seq     sequence
	gas     int
	results [][]ColumnType
	log     *logrus.Entry
}

func (s *simulator) finish(state *queryState, outcome branchOutcome) {
	s.log.WithFields(logrus.Fields{
		"branch":  state.branchID,
		"pc":      state.mem.pc,
		"outcome": outcome.String(),
	}).Trace("branch terminated")
}

func (s *simulator) unknownOperation(state *queryState, opcode string) {
	s.log.WithFields(logrus.Fields{
		"branch": state.branchID,
		"pc":     state.mem.pc,
		"opcode": opcode,
	}).Debug("unknown operation")
}

func (s *simulator) run() {
	initial := &queryState{
		visited:  make([]uint8, len(s.program)),
		branchID: s.seq.take(),
	}
	branches := newBranchList(initial, s.log)

branchLoop:
	for {
		state, ok := branches.pop()
		if !ok {
			break
		}

	instrLoop:
		for state.mem.pc >= 0 && state.mem.pc < len(s.program) {
			in := s.program[state.mem.pc]
			p1, p2, p3 := in.P1, in.P2, in.P3
			state.instructionCounter++

			// Bound the total number of instruction evaluations
			// across all branches.
			if s.gas > 0 {
				s.gas--
			} else {
				s.finish(state, outcomeGasLimit)
				break branchLoop
			}

			// Kill branches that revisit the same instruction too
			// often: this is the loop breaker.
			if state.visited[state.mem.pc] >= maxLoopCount {
				s.finish(state, outcomeLoopLimit)
				continue branchLoop
			}
			state.visited[state.mem.pc]++

			switch in.Opcode {
			case opInit, opGoto:
				state.mem.pc = int(p2)
				continue instrLoop

			case opGosub:
				// store current instruction in r[p1], goto p2
				state.mem.r.put(p1, intReg(int64(state.mem.pc)))
				state.mem.pc = int(p2)
				continue instrLoop

			case opFkIfZero:
				// no constraint is ever recorded as unsatisfied
				state.mem.pc = int(p2)
				continue instrLoop

			case opDecrJumpZero, opElseEq, opEq, opFilter, opFound, opGe, opGt,
				opIdxGE, opIdxGT, opIdxLE, opIdxLT, opIfNoHope, opIfNot,
				opIfNotOpen, opIfNotZero, opIfNullRow, opIfSmaller,
				opIncrVacuum, opIsNullOrType, opLe, opLt, opNe, opNext,
				opNoConflict, opNotExists, opOnce, opPrev, opProgram,
				opRowSetRead, opRowSetTest, opSeekGE, opSeekGT, opSeekLE,
				opSeekLT, opSeekRowid, opSeekScan, opSequenceTest,
				opSorterNext, opVFilter, opVNext:
				// goto p2 or fall through, depending on values the
				// simulator does not track
				branch := state.newBranch(&s.seq)
				branch.mem.pc = int(p2)
				branches.push(branch)

				state.mem.pc++
				continue instrLoop

			case opIsNull:
				// goto p2 if r[p1] is null
				var mightBranch, mightNotBranch bool
				if r, ok := state.mem.r.get(p1); ok {
					mightBranch = r.mapToNullable() != TriFalse
					mightNotBranch = r.mapToDatatype() != TypeNull
				}

				if mightBranch {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(p2)
					branch.mem.r.put(p1, colReg(defaultColumnType()))
					branches.push(branch)
				}

				if mightNotBranch {
					state.mem.pc++
					if r := state.mem.r.ref(p1); r != nil && !r.isInt && r.col.Rec == nil {
						r.col.Nullable = TriFalse
					}
					continue instrLoop
				}
				s.finish(state, outcomeBranched)
				continue branchLoop

			case opNotNull:
				// goto p2 if r[p1] is not null
				var mightBranch, mightNotBranch bool
				if r, ok := state.mem.r.get(p1); ok {
					mightBranch = r.mapToDatatype() != TypeNull
					mightNotBranch = r.mapToNullable() != TriFalse
				}

				if mightBranch {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(p2)
					if r := branch.mem.r.ref(p1); r != nil && !r.isInt && r.col.Rec == nil {
						r.col.Nullable = TriFalse
					}
					branches.push(branch)
				}

				if mightNotBranch {
					state.mem.pc++
					state.mem.r.put(p1, colReg(defaultColumnType()))
					continue instrLoop
				}
				s.finish(state, outcomeBranched)
				continue branchLoop

			case opMustBeInt:
				// errors on non-coercible input instead of jumping
				// to instruction 0
				if p2 != 0 {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(p2)
					branches.push(branch)
				}
				state.mem.pc++
				continue instrLoop

			case opIf:
				// goto p2 if r[p1] is truthy
				mightBranch, mightNotBranch := true, true
				if r, ok := state.mem.r.get(p1); ok && r.isInt {
					mightBranch = r.intVal != 0
					mightNotBranch = r.intVal == 0
				}

				if mightBranch {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(p2)
					if p3 == 0 {
						branch.mem.r.put(p1, intReg(1))
					}
					branches.push(branch)
				}

				if mightNotBranch {
					state.mem.pc++
					if p3 == 0 {
						state.mem.r.put(p1, intReg(0))
					}
					continue instrLoop
				}
				s.finish(state, outcomeBranched)
				continue branchLoop

			case opIfPos:
				// goto p2 if r[p1] >= 1. Large OFFSET clauses
				// decrement through here one row at a time, so after
				// one loop both paths are forced and the exact value
				// is forgotten.
				mightBranch, mightNotBranch := true, true
				if r, ok := state.mem.r.get(p1); ok && r.isInt {
					mightBranch = r.intVal >= 1
					mightNotBranch = r.intVal < 1
				}
				loopDetected := state.visited[state.mem.pc] > 1

				if mightBranch || loopDetected {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(p2)
					if r := branch.mem.r.ref(p1); r != nil && r.isInt {
						r.intVal--
					}
					branches.push(branch)
				}

				switch {
				case mightNotBranch:
					state.mem.pc++
					continue instrLoop
				case loopDetected:
					state.mem.pc++
					if r := state.mem.r.ref(p1); r != nil && r.isInt {
						state.mem.r.put(p1, colReg(ColumnType{
							Datatype: TypeInteger,
							Nullable: TriFalse,
						}))
					}
					continue instrLoop
				default:
					s.finish(state, outcomeBranched)
					continue branchLoop
				}

			case opRewind, opLast, opSort, opSorterSort:
				// goto p2 if cursor p1 is empty and p2 != 0
				if p2 == 0 {
					state.mem.pc++
					continue instrLoop
				}

				if cursor, ok := state.mem.p.get(p1); ok {
					empt := cursor.emptiness(&state.mem)

					if empt != TriFalse {
						// only taken when the cursor is empty
						branch := state.newBranch(&s.seq)
						branch.mem.pc = int(p2)
						if cur, ok := branch.mem.p.get(p1); ok {
							if tab := cur.table(&branch.mem); tab != nil {
								tab.isEmpty = TriTrue
							}
						}
						branches.push(branch)
					}

					if empt != TriTrue {
						// only taken when the cursor has rows
						state.mem.pc++
						continue instrLoop
					}
				}
				s.finish(state, outcomeBranched)
				continue branchLoop

			case opInitCoroutine:
				state.mem.r.put(p1, intReg(p3))
				if p2 != 0 {
					state.mem.pc = int(p2)
				} else {
					state.mem.pc++
				}
				continue instrLoop

			case opEndCoroutine:
				// jump to p2 of the yield instruction pointed at by
				// r[p1]
				if r, ok := state.mem.r.get(p1); ok && r.isInt {
					if yield, ok := s.instruction(r.intVal); ok && yield.Opcode == opYield {
						state.mem.pc = int(yield.P2)
						state.mem.r.delete(p1)
						continue instrLoop
					}
				}
				s.finish(state, outcomeError)
				continue branchLoop

			case opReturn:
				// jump past the instruction pointed at by r[p1]
				if r, ok := state.mem.r.get(p1); ok && r.isInt {
					state.mem.pc = int(r.intVal) + 1
					state.mem.r.delete(p1)
					continue instrLoop
				}
				if p3 == 1 {
					state.mem.pc++
					continue instrLoop
				}
				s.finish(state, outcomeError)
				continue branchLoop

			case opYield:
				// swap the program counter with r[p1]
				if r := state.mem.r.ref(p1); r != nil && r.isInt {
					here := int64(state.mem.pc)
					target := r.intVal
					if yield, ok := s.instruction(target); ok && yield.Opcode == opYield {
						// yielding to a yield resumes after it
						state.mem.pc = int(target) + 1
					} else {
						state.mem.pc = int(target)
					}
					r.intVal = here
					continue instrLoop
				}
				s.finish(state, outcomeError)
				continue branchLoop

			case opJump:
				// three-way jump decided by a prior compare
				for _, target := range []int64{p1, p2, p3} {
					branch := state.newBranch(&s.seq)
					branch.mem.pc = int(target)
					branches.push(branch)
				}

			case opColumn:
				// r[p3] = cursor p1 column p2, or NULL
				value := defaultColumnType()
				if cursor, ok := state.mem.p.get(p1); ok {
					if cols := cursor.columns(&state.mem); cols != nil {
						if col, ok := cols.get(p2); ok {
							value = col.clone()
						}
					}
				}
				state.mem.r.put(p3, colReg(value))

			case opSequence:
				// not a tracked counter, but always an integer
				state.mem.r.put(p2, colReg(ColumnType{
					Datatype: TypeInteger,
					Nullable: TriFalse,
				}))

			case opRowData, opSorterData:
				// r[p2] = record of the entire row under cursor p1
				record := intMap[ColumnType]{}
				if cursor, ok := state.mem.p.get(p1); ok {
					if cols := cursor.columns(&state.mem); cols != nil {
						record = cols.clone(ColumnType.clone)
					}
				}
				state.mem.r.put(p2, colReg(ColumnType{Rec: &recordType{cols: record}}))

			case opMakeRecord:
				// r[p3] = Record(r[p1 .. p1+p2])
				record := make([]ColumnType, 0, p2)
				for reg := p1; reg < p1+p2; reg++ {
					if r, ok := state.mem.r.get(reg); ok {
						record = append(record, r.mapToColumnType().clone())
					} else {
						record = append(record, defaultColumnType())
					}
				}
				state.mem.r.put(p3, colReg(ColumnType{
					Rec: &recordType{cols: fromDenseRecord(record)},
				}))

			case opInsert, opIdxInsert, opSorterInsert:
				// install the record in r[p2] into cursor p1's table;
				// even a null record proves the table non-empty
				if r, ok := state.mem.r.get(p2); ok && !r.isInt {
					switch {
					case r.col.Rec != nil:
						if cursor, ok := state.mem.p.get(p1); ok {
							if tab := cursor.table(&state.mem); tab != nil {
								tab.cols = r.col.Rec.cols.clone(ColumnType.clone)
								tab.isEmpty = TriFalse
							}
						}
					case r.col.Datatype == TypeNull:
						if cursor, ok := state.mem.p.get(p1); ok {
							if tab := cursor.table(&state.mem); tab != nil {
								tab.isEmpty = TriFalse
							}
						}
					}
				}

			case opDelete:
				// a known non-empty table might be empty afterwards
				if cursor, ok := state.mem.p.get(p1); ok {
					if tab := cursor.table(&state.mem); tab != nil && tab.isEmpty == TriFalse {
						tab.isEmpty = TriUnknown
					}
				}

			case opOpenPseudo:
				// cursor p1 aliases the record in register p2
				state.mem.p.put(p1, cursorState{pseudo: true, handle: p2})

			case opOpenDup:
				if cursor, ok := state.mem.p.get(p2); ok {
					state.mem.p.put(p1, cursor.clone())
				}

			case opOpenRead, opOpenWrite:
				// new cursor; column metadata from the schema map
				// when (db, rootpage) is known
				table := tableState{isEmpty: TriUnknown}
				if p3 == 0 || p3 == 1 {
					if cols, ok := s.schema[RootPage{Db: p3, Page: p2}]; ok {
						table.cols = cols.clone(ColumnType.clone)
					}
				}
				handle := int64(state.mem.pc)
				state.mem.t.put(handle, table)
				state.mem.p.put(p1, cursorState{handle: handle})

			case opOpenEphemeral, opOpenAutoindex, opSorterOpen:
				// new empty cursor with p2 null-typed columns
				cols := intMap[ColumnType]{}
				for i := int64(0); i < p2; i++ {
					cols.put(i, nullColumnType())
				}
				handle := int64(state.mem.pc)
				state.mem.t.put(handle, tableState{cols: cols, isEmpty: TriTrue})
				state.mem.p.put(p1, cursorState{handle: handle})

			case opVariable:
				// bound parameters can hold anything, including NULL
				state.mem.r.put(p2, colReg(nullColumnType()))

			case opHaltIfNull:
				// if the query passes this, r[p3] was not null
				if r := state.mem.r.ref(p3); r != nil && !r.isInt && r.col.Rec == nil {
					r.col.Nullable = TriFalse
				}

			case opFunction:
				s.applyFunction(state, in)

			case opNullRow:
				// every column of cursor p1 becomes nullable
				if cursor, ok := state.mem.p.get(p1); ok {
					if cols := cursor.columns(&state.mem); cols != nil {
						cols.each(func(_ int64, col *ColumnType) {
							if col.Rec == nil {
								col.Nullable = TriTrue
							}
						})
					}
				}

			case opAggStep, opAggValue:
				s.applyAggStep(state, in)

			case opAggFinal:
				s.applyAggFinal(state, in)

			case opCast:
				// coerce r[p1] by the affinity in p2, keeping
				// nullability
				if r := state.mem.r.ref(p1); r != nil {
					nullable := r.mapToNullable()
					*r = colReg(ColumnType{
						Datatype: affinityToType(byte(p2)),
						Nullable: nullable,
					})
				}

			case opSCopy, opIntCopy:
				if r, ok := state.mem.r.get(p1); ok {
					state.mem.r.put(p2, r.clone())
				}

			case opCopy:
				// r[p2..=p2+p3] = r[p1..=p1+p3]
				if p3 >= 0 {
					for i := int64(0); i <= p3; i++ {
						if r, ok := state.mem.r.get(p1 + i); ok {
							state.mem.r.put(p2+i, r.clone())
						}
					}
				}

			case opMove:
				// r[p2..p2+p3] = r[p1..p1+p3], sources become NULL
				for i := int64(0); i < p3; i++ {
					if r, ok := state.mem.r.get(p1 + i); ok {
						state.mem.r.put(p2+i, r.clone())
						state.mem.r.put(p1+i, colReg(nullColumnType()))
					}
				}

			case opInteger:
				state.mem.r.put(p2, intReg(p1))

			case opBlob, opCount, opReal, opString8, opRowid, opNewRowid:
				state.mem.r.put(p2, colReg(ColumnType{
					Datatype: opcodeToType(in.Opcode),
					Nullable: TriFalse,
				}))

			case opNot:
				// propagates the operand's type and nullability
				if r, ok := state.mem.r.get(p1); ok {
					state.mem.r.put(p2, r.clone())
				}

			case opNull:
				// r[p2..=p3] = NULL (or just p2 when p3 <= p2)
				last := p2
				if p2 < p3 {
					last = p3
				}
				for idx := p2; idx <= last; idx++ {
					state.mem.r.put(idx, colReg(nullColumnType()))
				}

			case opOr, opAnd, opBitAnd, opBitOr, opShiftLeft, opShiftRight,
				opAdd, opSubtract, opMultiply, opDivide, opRemainder, opConcat:
				state.mem.r.put(p3, binaryOpResult(state, p1, p2))

			case opOffsetLimit:
				state.mem.r.put(p2, colReg(ColumnType{
					Datatype: TypeInteger,
					Nullable: TriFalse,
				}))

			case opResultRow:
				// output = r[p1 .. p1+p2]; fork a continuation so
				// later rows of a streaming plan are explored too
				result := make([]ColumnType, 0, p2)
				for i := p1; i < p1+p2; i++ {
					if r, ok := state.mem.r.get(i); ok {
						result = append(result, r.mapToColumnType().clone())
					} else {
						result = append(result, defaultColumnType())
					}
				}

				branch := state.newBranch(&s.seq)
				branch.mem.pc++
				branches.push(branch)

				s.results = append(s.results, result)
				s.finish(state, outcomeResult)
				continue branchLoop

			case opHalt:
				s.finish(state, outcomeHalt)
				continue branchLoop

			default:
				// unsupported operations are no-ops; if a register
				// read later misses, the column defaults to NULL
				s.unknownOperation(state, in.Opcode)
			}

			state.mem.pc++
		}
	}
}

// instruction fetches a program row by address, tolerating garbage addresses.
func (s *simulator) instruction(addr int64) (Instruction, bool) {
	if addr < 0 || addr >= int64(len(s.program)) {
		return Instruction{}, false
	}
	return s.program[addr], true
}

func binaryOpResult(state *queryState, p1, p2 int64) regValue {
	a, aok := state.mem.r.get(p1)
	b, bok := state.mem.r.get(p2)
	switch {
	case aok && bok:
		datatype := a.mapToDatatype()
		if datatype == TypeNull {
			datatype = b.mapToDatatype()
		}
		return colReg(ColumnType{
			Datatype: datatype,
			Nullable: orTri(a.mapToNullable(), b.mapToNullable()),
		})
	case aok:
		return colReg(ColumnType{Datatype: a.mapToDatatype(), Nullable: TriUnknown})
	case bok:
		return colReg(ColumnType{Datatype: b.mapToDatatype(), Nullable: TriUnknown})
	default:
		return colReg(defaultColumnType())
	}
}

// applyFunction models the scalar functions whose return type is worth
// knowing. The p4 operand carries "<name>(<arity>)".
func (s *simulator) applyFunction(state *queryState, in Instruction) {
	switch in.P4 {
	case "last_insert_rowid(0)":
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeInteger,
			Nullable: TriFalse,
		}))
	case "date(-1)", "time(-1)", "datetime(-1)", "strftime(-1)":
		// never NULL when called without arguments
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeText,
			Nullable: triFromBool(in.P2 != 0),
		}))
	case "julianday(-1)":
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeFloat,
			Nullable: triFromBool(in.P2 != 0),
		}))
	case "unixepoch(-1)":
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeInteger,
			Nullable: triFromBool(in.P2 != 0),
		}))
	default:
		s.unknownOperation(state, opFunction+":"+in.P4)
	}
}

func triFromBool(b bool) Tri {
	if b {
		return TriTrue
	}
	return TriFalse
}

func aggIsCounting(p4 string) bool {
	return strings.HasPrefix(p4, "count(") ||
		strings.HasPrefix(p4, "row_number(") ||
		strings.HasPrefix(p4, "rank(") ||
		strings.HasPrefix(p4, "dense_rank(") ||
		strings.HasPrefix(p4, "ntile(")
}

func aggIsRanking(p4 string) bool {
	return strings.HasPrefix(p4, "percent_rank(") || strings.HasPrefix(p4, "cume_dist")
}

func aggIsOffset(p4 string) bool {
	return strings.HasPrefix(p4, "lead(") || strings.HasPrefix(p4, "lag(")
}

// applyAggStep assumes AggFinal will run later and types the accumulator
// register now, dispatching on the function name in p4.
func (s *simulator) applyAggStep(state *queryState, in Instruction) {
	switch {
	case aggIsCounting(in.P4):
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeInteger,
			Nullable: TriFalse,
		}))
	case aggIsRanking(in.P4):
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeFloat,
			Nullable: TriFalse,
		}))
	case strings.HasPrefix(in.P4, "sum("):
		if r, ok := state.mem.r.get(in.P2); ok {
			// the sum of integers can be arbitrarily large, but
			// stays an integer; everything else goes through float
			datatype := TypeFloat
			if r.mapToDatatype().IsInteger() {
				datatype = TypeInteger
			}
			state.mem.r.put(in.P3, colReg(ColumnType{
				Datatype: datatype,
				Nullable: r.mapToNullable(),
			}))
		}
	case aggIsOffset(in.P4):
		if r, ok := state.mem.r.get(in.P2); ok {
			state.mem.r.put(in.P3, colReg(ColumnType{
				Datatype: r.mapToDatatype(),
				Nullable: TriTrue,
			}))
		}
	default:
		// r[p3] = AGG(r[p2]): propagate the input's type
		if r, ok := state.mem.r.get(in.P2); ok {
			state.mem.r.put(in.P3, r.clone())
		}
	}
}

func (s *simulator) applyAggFinal(state *queryState, in Instruction) {
	switch {
	case aggIsCounting(in.P4):
		state.mem.r.put(in.P1, colReg(ColumnType{
			Datatype: TypeInteger,
			Nullable: TriFalse,
		}))
	case aggIsRanking(in.P4):
		state.mem.r.put(in.P3, colReg(ColumnType{
			Datatype: TypeFloat,
			Nullable: TriFalse,
		}))
	case aggIsOffset(in.P4):
		if r, ok := state.mem.r.get(in.P2); ok {
			state.mem.r.put(in.P3, colReg(ColumnType{
				Datatype: r.mapToDatatype(),
				Nullable: TriTrue,
			}))
		}
	}
}

// merge sweeps every recorded ResultRow and folds the per-column knowledge:
// the first non-NULL datatype wins, and a column is nullable as soon as any
// branch says so.
func (s *simulator) merge() ([]DataType, []Tri) {
	var types []DataType
	var nullable []Tri

	for i := len(s.results) - 1; i >= 0; i-- {
		for idx, col := range s.results[i] {
			thisType := col.mapToDatatype()
			thisNullable := col.mapToNullable()

			if len(types) == idx {
				types = append(types, thisType)
			} else if types[idx] == TypeNull && thisType != TypeNull {
				types[idx] = thisType
			}

			if len(nullable) == idx {
				nullable = append(nullable, thisNullable)
			} else if nullable[idx].Known() {
				if thisNullable.Known() {
					nullable[idx] = orTri(nullable[idx], thisNullable)
				}
			} else {
				nullable[idx] = thisNullable
			}
		}
	}

	return types, nullable
}
