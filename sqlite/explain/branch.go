package explain

import "github.com/sirupsen/logrus"

// branchOutcome records how one symbolic branch terminated. Only Result and
// Halt contribute to the final inference; the rest exist for diagnostics.
type branchOutcome uint8

const (
	outcomeResult branchOutcome = iota
	outcomeHalt
	outcomeError
	outcomeBranched
	outcomeDedup
	outcomeLoopLimit
	outcomeGasLimit
)

func (o branchOutcome) String() string {
	switch o {
	case outcomeResult:
		return "result"
	case outcomeHalt:
		return "halt"
	case outcomeError:
		return "error"
	case outcomeBranched:
		return "branched"
	case outcomeDedup:
		return "dedup"
	case outcomeLoopLimit:
		return "loop-limit"
	case outcomeGasLimit:
		return "gas-limit"
	default:
		return "unknown"
	}
}

// sequence hands out branch ids.
type sequence struct {
	next int64
}

func (s *sequence) take() int64 {
	curr := s.next
	s.next++
	return curr
}

// queryState is one pending branch of the symbolic execution: its own machine
// state plus the per-instruction visit counters and lineage bookkeeping.
type queryState struct {
	// visited counts how many times each instruction ran on this branch.
	visited []uint8
	// branchID uniquely identifies the branch within one explain pass.
	branchID int64
	// instructionCounter counts evaluations on this branch (not the pc).
	instructionCounter int64
	parentID           int64
	hasParent          bool
	mem                memoryState
}

func (q *queryState) newBranch(seq *sequence) *queryState {
	visited := make([]uint8, len(q.visited))
	copy(visited, q.visited)
	return &queryState{
		visited:            visited,
		branchID:           seq.take(),
		instructionCounter: 0,
		parentID:           q.branchID,
		hasParent:          true,
		mem:                q.mem.clone(),
	}
}

// branchList is the LIFO work list of pending branches with the shared
// content-addressed dedup set. Without dedup, every conditional opcode would
// double the branch count and nontrivial programs would explode.
type branchList struct {
	states []*queryState
	seen   map[string]int64 // state key -> branch id that first scheduled it
	dedups int
	log    *logrus.Entry
}

func newBranchList(initial *queryState, log *logrus.Entry) *branchList {
	return &branchList{
		states: []*queryState{initial},
		seen:   map[string]int64{initial.mem.key(): initial.branchID},
		log:    log,
	}
}

func (b *branchList) push(state *queryState) {
	key := state.mem.key()
	if prev, ok := b.seen[key]; ok {
		b.dedups++
		b.log.WithFields(logrus.Fields{
			"branch": state.branchID,
			"same":   prev,
			"pc":     state.mem.pc,
		}).Trace("branch deduplicated")
		return
	}
	b.seen[key] = state.branchID
	b.states = append(b.states, state)
}

func (b *branchList) pop() (*queryState, bool) {
	if len(b.states) == 0 {
		return nil, false
	}
	state := b.states[len(b.states)-1]
	b.states = b.states[:len(b.states)-1]
	return state, true
}
