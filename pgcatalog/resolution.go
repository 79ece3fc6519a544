package pgcatalog

import (
	"fmt"

	"github.com/lib/pq/oid"
)

// pendingResolution is a reified, resumable depth-first search over the type
// dependency graph rooted at one oid. The search pauses whenever it reaches a
// declared-but-unfetched dependency and can be resumed after that dependency
// has been inserted into the catalog.
//
// The shape is a hand-rolled generator: an explicit visited set and stack
// instead of recursion, so suspension is just returning from resume with the
// stack intact.
type pendingResolution struct {
	visited map[oid.Oid]struct{}
	// stack of (parent, node) pairs still to process; parent is only kept
	// for troubleshooting.
	stack    []stackFrame
	maxDepth Depth

	done    bool
	failed  bool
	missing oid.Oid // valid when failed
	result  Depth   // valid when done && !failed
}

type stackFrame struct {
	parent    oid.Oid
	hasParent bool
	node      oid.Oid
	// level is the node's distance from the root of the search.
	level int
}

func newPendingResolution(root oid.Oid) *pendingResolution {
	return &pendingResolution{
		visited:  make(map[oid.Oid]struct{}),
		stack:    []stackFrame{{node: root}},
		maxDepth: FiniteDepth(0),
	}
}

// resume drives the search forward. It returns done=false and the blocking
// oid when an unfetched dependency suspends the search; the caller must fetch
// and insert that oid before resuming. It returns done=true once the search
// completed, after which failure and depth report the outcome. Resuming a
// completed search keeps returning the same outcome.
func (p *pendingResolution) resume(cat *Catalog) (blocker oid.Oid, done bool) {
	if p.done {
		return 0, true
	}

	for len(p.stack) > 0 {
		frame := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]

		if _, seen := p.visited[frame.node]; seen {
			// Guard against diamond shapes and duplicate edges in a
			// kind's dependency list. A pure diamond does not make
			// the graph circular.
			continue
		}
		p.visited[frame.node] = struct{}{}

		rec, res, err := cat.lookupOid(frame.node)
		switch err {
		case ErrUndeclared:
			// InsertType pre-declares every dependency, so an
			// undeclared node here is a catalog bug, not user error.
			panic(fmt.Sprintf("pgcatalog: dependency oid %d reached by resolution but never declared", frame.node))
		case ErrUnfetched:
			// Revert this iteration and suspend.
			delete(p.visited, frame.node)
			p.stack = append(p.stack, frame)
			return frame.node, false
		case ErrMissing:
			p.complete(frame.node, true)
			return 0, true
		}

		switch res.kind {
		case resolutionFull:
			// Subgraph already proven resolved; fold in its depth,
			// counted from the root, and skip recursion.
			d := res.depth
			if !d.Circular {
				d.N += frame.level
			}
			p.maxDepth = maxDepth(p.maxDepth, d)
		case resolutionDepMissing:
			p.complete(res.missing, true)
			return 0, true
		case resolutionPartial:
			// The recursion step. The node itself adds one level
			// below its parent. Push dependencies in reverse so the
			// first dependency is explored first. A dependency
			// already in the visited set marks the graph circular;
			// this also happens when two unresolved dependencies
			// share a dependency reached through the first of them.
			p.maxDepth = maxDepth(p.maxDepth, FiniteDepth(frame.level).addOne())
			deps := rec.Kind.Dependencies()
			for i := len(deps) - 1; i >= 0; i-- {
				dep := deps[i]
				if _, seen := p.visited[dep]; seen {
					p.maxDepth = CircularDepth()
				} else {
					p.stack = append(p.stack, stackFrame{
						parent:    frame.node,
						hasParent: true,
						node:      dep,
						level:     frame.level + 1,
					})
				}
			}
		}
	}

	p.result = p.maxDepth
	p.complete(0, false)
	return 0, true
}

func (p *pendingResolution) complete(missing oid.Oid, failed bool) {
	p.done = true
	p.failed = failed
	p.missing = missing
}

// failure reports whether the completed search found a missing dependency.
func (p *pendingResolution) failure() (oid.Oid, bool) {
	return p.missing, p.failed
}

// depth returns the dependency graph depth of a successfully completed
// search.
func (p *pendingResolution) depth() Depth {
	return p.result
}
