// Package tracer walks the module dependency graph's def->use relation
// outward from a set of directly invalidated nodes, marking every node
// it reaches as traced so a later wave doesn't redo the walk.
package tracer

import (
	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/integrator"
	"github.com/sunholo/swiftinc/internal/moduledeps"
)

// Trace performs a BFS along the def->use multimap, starting from the
// keys of the directly invalidated seed nodes, marking every reached
// use node Traced. It returns only the use nodes visited for the first
// time during this call — the seed nodes themselves are definitions,
// already known invalidated, not uses discovered by the walk. A use
// node that is itself the defining key of something else continues
// the walk outward from its own key, so transitive chains (foo used by
// bar, bar used by baz) are fully covered. Nodes already Traced (from
// an earlier call this build) are skipped, so repeated traces over
// overlapping seed sets do no redundant work.
func Trace(g *moduledeps.Graph, seed *integrator.DirectlyInvalidatedNodeSet) []*moduledeps.Node {
	var newlyTraced []*moduledeps.Node
	visitedKey := make(map[depkey.DependencyKey]bool)
	queue := make([]depkey.DependencyKey, 0, seed.Len())

	for _, n := range seed.Nodes() {
		queue = append(queue, n.Key)
	}

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if visitedKey[k] {
			continue
		}
		visitedKey[k] = true

		for _, use := range g.UsesOf(k) {
			if use.Traced {
				continue
			}
			use.Traced = true
			newlyTraced = append(newlyTraced, use)
			queue = append(queue, use.Key)
		}
	}

	return newlyTraced
}

// EnsureGraphWillRetrace clears the Traced flag on every node in the
// graph, so the next Trace call walks the whole graph again rather
// than treating it as already covered. Called once per build, never
// mid-build, since the guarantee that two concurrent waves can't
// double-schedule an input depends on Traced staying monotonic within
// a build.
func EnsureGraphWillRetrace(g *moduledeps.Graph) {
	for _, n := range g.AllNodes() {
		n.Traced = false
	}
}
