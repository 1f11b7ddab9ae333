// Package integrator merges one compiled input's per-file dependency
// graph into the shared module dependency graph: matching existing
// nodes by fingerprint, promoting expat (unknown-location) nodes to
// known, inserting brand-new definitions, wiring def->use arcs, and
// retiring nodes the new file no longer defines.
package integrator

import (
	"sort"

	"github.com/sunholo/swiftinc/internal/depgraph"
	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/strtab"
)

// DirectlyInvalidatedNodeSet is the integrator's output: the nodes a
// single file integration directly invalidated, for the tracer (C8) to
// seed a BFS from. Order is insertion order; duplicates are dropped.
type DirectlyInvalidatedNodeSet struct {
	nodes []*moduledeps.Node
	seen  map[*moduledeps.Node]bool
}

func newInvalidatedSet() *DirectlyInvalidatedNodeSet {
	return &DirectlyInvalidatedNodeSet{seen: make(map[*moduledeps.Node]bool)}
}

// NewDirectlyInvalidatedNodeSet builds a set directly from a list of
// nodes, deduplicating. Used to seed a trace from nodes invalidated by
// something other than a file integration — e.g. the planner seeding
// from a cascading input's nodes, or driver-side discovery seeding
// from moduledeps.Graph.CollectNodesInvalidatedByChangedOrAddedExternals.
func NewDirectlyInvalidatedNodeSet(nodes ...*moduledeps.Node) *DirectlyInvalidatedNodeSet {
	s := newInvalidatedSet()
	for _, n := range nodes {
		s.add(n)
	}
	return s
}

func (s *DirectlyInvalidatedNodeSet) add(n *moduledeps.Node) {
	if s.seen[n] {
		return
	}
	s.seen[n] = true
	s.nodes = append(s.nodes, n)
}

// Nodes returns the invalidated nodes in the order they were recorded.
func (s *DirectlyInvalidatedNodeSet) Nodes() []*moduledeps.Node { return s.nodes }

// Len reports how many nodes were directly invalidated.
func (s *DirectlyInvalidatedNodeSet) Len() int { return len(s.nodes) }

func remapDesignator(from, to *strtab.Table, d depkey.Designator) depkey.Designator {
	if d.Kind == depkey.KindExternalDepend {
		fileName := to.Intern(from.Lookup(d.External.FileName))
		dep := d.External
		dep.FileName = fileName
		return depkey.ExternalDepend(dep)
	}
	out := depkey.Designator{Kind: d.Kind}
	if d.Context != strtab.Empty {
		out.Context = to.Intern(from.Lookup(d.Context))
	}
	if d.Name != strtab.Empty {
		out.Name = to.Intern(from.Lookup(d.Name))
	}
	return out
}

func remapKey(from, to *strtab.Table, k depkey.DependencyKey) depkey.DependencyKey {
	return depkey.DependencyKey{Aspect: k.Aspect, Designator: remapDesignator(from, to, k.Designator)}
}

// Integrate merges incoming (read from source via internal/depgraph,
// with its designator handles relative to incomingTab) into g,
// returning the set of nodes directly invalidated by the merge. This
// implements the four-step algorithm: match-or-replace, promote
// expats, insert new definitions, wire def->use arcs, register
// external dependencies, and retire stale nodes.
func Integrate(g *moduledeps.Graph, source moduledeps.DependencySource, incoming *depgraph.SourceFileDependencyGraph, incomingTab *strtab.Table) *DirectlyInvalidatedNodeSet {
	invalidated := newInvalidatedSet()
	tab := g.StringTable()

	prior := g.NodesDefinedBy(source)

	moduleNodeAt := make([]*moduledeps.Node, len(incoming.Nodes))
	keyAt := make([]depkey.DependencyKey, len(incoming.Nodes))

	for i, fn := range incoming.Nodes {
		key := remapKey(incomingTab, tab, fn.Key)
		keyAt[i] = key

		if existing, ok := g.FindNode(source, key); ok {
			// Step 1a: same (source, key) as before. Keep if the
			// fingerprint matches, else mark invalidated and replace.
			delete(prior, key)
			if existing.HasFingerprint != fn.HasFingerprint || existing.Fingerprint != fn.Fingerprint {
				existing.HasFingerprint = fn.HasFingerprint
				existing.Fingerprint = fn.Fingerprint
				invalidated.add(existing)
			}
			moduleNodeAt[i] = existing
			continue
		}

		if expat, ok := g.FindUnknownNode(key); ok {
			// Step 1b: a use-only occurrence is gaining its definition.
			// The same node pointer is promoted, so every use arc
			// already recorded against it by pointer stays valid.
			expat.HasFingerprint = fn.HasFingerprint
			expat.Fingerprint = fn.Fingerprint
			g.PromoteToKnown(expat, source)
			moduleNodeAt[i] = expat
			continue
		}

		// Step 1c: brand new node.
		n := &moduledeps.Node{
			Key:            key,
			HasFingerprint: fn.HasFingerprint,
			Fingerprint:    fn.Fingerprint,
			Known:          true,
			Source:         source,
		}
		g.InsertNode(source, n)
		moduleNodeAt[i] = n
		if key.Aspect == depkey.Interface {
			invalidated.add(n)
		}
	}

	// Step 2: wire def->use arcs, deduplicating via AddUseEdge's
	// underlying multimap semantics.
	for i, fn := range incoming.Nodes {
		for _, defSeq := range fn.DependsOn {
			if defSeq < 0 || defSeq >= len(keyAt) {
				continue
			}
			g.AddUseEdge(keyAt[defSeq], moduleNodeAt[i])
		}
	}

	// Step 3: register external dependencies found in this file.
	shouldInvalidate := g.Phase().ShouldNewExternalDependenciesTriggerInvalidation()
	for i, fn := range incoming.Nodes {
		if fn.Key.Designator.Kind != depkey.KindExternalDepend {
			continue
		}
		dep := depkey.ExternalDependency{
			FileName:        keyAt[i].Designator.External.FileName,
			IsModuleSummary: fn.Key.Designator.External.IsModuleSummary,
		}
		fed := depkey.FingerprintedExternalDependency{Dep: dep}
		if fn.HasFingerprint {
			fed.HasFingerprint = true
			fed.Fingerprint = fn.Fingerprint
		}
		isNew := g.RegisterExternalDependency(fed)
		if isNew && shouldInvalidate {
			invalidated.add(moduleNodeAt[i])
		}
	}

	// Step 4: retire nodes this source used to define but no longer
	// does. RemoveNode clears use memberships before dropping the node
	// itself, preserving "every used key maps to a present node".
	staleKeys := make([]depkey.DependencyKey, 0, len(prior))
	for k := range prior {
		staleKeys = append(staleKeys, k)
	}
	sort.Slice(staleKeys, func(i, j int) bool { return staleKeys[i].String() < staleKeys[j].String() })
	for _, k := range staleKeys {
		g.RemoveNode(source, k)
	}

	return invalidated
}
