// Package moduledeps implements the in-memory module dependency
// graph: the fine-grained definition/use relationships merged in from
// every compiled file's per-file graph, indexed for lookup both by
// key and by the artifact that defines a node, plus the phase state
// machine governing how aggressively new information invalidates
// prior decisions.
package moduledeps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sunholo/swiftinc/internal/container"
	"github.com/sunholo/swiftinc/internal/depkey"
	swifterrors "github.com/sunholo/swiftinc/internal/errors"
	"github.com/sunholo/swiftinc/internal/strtab"
)

// DependencySource identifies the on-disk artifact a subgraph of the
// module graph was read from: a per-input ".swiftdeps" or a
// module-level ".swiftmodule" summary. It is comparable by path, as
// the data model requires.
type DependencySource struct {
	Path          string
	IsModuleLevel bool
}

func (s DependencySource) String() string { return s.Path }

// unknownSource is the sentinel recorded for nodes whose
// definitionLocation is "unknown" — used somewhere but not yet
// observed as a definition. A real artifact path is never empty, so
// this cannot collide with a genuine source.
var unknownSource = DependencySource{}

// Node is one vertex of the module graph: a key, an optional
// fingerprint, and a definition location that starts unknown (an
// "expat") and is promoted to known once the integrator observes the
// file that actually defines it.
type Node struct {
	Key            depkey.DependencyKey
	HasFingerprint bool
	Fingerprint    string
	Known          bool
	Source         DependencySource
	Traced         bool
}

// IsKnown reports whether this node's definitionLocation has been
// resolved to a concrete DependencySource.
func (n *Node) IsKnown() bool { return n.Known }

// Phase governs which invariants the graph enforces and which
// optimizations are valid, per §4.C6's state machine.
type Phase uint8

const (
	BuildingWithoutAPrior Phase = iota
	UpdatingFromAPrior
	UpdatingAfterCompilation
	BuildingAfterEachCompilation
)

func (p Phase) String() string {
	switch p {
	case BuildingWithoutAPrior:
		return "buildingWithoutAPrior"
	case UpdatingFromAPrior:
		return "updatingFromAPrior"
	case UpdatingAfterCompilation:
		return "updatingAfterCompilation"
	case BuildingAfterEachCompilation:
		return "buildingAfterEachCompilation"
	default:
		return "unknownPhase"
	}
}

// ShouldNewExternalDependenciesTriggerInvalidation reports whether a
// newly observed external dependency should seed invalidation in the
// current phase. True while priors are still being trusted or
// refreshed; false while every input is being rebuilt unconditionally
// anyway, since the result would be discarded.
func (p Phase) ShouldNewExternalDependenciesTriggerInvalidation() bool {
	return p == UpdatingFromAPrior || p == UpdatingAfterCompilation
}

// IsCompilingAllInputsNoMatterWhat reports whether integration work
// can be short-circuited because its result is ignored — every input
// is being recompiled regardless of what integration would conclude.
func (p Phase) IsCompilingAllInputsNoMatterWhat() bool {
	return p == BuildingAfterEachCompilation
}

// Graph is the in-memory module dependency graph: indexed node
// storage, the input<->artifact bidirectional map, and the set of
// external dependencies observed so far.
type Graph struct {
	phase Phase
	tab   *strtab.Table

	// nodeFinder: primary storage keyed by (source, key); unknown-location
	// nodes are stored under unknownSource.
	nodeFinder *container.TwoDMap[DependencySource, depkey.DependencyKey, *Node]

	// usesOf: defining key -> set of nodes that use it (def->use arcs),
	// the secondary multimap the tracer walks.
	usesOf *container.Multidictionary[depkey.DependencyKey, *Node]

	inputDependencySourceMap *container.BidirectionalMap[string, DependencySource]

	fingerprintedExternalDependencies map[depkey.ExternalDependency]depkey.FingerprintedExternalDependency
}

// New creates an empty module dependency graph in the given starting
// phase, backed by tab for designator context/name string lookups.
func New(tab *strtab.Table, phase Phase) *Graph {
	return &Graph{
		phase:                             phase,
		tab:                               tab,
		nodeFinder:                        container.NewTwoDMap[DependencySource, depkey.DependencyKey, *Node](),
		usesOf:                            container.NewMultidictionary[depkey.DependencyKey, *Node](),
		inputDependencySourceMap:          container.NewBidirectionalMap[string, DependencySource](),
		fingerprintedExternalDependencies: make(map[depkey.ExternalDependency]depkey.FingerprintedExternalDependency),
	}
}

// Phase returns the graph's current phase.
func (g *Graph) Phase() Phase { return g.phase }

// SetPhase transitions the graph to a new phase. The state machine in
// §4.C6 is a small DAG of driver-controlled transitions; the graph
// itself doesn't validate the transition, since the legal sequencing
// is a planner/scheduler-level concern spanning multiple collaborators.
func (g *Graph) SetPhase(p Phase) { g.phase = p }

// StringTable returns the interned-string table designator
// Context/Name handles are relative to.
func (g *Graph) StringTable() *strtab.Table { return g.tab }

// --- §4.C6 contract operations ---

// Source returns the DependencySource recorded for input, failing if
// the bidirectional map has no entry (graph drift the caller must
// recover from, typically by falling back to a full rebuild of input).
func (g *Graph) Source(requiredFor string) (DependencySource, error) {
	src, ok := g.inputDependencySourceMap.Get(requiredFor)
	if !ok {
		return DependencySource{}, swifterrors.WrapReport(
			swifterrors.NewReport("moduledeps", "SEM003", "no dependency source recorded for input").
				WithInput(requiredFor))
	}
	return src, nil
}

// Input returns the input path mapped to source, or false if the
// source has no known input (graph drift; caller falls back to a full
// rebuild rather than treating this as fatal).
func (g *Graph) Input(neededFor DependencySource) (string, bool) {
	return g.inputDependencySourceMap.GetKey(neededFor)
}

// ContainsNodes reports whether any node in the graph is defined by source.
func (g *Graph) ContainsNodes(forSourceFile DependencySource) bool {
	inner, ok := g.nodeFinder.ByK1(forSourceFile)
	return ok && len(inner) > 0
}

// NodesDefinedBy returns every node currently recorded as defined by
// source, keyed by DependencyKey, for the integrator to diff an
// incoming per-file graph against the prior state.
func (g *Graph) NodesDefinedBy(source DependencySource) map[depkey.DependencyKey]*Node {
	inner, ok := g.nodeFinder.ByK1(source)
	if !ok {
		return nil
	}
	out := make(map[depkey.DependencyKey]*Node, len(inner))
	for k, n := range inner {
		out[k] = n
	}
	return out
}

// PopulateInputDependencySourceMap fills the bidirectional input<->source
// map from the output file map, for the given inputs. It fails if any
// expected dependency-artifact path is missing.
func (g *Graph) PopulateInputDependencySourceMap(purpose string, inputs []string, artifactFor func(string) (string, bool)) error {
	for _, input := range inputs {
		path, ok := artifactFor(input)
		if !ok {
			return swifterrors.WrapReport(
				swifterrors.NewReport("moduledeps", "OP002", "no dependency artifact path for input ("+purpose+")").
					WithInput(input))
		}
		g.inputDependencySourceMap.Set(input, DependencySource{Path: path})
	}
	return nil
}

// CollectInputsRequiringCompilationFromExternalsFoundByCompiling scans
// the nodes defined by input's source for external dependencies, and
// returns the inputs that depend on any of them. A brand-new input (no
// recorded source yet) has no graph data and short-circuits to empty.
func (g *Graph) CollectInputsRequiringCompilationFromExternalsFoundByCompiling(input string) []string {
	src, ok := g.inputDependencySourceMap.Get(input)
	if !ok {
		return nil
	}
	nodes, ok := g.nodeFinder.ByK1(src)
	if !ok {
		return nil
	}
	seedKeys := make([]depkey.DependencyKey, 0)
	for key, n := range nodes {
		if n.Key.Designator.Kind == depkey.KindExternalDepend {
			seedKeys = append(seedKeys, key)
		}
	}
	return g.inputsTransitivelyUsing(seedKeys)
}

// CollectNodesInvalidatedByChangedOrAddedExternals walks every
// registered fingerprinted external dependency and returns the nodes
// directly invalidated, for the caller (driver-side discovery of
// externally invalidated inputs) to seed a trace from.
func (g *Graph) CollectNodesInvalidatedByChangedOrAddedExternals(isChangedOrAdded func(depkey.FingerprintedExternalDependency) bool) []*Node {
	var out []*Node
	for _, fed := range g.fingerprintedExternalDependencies {
		if !isChangedOrAdded(fed) {
			continue
		}
		key := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.ExternalDepend(fed.Dep)}
		out = append(out, g.usesOf.Values(key)...)
	}
	return out
}

// CollectInputsInvalidatedBy finds every other input defined by a
// source that transitively uses any node defined by changedInput's
// source. trace walks the def->use relation outward from seed — in
// production this is internal/tracer.Trace, wrapping seed in a
// DirectlyInvalidatedNodeSet; it is injected here rather than called
// directly because tracer imports moduledeps, and moduledeps importing
// tracer back would be a cycle. Unlike inputsTransitivelyUsing's
// single-hop answer (used by
// CollectInputsRequiringCompilationFromExternalsFoundByCompiling, where
// one hop is all the contract asks for), this walks however many hops
// trace does, so a chain like c-uses-b-uses-changedInput reaches c too.
func (g *Graph) CollectInputsInvalidatedBy(changedInput string, trace func(seed []*Node) []*Node) []string {
	src, ok := g.inputDependencySourceMap.Get(changedInput)
	if !ok {
		return nil
	}
	nodes, ok := g.nodeFinder.ByK1(src)
	if !ok {
		return nil
	}
	seed := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		seed = append(seed, n)
	}

	seen := map[string]bool{}
	var out []string
	for _, n := range trace(seed) {
		in, ok := g.Input(n.Source)
		if !ok || in == changedInput || seen[in] {
			continue
		}
		seen[in] = true
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// inputsTransitivelyUsing returns, for a set of defining keys, every
// input whose source owns a use node reachable by a single hop of the
// def->use relation. Multi-hop propagation is the tracer's job (C8);
// this only answers "who directly uses any of these keys".
func (g *Graph) inputsTransitivelyUsing(keys []depkey.DependencyKey) []string {
	seen := map[string]bool{}
	var out []string
	for _, key := range keys {
		for _, useNode := range g.usesOf.Values(key) {
			in, ok := g.Input(useNode.Source)
			if !ok || seen[in] {
				continue
			}
			seen[in] = true
			out = append(out, in)
		}
	}
	sort.Strings(out)
	return out
}

// FindNode returns the node stored at (source, key), if any.
func (g *Graph) FindNode(source DependencySource, key depkey.DependencyKey) (*Node, bool) {
	return g.nodeFinder.Get(source, key)
}

// FindUnknownNode returns the expat node for key, if one has been
// recorded without a known definition location.
func (g *Graph) FindUnknownNode(key depkey.DependencyKey) (*Node, bool) {
	return g.nodeFinder.Get(unknownSource, key)
}

// InsertNode adds a brand-new node to the graph, under source (or the
// unknown-location sentinel if the node has not yet been defined).
func (g *Graph) InsertNode(source DependencySource, n *Node) {
	g.nodeFinder.Set(source, n.Key, n)
}

// PromoteToKnown moves a node from the unknown-location slot to a
// known DependencySource, preserving its existing use arcs: it is the
// same *Node value, just re-indexed, so every use edge recorded
// against it by pointer remains valid.
func (g *Graph) PromoteToKnown(n *Node, source DependencySource) {
	g.nodeFinder.Delete(unknownSource, n.Key)
	n.Known = true
	n.Source = source
	g.nodeFinder.Set(source, n.Key, n)
}

// RemoveNode deletes the node at (source, key), first removing its
// use memberships so every remaining used key continues to map only
// to nodes still present in the graph.
func (g *Graph) RemoveNode(source DependencySource, key depkey.DependencyKey) {
	if n, ok := g.nodeFinder.Get(source, key); ok {
		g.usesOf.RemoveAll(n)
	}
	g.nodeFinder.Delete(source, key)
}

// AddUseEdge records that useNode depends on the node defining defKey,
// deduplicating repeated registrations of the same edge.
func (g *Graph) AddUseEdge(defKey depkey.DependencyKey, useNode *Node) {
	g.usesOf.Add(defKey, useNode)
}

// UsesOf returns every node recorded as using defKey.
func (g *Graph) UsesOf(defKey depkey.DependencyKey) []*Node {
	return g.usesOf.Values(defKey)
}

// RegisterExternalDependency records fed, reporting whether it is new
// (not previously registered under the same underlying ExternalDependency).
func (g *Graph) RegisterExternalDependency(fed depkey.FingerprintedExternalDependency) (isNew bool) {
	_, existed := g.fingerprintedExternalDependencies[fed.Dep]
	g.fingerprintedExternalDependencies[fed.Dep] = fed
	return !existed
}

// FingerprintedExternalDependencies returns every registered external
// dependency, in unspecified order.
func (g *Graph) FingerprintedExternalDependencies() []depkey.FingerprintedExternalDependency {
	out := make([]depkey.FingerprintedExternalDependency, 0, len(g.fingerprintedExternalDependencies))
	for _, fed := range g.fingerprintedExternalDependencies {
		out = append(out, fed)
	}
	return out
}

// AllNodes returns every node currently stored, across both known and
// unknown-location entries, for serialization and verification.
func (g *Graph) AllNodes() []*Node {
	return g.allNodesSlice()
}

func (g *Graph) allNodesSlice() []*Node {
	seen := map[*Node]bool{}
	var out []*Node
	for _, src := range g.knownSources() {
		inner, _ := g.nodeFinder.ByK1(src)
		for _, n := range inner {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if inner, ok := g.nodeFinder.ByK1(unknownSource); ok {
		for _, n := range inner {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (g *Graph) knownSources() []DependencySource {
	seen := map[DependencySource]bool{}
	var out []DependencySource
	for _, input := range g.inputDependencySourceMap.Keys() {
		src, ok := g.inputDependencySourceMap.Get(input)
		if ok && !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

// Verify checks every node's key invariant (DependencyKey.ValidateInvariant):
// external-dependency nodes are always interface aspect. It does not
// check the dependency relation between a node's interface and
// implementation aspects.
func (g *Graph) Verify() error {
	for _, n := range g.allNodesSlice() {
		if err := n.Key.ValidateInvariant(); err != nil {
			return fmt.Errorf("moduledeps: node %v failed verification: %w", n.Key, err)
		}
	}
	return nil
}

// DumpDOT renders the graph's def->use arcs as a Graphviz DOT document,
// for the supplemented "graph dump" inspection command.
func (g *Graph) DumpDOT() string {
	var b strings.Builder
	b.WriteString("digraph moduledeps {\n")
	for _, n := range g.allNodesSlice() {
		label := nodeLabel(g.tab, n)
		b.WriteString(fmt.Sprintf("  %q;\n", label))
	}
	for _, n := range g.allNodesSlice() {
		for _, useNode := range g.usesOf.Values(n.Key) {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", nodeLabel(g.tab, n), nodeLabel(g.tab, useNode)))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func nodeLabel(tab *strtab.Table, n *Node) string {
	d := n.Key.Designator
	switch d.Kind {
	case depkey.KindTopLevel, depkey.KindDynamicLookup, depkey.KindSourceFileProvide:
		return fmt.Sprintf("%s(%s):%s", d.Kind, tab.Lookup(d.Name), n.Key.Aspect)
	case depkey.KindNominal, depkey.KindPotentialMember:
		return fmt.Sprintf("%s(%s):%s", d.Kind, tab.Lookup(d.Context), n.Key.Aspect)
	case depkey.KindMember:
		return fmt.Sprintf("%s(%s.%s):%s", d.Kind, tab.Lookup(d.Context), tab.Lookup(d.Name), n.Key.Aspect)
	case depkey.KindExternalDepend:
		return fmt.Sprintf("external(%s)", tab.Lookup(d.External.FileName))
	default:
		return d.Kind.String()
	}
}
