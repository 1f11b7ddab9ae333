package integrator

import (
	"testing"

	"github.com/sunholo/swiftinc/internal/depgraph"
	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/strtab"
)

func newGraph(phase moduledeps.Phase) (*moduledeps.Graph, *strtab.Table) {
	tab := strtab.New()
	return moduledeps.New(tab, phase), tab
}

func TestIntegrateInsertsNewInterfaceNodeAsInvalidated(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	file := &depgraph.SourceFileDependencyGraph{
		Major: 1, Minor: 0, CompilerVersion: "test",
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true},
		},
	}

	invalidated := Integrate(g, source, file, fileTab)
	if invalidated.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", invalidated.Len())
	}

	key := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(g.StringTable().Intern("foo"))}
	n, ok := g.FindNode(source, key)
	if !ok {
		t.Fatalf("expected the new node to be findable in the module graph")
	}
	if !n.Known || n.Source != source {
		t.Errorf("new node should be Known and attributed to source, got %+v", n)
	}
}

func TestIntegrateKeepsMatchingFingerprint(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true, HasFingerprint: true, Fingerprint: "v1"},
		},
	}
	Integrate(g, source, file, fileTab)

	// Re-integrate the identical file: fingerprint matches, so nothing
	// should be invalidated this time.
	fileTab2 := strtab.New()
	fooName2 := fileTab2.Intern("foo")
	file2 := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName2)}, IsProvides: true, HasFingerprint: true, Fingerprint: "v1"},
		},
	}
	invalidated := Integrate(g, source, file2, fileTab2)
	if invalidated.Len() != 0 {
		t.Errorf("Len() = %d, want 0 when the fingerprint is unchanged", invalidated.Len())
	}
}

func TestIntegrateInvalidatesOnFingerprintChange(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true, HasFingerprint: true, Fingerprint: "v1"},
		},
	}
	Integrate(g, source, file, fileTab)

	fileTab2 := strtab.New()
	fooName2 := fileTab2.Intern("foo")
	file2 := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName2)}, IsProvides: true, HasFingerprint: true, Fingerprint: "v2"},
		},
	}
	invalidated := Integrate(g, source, file2, fileTab2)
	if invalidated.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 when the fingerprint changes", invalidated.Len())
	}

	key := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(g.StringTable().Intern("foo"))}
	n, _ := g.FindNode(source, key)
	if n.Fingerprint != "v2" {
		t.Errorf("node fingerprint = %q, want v2 (replaced in place)", n.Fingerprint)
	}
}

func TestIntegratePromotesUnknownNodeToKnown(t *testing.T) {
	g, tab := newGraph(moduledeps.UpdatingAfterCompilation)

	// Simulate a use recorded before its definition was seen: an
	// expat node sitting under the unknown-location sentinel.
	fooKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(tab.Intern("foo"))}
	expat := &moduledeps.Node{Key: fooKey}
	g.InsertNode(moduledeps.DependencySource{}, expat)

	source := moduledeps.DependencySource{Path: "a.swiftdeps"}
	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true},
		},
	}
	Integrate(g, source, file, fileTab)

	promoted, ok := g.FindNode(source, fooKey)
	if !ok || promoted != expat {
		t.Fatalf("expected the same node pointer to be promoted to known, got %v, %v", promoted, ok)
	}
}

func TestIntegrateWiresUseEdges(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	bName := fileTab.Intern("b.swift")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true},
			{Key: depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(bName)}, IsProvides: true, DependsOn: []int{0}},
		},
	}
	Integrate(g, source, file, fileTab)

	fooKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(g.StringTable().Intern("foo"))}
	uses := g.UsesOf(fooKey)
	if len(uses) != 1 {
		t.Fatalf("UsesOf(foo) = %v, want one use node", uses)
	}
}

func TestIntegrateRetiresStaleNodes(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	barName := fileTab.Intern("bar")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, IsProvides: true},
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(barName)}, IsProvides: true},
		},
	}
	Integrate(g, source, file, fileTab)

	// Reintegrate without "bar": it should be removed from the graph.
	fileTab2 := strtab.New()
	fooName2 := fileTab2.Intern("foo")
	file2 := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName2)}, IsProvides: true},
		},
	}
	Integrate(g, source, file2, fileTab2)

	barKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(g.StringTable().Intern("bar"))}
	if _, ok := g.FindNode(source, barKey); ok {
		t.Errorf("bar should have been retired after reintegration dropped it")
	}
}

func TestIntegrateRegistersExternalDependencyAndInvalidatesWhenPhaseRequires(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingFromAPrior)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	hName := fileTab.Intern("Foo.h")
	file := &depgraph.SourceFileDependencyGraph{
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.ExternalDepend(depkey.ExternalDependency{FileName: hName})}, IsProvides: true},
		},
	}
	invalidated := Integrate(g, source, file, fileTab)
	if invalidated.Len() != 1 {
		t.Errorf("Len() = %d, want 1: a new external dependency under updatingFromAPrior should invalidate", invalidated.Len())
	}

	externals := g.FingerprintedExternalDependencies()
	if len(externals) != 1 {
		t.Fatalf("FingerprintedExternalDependencies = %v, want one entry", externals)
	}
}

// TestIntegrateIsMonotonicOnRepeatedIntegration is the §8 universal
// invariant: integrating the same per-file graph into a module graph
// that already contains it produces no further invalidation.
func TestIntegrateIsMonotonicOnRepeatedIntegration(t *testing.T) {
	g, _ := newGraph(moduledeps.UpdatingAfterCompilation)
	source := moduledeps.DependencySource{Path: "a.swiftdeps"}

	fileTab := strtab.New()
	fooName := fileTab.Intern("foo")
	file := &depgraph.SourceFileDependencyGraph{
		Major: 1, Minor: 0, CompilerVersion: "test",
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName)}, HasFingerprint: true, Fingerprint: "fp1", IsProvides: true},
		},
	}

	first := Integrate(g, source, file, fileTab)
	if first.Len() == 0 {
		t.Fatalf("expected the first integration to invalidate the newly inserted node")
	}

	fileTab2 := strtab.New()
	fooName2 := fileTab2.Intern("foo")
	file2 := &depgraph.SourceFileDependencyGraph{
		Major: 1, Minor: 0, CompilerVersion: "test",
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(fooName2)}, HasFingerprint: true, Fingerprint: "fp1", IsProvides: true},
		},
	}
	second := Integrate(g, source, file2, fileTab2)
	if second.Len() != 0 {
		t.Errorf("re-integrating an unchanged per-file graph should invalidate nothing, got %d", second.Len())
	}
}
