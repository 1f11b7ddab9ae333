package moduledeps

import (
	"testing"

	"github.com/sunholo/swiftinc/internal/depkey"
	swifterrors "github.com/sunholo/swiftinc/internal/errors"
)

func buildSampleModuleGraph() *Graph {
	g, tab := newTestGraph()

	aSrc := DependencySource{Path: "a.swiftdeps"}
	bSrc := DependencySource{Path: "b.swiftdeps"}

	fooKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(tab.Intern("foo"))}
	fooNode := &Node{Key: fooKey, Known: true, Source: aSrc, HasFingerprint: true, Fingerprint: "fp-foo"}
	g.InsertNode(aSrc, fooNode)

	bProvideKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("b.swift"))}
	bProvideNode := &Node{Key: bProvideKey, Known: true, Source: bSrc}
	g.InsertNode(bSrc, bProvideNode)
	g.AddUseEdge(fooKey, bProvideNode)

	extDep := depkey.ExternalDependency{FileName: tab.Intern("Foundation.swiftmodule"), IsModuleSummary: true}
	fed := depkey.FingerprintedExternalDependency{Dep: extDep, HasFingerprint: true, Fingerprint: "fp-ext"}
	g.RegisterExternalDependency(fed)

	_ = g.PopulateInputDependencySourceMap("test", []string{"a.swift", "b.swift"}, func(in string) (string, bool) {
		if in == "a.swift" {
			return "a.swiftdeps", true
		}
		return "b.swiftdeps", true
	})

	return g
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	g := buildSampleModuleGraph()

	data, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data, BuildingWithoutAPrior)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	origNodes := g.sortedNodes()
	gotNodes := got.sortedNodes()
	if len(origNodes) != len(gotNodes) {
		t.Fatalf("node count = %d, want %d", len(gotNodes), len(origNodes))
	}
	for i := range origNodes {
		o, n := origNodes[i], gotNodes[i]
		if o.sortKey(g.tab) != n.sortKey(got.tab) {
			t.Errorf("node %d sort key = %q, want %q", i, n.sortKey(got.tab), o.sortKey(g.tab))
		}
		if o.HasFingerprint != n.HasFingerprint || o.Fingerprint != n.Fingerprint {
			t.Errorf("node %d fingerprint = (%v,%q), want (%v,%q)", i, n.HasFingerprint, n.Fingerprint, o.HasFingerprint, o.Fingerprint)
		}
	}

	aSrc, err := got.Source("a.swift")
	if err != nil {
		t.Fatalf("Source(a.swift) after round trip: %v", err)
	}
	if aSrc.Path != "a.swiftdeps" {
		t.Errorf("Source(a.swift) = %q, want a.swiftdeps", aSrc.Path)
	}

	fooKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(got.tab.Intern("foo"))}
	uses := got.UsesOf(fooKey)
	if len(uses) != 1 {
		t.Fatalf("UsesOf(foo) after round trip = %v, want one use", uses)
	}
	if uses[0].Source.Path != "b.swiftdeps" {
		t.Errorf("use node source = %q, want b.swiftdeps", uses[0].Source.Path)
	}

	externals := got.FingerprintedExternalDependencies()
	if len(externals) != 1 || externals[0].Fingerprint != "fp-ext" {
		t.Errorf("FingerprintedExternalDependencies after round trip = %v", externals)
	}
}

func TestDeserializeRejectsBadSignature(t *testing.T) {
	bad := []byte("not a real module graph artifact at all")
	if _, err := Deserialize(bad, BuildingWithoutAPrior); err == nil {
		t.Errorf("Deserialize should reject data with a bad signature")
	}
}

func TestSerializeEmptyGraphRoundTrips(t *testing.T) {
	g, _ := newTestGraph()
	data, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize an empty graph: %v", err)
	}
	// An empty graph still carries a metadata record, so decoding it
	// should succeed even though there are no nodes.
	if _, err := Deserialize(data, BuildingWithoutAPrior); err != nil {
		t.Errorf("Deserialize of an empty-but-well-formed graph failed: %v", err)
	}
}

// TestDeserializeRejectsVersionMismatch is §8 scenario 6: a priors
// artifact whose major version doesn't match what this build writes
// is a recoverable format error, not a panic or a silent misread.
func TestDeserializeRejectsVersionMismatch(t *testing.T) {
	g, _ := newTestGraph()
	data, err := g.SerializeWithVersion(formatMajor+1, 0)
	if err != nil {
		t.Fatalf("SerializeWithVersion: %v", err)
	}

	_, err = Deserialize(data, BuildingWithoutAPrior)
	if err == nil {
		t.Fatalf("Deserialize should reject a graph artifact with a mismatched major version")
	}
	rep, ok := swifterrors.AsReport(err)
	if !ok || rep.Code != swifterrors.FMT008 {
		t.Errorf("expected an FMT008 report, got %v", err)
	}
}
