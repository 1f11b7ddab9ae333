package incremental

import (
	"testing"
	"time"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/depgraph"
	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/fsio"
	"github.com/sunholo/swiftinc/internal/integrator"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/strtab"
	"github.com/sunholo/swiftinc/internal/tracer"
)

// This file exercises the six literal end-to-end scenarios, numbered
// to match their counterparts one-for-one.

func seedInputs(fs *fsio.Fake, inputs []string, mtime time.Time) {
	for _, in := range inputs {
		fs.Put(in, []byte("src"), mtime)
		fs.Put(in+"deps", []byte("deps"), mtime)
		fs.Put(in+".o", []byte("obj"), mtime)
	}
}

// seedDependencyArtifacts replaces each input's dependency artifact
// with a parseable per-file graph providing the input's own
// source-file nodes, so a graph reconstructed from the artifacts has
// nodes for every input.
func seedDependencyArtifacts(t *testing.T, fs *fsio.Fake, inputs []string, mtime time.Time) {
	t.Helper()
	for _, in := range inputs {
		tab := strtab.New()
		name := tab.Intern(in)
		g := &depgraph.SourceFileDependencyGraph{
			Major: 1, Minor: 0, CompilerVersion: "test",
			Nodes: []depgraph.Node{
				{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.SourceFileProvide(name)}, IsProvides: true},
				{Key: depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(name)}, IsProvides: true},
			},
		}
		data, err := depgraph.Write(tab, g)
		if err != nil {
			t.Fatalf("depgraph.Write: %v", err)
		}
		fs.Put(in+"deps", data, mtime)
	}
}

func TestScenario1ColdBuildSchedulesAllInOrder(t *testing.T) {
	inputs := []string{"a.swift", "b.swift", "c.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), nil)
	plan, err := s.Plan(inputs, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if plan.MandatoryJobs[0].Kind != job.KindBeforeCompiles {
		t.Fatalf("expected beforeCompiles first, got %v", plan.MandatoryJobs[0])
	}
	var compiled []string
	for _, j := range plan.MandatoryJobs[1:] {
		if j.Kind != job.KindCompile {
			t.Fatalf("expected only compile jobs after beforeCompiles, got %v", j)
		}
		compiled = append(compiled, j.PrimaryInputs[0])
	}
	for i, in := range inputs {
		if compiled[i] != in {
			t.Errorf("compile order[%d] = %q, want %q", i, compiled[i], in)
		}
	}
	if s.graph.Phase() != moduledeps.BuildingAfterEachCompilation {
		t.Errorf("expected phase buildingAfterEachCompilation on a cold build, got %v", s.graph.Phase())
	}

	if err := s.FinishBuild(inputs, buildrecord.ModTime{Seconds: 1}, buildrecord.ModTime{Seconds: 2}, false); err != nil {
		t.Fatalf("FinishBuild: %v", err)
	}
	data, _ := fs.ReadFile("build/record.yaml")
	record, err := buildrecord.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, in := range inputs {
		if record.Inputs[in].Status != buildrecord.UpToDate {
			t.Errorf("expected %s upToDate after the cold build, got %v", in, record.Inputs[in].Status)
		}
	}
}

func TestScenario2NoChangesSkipsEverything(t *testing.T) {
	inputs := []string{"a.swift", "b.swift", "c.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))
	seedDependencyArtifacts(t, fs, inputs, time.Unix(100, 0))

	record := buildrecord.New("swiftinc-1.0", "hash1")
	for _, in := range inputs {
		record.Inputs[in] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	}
	data, err := buildrecord.Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs.Put("build/record.yaml", data, time.Unix(100, 0))

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), nil)
	plan, err := s.Plan(inputs, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.MandatoryJobs) != 0 {
		t.Errorf("expected no mandatory jobs when nothing changed, got %d", len(plan.MandatoryJobs))
	}
	if len(plan.SkippedJobs) != 3 {
		t.Errorf("expected all three inputs initially skipped, got %v", plan.SkippedJobs)
	}
}

// TestScenario3NonCascadingChangeTriggersSecondWaveDiscovery builds a
// persisted module graph where b.swift's own node uses a node a.swift
// defines. a.swift's mod-time changes (a non-cascading upToDate ->
// changed transition), so only a is scheduled in the first wave; b and
// c sit in the skipped pool. Recompiling a produces an artifact the
// scheduler reintegrates, discovering that b must now also rebuild.
func TestScenario3NonCascadingChangeTriggersSecondWaveDiscovery(t *testing.T) {
	inputs := []string{"a.swift", "b.swift", "c.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))
	// a.swift's source changed (mod-time moved forward); b and c did not.
	fs.Put("a.swift", []byte("src-v2"), time.Unix(200, 0))

	tab := strtab.New()
	g := moduledeps.New(tab, moduledeps.UpdatingFromAPrior)
	aSrc := moduledeps.DependencySource{Path: "a.swiftdeps"}
	bSrc := moduledeps.DependencySource{Path: "b.swiftdeps"}
	cSrc := moduledeps.DependencySource{Path: "c.swiftdeps"}

	fooKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(tab.Intern("foo"))}
	fooNode := &moduledeps.Node{Key: fooKey, Known: true, Source: aSrc, HasFingerprint: true, Fingerprint: "v1"}
	g.InsertNode(aSrc, fooNode)

	bKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("b.swift"))}
	bNode := &moduledeps.Node{Key: bKey, Known: true, Source: bSrc}
	g.InsertNode(bSrc, bNode)
	g.AddUseEdge(fooKey, bNode)

	cKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("c.swift"))}
	cNode := &moduledeps.Node{Key: cKey, Known: true, Source: cSrc}
	g.InsertNode(cSrc, cNode)

	if err := g.PopulateInputDependencySourceMap("test", inputs, func(in string) (string, bool) {
		return in + "deps", true
	}); err != nil {
		t.Fatalf("PopulateInputDependencySourceMap: %v", err)
	}

	graphData, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	fs.Put("build/module.priors", graphData, time.Unix(100, 0))

	record := buildrecord.New("swiftinc-1.0", "hash1")
	for _, in := range inputs {
		record.Inputs[in] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	}
	recordData, err := buildrecord.Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs.Put("build/record.yaml", recordData, time.Unix(100, 0))

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), nil)
	plan, err := s.Plan(inputs, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var compiled []string
	for _, j := range plan.MandatoryJobs {
		if j.Kind == job.KindCompile {
			compiled = append(compiled, j.PrimaryInputs[0])
		}
	}
	if len(compiled) != 1 || compiled[0] != "a.swift" {
		t.Fatalf("expected only a.swift scheduled in the first wave, got %v", compiled)
	}
	wantSkipped := map[string]bool{"b.swift": true, "c.swift": true}
	if len(plan.SkippedJobs) != 2 {
		t.Fatalf("expected b and c initially skipped, got %v", plan.SkippedJobs)
	}
	for _, in := range plan.SkippedJobs {
		if !wantSkipped[in] {
			t.Errorf("unexpected input in skipped pool: %s", in)
		}
	}

	// Recompiling a.swift changes foo's fingerprint, which should cause
	// the reintegration in AfterJob to discover that b (which uses foo)
	// needs compiling too.
	aFileTab := strtab.New()
	aFooName := aFileTab.Intern("foo")
	aGraph := &depgraph.SourceFileDependencyGraph{
		Major: 1, Minor: 0, CompilerVersion: "test",
		Nodes: []depgraph.Node{
			{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.TopLevel(aFooName)}, IsProvides: true, HasFingerprint: true, Fingerprint: "v2"},
		},
	}
	aData, err := depgraph.Write(aFileTab, aGraph)
	if err != nil {
		t.Fatalf("depgraph.Write: %v", err)
	}
	fs.Put("a.swiftdeps", aData, time.Unix(200, 0))

	discovered, _ := s.AfterJob(job.Job{ID: "compile:a.swift", Kind: job.KindCompile, PrimaryInputs: []string{"a.swift"}}, job.Result{ExitCode: 0})
	if len(discovered) != 1 || discovered[0].PrimaryInputs[0] != "b.swift" {
		t.Fatalf("expected the second wave to discover b.swift, got %v", discovered)
	}
}

// TestScenario4ExternalDependencyChangeSchedulesDirectUsers simulates
// the driver-side discovery pipeline an incremental build performs
// before calling Plan: collect the nodes directly using a changed
// external dependency's key, trace outward from them, and resolve
// every reached node back to the input that must be rebuilt.
func TestScenario4ExternalDependencyChangeSchedulesDirectUsers(t *testing.T) {
	inputs := []string{"a.swift", "b.swift", "c.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))

	tab := strtab.New()
	g := moduledeps.New(tab, moduledeps.UpdatingFromAPrior)
	bSrc := moduledeps.DependencySource{Path: "b.swiftdeps"}
	cSrc := moduledeps.DependencySource{Path: "c.swiftdeps"}
	aSrc := moduledeps.DependencySource{Path: "a.swiftdeps"}

	extDep := depkey.ExternalDependency{FileName: tab.Intern("Foreign.swiftmodule"), IsModuleSummary: true}
	fed := depkey.FingerprintedExternalDependency{Dep: extDep, HasFingerprint: true, Fingerprint: "old"}
	g.RegisterExternalDependency(fed)
	externalKey := depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.ExternalDepend(extDep)}

	bKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("b.swift"))}
	bNode := &moduledeps.Node{Key: bKey, Known: true, Source: bSrc}
	g.InsertNode(bSrc, bNode)
	g.AddUseEdge(externalKey, bNode)

	cKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("c.swift"))}
	cNode := &moduledeps.Node{Key: cKey, Known: true, Source: cSrc}
	g.InsertNode(cSrc, cNode)
	g.AddUseEdge(externalKey, cNode)

	aKey := depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(tab.Intern("a.swift"))}
	aNode := &moduledeps.Node{Key: aKey, Known: true, Source: aSrc}
	g.InsertNode(aSrc, aNode)

	if err := g.PopulateInputDependencySourceMap("test", inputs, func(in string) (string, bool) {
		return in + "deps", true
	}); err != nil {
		t.Fatalf("PopulateInputDependencySourceMap: %v", err)
	}

	graphData, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	fs.Put("build/module.priors", graphData, time.Unix(100, 0))

	record := buildrecord.New("swiftinc-1.0", "hash1")
	for _, in := range inputs {
		record.Inputs[in] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	}
	recordData, err := buildrecord.Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs.Put("build/record.yaml", recordData, time.Unix(100, 0))

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), nil)

	// Driver-side discovery: foreign.swiftmodule changed, so find
	// everything that directly uses its key, then trace outward.
	graph, _ := s.loadOrRebuildGraph(record, inputs)
	directUsers := graph.CollectNodesInvalidatedByChangedOrAddedExternals(func(f depkey.FingerprintedExternalDependency) bool {
		return f.Dep == extDep
	})
	seed := integrator.NewDirectlyInvalidatedNodeSet(directUsers...)
	traced := tracer.Trace(graph, seed)

	seen := make(map[string]bool)
	var externallyInvalidated []string
	for _, n := range append(append([]*moduledeps.Node{}, directUsers...), traced...) {
		if in, ok := graph.Input(n.Source); ok && !seen[in] {
			seen[in] = true
			externallyInvalidated = append(externallyInvalidated, in)
		}
	}
	if len(externallyInvalidated) != 2 {
		t.Fatalf("expected exactly b.swift and c.swift directly using the external key, got %v", externallyInvalidated)
	}

	plan, err := s.Plan(inputs, externallyInvalidated)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	compiled := make(map[string]bool)
	for _, j := range plan.MandatoryJobs {
		if j.Kind == job.KindCompile {
			compiled[j.PrimaryInputs[0]] = true
		}
	}
	if !compiled["b.swift"] || !compiled["c.swift"] {
		t.Errorf("expected both b.swift and c.swift scheduled after the external dependency changed, got %v", plan.MandatoryJobs)
	}
	if compiled["a.swift"] {
		t.Errorf("a.swift doesn't use the external dependency and shouldn't be scheduled, got %v", plan.MandatoryJobs)
	}
}

func TestScenario5DisappearedInputDisablesWithLiteralRemark(t *testing.T) {
	inputs := []string{"a.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))

	record := buildrecord.New("swiftinc-1.0", "hash1")
	record.Inputs["a.swift"] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	record.Inputs["d.swift"] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	data, err := buildrecord.Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs.Put("build/record.yaml", data, time.Unix(100, 0))

	var remarks []string
	rep := &testReporter{onDisabling: func(reason string) { remarks = append(remarks, reason) }}

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), rep)
	plan, err := s.Plan(inputs, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := "the following inputs were used in the previous compilation but not in this one: d.swift"
	if len(remarks) != 1 || remarks[0] != want {
		t.Fatalf("disabling remark = %v, want [%q]", remarks, want)
	}

	var compiled int
	for _, j := range plan.MandatoryJobs {
		if j.Kind == job.KindCompile {
			compiled++
		}
	}
	if compiled != 1 {
		t.Errorf("expected the single remaining input compiled after disabling, got %d", compiled)
	}
}

func TestScenario6CorruptPriorsGraphVersionFallsBackToFullRebuild(t *testing.T) {
	inputs := []string{"a.swift"}
	fs := fsio.NewFake()
	seedInputs(fs, inputs, time.Unix(100, 0))

	tab := strtab.New()
	g := moduledeps.New(tab, moduledeps.UpdatingFromAPrior)
	corrupt, err := g.SerializeWithVersion(2, 0)
	if err != nil {
		t.Fatalf("SerializeWithVersion: %v", err)
	}
	fs.Put("build/module.priors", corrupt, time.Unix(100, 0))

	record := buildrecord.New("swiftinc-1.0", "hash1")
	record.Inputs["a.swift"] = buildrecord.InputInfo{Status: buildrecord.UpToDate, PreviousModTime: buildrecord.ModTime{Seconds: 100}}
	data, err := buildrecord.Encode(record)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs.Put("build/record.yaml", data, time.Unix(100, 0))

	var warnings []string
	rep := &testReporter{onReport: func(msg string) { warnings = append(warnings, msg) }}

	s := New(Config{}, "swiftinc-1.0", "hash1", "build/module.priors", "build/record.yaml", fs, newOFM(inputs), rep)
	plan, err := s.Plan(inputs, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(warnings) == 0 {
		t.Fatalf("expected a warning about the mismatched priors version")
	}
	if fs.Exists("build/module.priors") {
		t.Errorf("expected the corrupt priors file to be removed")
	}
	if s.graph.Phase() != moduledeps.BuildingAfterEachCompilation {
		t.Errorf("expected phase buildingAfterEachCompilation after a corrupt-priors fallback, got %v", s.graph.Phase())
	}

	var compiled int
	for _, j := range plan.MandatoryJobs {
		if j.Kind == job.KindCompile {
			compiled++
		}
	}
	if compiled != 1 {
		t.Errorf("expected the single input scheduled after falling back to a full rebuild, got %d", compiled)
	}
}
