// Package planner implements the first-wave decision procedure
// (§4.C10): given the module graph, the prior build record, the
// current input list, and the inputs externally invalidated before
// planning began, it classifies every input into "definitely needs a
// compile job this wave" or "initially skipped, pending what the
// second wave discovers" and produces the mandatory job order.
package planner

import (
	"sort"
	"time"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/fsio"
	"github.com/sunholo/swiftinc/internal/integrator"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/tracer"
)

// Config carries the one planner-visible knob from §9's open
// questions: whether externally invalidated inputs also speculatively
// reschedule their transitive dependents, the way a cascading change
// does unconditionally.
type Config struct {
	AlwaysRebuildDependents bool
}

// Decision is the planner's output: the jobs this wave must run, in
// order, and the inputs left in the skipped pool for the scheduler
// (C11) to drain from as the second wave discovers more work.
type Decision struct {
	Phase                  moduledeps.Phase
	InitiallySkippedInputs []string
	MandatoryJobsInOrder   []job.Job
}

// reason records why an input got scheduled, so the final cascading
// flag is the logical OR of every reason that applied to it.
type reason struct {
	scheduled bool
	cascading bool
}

func (r *reason) mark(cascading bool) {
	r.scheduled = true
	if cascading {
		r.cascading = true
	}
}

// Plan runs the full §4.C10 procedure. inputs is in command-line
// order; externallyInvalidated is the set the driver already knows is
// invalid (e.g. a changed Clang module) before planning starts.
func Plan(
	g *moduledeps.Graph,
	record *buildrecord.BuildRecord,
	inputs []string,
	externallyInvalidated []string,
	fs fsio.FileSystem,
	ofm job.OutputFileMap,
	cfg Config,
) (*Decision, error) {
	if record == nil {
		return everythingIsMandatory(g, inputs), nil
	}

	g.SetPhase(moduledeps.UpdatingAfterCompilation)
	tracer.EnsureGraphWillRetrace(g)

	scheduled := make(map[string]*reason, len(inputs))
	mark := func(input string, cascading bool) {
		r, ok := scheduled[input]
		if !ok {
			r = &reason{}
			scheduled[input] = r
		}
		r.mark(cascading)
	}

	externalSet := make(map[string]bool, len(externallyInvalidated))
	for _, in := range externallyInvalidated {
		externalSet[in] = true
	}

	// Step 1: changed inputs, classified by previousCompilationStatus.
	for _, in := range inputs {
		info, ok := record.Inputs[in]
		if !ok {
			// Step 1's newlyAdded case: no prior record entry at all.
			mark(in, false)
			continue
		}
		cur, err := fs.ModTime(in)
		if err != nil {
			continue
		}
		sameTime := modTimeMatches(info.PreviousModTime, cur)
		switch info.Status {
		case buildrecord.UpToDate:
			if !sameTime {
				mark(in, false)
			}
		case buildrecord.NeedsNonCascadingBuild:
			mark(in, false)
		case buildrecord.NeedsCascadingBuild:
			mark(in, true)
		case buildrecord.NewlyAdded:
			mark(in, false)
		}
	}

	// Step 2: missing outputs.
	for _, in := range inputs {
		if !outputsExist(in, ofm, fs) {
			mark(in, false)
		}
	}

	// Step 3: externally invalidated inputs.
	for _, in := range externallyInvalidated {
		mark(in, false)
	}

	// Step 4: inputs missing from the module graph entirely.
	for _, in := range inputs {
		source, err := g.Source(in)
		if err != nil || !g.ContainsNodes(source) {
			mark(in, false)
		}
	}

	// Step 5: speculative recompilation of cascading changed inputs'
	// transitive dependents (and, when configured, external ones too).
	cascadingSeeds := make([]string, 0, len(inputs))
	for in, r := range scheduled {
		if r.cascading {
			cascadingSeeds = append(cascadingSeeds, in)
		}
	}
	if cfg.AlwaysRebuildDependents {
		for _, in := range externallyInvalidated {
			cascadingSeeds = append(cascadingSeeds, in)
		}
	}
	sort.Strings(cascadingSeeds)
	for _, in := range cascadingSeeds {
		source, err := g.Source(in)
		if err != nil {
			continue
		}
		defs := g.NodesDefinedBy(source)
		if len(defs) == 0 {
			continue
		}
		nodes := make([]*moduledeps.Node, 0, len(defs))
		for _, n := range defs {
			nodes = append(nodes, n)
		}
		seed := integrator.NewDirectlyInvalidatedNodeSet(nodes...)
		for _, traced := range tracer.Trace(g, seed) {
			dependent, ok := g.Input(traced.Source)
			if !ok {
				continue
			}
			if _, already := scheduled[dependent]; !already {
				mark(dependent, false)
			}
		}
	}

	// Step 6: initially skipped = recorded inputs minus everything
	// scheduled above, restricted to inputs still present this build.
	var skipped []string
	for _, in := range inputs {
		if _, wasRecorded := record.Inputs[in]; !wasRecorded {
			continue
		}
		if _, isScheduled := scheduled[in]; isScheduled {
			continue
		}
		skipped = append(skipped, in)
	}
	sort.Strings(skipped)

	var jobs []job.Job
	var compileJobs []job.Job
	for _, in := range inputs {
		r, ok := scheduled[in]
		if !ok {
			continue
		}
		compileJobs = append(compileJobs, job.Job{
			ID:            "compile:" + in,
			Kind:          job.KindCompile,
			PrimaryInputs: []string{in},
			Cascading:     job.Cascading(r.cascading),
		})
	}
	if len(compileJobs) > 0 {
		jobs = append(jobs, job.Job{ID: "beforeCompiles", Kind: job.KindBeforeCompiles})
	}
	jobs = append(jobs, compileJobs...)

	return &Decision{
		Phase:                  moduledeps.UpdatingAfterCompilation,
		InitiallySkippedInputs: skipped,
		MandatoryJobsInOrder:   jobs,
	}, nil
}

func everythingIsMandatory(g *moduledeps.Graph, inputs []string) *Decision {
	g.SetPhase(moduledeps.BuildingAfterEachCompilation)

	var jobs []job.Job
	if len(inputs) > 0 {
		jobs = append(jobs, job.Job{ID: "beforeCompiles", Kind: job.KindBeforeCompiles})
	}
	for _, in := range inputs {
		jobs = append(jobs, job.Job{
			ID:            "compile:" + in,
			Kind:          job.KindCompile,
			PrimaryInputs: []string{in},
			Cascading:     job.NonCascading,
		})
	}
	return &Decision{
		Phase:                moduledeps.BuildingAfterEachCompilation,
		MandatoryJobsInOrder: jobs,
	}
}

func outputsExist(input string, ofm job.OutputFileMap, fs fsio.FileSystem) bool {
	if obj, ok := ofm.ObjectFile(input); ok {
		if !fs.Exists(obj) {
			return false
		}
	}
	if dep, ok := ofm.DependencyArtifact(input); ok {
		if !fs.Exists(dep) {
			return false
		}
	}
	return true
}

func modTimeMatches(recorded buildrecord.ModTime, cur time.Time) bool {
	// Compared via integer (seconds, nanoseconds) to avoid
	// floating-point rounding, and so two mtimes landing in the same
	// wall-clock second but differing below it aren't conflated.
	return recorded.Seconds == cur.Unix() && recorded.Nanoseconds == int64(cur.Nanosecond())
}
