// Package scheduler implements the second wave (§4.C11): after a
// compile job finishes, re-read its updated dependency artifact,
// integrate it into the module graph, trace the resulting
// invalidation outward, and drain any now-required inputs out of the
// skipped-jobs pool into freshly scheduled compile jobs.
package scheduler

import (
	"sort"

	"github.com/sunholo/swiftinc/internal/depgraph"
	"github.com/sunholo/swiftinc/internal/fsio"
	"github.com/sunholo/swiftinc/internal/guard"
	"github.com/sunholo/swiftinc/internal/integrator"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/tracer"
)

// Scheduler holds the protected state the second wave mutates: the
// module graph, the pool of inputs the planner initially skipped, and
// the set of compile job IDs still outstanding.
type Scheduler struct {
	guard *guard.State
	graph *moduledeps.Graph
	fs    fsio.FileSystem
	ofm   job.OutputFileMap

	skipped    map[string]bool
	unfinished map[string]bool

	// OnRemark, if set, is called with a human-readable note whenever a
	// re-read artifact fails to parse and the scheduler falls back to
	// the conservative whole-skipped-pool invalidation. Optional: the
	// driver wires this to its diagnostics sink.
	OnRemark func(message string)
}

// New builds a Scheduler for one build: initiallySkipped is the
// planner's InitiallySkippedInputs, and mandatoryCompileJobIDs are the
// IDs of every compile job the planner scheduled for this wave (so
// AfterJob knows when the build is complete).
func New(graph *moduledeps.Graph, fs fsio.FileSystem, ofm job.OutputFileMap, initiallySkipped []string, mandatoryCompileJobIDs []string) *Scheduler {
	s := &Scheduler{
		guard:      &guard.State{},
		graph:      graph,
		fs:         fs,
		ofm:        ofm,
		skipped:    make(map[string]bool, len(initiallySkipped)),
		unfinished: make(map[string]bool, len(mandatoryCompileJobIDs)),
	}
	for _, in := range initiallySkipped {
		s.skipped[in] = true
	}
	for _, id := range mandatoryCompileJobIDs {
		s.unfinished[id] = true
	}
	return s
}

// AfterJob implements collectJobsDiscoveredToBeNeededAfterFinishing.
// ok is false ("None") only when the build is complete: no unfinished
// compile jobs remain and this call discovered no new ones. Otherwise
// ok is true ("Some"), and jobs may legitimately be empty.
func (s *Scheduler) AfterJob(finished job.Job, result job.Result) (jobs []job.Job, ok bool) {
	s.guard.Write(func() {
		delete(s.unfinished, finished.ID)
	})

	if finished.Kind != job.KindCompile || !result.Succeeded() {
		return []job.Job{}, s.buildOngoing()
	}

	var discovered []job.Job
	for _, input := range finished.PrimaryInputs {
		invalidatedInputs := s.reintegrate(input)
		for _, in := range invalidatedInputs {
			if s.drain(in) {
				discovered = append(discovered, job.Job{
					ID:            "compile:" + in,
					Kind:          job.KindCompile,
					PrimaryInputs: []string{in},
					Cascading:     job.IsCascading,
				})
			}
		}
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].PrimaryInputs[0] < discovered[j].PrimaryInputs[0]
	})

	s.guard.Write(func() {
		for _, j := range discovered {
			s.unfinished[j.ID] = true
		}
	})

	return discovered, s.buildOngoing()
}

func (s *Scheduler) buildOngoing() bool {
	var ongoing bool
	s.guard.Read(func() {
		ongoing = len(s.unfinished) > 0
	})
	return ongoing
}

// reintegrate re-reads input's dependency artifact, merges it into the
// module graph, and traces the resulting invalidation outward,
// returning the inputs it reached. A parse failure falls back to
// collectInputsInvalidatedBy (§4.C6): every input that transitively
// uses something input used to define, per the graph as it stood
// before this failed re-read. That is the most targeted invalidation
// still justified by what we actually know went stale; only when the
// graph has no record of input at all (a brand-new file, so nothing to
// compare against) does it fall back further, to the whole skipped
// pool, rather than silently dropping information per §7.
func (s *Scheduler) reintegrate(input string) []string {
	artifactPath, ok := s.ofm.DependencyArtifact(input)
	if !ok {
		return s.conservativelyInvalidateDependents(input, "no dependency artifact path for "+input)
	}

	data, err := s.fs.ReadFile(artifactPath)
	if err != nil {
		return s.conservativelyInvalidateDependents(input, "could not read "+artifactPath+": "+err.Error())
	}

	parsed, tab, err := depgraph.Read(data)
	if err != nil {
		return s.conservativelyInvalidateDependents(input, "could not parse "+artifactPath+": "+err.Error())
	}

	var invalidatedInputs []string
	s.guard.Write(func() {
		source := moduledeps.DependencySource{Path: artifactPath, IsModuleLevel: false}
		invalidated := integrator.Integrate(s.graph, source, parsed, tab)
		for _, traced := range tracer.Trace(s.graph, invalidated) {
			if in, ok := s.graph.Input(traced.Source); ok && in != input {
				invalidatedInputs = append(invalidatedInputs, in)
			}
		}
	})
	sort.Strings(invalidatedInputs)
	return invalidatedInputs
}

// conservativelyInvalidateDependents recovers from a failure to read or
// parse input's fresh dependency artifact by invalidating everything
// that transitively used input's prior definitions (graph.
// CollectInputsInvalidatedBy), which is always at least as conservative
// as correct since we genuinely don't know what input's new definitions
// look like. If the graph has no record of input at all, there is
// nothing to compare against, so this falls back to the entire
// still-skipped pool instead.
func (s *Scheduler) conservativelyInvalidateDependents(input, reason string) []string {
	var invalidated []string
	s.guard.Write(func() {
		invalidated = s.graph.CollectInputsInvalidatedBy(input, func(seed []*moduledeps.Node) []*moduledeps.Node {
			return tracer.Trace(s.graph, integrator.NewDirectlyInvalidatedNodeSet(seed...))
		})
	})
	if len(invalidated) > 0 {
		if s.OnRemark != nil {
			s.OnRemark(reason + " — conservatively invalidating every known dependent of " + input)
		}
		return invalidated
	}
	return s.wholeSkippedPoolConservatively(reason)
}

func (s *Scheduler) wholeSkippedPoolConservatively(reason string) []string {
	if s.OnRemark != nil {
		s.OnRemark(reason + " — conservatively rescheduling every still-skipped input")
	}
	var out []string
	s.guard.Read(func() {
		for in := range s.skipped {
			out = append(out, in)
		}
	})
	sort.Strings(out)
	return out
}

// drain removes input from the skipped pool if present, reporting
// whether it was there (i.e. whether a fresh job actually needs
// scheduling for it rather than one already underway or complete).
func (s *Scheduler) drain(input string) bool {
	var drained bool
	s.guard.Write(func() {
		if s.skipped[input] {
			delete(s.skipped, input)
			drained = true
		}
	})
	return drained
}

// SkippedJobs returns the inputs still sitting in the skipped pool.
func (s *Scheduler) SkippedJobs() []string {
	var out []string
	s.guard.Read(func() {
		for in := range s.skipped {
			out = append(out, in)
		}
	})
	sort.Strings(out)
	return out
}
