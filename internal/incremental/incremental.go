// Package incremental wires C1–C12 and their collaborators into the
// driver integration surface of §6.4: IncrementalState is the one
// entry point the surrounding compiler driver calls — plan, report
// job completion, ask whether a post-compile step can be skipped, and
// persist state at the end of the build.
package incremental

import (
	"path/filepath"
	"strings"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/depgraph"
	swifterrors "github.com/sunholo/swiftinc/internal/errors"
	"github.com/sunholo/swiftinc/internal/fsio"
	"github.com/sunholo/swiftinc/internal/integrator"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/planner"
	"github.com/sunholo/swiftinc/internal/reporter"
	"github.com/sunholo/swiftinc/internal/scheduler"
	"github.com/sunholo/swiftinc/internal/strtab"
)

// Config carries the options affecting incremental decisions that
// spec.md §9 leaves open and this implementation threads explicitly
// rather than holding in a global, following the teacher's
// repl.Config pattern.
type Config struct {
	AlwaysRebuildDependents       bool
	EmitModuleSummary             bool
	VerifyIncrementalDependencies bool
}

// Plan is §6.4's (mandatoryJobs, skippedJobs) pair returned from
// IncrementalState.Plan.
type Plan struct {
	MandatoryJobs []job.Job
	SkippedJobs   []string
}

// IncrementalState is the top-level object the driver holds for the
// duration of one build.
type IncrementalState struct {
	cfg      Config
	swiftVersion string
	argsHash string

	fs  fsio.FileSystem
	ofm job.OutputFileMap
	rep reporter.Reporter

	graphPath  string
	recordPath string

	graph     *moduledeps.Graph
	record    *buildrecord.BuildRecord
	scheduler *scheduler.Scheduler
}

// New constructs an IncrementalState. graphPath/recordPath are where
// the module graph and build record are persisted between builds;
// swiftVersion/argsHash identify this invocation for §7's
// incompatible-version / args-hash-mismatch checks.
func New(cfg Config, swiftVersion, argsHash, graphPath, recordPath string, fs fsio.FileSystem, ofm job.OutputFileMap, rep reporter.Reporter) *IncrementalState {
	if rep == nil {
		rep = reporter.Discard
	}
	return &IncrementalState{
		cfg:          cfg,
		swiftVersion: swiftVersion,
		argsHash:     argsHash,
		fs:           fs,
		ofm:          ofm,
		rep:          rep,
		graphPath:    graphPath,
		recordPath:   recordPath,
	}
}

// Plan implements IncrementalState::plan. A missing or corrupt prior
// disables incremental mode for this build with a remark, rather than
// failing: every input is scheduled, matching §7's "silently disabled
// ... driver schedules everything."
func (s *IncrementalState) Plan(inputs []string, externallyInvalidated []string) (*Plan, error) {
	record, err := s.loadRecord()
	if err != nil {
		s.rep.ReportDisabling("no usable build record: " + err.Error())
		record = nil
	} else if err := record.CheckCompatible(s.swiftVersion, s.argsHash); err != nil {
		s.rep.ReportDisabling(err.Error())
		record = nil
	} else if gone := record.DisappearedInputs(inputs); len(gone) > 0 {
		s.rep.ReportDisabling("the following inputs were used in the previous compilation but not in this one: " + strings.Join(gone, ", "))
		record = nil
	}

	graph, versionMismatch := s.loadOrRebuildGraph(record, inputs)
	if versionMismatch {
		record = nil
	}
	s.record = record
	s.graph = graph

	decision, err := planner.Plan(graph, record, inputs, externallyInvalidated, s.fs, s.ofm, planner.Config{
		AlwaysRebuildDependents: s.cfg.AlwaysRebuildDependents,
	})
	if err != nil {
		return nil, err
	}

	var compileJobIDs []string
	for _, j := range decision.MandatoryJobsInOrder {
		if j.Kind == job.KindCompile {
			compileJobIDs = append(compileJobIDs, j.ID)
		}
	}
	s.scheduler = scheduler.New(graph, s.fs, s.ofm, decision.InitiallySkippedInputs, compileJobIDs)
	s.scheduler.OnRemark = func(msg string) { s.rep.Report(reporter.SeverityWarning, msg, "") }

	return &Plan{
		MandatoryJobs: decision.MandatoryJobsInOrder,
		SkippedJobs:   decision.InitiallySkippedInputs,
	}, nil
}

// loadRecord reads and decodes the build record through s.fs, so
// tests (and any non-local filesystem) see the same path every other
// access in this package goes through rather than buildrecord.Load's
// direct os.ReadFile.
func (s *IncrementalState) loadRecord() (*buildrecord.BuildRecord, error) {
	data, err := s.fs.ReadFile(s.recordPath)
	if err != nil {
		return nil, err
	}
	return buildrecord.Decode(data)
}

// loadOrRebuildGraph returns the module graph to plan against: the
// serialized prior if one parses, or a graph reconstructed by reading
// every input's dependency artifact directly, or an empty graph when
// there is no prior build record at all (the cold-build case). The
// second return is true only when the priors artifact was written by
// an incompatible graph format version (FMT008); Plan then drops the
// build record, disabling incremental mode for this build entirely
// (the graph alone can't drive scheduling without a build record to
// compare mod-times against). A priors artifact that is unreadable for
// any other reason falls through to reconstruction with false.
func (s *IncrementalState) loadOrRebuildGraph(record *buildrecord.BuildRecord, inputs []string) (*moduledeps.Graph, bool) {
	if record == nil {
		return moduledeps.New(strtab.New(), moduledeps.BuildingWithoutAPrior), false
	}

	phase := moduledeps.UpdatingFromAPrior
	versionMismatch := false
	if data, err := s.fs.ReadFile(s.graphPath); err == nil {
		g, derr := moduledeps.Deserialize(data, moduledeps.UpdatingFromAPrior)
		if derr == nil {
			return g, false
		}
		if rep, ok := swifterrors.AsReport(derr); ok && rep.Code == swifterrors.FMT008 {
			s.rep.Report(reporter.SeverityWarning, "module graph priors at "+s.graphPath+" were serialized by an incompatible version; discarding and rebuilding after every compilation", "")
			_ = s.fs.Remove(s.graphPath)
			phase = moduledeps.BuildingAfterEachCompilation
			versionMismatch = true
		}
	}

	// No usable serialized graph: reconstruct from each input's own
	// per-file artifact, the way a first incremental build after a
	// graph-format upgrade would.
	g := moduledeps.New(strtab.New(), phase)
	if err := g.PopulateInputDependencySourceMap("reconstruct", inputs, func(in string) (string, bool) {
		return s.ofm.DependencyArtifact(in)
	}); err != nil {
		s.rep.Report(reporter.SeverityWarning, "could not populate input/source map while reconstructing graph: "+err.Error(), "")
		return g, versionMismatch
	}
	for _, in := range inputs {
		artifactPath, ok := s.ofm.DependencyArtifact(in)
		if !ok {
			continue
		}
		data, err := s.fs.ReadFile(artifactPath)
		if err != nil {
			continue
		}
		parsed, tab, err := depgraph.Read(data)
		if err != nil {
			s.rep.Report(reporter.SeverityWarning, "could not parse "+artifactPath+" while reconstructing graph: "+err.Error(), in)
			continue
		}
		integrator.Integrate(g, moduledeps.DependencySource{Path: artifactPath}, parsed, tab)
	}
	return g, versionMismatch
}

// AfterJob implements IncrementalState::afterJob, delegating to the
// second-wave scheduler. The bool mirrors Option: false means the
// build is complete.
func (s *IncrementalState) AfterJob(finished job.Job, result job.Result) ([]job.Job, bool) {
	return s.scheduler.AfterJob(finished, result)
}

// CanSkipPostCompile reports whether every one of j's expected outputs
// is no older than every one of its primary inputs, so a subsequent
// post-compile step (e.g. re-linking) has nothing new to act on.
func (s *IncrementalState) CanSkipPostCompile(j job.Job) bool {
	var newestInput, oldestOutput int64
	haveInput, haveOutput := false, false

	for _, in := range j.PrimaryInputs {
		t, err := s.fs.ModTime(in)
		if err != nil {
			return false
		}
		if !haveInput || t.Unix() > newestInput {
			newestInput = t.Unix()
			haveInput = true
		}
		if obj, ok := s.ofm.ObjectFile(in); ok {
			ot, err := s.fs.ModTime(obj)
			if err != nil {
				return false
			}
			if !haveOutput || ot.Unix() < oldestOutput {
				oldestOutput = ot.Unix()
				haveOutput = true
			}
		}
	}
	if !haveInput || !haveOutput {
		return false
	}
	return oldestOutput >= newestInput
}

// WriteDependencyGraph serializes the module graph to path. A failure
// here is a warning per §7, never a build failure; the caller is
// responsible for then recording a non-incremental build record so
// the next build re-scans fully (see FinishBuild).
func (s *IncrementalState) WriteDependencyGraph(path string) error {
	data, err := s.graph.Serialize()
	if err != nil {
		s.rep.Report(reporter.SeverityWarning, "could not write dependency graph: "+err.Error(), "")
		return err
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		s.rep.Report(reporter.SeverityWarning, "could not write dependency graph: "+err.Error(), "")
		return err
	}
	return nil
}

// SkippedJobs implements IncrementalState::skippedJobs for post-build
// reporting: the inputs still sitting in the skipped pool once the
// build has finished.
func (s *IncrementalState) SkippedJobs() []string {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.SkippedJobs()
}

// FinishBuild writes a fresh build record summing up this build's
// outcome; the module graph is written separately by
// WriteDependencyGraph. graphWriteFailed forces a non-incremental
// record (every input marked needsCascadingBuild) so the next build
// re-scans fully, per §7's "failed writeDependencyGraph ... forces a
// non-incremental build record."
func (s *IncrementalState) FinishBuild(inputs []string, buildStart, buildEnd buildrecord.ModTime, graphWriteFailed bool) error {
	record := buildrecord.New(s.swiftVersion, s.argsHash)
	record.BuildStartTime = buildStart
	record.BuildEndTime = buildEnd

	for _, in := range inputs {
		status := buildrecord.UpToDate
		if graphWriteFailed {
			status = buildrecord.NeedsCascadingBuild
		}
		mt, err := s.fs.ModTime(in)
		if err != nil {
			continue
		}
		record.Inputs[in] = buildrecord.InputInfo{
			Status:          status,
			PreviousModTime: buildrecord.ModTime{Seconds: mt.Unix(), Nanoseconds: int64(mt.Nanosecond())},
		}
	}

	data, err := buildrecord.Encode(record)
	if err != nil {
		return err
	}
	return s.fs.WriteFile(s.recordPath, data)
}

// DefaultGraphPath and DefaultRecordPath give the driver a sensible
// default pair of artifact paths under buildDir, following the
// convention of one incremental-state directory per module.
func DefaultGraphPath(buildDir string) string  { return filepath.Join(buildDir, "module.priors") }
func DefaultRecordPath(buildDir string) string { return filepath.Join(buildDir, "build.record.yaml") }
