// Package job models the external driver's unit of work: a compile or
// auxiliary build step, its primary inputs, and the output-file-map
// collaborator that resolves an input path to its artifact paths. The
// incremental core only describes and orders jobs; running them is the
// driver's job via the pluggable Runner interface.
package job

// Kind distinguishes a compile job (one whose primary inputs are
// source files and whose completion feeds back into the second wave)
// from the auxiliary jobs that bracket a build.
type Kind uint8

const (
	KindCompile Kind = iota
	KindBeforeCompiles
	KindAfterCompiles
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindBeforeCompiles:
		return "beforeCompiles"
	case KindAfterCompiles:
		return "afterCompiles"
	default:
		return "unknown"
	}
}

// Cascading marks whether a scheduled compile job was triggered by a
// cascading (interface-affecting) change. The planner schedules the
// speculative dependents of such a job itself (§4.C10 step 5); the
// flag is carried on the job for reporting and is not read when
// scheduling later waves.
type Cascading bool

const (
	NonCascading Cascading = false
	IsCascading  Cascading = true
)

// Job is one unit of work the driver's Runner executes. PrimaryInputs
// is empty for non-compile jobs.
type Job struct {
	ID            string
	Kind          Kind
	PrimaryInputs []string
	Cascading     Cascading
}

// Result is what the driver reports back after running a Job.
type Result struct {
	ExitCode int
}

// Succeeded reports whether the job terminated with a zero exit status.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

// Runner executes a Job on the driver's external pool. The
// incremental core never calls Run itself; it only hands back Jobs
// for the driver to dispatch and later reports their Results back via
// IncrementalState.AfterJob.
type Runner interface {
	Run(j *Job) (Result, error)
}

// OutputFileMap resolves a source input path to the artifact paths
// the driver expects for it: the dependency artifact (".swiftdeps")
// read after each compile, and the object file checked for existence
// during first-wave planning.
type OutputFileMap interface {
	DependencyArtifact(input string) (string, bool)
	ObjectFile(input string) (string, bool)
}

// MapOutputFileMap is a simple map-backed OutputFileMap, sufficient
// for tests and for drivers that resolve the whole map up front rather
// than computing paths lazily.
type MapOutputFileMap struct {
	DependencyArtifacts map[string]string
	ObjectFiles         map[string]string
}

func (m *MapOutputFileMap) DependencyArtifact(input string) (string, bool) {
	p, ok := m.DependencyArtifacts[input]
	return p, ok
}

func (m *MapOutputFileMap) ObjectFile(input string) (string, bool) {
	p, ok := m.ObjectFiles[input]
	return p, ok
}
