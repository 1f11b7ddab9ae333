package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/fsio"
	"github.com/sunholo/swiftinc/internal/incremental"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/reporter"
)

// outputFileMapFor builds the convention-based OutputFileMap this CLI
// uses in lieu of a driver-supplied one: each input's dependency
// artifact and object file live alongside the persisted state under
// --build-dir, named after the input's base name.
func outputFileMapFor(buildDir string, inputs []string) *job.MapOutputFileMap {
	m := &job.MapOutputFileMap{
		DependencyArtifacts: make(map[string]string, len(inputs)),
		ObjectFiles:         make(map[string]string, len(inputs)),
	}
	for _, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		m.DependencyArtifacts[in] = filepath.Join(buildDir, base+".swiftdeps")
		m.ObjectFiles[in] = filepath.Join(buildDir, base+".o")
	}
	return m
}

// newReporter builds the console or JSON Reporter the global --json
// flag selects, writing to stderr so it never interleaves with a
// command's primary stdout output.
func newReporter() reporter.Reporter {
	if flags.jsonOutput {
		return reporter.NewJSON(os.Stderr)
	}
	return reporter.NewConsole(os.Stderr)
}

// newIncrementalState wires one IncrementalState against the real
// filesystem and this invocation's --build-dir/--swift-version/--arg
// flags, following the convention DefaultGraphPath/DefaultRecordPath
// establish.
func newIncrementalState(inputs []string) (*incremental.IncrementalState, error) {
	if err := os.MkdirAll(flags.buildDir, 0o755); err != nil {
		return nil, err
	}
	argsHash := buildrecord.HashArgs(flags.args)
	fs := fsio.NewReal()
	ofm := outputFileMapFor(flags.buildDir, inputs)
	rep := newReporter()

	graphPath := incremental.DefaultGraphPath(flags.buildDir)
	recordPath := incremental.DefaultRecordPath(flags.buildDir)

	return incremental.New(incremental.Config{}, flags.swiftVersion, argsHash, graphPath, recordPath, fs, ofm, rep), nil
}
