package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/depgraph"
	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/incremental"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/strtab"
)

func newRunCmd() *cobra.Command {
	var compiler string
	var externallyInvalidated []string

	cmd := &cobra.Command{
		Use:   "run <input.swift>...",
		Short: "Plan a build, drive every wave of jobs to completion, and persist the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newIncrementalState(args)
			if err != nil {
				return err
			}
			start := buildrecord.ModTime{Seconds: nowUnix()}
			plan, err := s.Plan(args, externallyInvalidated)
			if err != nil {
				return err
			}

			runner := newCompileRunner(compiler, flags.buildDir)
			pending := plan.MandatoryJobs
			for len(pending) > 0 {
				var next []job.Job
				for _, j := range pending {
					result, err := runner.Run(&j)
					if err != nil {
						return fmt.Errorf("job %s failed: %w", j.ID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ran %s (%s): exit %d\n", j.ID, strings.Join(j.PrimaryInputs, ","), result.ExitCode)

					discovered, _ := s.AfterJob(j, result)
					next = append(next, discovered...)
				}
				pending = next
			}

			graphWriteFailed := s.WriteDependencyGraph(incremental.DefaultGraphPath(flags.buildDir)) != nil
			end := buildrecord.ModTime{Seconds: nowUnix()}
			if err := s.FinishBuild(args, start, end, graphWriteFailed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "build finished (%d skipped)\n", len(s.SkippedJobs()))
			return nil
		},
	}
	cmd.Flags().StringVar(&compiler, "compiler", "", "shell command template run per compile job ({{input}}/{{deps}}/{{object}} placeholders); defaults to an internal stub that writes a minimal dependency artifact")
	cmd.Flags().StringSliceVar(&externallyInvalidated, "externally-invalidated", nil, "inputs to treat as invalidated by an external dependency change (repeatable)")
	return cmd
}

func nowUnix() int64 { return time.Now().Unix() }

// compileRunner executes a job.Job either by shelling out to a
// user-supplied compiler command or, absent one, by synthesizing a
// minimal dependency artifact so the scheduler's second wave still has
// something real to reintegrate.
type compileRunner struct {
	template string
	buildDir string
}

func newCompileRunner(template, buildDir string) *compileRunner {
	return &compileRunner{template: template, buildDir: buildDir}
}

func (r *compileRunner) Run(j *job.Job) (job.Result, error) {
	if j.Kind != job.KindCompile {
		return job.Result{ExitCode: 0}, nil
	}
	if r.template != "" {
		return r.runExternal(j)
	}
	return r.runStub(j)
}

func (r *compileRunner) runExternal(j *job.Job) (job.Result, error) {
	for _, in := range j.PrimaryInputs {
		ofm := outputFileMapFor(r.buildDir, j.PrimaryInputs)
		deps, _ := ofm.DependencyArtifact(in)
		obj, _ := ofm.ObjectFile(in)
		rendered := strings.NewReplacer("{{input}}", in, "{{deps}}", deps, "{{object}}", obj).Replace(r.template)

		c := exec.Command("sh", "-c", rendered)
		c.Stdout, c.Stderr = os.Stdout, os.Stderr
		if err := c.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return job.Result{ExitCode: exitErr.ExitCode()}, nil
			}
			return job.Result{ExitCode: 1}, err
		}
	}
	return job.Result{ExitCode: 0}, nil
}

// runStub writes a dependency artifact defining the interface and
// implementation source-file-provide nodes for each primary input and
// writes an empty object file, enough for
// the scheduler to reintegrate without an actual Swift frontend.
func (r *compileRunner) runStub(j *job.Job) (job.Result, error) {
	ofm := outputFileMapFor(r.buildDir, j.PrimaryInputs)
	for _, in := range j.PrimaryInputs {
		tab := strtab.New()
		nameHandle := tab.Intern(in)
		g := &depgraph.SourceFileDependencyGraph{
			Major:           1,
			Minor:           0,
			CompilerVersion: flags.swiftVersion,
			Nodes: []depgraph.Node{
				{Key: depkey.DependencyKey{Aspect: depkey.Interface, Designator: depkey.SourceFileProvide(nameHandle)}, IsProvides: true},
				{Key: depkey.DependencyKey{Aspect: depkey.Implementation, Designator: depkey.SourceFileProvide(nameHandle)}, IsProvides: true},
			},
		}
		data, err := depgraph.Write(tab, g)
		if err != nil {
			return job.Result{ExitCode: 1}, err
		}
		depsPath, _ := ofm.DependencyArtifact(in)
		if err := os.WriteFile(depsPath, data, 0o644); err != nil {
			return job.Result{ExitCode: 1}, err
		}
		objPath, _ := ofm.ObjectFile(in)
		if err := os.WriteFile(objPath, []byte{}, 0o644); err != nil {
			return job.Result{ExitCode: 1}, err
		}
	}
	return job.Result{ExitCode: 0}, nil
}
