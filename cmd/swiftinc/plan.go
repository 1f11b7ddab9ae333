package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sunholo/swiftinc/internal/incremental"
	"github.com/sunholo/swiftinc/internal/job"
	"github.com/sunholo/swiftinc/internal/reporter"
)

func newPlanCmd() *cobra.Command {
	var externallyInvalidated []string

	cmd := &cobra.Command{
		Use:   "plan <input.swift>...",
		Short: "Compute the mandatory and initially-skipped job sets for a build",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newIncrementalState(args)
			if err != nil {
				return err
			}
			plan, err := s.Plan(args, externallyInvalidated)
			if err != nil {
				return err
			}
			printPlan(cmd, plan)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&externallyInvalidated, "externally-invalidated", nil, "inputs to treat as invalidated by an external dependency change (repeatable)")
	return cmd
}

func printPlan(cmd *cobra.Command, plan *incremental.Plan) {
	var rows []reporter.Row
	for _, j := range plan.MandatoryJobs {
		for _, in := range j.PrimaryInputs {
			rows = append(rows, reporter.Row{Input: in, Status: jobStatusLabel(j)})
		}
	}
	for _, in := range plan.SkippedJobs {
		rows = append(rows, reporter.Row{Input: in, Status: "skipped"})
	}
	fmt.Fprint(cmd.OutOrStdout(), reporter.FormatJobTable(rows))
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d mandatory, %d skipped\n", len(plan.MandatoryJobs), len(plan.SkippedJobs))
}

func jobStatusLabel(j job.Job) string {
	if j.Cascading {
		return "cascading"
	}
	return "compile"
}
