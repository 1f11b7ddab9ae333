package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sunholo/swiftinc/internal/buildrecord"
	"github.com/sunholo/swiftinc/internal/incremental"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect the persisted build record",
	}
	cmd.AddCommand(newRecordShowCmd())
	return cmd
}

func newRecordShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the build record's version, args hash, and per-input status",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := incremental.DefaultRecordPath(flags.buildDir)
			record, err := buildrecord.Load(path)
			if err != nil {
				return err
			}
			printRecord(cmd, record)
			return nil
		},
	}
}

func printRecord(cmd *cobra.Command, r *buildrecord.BuildRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:     %s\n", r.SwiftVersion)
	if r.ArgsHash != "" {
		fmt.Fprintf(out, "args hash:   %s\n", r.ArgsHash)
	}
	fmt.Fprintf(out, "build start: %d.%09d\n", r.BuildStartTime.Seconds, r.BuildStartTime.Nanoseconds)
	fmt.Fprintf(out, "build end:   %d.%09d\n", r.BuildEndTime.Seconds, r.BuildEndTime.Nanoseconds)

	paths := make([]string, 0, len(r.Inputs))
	for p := range r.Inputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	fmt.Fprintln(out, "inputs:")
	for _, p := range paths {
		info := r.Inputs[p]
		fmt.Fprintf(out, "  %-40s %s\n", p, info.Status)
	}
}
