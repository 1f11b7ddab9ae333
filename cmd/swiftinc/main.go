// Command swiftinc is a standalone driver over the incremental
// compilation core: it plans a build against a set of Swift source
// inputs, optionally executes the resulting jobs, and exposes the
// persisted module graph and build record for inspection.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version info, set by ldflags during build, following
	// cmd/ailang/main.go's convention.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"

	red = color.New(color.FgRed).SprintFunc()
)

// globalFlags carries the options shared by every subcommand.
type globalFlags struct {
	buildDir     string
	swiftVersion string
	args         []string
	jsonOutput   bool
}

var flags globalFlags

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", red("Error"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "swiftinc",
		Short: "Incremental compilation core for a Swift-style driver",
		Long: "swiftinc plans and drives incremental builds using a module " +
			"dependency graph, two-wave scheduler, and persisted build record.",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
	}

	root.PersistentFlags().StringVar(&flags.buildDir, "build-dir", ".swiftinc", "directory holding the persisted module graph and build record")
	root.PersistentFlags().StringVar(&flags.swiftVersion, "swift-version", "swiftinc-dev", "compiler version string recorded in the build record")
	root.PersistentFlags().StringSliceVar(&flags.args, "arg", nil, "an option description contributing to the args hash (repeatable)")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "emit machine-readable JSON instead of console output")

	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newShellCmd())
	return root
}
