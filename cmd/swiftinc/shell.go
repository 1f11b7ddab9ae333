package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/sunholo/swiftinc/internal/moduledeps"
)

var (
	shellGreen = color.New(color.FgGreen).SprintFunc()
	shellRed   = color.New(color.FgRed).SprintFunc()
	shellCyan  = color.New(color.FgCyan).SprintFunc()
	shellBold  = color.New(color.Bold).SprintFunc()
	shellDim   = color.New(color.Faint).SprintFunc()
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive line-editing inspector over the persisted module graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadPersistedGraph()
			if err != nil {
				return err
			}
			runShell(g, cmd.OutOrStdout())
			return nil
		},
	}
}

// runShell is a liner REPL over an already-loaded graph, following
// internal/repl/repl.go's history-file and completer conventions.
func runShell(g *moduledeps.Graph, out io.Writer) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetMultiLineMode(false)

	historyFile := filepath.Join(os.TempDir(), ".swiftinc_shell_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	commands := []string{":help", ":quit", ":nodes", ":source"}
	line.SetCompleter(func(in string) (c []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, in) {
				c = append(c, cmd)
			}
		}
		return
	})

	fmt.Fprintf(out, "%s\n", shellBold("swiftinc graph shell"))
	fmt.Fprintln(out, shellDim("Type :help for commands, :quit to exit"))

	for {
		input, err := line.Prompt("swiftinc> ")
		if err == io.EOF {
			fmt.Fprintln(out, shellGreen("goodbye"))
			break
		}
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", shellRed("error"), err)
			continue
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == ":quit" || input == ":q" {
			fmt.Fprintln(out, shellGreen("goodbye"))
			break
		}
		handleShellCommand(g, input, out)
	}

	if f, err := os.Create(historyFile); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func handleShellCommand(g *moduledeps.Graph, input string, out io.Writer) {
	fields := strings.Fields(input)
	switch fields[0] {
	case ":help":
		fmt.Fprintln(out, "  :nodes           list every known node, sorted")
		fmt.Fprintln(out, "  :source <input>  show the dependency source path a compiled input produced")
		fmt.Fprintln(out, "  :quit            exit the shell")
	case ":nodes":
		nodes := g.AllNodes()
		keys := make([]string, 0, len(nodes))
		for _, n := range nodes {
			keys = append(keys, fmt.Sprintf("%s  %s", n.Key.String(), shellCyan(n.Source.String())))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(out, "  "+k)
		}
	case ":source":
		if len(fields) < 2 {
			fmt.Fprintln(out, shellRed("usage: :source <input>"))
			return
		}
		src, err := g.Source(fields[1])
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", shellRed("error"), err)
			return
		}
		fmt.Fprintln(out, src.Path)
	default:
		fmt.Fprintf(out, "%s: unknown command %q (try :help)\n", shellRed("error"), fields[0])
	}
}
