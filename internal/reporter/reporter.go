// Package reporter implements the Reporter observer trait (§6.4): the
// one-way channel the incremental core uses to tell the driver about
// remarks, invalidation reasons, and incremental-mode disabling,
// without the core depending on any particular diagnostics renderer.
// Calls may arrive from any thread (the scheduler's second wave runs
// off job-completion callbacks), so every sink here must be safe for
// concurrent use.
package reporter

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/text/width"

	"github.com/sunholo/swiftinc/internal/depkey"
	"github.com/sunholo/swiftinc/internal/moduledeps"
	"github.com/sunholo/swiftinc/internal/schema"
)

// Severity classifies a remark the way real incremental builds do, so
// a console sink can filter by verbosity.
type Severity int

const (
	SeverityRemark Severity = iota
	SeverityNote
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityWarning:
		return "warning"
	default:
		return "remark"
	}
}

// Reporter is the observer trait §6.4 names: report, reportInvalidated,
// reportDisabling. Every method may be called from any goroutine.
type Reporter interface {
	Report(severity Severity, message string, input string)
	ReportInvalidated(nodes []*moduledeps.Node, externalDependency *depkey.ExternalDependency, reason string)
	ReportDisabling(reason string)
}

// Console is a colorized, human-readable Reporter, following
// cmd/ailang/main.go and internal/repl/repl.go's
// green/red/yellow/cyan/bold SprintFunc convention.
type Console struct {
	out io.Writer
	mu  sync.Mutex

	green  func(a ...any) string
	red    func(a ...any) string
	yellow func(a ...any) string
	cyan   func(a ...any) string
	bold   func(a ...any) string
	dim    func(a ...any) string
}

// NewConsole builds a Console sink writing to out (os.Stderr is the
// usual choice, so remarks don't interleave with compiled output).
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:    out,
		green:  color.New(color.FgGreen).SprintFunc(),
		red:    color.New(color.FgRed).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		cyan:   color.New(color.FgCyan).SprintFunc(),
		bold:   color.New(color.Bold).SprintFunc(),
		dim:    color.New(color.Faint).SprintFunc(),
	}
}

func (c *Console) Report(severity Severity, message string, input string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tag string
	switch severity {
	case SeverityWarning:
		tag = c.yellow("warning")
	case SeverityNote:
		tag = c.cyan("note")
	default:
		tag = c.dim("remark")
	}
	if input != "" {
		fmt.Fprintf(c.out, "%s: %s: %s\n", tag, c.bold(input), message)
		return
	}
	fmt.Fprintf(c.out, "%s: %s\n", tag, message)
}

func (c *Console) ReportInvalidated(nodes []*moduledeps.Node, externalDependency *depkey.ExternalDependency, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if externalDependency != nil {
		fmt.Fprintf(c.out, "%s: external dependency changed (%s): %d node(s) invalidated\n",
			c.yellow("remark"), reason, len(nodes))
		return
	}
	fmt.Fprintf(c.out, "%s: %d node(s) invalidated: %s\n", c.dim("remark"), len(nodes), reason)
}

func (c *Console) ReportDisabling(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s: incremental compilation disabled: %s\n", c.red("warning"), reason)
}

// JSONEvent is one structured record a JSON sink emits; schema-tagged
// so downstream tooling can version-gate its parsing like every other
// JSON surface this module exposes.
type JSONEvent struct {
	Schema             string   `json:"schema"`
	Kind               string   `json:"kind"` // "report" | "invalidated" | "disabling"
	Severity           string   `json:"severity,omitempty"`
	Message            string   `json:"message,omitempty"`
	Input              string   `json:"input,omitempty"`
	InvalidatedNodes   []string `json:"invalidatedNodes,omitempty"`
	ExternalDependency string   `json:"externalDependency,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

// JSON is a machine-readable Reporter: one JSON object per line
// (newline-delimited), deterministically key-sorted via
// internal/schema, for CI log scraping.
type JSON struct {
	out io.Writer
	mu  sync.Mutex
}

// NewJSON builds a JSON sink writing newline-delimited events to out.
func NewJSON(out io.Writer) *JSON {
	return &JSON{out: out}
}

func (j *JSON) emit(ev JSONEvent) {
	ev.Schema = schema.BuildRecordV1
	data, err := schema.MarshalDeterministic(ev)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.out.Write(data)
	j.out.Write([]byte("\n"))
}

func (j *JSON) Report(severity Severity, message string, input string) {
	j.emit(JSONEvent{Kind: "report", Severity: severity.String(), Message: message, Input: input})
}

func (j *JSON) ReportInvalidated(nodes []*moduledeps.Node, externalDependency *depkey.ExternalDependency, reason string) {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Key.String())
	}
	sort.Strings(names)
	ev := JSONEvent{Kind: "invalidated", InvalidatedNodes: names, Reason: reason}
	if externalDependency != nil {
		ev.ExternalDependency = fmt.Sprintf("handle#%d", externalDependency.FileName)
	}
	j.emit(ev)
}

func (j *JSON) ReportDisabling(reason string) {
	j.emit(JSONEvent{Kind: "disabling", Reason: reason})
}

// Multi fans a single Reporter call out to several sinks, e.g. a
// Console for the terminal and a JSON sink piped to a log file.
type Multi []Reporter

func (m Multi) Report(severity Severity, message string, input string) {
	for _, r := range m {
		r.Report(severity, message, input)
	}
}

func (m Multi) ReportInvalidated(nodes []*moduledeps.Node, externalDependency *depkey.ExternalDependency, reason string) {
	for _, r := range m {
		r.ReportInvalidated(nodes, externalDependency, reason)
	}
}

func (m Multi) ReportDisabling(reason string) {
	for _, r := range m {
		r.ReportDisabling(reason)
	}
}

// Discard is a Reporter that does nothing, for tests and callers that
// don't care about diagnostics.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Severity, string, string) {}
func (discard) ReportInvalidated([]*moduledeps.Node, *depkey.ExternalDependency, string) {}
func (discard) ReportDisabling(string) {}

// Row is one line of the skipped/mandatory job table §4.C10's planner
// output feeds to FormatJobTable.
type Row struct {
	Input  string
	Status string
}

// FormatJobTable renders rows as an aligned two-column table, using
// golang.org/x/text/width to measure each input name's display width
// so non-ASCII (e.g. full-width CJK) module names still line up —
// len(string) counts bytes, not the terminal columns a wide rune
// occupies.
func FormatJobTable(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	widest := 0
	for _, r := range rows {
		w := displayWidth(r.Input)
		if w > widest {
			widest = w
		}
	}

	var b strings.Builder
	for _, r := range rows {
		pad := widest - displayWidth(r.Input)
		b.WriteString(r.Input)
		b.WriteString(strings.Repeat(" ", pad+1))
		b.WriteString(r.Status)
		b.WriteString("\n")
	}
	return b.String()
}

func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// FprintJobTable is a convenience wrapper writing FormatJobTable's
// output to w, defaulting to os.Stdout when w is nil.
func FprintJobTable(w io.Writer, rows []Row) {
	if w == nil {
		w = os.Stdout
	}
	io.WriteString(w, FormatJobTable(rows))
}
