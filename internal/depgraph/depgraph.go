// Package depgraph decodes and encodes a per-input dependency-graph
// artifact (the ".swiftdeps" produced by each frontend compilation) as
// a bitstream container. It is a leaf reader/writer: it knows nothing
// about the module graph it will eventually be merged into, only the
// wire shape of one file's worth of nodes and def->use arcs.
package depgraph

import (
	"github.com/sunholo/swiftinc/internal/bitstream"
	"github.com/sunholo/swiftinc/internal/depkey"
	swifterrors "github.com/sunholo/swiftinc/internal/errors"
	"github.com/sunholo/swiftinc/internal/strtab"
)

// Signature is the four-byte magic identifying a .swiftdeps artifact.
var Signature = [4]byte{'D', 'E', 'P', 'S'}

const blockID uint64 = 8
const blockAbbrevWidth uint = 4

const (
	codeMetadata                = 1
	codeSourceFileDepGraphNode  = 2
	codeFingerprintNode         = 3
	codeDependsOnDefinitionNode = 4
	codeIdentifierNode          = 5
)

// Node is one entry of a SourceFileDependencyGraph: a definition or a
// use, keyed the same way as a module-graph node, optionally
// fingerprinted, and (if a use) carrying the sequence numbers of the
// definition nodes it depends on.
type Node struct {
	Key            depkey.DependencyKey
	HasFingerprint bool
	Fingerprint    string
	IsProvides     bool
	DependsOn      []int
}

// SourceFileDependencyGraph is the decoded form of one .swiftdeps
// artifact: (major, minor, compilerVersion, Vec<Node>). Node indices
// are assigned in appearance order; by convention position 0 is the
// synthetic interface source-file-provides node and position 1 is its
// implementation counterpart, written by whatever produces the graph.
type SourceFileDependencyGraph struct {
	Major           uint16
	Minor           uint16
	CompilerVersion string
	Nodes           []Node
}

func designatorIDs(d depkey.Designator) (context, name strtab.Handle) {
	if d.Kind == depkey.KindExternalDepend {
		return d.External.FileName, strtab.Empty
	}
	return d.Context, d.Name
}

var nodeAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeSourceFileDepGraphNode),
	bitstream.Fixed(3), // designator kind
	bitstream.Fixed(1), // aspect
	bitstream.VBR(13),  // context id
	bitstream.VBR(13),  // name id
	bitstream.Fixed(1), // isProvides (definition vs use)
}

var metadataAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeMetadata),
	bitstream.Fixed(16),
	bitstream.Fixed(16),
	bitstream.Blob(),
}

var fingerprintAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeFingerprintNode),
	bitstream.Blob(),
}

var dependsOnAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeDependsOnDefinitionNode),
	bitstream.VBR(13),
}

var identifierAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeIdentifierNode),
	bitstream.Blob(),
}

// Write encodes g as a bitstream artifact. tab supplies the interned
// strings referenced by g's designators; every handle beyond the
// implicit empty-string handle 0 is emitted as an identifierNode, in
// handle order, before any node record.
func Write(tab *strtab.Table, g *SourceFileDependencyGraph) ([]byte, error) {
	e := bitstream.NewEncoder(Signature)
	e.EnterSubblock(blockID, blockAbbrevWidth)

	metaID, err := e.DefineAbbrev(metadataAbbrevOps)
	if err != nil {
		return nil, err
	}
	identID, err := e.DefineAbbrev(identifierAbbrevOps)
	if err != nil {
		return nil, err
	}
	nodeID, err := e.DefineAbbrev(nodeAbbrevOps)
	if err != nil {
		return nil, err
	}
	fpID, err := e.DefineAbbrev(fingerprintAbbrevOps)
	if err != nil {
		return nil, err
	}
	dependsID, err := e.DefineAbbrev(dependsOnAbbrevOps)
	if err != nil {
		return nil, err
	}

	if err := e.EmitRecord(metaID, codeMetadata, []uint64{uint64(g.Major), uint64(g.Minor)}, nil, []byte(g.CompilerVersion)); err != nil {
		return nil, err
	}

	strs := tab.All()
	for _, s := range strs[1:] {
		if err := e.EmitRecord(identID, codeIdentifierNode, nil, nil, []byte(s)); err != nil {
			return nil, err
		}
	}

	for _, n := range g.Nodes {
		ctx, name := designatorIDs(n.Key.Designator)
		var provides uint64
		if n.IsProvides {
			provides = 1
		}
		fields := []uint64{
			uint64(n.Key.Designator.Kind),
			uint64(n.Key.Aspect),
			uint64(ctx),
			uint64(name),
			provides,
		}
		if err := e.EmitRecord(nodeID, codeSourceFileDepGraphNode, fields, nil, nil); err != nil {
			return nil, err
		}
		if n.HasFingerprint {
			if err := e.EmitRecord(fpID, codeFingerprintNode, nil, nil, []byte(n.Fingerprint)); err != nil {
				return nil, err
			}
		}
		for _, dep := range n.DependsOn {
			if err := e.EmitRecord(dependsID, codeDependsOnDefinitionNode, []uint64{uint64(dep)}, nil, nil); err != nil {
				return nil, err
			}
		}
	}

	if err := e.EndBlock(); err != nil {
		return nil, err
	}
	return e.Finish()
}

type readState struct {
	tab         *strtab.Table
	graph       *SourceFileDependencyGraph
	sawMetadata bool
	err         error
}

func (rs *readState) ValidateSignature(sig [4]byte) error {
	if sig != Signature {
		return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT001", "bad magic signature for .swiftdeps artifact"))
	}
	return nil
}

func (rs *readState) ShouldEnterBlock(id uint64) bool { return true }

func (rs *readState) OnBlockExit(id uint64) error { return nil }

func (rs *readState) OnRecord(bid uint64, code uint64, fields []uint64, arrayElems []uint64, blob []byte) error {
	switch code {
	case codeMetadata:
		if rs.sawMetadata {
			return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT003", "metadata record appears more than once"))
		}
		if len(fields) != 2 {
			return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT003", "malformed metadata record"))
		}
		rs.graph.Major = uint16(fields[0])
		rs.graph.Minor = uint16(fields[1])
		rs.graph.CompilerVersion = string(blob)
		rs.sawMetadata = true

	case codeIdentifierNode:
		rs.tab.Intern(string(blob))

	case codeSourceFileDepGraphNode:
		if len(fields) != 5 {
			return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT005", "malformed sourceFileDepGraphNode record"))
		}
		kind := depkey.DesignatorKind(fields[0])
		aspect := depkey.Aspect(fields[1])
		context := strtab.Handle(fields[2])
		name := strtab.Handle(fields[3])
		provides := fields[4] != 0

		var designator depkey.Designator
		if kind == depkey.KindExternalDepend {
			designator = depkey.ExternalDepend(depkey.ExternalDependency{FileName: context})
		} else {
			designator = depkey.Designator{Kind: kind, Context: context, Name: name}
		}
		rs.graph.Nodes = append(rs.graph.Nodes, Node{
			Key:        depkey.DependencyKey{Aspect: aspect, Designator: designator},
			IsProvides: provides,
		})

	case codeFingerprintNode:
		if len(rs.graph.Nodes) == 0 {
			return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT004", "fingerprintNode with no preceding node"))
		}
		last := &rs.graph.Nodes[len(rs.graph.Nodes)-1]
		last.HasFingerprint = true
		last.Fingerprint = string(blob)

	case codeDependsOnDefinitionNode:
		if len(rs.graph.Nodes) == 0 || len(fields) != 1 {
			return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT005", "malformed dependsOnDefinitionNode record"))
		}
		last := &rs.graph.Nodes[len(rs.graph.Nodes)-1]
		last.DependsOn = append(last.DependsOn, int(fields[0]))

	default:
		return swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT005", "unknown designator kind"))
	}
	return nil
}

// Read decodes a .swiftdeps artifact, returning the graph and the
// local string table its designators' Context/Name handles are
// relative to.
func Read(data []byte) (*SourceFileDependencyGraph, *strtab.Table, error) {
	rs := &readState{
		tab:   strtab.New(),
		graph: &SourceFileDependencyGraph{},
	}
	if err := bitstream.Decode(data, rs); err != nil {
		return nil, nil, err
	}
	if !rs.sawMetadata {
		return nil, nil, swifterrors.WrapReport(swifterrors.NewReport("depgraph", "FMT003", "artifact has no metadata record"))
	}
	return rs.graph, rs.tab, nil
}
