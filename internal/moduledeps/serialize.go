package moduledeps

import (
	"sort"

	"github.com/sunholo/swiftinc/internal/bitstream"
	"github.com/sunholo/swiftinc/internal/depkey"
	swifterrors "github.com/sunholo/swiftinc/internal/errors"
	"github.com/sunholo/swiftinc/internal/strtab"
)

// Signature is the four-byte magic identifying a serialized module
// dependency graph (§6.1).
var Signature = [4]byte{'D', 'D', 'E', 'P'}

const appBlockID uint64 = 1
const appAbbrevWidth uint = 8

const (
	codeMetadata           = 1
	codeModuleDepGraphNode = 2
	codeDependsOnNode      = 3
	codeUseIDNode          = 4
	codeExternalDepNode    = 5
	codeIdentifierNode     = 6
	codeMapNode            = 7
)

// CompilerVersion is stamped into every serialized graph's metadata record.
const CompilerVersion = "swiftinc-1.0"

const formatMajor uint16 = 1
const formatMinor uint16 = 0

func designatorIDs(d depkey.Designator) (context, name strtab.Handle) {
	if d.Kind == depkey.KindExternalDepend {
		return d.External.FileName, strtab.Empty
	}
	return d.Context, d.Name
}

func designatorStrings(tab *strtab.Table, d depkey.Designator) (context, name string) {
	ctx, nm := designatorIDs(d)
	return tab.Lookup(ctx), tab.Lookup(nm)
}

func (n *Node) sortKey(tab *strtab.Table) string {
	ctx, name := designatorStrings(tab, n.Key.Designator)
	return n.Source.Path + "\x00" + n.Key.Aspect.String() + "\x00" + n.Key.Designator.Kind.String() + "\x00" + ctx + "\x00" + name
}

func keySortString(tab *strtab.Table, k depkey.DependencyKey) string {
	ctx, name := designatorStrings(tab, k.Designator)
	return k.Aspect.String() + "\x00" + k.Designator.Kind.String() + "\x00" + ctx + "\x00" + name
}

func (g *Graph) sortedNodes() []*Node {
	nodes := g.allNodesSlice()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].sortKey(g.tab) < nodes[j].sortKey(g.tab)
	})
	return nodes
}

func (g *Graph) sortedDefKeys() []depkey.DependencyKey {
	keys := g.usesOf.Keys()
	sort.Slice(keys, func(i, j int) bool {
		return keySortString(g.tab, keys[i]) < keySortString(g.tab, keys[j])
	})
	return keys
}

var metadataAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeMetadata),
	bitstream.Fixed(16),
	bitstream.Fixed(16),
	bitstream.Blob(),
}

var identifierAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeIdentifierNode),
	bitstream.Blob(),
}

var nodeAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeModuleDepGraphNode),
	bitstream.Fixed(3), // designator kind
	bitstream.Fixed(1), // aspect
	bitstream.VBR(13),  // context id
	bitstream.VBR(13),  // name id
	bitstream.Fixed(1), // has source
	bitstream.VBR(13),  // source path id
	bitstream.Fixed(1), // has fingerprint
	bitstream.Blob(),   // fingerprint bytes
}

var dependsOnAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeDependsOnNode),
	bitstream.Fixed(3),
	bitstream.Fixed(1),
	bitstream.VBR(13),
	bitstream.VBR(13),
}

var useIDAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeUseIDNode),
	bitstream.VBR(13),
}

var externalDepAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeExternalDepNode),
	bitstream.VBR(13),
	bitstream.Fixed(1),
	bitstream.Blob(),
}

var mapAbbrevOps = []bitstream.Operand{
	bitstream.Literal(codeMapNode),
	bitstream.VBR(13),
	bitstream.VBR(13),
}

// Serialize encodes the graph as a bitstream (§6.1): metadata, every
// interned identifier, every node (in a deterministic order establishing
// the sequence numbers useIDNode refers to), the def->use arcs grouped
// by defining key, the registered external dependencies, and the
// input<->source map.
func (g *Graph) Serialize() ([]byte, error) {
	return g.SerializeWithVersion(formatMajor, formatMinor)
}

// SerializeWithVersion is Serialize with an explicit (major, minor)
// format version stamped into the metadata record, rather than the
// version this build actually writes. Production callers want
// Serialize; this exists so tests can produce an artifact that
// exercises Deserialize's version-mismatch recovery path.
func (g *Graph) SerializeWithVersion(major, minor uint16) ([]byte, error) {
	// Every referenced path must be interned before the identifier
	// records are emitted, since identifiers are written as one
	// contiguous run up front.
	nodes := g.sortedNodes()
	for _, n := range nodes {
		if n.Known {
			g.tab.Intern(n.Source.Path)
		}
	}
	for _, input := range g.inputDependencySourceMap.Keys() {
		g.tab.Intern(input)
		if src, ok := g.inputDependencySourceMap.Get(input); ok {
			g.tab.Intern(src.Path)
		}
	}

	e := bitstream.NewEncoder(Signature)
	e.EnterSubblock(appBlockID, appAbbrevWidth)

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
	dependsID, err := e.DefineAbbrev(dependsOnAbbrevOps)
	if err != nil {
		return nil, err
	}
	useID, err := e.DefineAbbrev(useIDAbbrevOps)
	if err != nil {
		return nil, err
	}
	extID, err := e.DefineAbbrev(externalDepAbbrevOps)
	if err != nil {
		return nil, err
	}
	mapID, err := e.DefineAbbrev(mapAbbrevOps)
	if err != nil {
		return nil, err
	}

	if err := e.EmitRecord(metaID, codeMetadata, []uint64{uint64(major), uint64(minor)}, nil, []byte(CompilerVersion)); err != nil {
		return nil, err
	}

	strs := g.tab.All()
	for _, s := range strs[1:] {
		if err := e.EmitRecord(identID, codeIdentifierNode, nil, nil, []byte(s)); err != nil {
			return nil, err
		}
	}

	sequence := make(map[*Node]int, len(nodes))
	for i, n := range nodes {
		sequence[n] = i
		ctx, name := designatorIDs(n.Key.Designator)
		var hasSource, hasFingerprint uint64
		var sourcePathID strtab.Handle
		if n.Known {
			hasSource = 1
			sourcePathID = g.tab.Intern(n.Source.Path)
		}
		var fingerprint []byte
		if n.HasFingerprint {
			hasFingerprint = 1
			fingerprint = []byte(n.Fingerprint)
		}
		fields := []uint64{
			uint64(n.Key.Designator.Kind),
			uint64(n.Key.Aspect),
			uint64(ctx),
			uint64(name),
			hasSource,
			uint64(sourcePathID),
			hasFingerprint,
		}
		if err := e.EmitRecord(nodeID, codeModuleDepGraphNode, fields, nil, fingerprint); err != nil {
			return nil, err
		}
	}

	for _, defKey := range g.sortedDefKeys() {
		uses := g.usesOf.Values(defKey)
		if len(uses) == 0 {
			continue
		}
		ctx, name := designatorIDs(defKey.Designator)
		if err := e.EmitRecord(dependsID, codeDependsOnNode, []uint64{
			uint64(defKey.Designator.Kind), uint64(defKey.Aspect), uint64(ctx), uint64(name),
		}, nil, nil); err != nil {
			return nil, err
		}
		useSeqs := make([]int, 0, len(uses))
		for _, u := range uses {
			if seq, ok := sequence[u]; ok {
				useSeqs = append(useSeqs, seq)
			}
		}
		sort.Ints(useSeqs)
		for _, seq := range useSeqs {
			if err := e.EmitRecord(useID, codeUseIDNode, []uint64{uint64(seq)}, nil, nil); err != nil {
				return nil, err
			}
		}
	}

	externals := g.FingerprintedExternalDependencies()
	sort.Slice(externals, func(i, j int) bool {
		return g.tab.Lookup(externals[i].Dep.FileName) < g.tab.Lookup(externals[j].Dep.FileName)
	})
	for _, fed := range externals {
		var hasFP uint64
		var fp []byte
		if fed.HasFingerprint {
			hasFP = 1
			fp = []byte(fed.Fingerprint)
		}
		if err := e.EmitRecord(extID, codeExternalDepNode, []uint64{uint64(fed.Dep.FileName), hasFP}, nil, fp); err != nil {
			return nil, err
		}
	}

	inputs := append([]string{}, g.inputDependencySourceMap.Keys()...)
	sort.Strings(inputs)
	for _, input := range inputs {
		src, _ := g.inputDependencySourceMap.Get(input)
		inputID := g.tab.Intern(input)
		srcID := g.tab.Intern(src.Path)
		if err := e.EmitRecord(mapID, codeMapNode, []uint64{uint64(inputID), uint64(srcID)}, nil, nil); err != nil {
			return nil, err
		}
	}

	if err := e.EndBlock(); err != nil {
		return nil, err
	}
	return e.Finish()
}

type readState struct {
	tab         *strtab.Table
	graph       *Graph
	sawMetadata bool
	nodesBySeq  []*Node
	curDefKey   depkey.DependencyKey
	haveDefKey  bool
}

func (rs *readState) ValidateSignature(sig [4]byte) error {
	if sig != Signature {
		return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT001", "bad magic signature for module graph artifact"))
	}
	return nil
}

func (rs *readState) ShouldEnterBlock(id uint64) bool { return true }
func (rs *readState) OnBlockExit(id uint64) error     { return nil }

func (rs *readState) OnRecord(blockID uint64, code uint64, fields []uint64, arrayElems []uint64, blob []byte) error {
	switch code {
	case codeMetadata:
		if rs.sawMetadata {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT003", "metadata record appears more than once"))
		}
		if len(fields) != 2 || uint16(fields[0]) != formatMajor {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", swifterrors.FMT008, "mismatched serialized graph version"))
		}
		rs.sawMetadata = true

	case codeIdentifierNode:
		rs.tab.Intern(string(blob))

	case codeModuleDepGraphNode:
		if len(fields) != 7 {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "malformed moduleDepGraphNode record"))
		}
		kind := depkey.DesignatorKind(fields[0])
		aspect := depkey.Aspect(fields[1])
		context := strtab.Handle(fields[2])
		name := strtab.Handle(fields[3])
		hasSource := fields[4] != 0
		sourcePathID := strtab.Handle(fields[5])
		hasFingerprint := fields[6] != 0

		var designator depkey.Designator
		if kind == depkey.KindExternalDepend {
			designator = depkey.ExternalDepend(depkey.ExternalDependency{FileName: context})
		} else {
			designator = depkey.Designator{Kind: kind, Context: context, Name: name}
		}
		n := &Node{
			Key:            depkey.DependencyKey{Aspect: aspect, Designator: designator},
			HasFingerprint: hasFingerprint,
			Fingerprint:    string(blob),
		}
		var source DependencySource
		if hasSource {
			n.Known = true
			source = DependencySource{Path: rs.tab.Lookup(sourcePathID)}
			n.Source = source
		} else {
			source = unknownSource
		}
		rs.graph.InsertNode(source, n)
		rs.nodesBySeq = append(rs.nodesBySeq, n)

	case codeDependsOnNode:
		if len(fields) != 4 {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "malformed dependsOnNode record"))
		}
		kind := depkey.DesignatorKind(fields[0])
		aspect := depkey.Aspect(fields[1])
		context := strtab.Handle(fields[2])
		name := strtab.Handle(fields[3])
		var designator depkey.Designator
		if kind == depkey.KindExternalDepend {
			designator = depkey.ExternalDepend(depkey.ExternalDependency{FileName: context})
		} else {
			designator = depkey.Designator{Kind: kind, Context: context, Name: name}
		}
		rs.curDefKey = depkey.DependencyKey{Aspect: aspect, Designator: designator}
		rs.haveDefKey = true

	case codeUseIDNode:
		if !rs.haveDefKey || len(fields) != 1 {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "useIDNode without a preceding dependsOnNode"))
		}
		seq := int(fields[0])
		if seq < 0 || seq >= len(rs.nodesBySeq) {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "useIDNode references an out-of-range node sequence"))
		}
		rs.graph.AddUseEdge(rs.curDefKey, rs.nodesBySeq[seq])

	case codeExternalDepNode:
		if len(fields) != 2 {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "malformed externalDepNode record"))
		}
		dep := depkey.ExternalDependency{FileName: strtab.Handle(fields[0])}
		fed := depkey.FingerprintedExternalDependency{Dep: dep}
		if fields[1] != 0 {
			fed.HasFingerprint = true
			fed.Fingerprint = string(blob)
		}
		rs.graph.RegisterExternalDependency(fed)

	case codeMapNode:
		if len(fields) != 2 {
			return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "malformed mapNode record"))
		}
		input := rs.tab.Lookup(strtab.Handle(fields[0]))
		srcPath := rs.tab.Lookup(strtab.Handle(fields[1]))
		rs.graph.inputDependencySourceMap.Set(input, DependencySource{Path: srcPath})

	default:
		return swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT005", "unrecognized record code in module graph artifact"))
	}
	return nil
}

// Deserialize decodes a module dependency graph artifact previously
// produced by Serialize.
func Deserialize(data []byte, phase Phase) (*Graph, error) {
	tab := strtab.New()
	g := New(tab, phase)
	rs := &readState{tab: tab, graph: g}
	if err := bitstream.Decode(data, rs); err != nil {
		return nil, err
	}
	if !rs.sawMetadata {
		return nil, swifterrors.WrapReport(swifterrors.NewReport("moduledeps", "FMT003", "module graph artifact has no metadata record"))
	}
	return g, nil
}
