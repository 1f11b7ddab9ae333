// Package buildrecord implements the persisted build record (§6.3):
// the compiler version, the hash of the incremental-relevant option
// set, build start/end timestamps, and a per-input status/mod-time
// table used to decide what the next build can skip. The on-disk
// shape is YAML, with input status encoded as a YAML tag on the
// mod-time sequence rather than a separate field, matching the
// legacy key-value format the spec requires byte-for-byte.
package buildrecord

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sunholo/swiftinc/internal/errors"
)

// InputStatus classifies what the previous build recorded about one
// input, ordered least to greatest downstream impact.
type InputStatus int

const (
	UpToDate InputStatus = iota
	NeedsNonCascadingBuild
	NeedsCascadingBuild
	NewlyAdded
)

func (s InputStatus) String() string {
	switch s {
	case UpToDate:
		return "upToDate"
	case NeedsNonCascadingBuild:
		return "needsNonCascadingBuild"
	case NeedsCascadingBuild:
		return "needsCascadingBuild"
	case NewlyAdded:
		return "newlyAdded"
	default:
		return fmt.Sprintf("InputStatus(%d)", int(s))
	}
}

// ModTime is a [seconds, nanoseconds] pair, the wire shape §6.3 uses
// for both build_start_time/build_end_time and per-input mod-times.
type ModTime struct {
	Seconds     int64
	Nanoseconds int64
}

// InputInfo is one input's recorded status and the mod-time it had
// the last time that status was recorded.
type InputInfo struct {
	Status          InputStatus
	PreviousModTime ModTime
}

// BuildRecord is the full persisted state from one build, consulted
// by the planner (C10) at the start of the next one.
type BuildRecord struct {
	SwiftVersion   string
	ArgsHash       string // hex SHA-256; empty is tolerated on read for legacy records
	BuildStartTime ModTime
	BuildEndTime   ModTime
	Inputs         map[string]InputInfo
}

// New starts an empty record for the given compiler version and args
// hash; callers fill in timestamps and Inputs as the build proceeds.
func New(swiftVersion, argsHash string) *BuildRecord {
	return &BuildRecord{
		SwiftVersion: swiftVersion,
		ArgsHash:     argsHash,
		Inputs:       make(map[string]InputInfo),
	}
}

// HashArgs computes §6.3's "options" value: hex of SHA-256 of the
// concatenated descriptions of options affecting incremental builds,
// in the order supplied, each followed by a NUL byte. Input file paths
// are not among these options.
func HashArgs(descriptions []string) string {
	h := sha256.New()
	for _, d := range descriptions {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

const (
	keyVersion        = "version"
	keyOptions        = "options"
	keyBuildStartTime = "build_start_time"
	keyBuildEndTime   = "build_end_time"
	keyInputs         = "inputs"

	tagDirty   = "!dirty"
	tagPrivate = "!private"
)

func modTimeNode(mt ModTime, tag string) *yaml.Node {
	n := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Tag:     "!!seq",
		Style:   yaml.FlowStyle,
		Content: []*yaml.Node{scalar(mt.Seconds), scalar(mt.Nanoseconds)},
	}
	if tag != "" {
		n.Tag = tag
	}
	return n
}

func scalar(v int64) *yaml.Node {
	n := &yaml.Node{}
	_ = n.Encode(v)
	return n
}

// MarshalYAML implements the custom §6.3 wire shape: a flat mapping
// with build_start_time/build_end_time as two-integer sequences and
// inputs as a mapping of path to a mod-time sequence tagged with the
// input's status (no tag for upToDate, !dirty for needsCascadingBuild
// and newlyAdded alike, !private for needsNonCascadingBuild).
func (r *BuildRecord) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	addScalar := func(key, val string) {
		k := &yaml.Node{}
		_ = k.Encode(key)
		v := &yaml.Node{}
		_ = v.Encode(val)
		root.Content = append(root.Content, k, v)
	}
	addNode := func(key string, val *yaml.Node) {
		k := &yaml.Node{}
		_ = k.Encode(key)
		root.Content = append(root.Content, k, val)
	}

	addScalar(keyVersion, r.SwiftVersion)
	if r.ArgsHash != "" {
		addScalar(keyOptions, r.ArgsHash)
	}
	addNode(keyBuildStartTime, modTimeNode(r.BuildStartTime, ""))
	addNode(keyBuildEndTime, modTimeNode(r.BuildEndTime, ""))

	paths := make([]string, 0, len(r.Inputs))
	for p := range r.Inputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputsNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range paths {
		info := r.Inputs[p]
		tag := ""
		switch info.Status {
		case NeedsCascadingBuild, NewlyAdded:
			tag = tagDirty
		case NeedsNonCascadingBuild:
			tag = tagPrivate
		}
		pk := &yaml.Node{}
		_ = pk.Encode(p)
		inputsNode.Content = append(inputsNode.Content, pk, modTimeNode(info.PreviousModTime, tag))
	}
	addNode(keyInputs, inputsNode)

	return root, nil
}

// UnmarshalYAML decodes §6.3's wire shape, rejecting unknown keys and
// tolerating a missing "options" key for legacy compatibility. A
// !dirty tag always decodes to NeedsCascadingBuild: the format cannot
// distinguish it from NewlyAdded once written (§9 open question 2).
func (r *BuildRecord) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "build record root is not a mapping"))
	}

	r.Inputs = make(map[string]InputInfo)
	var sawVersion bool

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case keyVersion:
			if err := val.Decode(&r.SwiftVersion); err != nil {
				return err
			}
			sawVersion = true
		case keyOptions:
			if err := val.Decode(&r.ArgsHash); err != nil {
				return err
			}
		case keyBuildStartTime:
			mt, err := decodeModTime(val)
			if err != nil {
				return err
			}
			r.BuildStartTime = mt
		case keyBuildEndTime:
			mt, err := decodeModTime(val)
			if err != nil {
				return err
			}
			r.BuildEndTime = mt
		case keyInputs:
			if err := decodeInputs(val, r.Inputs); err != nil {
				return err
			}
		default:
			return errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "unknown build record key: "+key).WithData("key", key))
		}
	}

	if !sawVersion {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "build record missing required version key"))
	}
	return nil
}

func decodeModTime(n *yaml.Node) (ModTime, error) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 {
		return ModTime{}, errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "mod-time is not a two-integer sequence"))
	}
	var sec, nsec int64
	if err := n.Content[0].Decode(&sec); err != nil {
		return ModTime{}, err
	}
	if err := n.Content[1].Decode(&nsec); err != nil {
		return ModTime{}, err
	}
	return ModTime{Seconds: sec, Nanoseconds: nsec}, nil
}

func decodeInputs(n *yaml.Node, out map[string]InputInfo) error {
	if n.Kind != yaml.MappingNode {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "inputs is not a mapping"))
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		var path string
		if err := n.Content[i].Decode(&path); err != nil {
			return err
		}
		valNode := n.Content[i+1]
		mt, err := decodeModTime(valNode)
		if err != nil {
			return err
		}
		status := statusFromTag(valNode.Tag)
		out[path] = InputInfo{Status: status, PreviousModTime: mt}
	}
	return nil
}

func statusFromTag(tag string) InputStatus {
	switch tag {
	case tagDirty:
		return NeedsCascadingBuild
	case tagPrivate:
		return NeedsNonCascadingBuild
	default:
		return UpToDate
	}
}

// Decode parses a build record already read from wherever it lives —
// real disk, an in-memory fake filesystem, a network fetch — so
// callers that go through the fsio.FileSystem collaborator rather
// than bare os calls can still reuse this package's parsing.
func Decode(data []byte) (*BuildRecord, error) {
	r := &BuildRecord{}
	if err := yaml.Unmarshal(data, r); err != nil {
		if _, ok := errors.AsReport(err); ok {
			return nil, err
		}
		return nil, errors.WrapReport(errors.NewReport("buildrecord", errors.FMT003, "malformed build record: "+err.Error()))
	}
	return r, nil
}

// Encode marshals r to its §6.3 YAML wire shape without touching disk.
func Encode(r *BuildRecord) ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.WrapReport(errors.NewReport("buildrecord", errors.OP003, "could not marshal build record: "+err.Error()))
	}
	return data, nil
}

// Load reads and parses a build record from path on the real
// filesystem. A missing file is reported as OP001 (no build record
// path / none present yet); a malformed one surfaces the FMT003
// produced by Decode. Callers routing file access through
// fsio.FileSystem (e.g. for testability) should call Decode directly
// against bytes from their own FileSystem.ReadFile instead.
func Load(path string) (*BuildRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapReport(errors.NewReport("buildrecord", errors.OP001, "no build record at "+path).WithInput(path))
		}
		return nil, errors.WrapReport(errors.NewReport("buildrecord", errors.OP002, "could not read build record: "+err.Error()).WithInput(path))
	}

	r, err := Decode(data)
	if err != nil {
		if rep, ok := errors.AsReport(err); ok {
			return nil, errors.WrapReport(rep.WithInput(path))
		}
		return nil, err
	}
	return r, nil
}

// Save marshals r to path as YAML, matching §6.3's on-disk shape.
func Save(r *BuildRecord, path string) error {
	data, err := Encode(r)
	if err != nil {
		if rep, ok := errors.AsReport(err); ok {
			return errors.WrapReport(rep.WithInput(path))
		}
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.OP003, "could not write build record: "+err.Error()).WithInput(path))
	}
	return nil
}

// CheckCompatible reports the operational errors §7 attaches to a
// stale or mismatched prior record: an incompatible compiler version
// disables incremental mode entirely (OP004), as does a changed args
// hash (OP005, unless the prior record has none — legacy tolerance).
func (r *BuildRecord) CheckCompatible(currentVersion, currentArgsHash string) error {
	if r.SwiftVersion != currentVersion {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.OP004,
			fmt.Sprintf("build record compiler version %q does not match %q", r.SwiftVersion, currentVersion)))
	}
	if r.ArgsHash != "" && r.ArgsHash != currentArgsHash {
		return errors.WrapReport(errors.NewReport("buildrecord", errors.OP005,
			"build record args hash does not match the current option set"))
	}
	return nil
}

// DisappearedInputs returns the paths present in r.Inputs but absent
// from currentInputs, sorted, for the OP006 "disappearedInputs" error.
func (r *BuildRecord) DisappearedInputs(currentInputs []string) []string {
	present := make(map[string]bool, len(currentInputs))
	for _, p := range currentInputs {
		present[p] = true
	}
	var gone []string
	for p := range r.Inputs {
		if !present[p] {
			gone = append(gone, p)
		}
	}
	sort.Strings(gone)
	return gone
}
