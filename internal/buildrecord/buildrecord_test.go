package buildrecord

import (
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/sunholo/swiftinc/internal/errors"
)

func sampleRecord() *BuildRecord {
	r := New("swiftinc-1.0", HashArgs([]string{"-O", "-whole-module"}))
	r.BuildStartTime = ModTime{Seconds: 1000, Nanoseconds: 1}
	r.BuildEndTime = ModTime{Seconds: 1005, Nanoseconds: 2}
	r.Inputs["a.swift"] = InputInfo{Status: UpToDate, PreviousModTime: ModTime{Seconds: 900}}
	r.Inputs["b.swift"] = InputInfo{Status: NeedsCascadingBuild, PreviousModTime: ModTime{Seconds: 901}}
	r.Inputs["c.swift"] = InputInfo{Status: NeedsNonCascadingBuild, PreviousModTime: ModTime{Seconds: 902}}
	return r
}

func TestMarshalUsesTagsForStatus(t *testing.T) {
	r := sampleRecord()
	data, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)

	if !strings.Contains(out, "a.swift: [900, 0]") {
		t.Errorf("upToDate input should have no tag, got:\n%s", out)
	}
	if !strings.Contains(out, "b.swift: !dirty [901, 0]") {
		t.Errorf("needsCascadingBuild input should be tagged !dirty, got:\n%s", out)
	}
	if !strings.Contains(out, "c.swift: !private [902, 0]") {
		t.Errorf("needsNonCascadingBuild input should be tagged !private, got:\n%s", out)
	}
}

func TestRoundTripWithoutNewlyAdded(t *testing.T) {
	r := sampleRecord()
	data, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got := &BuildRecord{}
	if err := yaml.Unmarshal(data, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.SwiftVersion != r.SwiftVersion || got.ArgsHash != r.ArgsHash {
		t.Errorf("version/hash mismatch: got %+v", got)
	}
	if got.BuildStartTime != r.BuildStartTime || got.BuildEndTime != r.BuildEndTime {
		t.Errorf("timestamps mismatch: got %+v want %+v", got, r)
	}
	for path, want := range r.Inputs {
		gotInfo, ok := got.Inputs[path]
		if !ok {
			t.Fatalf("missing input %q after round-trip", path)
		}
		if gotInfo != want {
			t.Errorf("input %q = %+v, want %+v", path, gotInfo, want)
		}
	}
}

func TestNewlyAddedAliasesToNeedsCascadingBuildOnRead(t *testing.T) {
	r := New("swiftinc-1.0", "")
	r.Inputs["new.swift"] = InputInfo{Status: NewlyAdded, PreviousModTime: ModTime{Seconds: 5}}

	data, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "!dirty") {
		t.Fatalf("newlyAdded should serialize under the !dirty tag, got:\n%s", data)
	}

	got := &BuildRecord{}
	if err := yaml.Unmarshal(data, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Inputs["new.swift"].Status != NeedsCascadingBuild {
		t.Errorf("status = %v, want NeedsCascadingBuild (the ambiguous read-back alias)", got.Inputs["new.swift"].Status)
	}
}

func TestMissingArgsHashToleratedForLegacy(t *testing.T) {
	legacy := []byte("version: swiftinc-1.0\n" +
		"build_start_time: [1, 0]\n" +
		"build_end_time: [2, 0]\n" +
		"inputs:\n  a.swift: [1, 0]\n")

	got := &BuildRecord{}
	if err := yaml.Unmarshal(legacy, got); err != nil {
		t.Fatalf("Unmarshal legacy record without options: %v", err)
	}
	if got.ArgsHash != "" {
		t.Errorf("ArgsHash = %q, want empty for a legacy record", got.ArgsHash)
	}
}

func TestUnknownKeyIsAnError(t *testing.T) {
	data := []byte("version: swiftinc-1.0\n" +
		"build_start_time: [1, 0]\n" +
		"build_end_time: [2, 0]\n" +
		"inputs: {}\n" +
		"bogus_key: true\n")

	got := &BuildRecord{}
	if err := yaml.Unmarshal(data, got); err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestLoadMissingFileReportsOP001(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing build record")
	}
	if rep, ok := errors.AsReport(err); !ok || rep.Code != errors.OP001 {
		t.Errorf("error = %v, want an %s report", err, errors.OP001)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	r := sampleRecord()
	path := filepath.Join(t.TempDir(), "build.swiftinc.yaml")
	if err := Save(r, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SwiftVersion != r.SwiftVersion {
		t.Errorf("SwiftVersion = %q, want %q", got.SwiftVersion, r.SwiftVersion)
	}
	if len(got.Inputs) != len(r.Inputs) {
		t.Errorf("Inputs len = %d, want %d", len(got.Inputs), len(r.Inputs))
	}
}

func TestCheckCompatibleRejectsVersionAndHashMismatch(t *testing.T) {
	r := sampleRecord()

	if err := r.CheckCompatible(r.SwiftVersion, r.ArgsHash); err != nil {
		t.Errorf("expected a matching version/hash to be compatible, got %v", err)
	}
	if err := r.CheckCompatible("swiftinc-2.0", r.ArgsHash); err == nil {
		t.Error("expected a version mismatch to be rejected")
	}
	if err := r.CheckCompatible(r.SwiftVersion, "deadbeef"); err == nil {
		t.Error("expected an args hash mismatch to be rejected")
	}
}

func TestCheckCompatibleToleratesMissingLegacyHash(t *testing.T) {
	r := sampleRecord()
	r.ArgsHash = ""
	if err := r.CheckCompatible(r.SwiftVersion, "whatever-the-current-hash-is"); err != nil {
		t.Errorf("a legacy record with no args hash should be tolerated, got %v", err)
	}
}

func TestDisappearedInputs(t *testing.T) {
	r := sampleRecord()
	gone := r.DisappearedInputs([]string{"a.swift", "c.swift"})
	if len(gone) != 1 || gone[0] != "b.swift" {
		t.Errorf("DisappearedInputs = %v, want [b.swift]", gone)
	}
}

func TestHashArgsIsDeterministicAndOrderSensitive(t *testing.T) {
	h1 := HashArgs([]string{"-O", "-whole-module"})
	h2 := HashArgs([]string{"-O", "-whole-module"})
	h3 := HashArgs([]string{"-whole-module", "-O"})
	if h1 != h2 {
		t.Errorf("HashArgs should be deterministic for the same input")
	}
	if h1 == h3 {
		t.Errorf("HashArgs should be sensitive to option order")
	}
}
