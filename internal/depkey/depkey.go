// Package depkey defines the dependency-key model shared by the module
// dependency graph, the integrator, and the bitstream codecs: the
// (aspect, designator) pair that identifies a node in the graph, and
// the external-dependency descriptors used for file/module-summary
// inputs outside the current module.
package depkey

import (
	"fmt"

	"github.com/sunholo/swiftinc/internal/strtab"
)

// Aspect distinguishes interface-affecting definitions (which force
// every user to rebuild when they change) from implementation-only
// definitions (which don't propagate past their immediate file).
type Aspect uint8

const (
	Interface Aspect = iota
	Implementation
)

func (a Aspect) String() string {
	switch a {
	case Interface:
		return "interface"
	case Implementation:
		return "implementation"
	default:
		return fmt.Sprintf("Aspect(%d)", uint8(a))
	}
}

// DesignatorKind tags which variant of Designator a value holds. The
// numeric values match the designator kind codes used by the
// bitstream encoding (§6.1's moduleDepGraphNode record).
type DesignatorKind uint8

const (
	KindTopLevel DesignatorKind = iota
	KindNominal
	KindPotentialMember
	KindMember
	KindDynamicLookup
	KindExternalDepend
	KindSourceFileProvide
)

func (k DesignatorKind) String() string {
	switch k {
	case KindTopLevel:
		return "topLevel"
	case KindNominal:
		return "nominal"
	case KindPotentialMember:
		return "potentialMember"
	case KindMember:
		return "member"
	case KindDynamicLookup:
		return "dynamicLookup"
	case KindExternalDepend:
		return "externalDepend"
	case KindSourceFileProvide:
		return "sourceFileProvide"
	default:
		return fmt.Sprintf("DesignatorKind(%d)", uint8(k))
	}
}

// Designator is one of the seven ways a dependency node can be named.
// Context and Name are interned string handles; which of them are
// populated depends on Kind (see ValidateShape).
//
//   - topLevel(name):           Name set,    Context empty
//   - dynamicLookup(name):      Name set,    Context empty
//   - nominal(context):         Context set, Name empty
//   - potentialMember(context): Context set, Name empty
//   - member(context, name):    both set
//   - sourceFileProvide(name):  Name set,    Context empty
//   - externalDepend(...):      neither; External is set instead
type Designator struct {
	Kind     DesignatorKind
	Context  strtab.Handle
	Name     strtab.Handle
	External ExternalDependency
}

// TopLevel builds a topLevel(name) designator.
func TopLevel(name strtab.Handle) Designator {
	return Designator{Kind: KindTopLevel, Name: name}
}

// DynamicLookup builds a dynamicLookup(name) designator.
func DynamicLookup(name strtab.Handle) Designator {
	return Designator{Kind: KindDynamicLookup, Name: name}
}

// Nominal builds a nominal(context) designator.
func Nominal(context strtab.Handle) Designator {
	return Designator{Kind: KindNominal, Context: context}
}

// PotentialMember builds a potentialMember(context) designator.
func PotentialMember(context strtab.Handle) Designator {
	return Designator{Kind: KindPotentialMember, Context: context}
}

// Member builds a member(context, name) designator.
func Member(context, name strtab.Handle) Designator {
	return Designator{Kind: KindMember, Context: context, Name: name}
}

// SourceFileProvide builds the synthetic source-file-as-a-whole designator.
func SourceFileProvide(name strtab.Handle) Designator {
	return Designator{Kind: KindSourceFileProvide, Name: name}
}

// ExternalDepend builds an externalDepend(dep) designator.
func ExternalDepend(dep ExternalDependency) Designator {
	return Designator{Kind: KindExternalDepend, External: dep}
}

// ValidateShape reports whether Context/Name/External are populated
// consistently with Kind, per the per-kind emptiness constraints in
// the data model.
func (d Designator) ValidateShape() error {
	hasContext := d.Context != strtab.Empty
	hasName := d.Name != strtab.Empty
	switch d.Kind {
	case KindTopLevel, KindDynamicLookup, KindSourceFileProvide:
		if hasContext {
			return fmt.Errorf("depkey: %s must not carry a context", d.Kind)
		}
		if !hasName {
			return fmt.Errorf("depkey: %s requires a name", d.Kind)
		}
	case KindNominal, KindPotentialMember:
		if hasName {
			return fmt.Errorf("depkey: %s must not carry a name", d.Kind)
		}
		if !hasContext {
			return fmt.Errorf("depkey: %s requires a context", d.Kind)
		}
	case KindMember:
		if !hasContext || !hasName {
			return fmt.Errorf("depkey: member requires both context and name")
		}
	case KindExternalDepend:
		if hasContext || hasName {
			return fmt.Errorf("depkey: externalDepend must not carry context or name")
		}
		if d.External.FileName == strtab.Empty {
			return fmt.Errorf("depkey: externalDepend requires a file name")
		}
	default:
		return fmt.Errorf("depkey: unknown designator kind %d", uint8(d.Kind))
	}
	return nil
}

// DependencyKey is the (aspect, designator) pair identifying a node in
// the module dependency graph. It is a plain comparable value, usable
// as a map key directly (ExternalDependency's bool field is the only
// non-comparable-by-value risk, and it is a plain bool so this holds).
type DependencyKey struct {
	Aspect     Aspect
	Designator Designator
}

func (k DependencyKey) String() string {
	return fmt.Sprintf("%s:%s", k.Aspect, k.Designator.Kind)
}

// ValidateInvariant enforces the one cross-cutting rule the data model
// states for keys in isolation: external-dependency designators are
// always interface aspect.
func (k DependencyKey) ValidateInvariant() error {
	if k.Designator.Kind == KindExternalDepend && k.Aspect != Interface {
		return fmt.Errorf("depkey: externalDepend key must be interface aspect, got %s", k.Aspect)
	}
	return k.Designator.ValidateShape()
}

// ExternalDependency identifies an artifact outside the current
// module: a header or an imported module. It is used as a pure key;
// IsModuleSummary is a cached classification, not derived state, and
// mod-time is queried lazily through the filesystem collaborator
// rather than stored here.
type ExternalDependency struct {
	FileName        strtab.Handle
	IsModuleSummary bool
}

// FingerprintedExternalDependency pairs an ExternalDependency with an
// optional content fingerprint. A non-empty fingerprint is only valid
// when the dependency is a module-summary artifact — a bridging header
// has no fingerprint to compare against.
type FingerprintedExternalDependency struct {
	Dep            ExternalDependency
	Fingerprint    string
	HasFingerprint bool
}

// Validate enforces that a fingerprint implies a module-summary dependency.
func (f FingerprintedExternalDependency) Validate() error {
	if f.HasFingerprint && !f.Dep.IsModuleSummary {
		return fmt.Errorf("depkey: fingerprinted external dependency must be a module summary")
	}
	return nil
}
