// Package bitstream implements an LLVM-style bitstream container: a
// signature, nested blocks identified by a VBR8 block id, abbreviation
// definitions, and records addressed by a per-block abbreviation id.
// It underlies both the persisted module dependency graph and the
// per-file dependency artifacts the frontend produces, so the two
// higher-level formats share one bit-level reader/writer.
package bitstream

import (
	"fmt"

	swifterrors "github.com/sunholo/swiftinc/internal/errors"
)

// Reserved abbreviation ids. User-defined abbreviations (from
// DEFINE_ABBREV, either block-local or inherited from BLOCKINFO) start
// at FirstApplicationAbbrevID.
const (
	AbbrevEndBlock            uint64 = 0
	AbbrevEnterSubblock       uint64 = 1
	AbbrevDefineAbbrev        uint64 = 2
	AbbrevUnabbreviatedRecord uint64 = 3
	FirstApplicationAbbrevID  uint64 = 4
)

// BlockInfoBlockID is the reserved block id (0) that carries global
// abbreviation and name metadata consumed by tooling, not content.
const BlockInfoBlockID uint64 = 0

// initialAbbrevWidth is the code width used to encode the very first
// ENTER_SUBBLOCK at the top of the stream, before any block has set a
// narrower or wider width of its own.
const initialAbbrevWidth uint = 2

// blockInfoSetBID is the BLOCKINFO record code that sets which block id
// subsequent DEFINE_ABBREV records within the BLOCKINFO block apply to.
const blockInfoSetBID uint64 = 1

// OperandKind enumerates the operand encodings an abbreviation operand
// can use.
type OperandKind uint8

const (
	OperandLiteral OperandKind = iota
	OperandFixed
	OperandVBR
	OperandArray
	OperandChar6
	OperandBlob
)

// Operand is one entry of an abbreviation's operand list. For Literal,
// Fixed, and VBR, Value carries the literal value or the bit width
// respectively. Array and Blob ignore Value. An Array operand must be
// immediately followed in the abbreviation's operand slice by exactly
// one more operand describing its element encoding (Fixed, VBR, or
// Char6); that is how LLVM bitstream itself represents array element
// types, and how DEFINE_ABBREV serializes them.
type Operand struct {
	Kind  OperandKind
	Value uint64
}

// Literal constructs a literal operand: not written to the record
// stream at all, just asserted implicitly by the abbreviation.
func Literal(v uint64) Operand { return Operand{Kind: OperandLiteral, Value: v} }

// Fixed constructs a fixed-width operand.
func Fixed(width uint64) Operand { return Operand{Kind: OperandFixed, Value: width} }

// VBR constructs a variable-bit-rate operand with the given chunk width.
func VBR(chunkWidth uint64) Operand { return Operand{Kind: OperandVBR, Value: chunkWidth} }

// Array constructs an array marker operand; it must be followed by one
// element-kind operand in the same abbreviation.
func Array() Operand { return Operand{Kind: OperandArray} }

// Char6 constructs a 6-bit packed character operand.
func Char6() Operand { return Operand{Kind: OperandChar6} }

// Blob constructs a length-prefixed, 32-bit-aligned raw byte operand.
func Blob() Operand { return Operand{Kind: OperandBlob} }

// Abbrev is an ordered list of operands describing how to pack and
// unpack one record shape.
type Abbrev struct {
	Operands []Operand
}

func newFormatError(code, msg string) error {
	return swifterrors.WrapReport(swifterrors.NewReport("bitstream", code, msg))
}

func char6Encode(c byte) (uint64, error) {
	switch {
	case c >= 'a' && c <= 'z':
		return uint64(c - 'a'), nil
	case c >= 'A' && c <= 'Z':
		return uint64(c-'A') + 26, nil
	case c >= '0' && c <= '9':
		return uint64(c-'0') + 52, nil
	case c == '.':
		return 62, nil
	case c == '_':
		return 63, nil
	default:
		return 0, newFormatError("FMT010", fmt.Sprintf("character %q is not representable in char6", c))
	}
}

func char6Decode(v uint64) byte {
	switch {
	case v < 26:
		return byte('a' + v)
	case v < 52:
		return byte('A' + (v - 26))
	case v < 62:
		return byte('0' + (v - 52))
	case v == 62:
		return '.'
	default:
		return '_'
	}
}
