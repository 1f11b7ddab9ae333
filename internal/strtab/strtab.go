// Package strtab provides an interned string table: stable small
// integer handles for repeated strings (paths, mangled identifiers,
// context strings) so the rest of the incremental core can compare
// and hash handles instead of strings.
//
// Every string is NFC-normalized before interning, the same boundary
// normalization internal/lexer/normalize.go performs on source text in
// the teacher repo, so that two byte-distinct but canonically equal
// strings collapse onto one handle.
package strtab

import (
	"golang.org/x/text/unicode/norm"
)

// Handle is a stable small integer identifying an interned string.
// Handle zero is reserved for the empty string (§4.C4's "hard-coded
// index 0 = empty string").
type Handle uint32

// Empty is the handle for the empty string, always present at index 0.
const Empty Handle = 0

// Table is an interned string table. The zero value is not usable;
// construct with New.
type Table struct {
	strings []string
	index   map[string]Handle
}

// New creates a Table with the empty string pre-interned at handle 0.
func New() *Table {
	t := &Table{
		strings: make([]string, 0, 64),
		index:   make(map[string]Handle, 64),
	}
	t.strings = append(t.strings, "")
	t.index[""] = Empty
	return t
}

// Intern normalizes s and returns its stable handle, assigning a new
// one if this is the first occurrence.
func (t *Table) Intern(s string) Handle {
	s = normalize(s)
	if h, ok := t.index[s]; ok {
		return h
	}
	h := Handle(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = h
	return h
}

// Lookup returns the string for a handle. Panics on an out-of-range
// handle, since handles are only ever produced by Intern or a
// validated decode — an out-of-range handle is a corrupt artifact the
// caller should have rejected earlier.
func (t *Table) Lookup(h Handle) string {
	return t.strings[h]
}

// TryLookup is the non-panicking form, for callers decoding untrusted
// bitstream input where an out-of-range handle is a format error
// rather than a logic bug.
func (t *Table) TryLookup(h Handle) (string, bool) {
	if int(h) < 0 || int(h) >= len(t.strings) {
		return "", false
	}
	return t.strings[h], true
}

// Len returns the number of interned strings, including the empty string.
func (t *Table) Len() int {
	return len(t.strings)
}

// All returns the interned strings in handle order, for serialization.
func (t *Table) All() []string {
	out := make([]string, len(t.strings))
	copy(out, t.strings)
	return out
}

// normalize applies NFC normalization, skipping the (common) case
// where the input is already normalized to avoid an allocation.
func normalize(s string) string {
	b := []byte(s)
	if norm.NFC.IsNormal(b) {
		return s
	}
	return string(norm.NFC.Bytes(b))
}
