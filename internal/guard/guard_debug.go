//go:build swiftinc_debug

package guard

// assertWritingPrecondition aborts if s is not currently held for
// writing. Only compiled into debug builds (tag swiftinc_debug); the
// expensive check on every guarded mutation isn't worth paying in a
// release build that trusts its own call sites.
func assertWritingPrecondition(s *State) {
	if !s.writeHeld {
		panic("guard: MustBeWriting called outside a Write barrier")
	}
}
