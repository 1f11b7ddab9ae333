//go:build !swiftinc_debug

package guard

// assertWritingPrecondition is a no-op in release builds; see
// guard_debug.go for the assertion that actually runs.
func assertWritingPrecondition(*State) {}
