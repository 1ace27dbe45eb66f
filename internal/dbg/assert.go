// Package dbg holds debug-only assertions, switched on at run time by an
// environment variable. They exist to catch invariant violations during
// development and testing; when switched off an assertion does nothing.
package dbg

import "os"

// Enabled gates Assert; set CHAINKIT_DEBUG to any non-empty value to turn
// assertions on. Off by default, read once at process start.
var Enabled = os.Getenv("CHAINKIT_DEBUG") != ""

// Assert panics with msg if cond is false and debug assertions are
// enabled. Used for invariants that are expensive to check on every call
// (e.g. the parked pool's by-id/best bijection) but worth verifying under
// test.
func Assert(cond bool, msg string) {
	if Enabled && !cond {
		panic("assertion failed: " + msg)
	}
}
