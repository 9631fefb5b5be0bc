// Package assert provides the always-on invariant check spec.md §5/§7
// calls "the ensure macro (equivalently, an always-on assertion
// primitive)": it panics with a file/line-tagged diagnostic on contract
// violations. It is never gated behind a build tag, unlike global_hash.
package assert

import (
	"fmt"
	"runtime"
)

// Invariant panics with a file/line-tagged message if cond is false. Use
// it only for bugs that would otherwise silently corrupt the replicated
// partition map (duplicate-free neighbor lists, half-shell index bounds,
// descriptor reciprocity) — never for host input validation, which
// returns an error instead.
func Invariant(cond bool, format string, args ...any) {
	if cond {
		return
	}
	_, file, line, ok := runtime.Caller(1)
	msg := fmt.Sprintf(format, args...)
	if ok {
		panic(fmt.Sprintf("repa: invariant violated at %s:%d: %s", file, line, msg))
	}
	panic(fmt.Sprintf("repa: invariant violated: %s", msg))
}
