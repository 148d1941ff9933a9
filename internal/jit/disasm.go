package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/mellow-hype/rvfuzz/internal/rvlog"
)

// traceCompiled decodes code back to Intel-syntax text and logs it under the
// compiled function's entry address, for the "-f" full-trace path (spec
// section 6). It is best-effort: a decode failure partway through a buffer
// (padding bytes, an encoder bug) truncates the listing rather than aborting
// compilation.
func traceCompiled(guestAddr uint64, code []byte) {
	if rvlog.L == nil {
		return
	}
	var lines []string
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			lines = append(lines, fmt.Sprintf("  %#04x: <decode error: %v>", off, err))
			break
		}
		lines = append(lines, fmt.Sprintf("  %#04x: %s", off, x86asm.IntelSyntax(inst, 0, nil)))
		off += inst.Len
	}
	rvlog.L.Sugar().Debugw("jit compiled function",
		"guest_addr", fmt.Sprintf("%#x", guestAddr),
		"host_bytes", len(code),
		"listing", strings.Join(lines, "\n"),
	)
}
