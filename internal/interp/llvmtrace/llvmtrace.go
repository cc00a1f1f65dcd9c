// Package llvmtrace is an optional, diagnostics-only bytecode-to-LLVM-IR
// tracer: given a decoded Code, it builds an LLVM IR module annotating
// each instruction as a call to a declared `@crucible.trace` intrinsic, so
// a code block can be inspected with ordinary LLVM tooling (llvm-as,
// opt -S, llvm-dis) instead of a bespoke disassembly format. It never
// compiles or executes anything — the runtime's Non-goals rule out a
// JIT — and nothing on internal/interp's hot path imports this package;
// it is reached only from the `crucible disasm --llvm` CLI diagnostic.
//
// Grounded on the teacher's internal/jit package, which names the shape
// ("Compiler", "CompiledFunction", tiered compilation) this runtime's
// Non-goals explicitly exclude; llvmtrace keeps the teacher's idea of one
// compiled-artifact-per-code-block but retargets it from a code generator
// to a textual annotation tool built on github.com/llir/llvm.
package llvmtrace

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/mewmew/float"

	"crucible/internal/interp"
)

// Tracer accumulates one LLVM IR module's worth of annotated code blocks,
// one ir.Func per traced Code.
type Tracer struct {
	Module  *ir.Module
	traceFn *ir.Func
}

// New declares the single `@crucible.trace(i32 opcode, i32 pc)` external
// function every traced instruction calls out to (a declaration, not a
// definition — it has no basic blocks, so it prints as `declare`), and
// returns a Tracer ready to accept code blocks.
func New() *Tracer {
	m := ir.NewModule()
	fn := m.NewFunc("crucible.trace", types.Void,
		ir.NewParam("opcode", types.I32),
		ir.NewParam("pc", types.I32),
	)
	return &Tracer{Module: m, traceFn: fn}
}

// Trace appends one function named name to t.Module: a single basic block
// with one call to the trace intrinsic per instruction in code, in
// program order, each call's arguments naming that instruction's opcode
// and program counter. Returns the function so a caller can print just
// it, or print t.Module as a whole for every block traced so far in this
// session.
func (t *Tracer) Trace(name string, code *interp.Code) (*ir.Func, error) {
	fn := t.Module.NewFunc(name, types.Void)
	block := fn.NewBlock("entry")

	for pc := 0; pc < len(code.Shorts); {
		ins, err := code.Fetch(pc)
		if err != nil {
			return nil, fmt.Errorf("llvmtrace: failed to decode instruction at pc %d: %w", pc, err)
		}
		block.NewCall(t.traceFn,
			constant.NewInt(types.I32, int64(ins.Op)),
			constant.NewInt(types.I32, int64(pc)),
		)
		pc += ins.Width
	}
	block.NewRet(nil)
	return fn, nil
}

// DescribeFloat32 renders f in LLVM IR's hexadecimal floating-point
// constant syntax — `float`-typed constants always print as a 64-bit-wide
// hex pattern in LLVM IR text, not the shortest round-tripping decimal
// Go's fmt package would produce — via the same mewmew/float routines
// llir/llvm's own constant printer uses internally. Used by `disasm
// --llvm` to annotate a LoadConstant instruction whose value-pool entry
// is a Float32, since the trace call itself only carries integer opcode
// and pc operands.
func DescribeFloat32(f float32) string {
	return float.ToFloat32String(big.NewFloat(float64(f)))
}
