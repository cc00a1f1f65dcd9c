// Package interp implements spec.md 4.4's bytecode interpreter: the
// opcode loop, the code cache, the GC-exhaustion and ForceValidate
// protocols, and the native-side state (closure registry, stack, barrier
// chain, globals) a running process needs that isn't itself a heap value.
//
// Grounded on the teacher's internal/vm/vm.go Run loop (a frame-at-a-time
// switch over bytecode.OpCode, hot-path arithmetic inlined, bounds and
// program-counter checks before each fetch) and
// original_source/src/c/interp.c's opcode dispatch and the GC-exhaustion
// retry wrapper around it. The value-pool/tag-lookup plumbing reuses
// internal/dispatch and internal/object directly rather than re-deriving
// method lookup here.
package interp

import "fmt"

// Op is one bytecode instruction (spec.md 4.4's opcode list, abstracted).
type Op byte

const (
	OpPush Op = iota
	OpPop
	OpSlap
	OpCheckStackHeight
	OpNewArray
	OpNewReference
	OpSetReference
	OpGetReference
	OpCreateCallData

	OpLoadLocal
	OpLoadArgument
	OpLoadRawArgument
	OpLoadGlobal

	OpLoadRefractedArgument
	OpLoadRefractedLocal
	OpLoadRefractedCapture
	OpLoadLambdaCapture

	OpInvoke

	OpSignalContinue
	OpSignalEscape

	OpLambda
	OpCreateBlock

	OpCreateEscape
	OpFireEscapeOrBarrier
	OpDisposeEscape

	OpCreateEnsurer
	OpCallEnsurer
	OpDisposeEnsurer

	OpInstallSignalHandler
	OpUninstallSignalHandler
	OpLeaveOrFireBarrier

	OpDelegateToLambda
	OpDelegateToBlock

	OpGoto
	OpReturn
	OpStackBottom
	OpStackPieceBottom
	OpBuiltin
	OpBuiltinMaybeEscape

	OpModuleFragmentPrivateInvoke

	opCount
)

var opNames = [...]string{
	"Push", "Pop", "Slap", "CheckStackHeight", "NewArray", "NewReference",
	"SetReference", "GetReference", "CreateCallData",
	"LoadLocal", "LoadArgument", "LoadRawArgument", "LoadGlobal",
	"LoadRefractedArgument", "LoadRefractedLocal", "LoadRefractedCapture", "LoadLambdaCapture",
	"Invoke",
	"SignalContinue", "SignalEscape",
	"Lambda", "CreateBlock",
	"CreateEscape", "FireEscapeOrBarrier", "DisposeEscape",
	"CreateEnsurer", "CallEnsurer", "DisposeEnsurer",
	"InstallSignalHandler", "UninstallSignalHandler", "LeaveOrFireBarrier",
	"DelegateToLambda", "DelegateToBlock",
	"Goto", "Return", "StackBottom", "StackPieceBottom", "Builtin", "BuiltinMaybeEscape",
	"ModuleFragmentPrivateInvoke",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// operandKind tags one operand short: either a raw signed immediate, or an
// index into the code block's value pool (spec.md 4.4: "Operands that
// reference values index into the code block's value-pool array").
type operandKind int

const (
	immediate operandKind = iota
	poolRef
)

// operandSpec lists each opcode's operand shorts in encoding order. The
// instruction's total width in shorts is 1 (the opcode itself) + len(spec).
var operandSpecs = [opCount][]operandKind{
	OpPush:                   {poolRef},
	OpPop:                    {immediate},
	OpSlap:                   {immediate},
	OpCheckStackHeight:       {immediate},
	OpNewArray:               {immediate},
	OpNewReference:           {},
	OpSetReference:           {},
	OpGetReference:           {},
	OpCreateCallData:         {immediate},
	OpLoadLocal:              {immediate},
	OpLoadArgument:           {immediate},
	OpLoadRawArgument:        {immediate},
	OpLoadGlobal:             {poolRef, poolRef}, // path, fragment (resolved methodspace/global-table constant)
	OpLoadRefractedArgument:  {immediate, immediate}, // param_index, block_depth
	OpLoadRefractedLocal:     {immediate, immediate}, // i, block_depth
	OpLoadRefractedCapture:   {immediate, immediate}, // i, block_depth
	OpLoadLambdaCapture:      {immediate},
	OpInvoke:                 {poolRef, poolRef}, // tags (or Nothing for a dynamic CreateCallData call), fragment methodspace
	OpSignalContinue:         {poolRef},
	OpSignalEscape:           {poolRef},
	OpLambda:                 {poolRef, immediate}, // space, n_captures
	OpCreateBlock:            {poolRef},
	OpCreateEscape:           {immediate}, // dest_offset
	OpFireEscapeOrBarrier:    {},
	OpDisposeEscape:          {},
	OpCreateEnsurer:          {poolRef},
	OpCallEnsurer:            {},
	OpDisposeEnsurer:         {},
	OpInstallSignalHandler:   {poolRef, immediate}, // space, dest_offset
	OpUninstallSignalHandler: {},
	OpLeaveOrFireBarrier:     {immediate}, // argc
	OpDelegateToLambda:       {},
	OpDelegateToBlock:        {},
	OpGoto:                   {immediate}, // delta
	OpReturn:                 {},
	OpStackBottom:            {},
	OpStackPieceBottom:       {},
	OpBuiltin:                {poolRef},
	OpBuiltinMaybeEscape:     {poolRef, immediate}, // wrapper, dest_offset
	OpModuleFragmentPrivateInvoke: {poolRef, poolRef}, // tags, fragment methodspace
}

// Width reports op's total instruction width in 16-bit shorts.
func (op Op) Width() int { return 1 + len(operandSpecs[op]) }
