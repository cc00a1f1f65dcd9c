package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crucible/internal/heap"
	"crucible/internal/interp"
	"crucible/internal/interp/llvmtrace"
	"crucible/internal/object"
	"crucible/internal/species"
)

// newDisasmCommand builds the "disasm" subcommand: a read-only listing of
// a bytecode container's instructions, either as plain opcode mnemonics
// or, with --llvm, as an LLVM IR module via internal/interp/llvmtrace.
// Nothing here executes the program.
func newDisasmCommand() *cobra.Command {
	var llvm bool
	cmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "list a bytecode container's instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := species.NewRegistry()
			h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 20}, nil)
			m := object.NewModel(h, reg)

			codeBlock, err := loadCodeBlock(m, args[0])
			if err != nil {
				return err
			}
			code := interp.LoadCode(m, codeBlock)

			if llvm {
				tr := llvmtrace.New()
				if _, err := tr.Trace("entry_point", code); err != nil {
					return err
				}
				fmt.Println(tr.Module.String())
				return nil
			}
			return printPlainDisasm(code)
		},
	}
	cmd.Flags().BoolVar(&llvm, "llvm", false, "emit an annotated LLVM IR module instead of plain mnemonics")
	return cmd
}

func printPlainDisasm(code *interp.Code) error {
	for pc := 0; pc < len(code.Shorts); {
		ins, err := code.Fetch(pc)
		if err != nil {
			return err
		}
		fmt.Printf("%04d  %-28s %v\n", pc, ins.Op, ins.Operands)
		pc += ins.Width
	}
	return nil
}
