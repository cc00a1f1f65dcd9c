// Command crucible is the runtime's entry point: it wires a
// RuntimeConfig-configured heap, model, process, and I/O engine together
// and bootstraps a compiled code block through run_code_block (spec.md
// §6's "Entry point").
//
// Grounded on the teacher's cmd/sentra/main.go, which dispatches a fixed
// set of subcommands (run, build, repl, test, …) by hand-rolled string
// comparison against os.Args. That dispatch style doesn't carry over
// here — this runtime has one real entry point, not a compiler pipeline
// with a dozen stages to expose — so the subcommand tree is rebuilt on
// github.com/spf13/cobra (the style _examples/saferwall-pe/cmd/pedumper.go
// uses) instead: a root command plus "run", "gc-stats", and "version"
// children, the same flag surface internal/config.Parse already defines
// reused verbatim rather than re-declared against cobra's own FlagSet.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"crucible/internal/config"
	"crucible/internal/heap"
	"crucible/internal/ioengine"
	"crucible/internal/object"
	"crucible/internal/process"
	"crucible/internal/rtlog"
	"crucible/internal/runtimeerr"
	"crucible/internal/species"
	"crucible/internal/value"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "crucible",
		Short:         "crucible runs compiled object-capability bytecode programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newGCStatsCommand(), newVersionCommand(), newDisasmCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the runtime version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// newRunCommand builds the "run" subcommand. It disables cobra's own flag
// parsing: everything after the bytecode file path is handed unparsed to
// internal/config.Parse, so the runtime's startup flags are declared in
// exactly one place.
func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "run <file> [flags]",
		Short:              "load a bytecode container and run it to completion",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, stats, err := runContainer(args[0], args[1:])
			if err != nil {
				return err
			}
			_ = stats
			fmt.Println(result.String())
			return nil
		},
	}
}

// newGCStatsCommand runs the same program as "run" but reports the
// collector's Stats as JSON instead of the program's result, the
// diagnostic surface internal/heap.Stats's doc comment names.
func newGCStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "gc-stats <file> [flags]",
		Short:              "run a bytecode container and report GC statistics",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stats, err := runContainer(args[0], args[1:])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

// runContainer parses flagArgs into a RuntimeConfig, builds a fresh
// runtime around it, loads path as a bytecode container, and runs it as
// the process's root task.
//
// This calls Process.RootTask.RunCodeBlock directly rather than going
// through OfferJob/RunNextJob: the job queue exists for a process to
// interleave many concurrently-scheduled code blocks (spec.md 4.5), but a
// CLI invocation has exactly one top-level program, so it bootstraps that
// program the same way a job's guard-free dequeue would, without the
// machinery for a queue of one.
func runContainer(path string, flagArgs []string) (value.Value, heap.Stats, error) {
	cfg, err := config.Parse(flagArgs)
	if err != nil {
		return value.Value{}, heap.Stats{}, err
	}

	colorize := isatty.IsTerminal(os.Stderr.Fd())
	logger, err := rtlog.New(rtlog.Config{Output: os.Stderr, JSON: !colorize})
	if err != nil {
		return value.Value{}, heap.Stats{}, err
	}
	restore := runtimeerr.InstallCrashHandler(func(signal, backtrace string) {
		logger.WithField("event", "crash").Errorf("%s\n%s", signal, backtrace)
	})
	defer runtimeerr.InstallCrashHandler(restore)

	reg := species.NewRegistry()
	h := heap.New(heap.Config{
		SemispaceSizeBytes: int(cfg.SemispaceSizeBytes),
		SystemMemoryLimit:  int(cfg.SystemMemoryLimit),
		GCFuzzFreq:         int(cfg.GCFuzzFreq),
		GCFuzzSeed:         int64(cfg.GCFuzzSeed),
	}, nil)
	m := object.NewModel(h, reg)

	wk, cond := m.NewWellKnownKeys()
	if cond.IsCondition() {
		return value.Value{}, heap.Stats{}, runtimeerr.New(runtimeerr.HeapError, "failed to bootstrap well-known keys")
	}

	proc, cond := process.NewProcess(m, wk, uint32(cfg.RandomSeed), 16)
	if cond.IsCondition() {
		return value.Value{}, heap.Stats{}, runtimeerr.New(runtimeerr.HeapError, "failed to allocate process")
	}

	engine := ioengine.New(ioengine.Config{}, m, proc.Airlock, logger)
	defer engine.Shutdown()

	codeBlock, err := loadCodeBlock(m, path)
	if err != nil {
		return value.Value{}, heap.Stats{}, err
	}

	result, runCond := proc.RootTask.RunCodeBlock(codeBlock, value.Nothing)
	proc.DeliverOutstandingResults()
	if runCond.IsCondition() {
		return value.Value{}, h.Stats, fmt.Errorf("run_code_block failed: %s", runCond.String())
	}
	return result, h.Stats, nil
}
