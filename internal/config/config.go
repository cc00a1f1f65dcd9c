// Package config loads the runtime's startup configuration (spec.md §6,
// "Runtime configuration"): semispace size, memory limits, GC fuzzing
// knobs, plugin paths, the file-system collaborator to wire, and the
// random seed.
//
// The teacher's cmd/sentra/main.go and cmd/sentra/commands/build.go parse
// arguments by hand — positional os.Args slices, string-equality checks
// against a fixed list of flag spellings (`--production`, `-p`,
// `--newvm`, …). That style doesn't scale to a startup config with
// defaults, env fallback, and validation, so this package replaces it
// with github.com/spf13/pflag, the flag library the rest of the Go
// ecosystem reaches for; it keeps the teacher's habit of a single flat
// options struct built once at startup (mirroring build.Builder's
// projectRoot-then-build shape) rather than introducing a generic
// config framework.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"crucible/internal/runtimeerr"
)

// RuntimeConfig is the startup configuration passed to run_code_block's
// ambience (spec.md §6).
type RuntimeConfig struct {
	SemispaceSizeBytes uint64
	SystemMemoryLimit  uint64
	GCFuzzFreq         uint32
	GCFuzzSeed         uint64
	Plugins            []string
	FileSystem         string
	RandomSeed         uint64
}

// Defaults returns the configuration used when no flags or environment
// variables override it.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		SemispaceSizeBytes: 16 << 20, // 16 MiB
		SystemMemoryLimit:  0,        // 0 == unbounded
		GCFuzzFreq:         0,        // 0 == fuzzing disabled
		GCFuzzSeed:         0,
		Plugins:            nil,
		FileSystem:         "native",
		RandomSeed:         0,
	}
}

// envPrefix namespaces the environment-variable fallbacks this package
// reads when a flag is left at its zero value.
const envPrefix = "CRUCIBLE_"

// Parse builds a RuntimeConfig from args (typically os.Args[1:]) layered
// over Defaults(), with environment variables consulted for any flag the
// caller didn't pass, and validates the result.
//
// Unlike the teacher's hand-rolled loops over os.Args, flags here are
// declared once against a pflag.FlagSet and parsed in one call; unknown
// flags are a runtimeerr.ConfigError rather than being silently
// ignored the way main.go's argument filtering does for VM-selection
// flags.
func Parse(args []string) (RuntimeConfig, error) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("crucible", pflag.ContinueOnError)
	fs.Uint64Var(&cfg.SemispaceSizeBytes, "semispace-size-bytes", cfg.SemispaceSizeBytes, "size in bytes of each GC semispace")
	fs.Uint64Var(&cfg.SystemMemoryLimit, "system-memory-limit", cfg.SystemMemoryLimit, "total memory ceiling in bytes (0 = unbounded)")
	fs.Uint32Var(&cfg.GCFuzzFreq, "gc-fuzz-freq", cfg.GCFuzzFreq, "fail one in every N allocations to exercise HeapExhausted paths (0 = disabled)")
	fs.Uint64Var(&cfg.GCFuzzSeed, "gc-fuzz-seed", cfg.GCFuzzSeed, "seed for the GC fuzzer's allocation-failure selection")
	fs.StringSliceVar(&cfg.Plugins, "plugin", cfg.Plugins, "path to a plankton-serialized plugin library (repeatable)")
	fs.StringVar(&cfg.FileSystem, "file-system", cfg.FileSystem, "file-system collaborator to wire into the I/O engine")
	fs.Uint64Var(&cfg.RandomSeed, "random-seed", cfg.RandomSeed, "seed for the runtime's deterministic random source")

	if err := fs.Parse(args); err != nil {
		return RuntimeConfig{}, runtimeerr.Wrap(runtimeerr.ConfigError, err, "failed to parse runtime configuration flags")
	}

	applyEnvFallbacks(fs, &cfg)

	if err := validate(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

// applyEnvFallbacks consults CRUCIBLE_* environment variables for any
// flag the caller left unset on the command line, so the runtime can be
// configured identically under a process supervisor that sets env vars
// rather than a shell that passes argv.
func applyEnvFallbacks(fs *pflag.FlagSet, cfg *RuntimeConfig) {
	lookup := func(name string) (string, bool) {
		if fs.Changed(name) {
			return "", false
		}
		return os.LookupEnv(envPrefix + flagEnvSuffix(name))
	}

	if v, ok := lookup("semispace-size-bytes"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.SemispaceSizeBytes = n
		}
	}
	if v, ok := lookup("system-memory-limit"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.SystemMemoryLimit = n
		}
	}
	if v, ok := lookup("gc-fuzz-freq"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.GCFuzzFreq = uint32(n)
		}
	}
	if v, ok := lookup("gc-fuzz-seed"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.GCFuzzSeed = n
		}
	}
	if v, ok := lookup("file-system"); ok {
		cfg.FileSystem = v
	}
	if v, ok := lookup("random-seed"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.RandomSeed = n
		}
	}
}

// flagEnvSuffix upper-cases a flag name and replaces its separators, e.g.
// "semispace-size-bytes" -> "SEMISPACE_SIZE_BYTES".
func flagEnvSuffix(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' {
			out[i] = '_'
		} else if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// validate hand-checks the handful of invariants a RuntimeConfig must
// hold; the struct is small enough that a validator-tag library would be
// more machinery than the four checks it replaces (see DESIGN.md).
func validate(cfg RuntimeConfig) error {
	if cfg.SemispaceSizeBytes == 0 {
		return runtimeerr.New(runtimeerr.ConfigError, "semispace_size_bytes must be positive")
	}
	if cfg.SystemMemoryLimit != 0 && cfg.SystemMemoryLimit < cfg.SemispaceSizeBytes*2 {
		return runtimeerr.New(runtimeerr.ConfigError, fmt.Sprintf(
			"system_memory_limit (%d) must be at least twice semispace_size_bytes (%d) to hold both semispaces",
			cfg.SystemMemoryLimit, cfg.SemispaceSizeBytes))
	}
	if cfg.FileSystem == "" {
		return runtimeerr.New(runtimeerr.ConfigError, "file_system collaborator name must not be empty")
	}
	for _, p := range cfg.Plugins {
		if p == "" {
			return runtimeerr.New(runtimeerr.ConfigError, "plugin path must not be empty")
		}
	}
	return nil
}
