// Compiled entry-point container format read by the `run` and `gc-stats`
// subcommands. spec.md §6 scopes the plankton wire format to library
// loading only ("not part of the core — it is a collaborator invoked once
// during library loading"); it says nothing about how a standalone
// compiled program reaches run_code_block. This file defines the smallest
// container that can carry one: a header naming the code block's stack
// high-water mark, a flat value pool of integers and UTF-8 strings (the
// two pool-entry kinds a diagnostic or test program needs), and the
// bytecode short-array internal/interp.Decode already knows how to read.
//
// Grounded on internal/interp/bytecode.go's Decode/Encode and
// object.Model.NewCodeBlock, the same two calls internal/process's tests
// use to build a runnable code block by hand.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"crucible/internal/interp"
	"crucible/internal/object"
	"crucible/internal/runtimeerr"
	"crucible/internal/value"
)

var containerMagic = [4]byte{'C', 'R', 'B', 'C'}

const containerVersion = 1

const (
	poolTagInteger byte = 0
	poolTagString  byte = 1
)

// loadCodeBlock reads path as a container and builds a runnable CodeBlock
// value in m.
func loadCodeBlock(m *object.Model, path string) (value.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to open bytecode file")
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read container magic")
	}
	if magic != containerMagic {
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, fmt.Sprintf("%s is not a crucible bytecode container", path))
	}

	var version, highWaterMark, poolCount uint32
	for _, field := range []*uint32{&version, &highWaterMark, &poolCount} {
		if err := binary.Read(f, binary.LittleEndian, field); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read container header")
		}
	}
	if version != containerVersion {
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, fmt.Sprintf("unsupported container version %d", version))
	}

	pool, cond := m.NewArray(int(poolCount))
	if cond.IsCondition() {
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, "failed to allocate value pool")
	}
	for i := uint32(0); i < poolCount; i++ {
		var tag byte
		if err := binary.Read(f, binary.LittleEndian, &tag); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read value pool entry tag")
		}
		entry, err := readPoolEntry(m, f, tag)
		if err != nil {
			return value.Value{}, err
		}
		if cond := m.ArraySetAt(pool, int(i), entry); cond.IsCondition() {
			return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, "failed to populate value pool")
		}
	}

	var bytecodeLen uint32
	if err := binary.Read(f, binary.LittleEndian, &bytecodeLen); err != nil {
		return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read bytecode length")
	}
	raw := make([]byte, bytecodeLen)
	if _, err := io.ReadFull(f, raw); err != nil {
		return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read bytecode bytes")
	}
	blob, cond := m.NewBlob(interp.Encode(interp.Decode(raw)))
	if cond.IsCondition() {
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, "failed to allocate bytecode blob")
	}

	codeBlock, cond := m.NewCodeBlock(blob, pool, int(highWaterMark))
	if cond.IsCondition() {
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, "failed to allocate code block")
	}
	return codeBlock, nil
}

func readPoolEntry(m *object.Model, f *os.File, tag byte) (value.Value, error) {
	switch tag {
	case poolTagInteger:
		var n int64
		if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read integer pool entry")
		}
		return value.NewInteger(n), nil
	case poolTagString:
		var length uint32
		if err := binary.Read(f, binary.LittleEndian, &length); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read string pool entry length")
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(f, buf); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.BytecodeError, err, "failed to read string pool entry bytes")
		}
		v, cond := m.NewUtf8(string(buf))
		if cond.IsCondition() {
			return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, "failed to allocate string pool entry")
		}
		return v, nil
	default:
		return value.Value{}, runtimeerr.New(runtimeerr.BytecodeError, fmt.Sprintf("unknown value pool entry tag %d", tag))
	}
}
