package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/interp"
	"crucible/internal/object"
	"crucible/internal/species"
)

func newTestModel(t *testing.T) *object.Model {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	return object.NewModel(h, reg)
}

// writeContainer assembles a minimal container file for tests: a
// highWaterMark, one integer pool entry, and a two-instruction program
// (LoadRawArgument 0; Return) encoded with interp.Encode.
func writeContainer(t *testing.T, dir string, poolInt int64) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(containerMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(containerVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteByte(poolTagInteger)
	binary.Write(&buf, binary.LittleEndian, poolInt)

	encoded := interp.Encode([]uint16{uint16(interp.OpLoadRawArgument), 0, uint16(interp.OpReturn)})
	binary.Write(&buf, binary.LittleEndian, uint32(len(encoded)))
	buf.Write(encoded)

	path := filepath.Join(dir, "program.crbc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoadCodeBlockBuildsRunnableCodeBlock(t *testing.T) {
	m := newTestModel(t)
	path := writeContainer(t, t.TempDir(), 7)

	codeBlock, err := loadCodeBlock(m, path)
	require.NoError(t, err)
	require.Equal(t, 4, m.CodeBlockHighWaterMark(codeBlock))

	pool := m.CodeBlockValuePool(codeBlock)
	require.Equal(t, 1, m.ArrayLen(pool))
	require.Equal(t, int64(7), m.ArrayAt(pool, 0).IntegerValue())
}

func TestLoadCodeBlockRejectsBadMagic(t *testing.T) {
	m := newTestModel(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.crbc")
	require.NoError(t, os.WriteFile(path, []byte("not-a-container-at-all"), 0o644))

	_, err := loadCodeBlock(m, path)
	require.Error(t, err)
}

func TestLoadCodeBlockRejectsMissingFile(t *testing.T) {
	m := newTestModel(t)
	_, err := loadCodeBlock(m, filepath.Join(t.TempDir(), "nonexistent.crbc"))
	require.Error(t, err)
}
