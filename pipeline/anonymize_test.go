package pipeline_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/slidesafe/pathsafe/format"
	"github.com/slidesafe/pathsafe/pipeline"
	"github.com/slidesafe/pathsafe/wsi"
	"github.com/stretchr/testify/require"
)

func buildSVSFixture(t *testing.T, dir, name string) string {
	t.Helper()
	desc := "Aperio Image Library v12.0.15|ScanScope ID = SS1234|Date = 03/15/24|Time = 14:22:01"
	value := append([]byte(desc), 0)

	const ifdOffset = 8
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(1))
	binary.Write(&body, binary.LittleEndian, uint16(270))
	binary.Write(&body, binary.LittleEndian, uint16(2))
	binary.Write(&body, binary.LittleEndian, uint32(len(value)))
	valueOffset := ifdOffset + 2 + 12 + 4
	binary.Write(&body, binary.LittleEndian, uint32(valueOffset))
	binary.Write(&body, binary.LittleEndian, uint32(0))
	body.Write(value)

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, binary.LittleEndian, uint16(42))
	binary.Write(&out, binary.LittleEndian, uint32(ifdOffset))
	out.Write(body.Bytes())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestAnonymizeFileInPlaceClearsFindingsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	src := buildSVSFixture(t, dir, "slide.svs")

	registry := format.NewRegistry()
	result, err := pipeline.AnonymizeFile(registry, src, "", pipeline.DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, wsi.ModeInplace, result.Mode)
	require.Equal(t, src, result.OutputPath)
	require.Greater(t, result.FindingsCleared, 0)
	require.True(t, result.Verified)
	require.NotEqual(t, wsi.IntegrityFailed, result.ImageIntegrity)
	require.NotEmpty(t, result.OutputSHA256)
	require.Empty(t, result.Error)
}

func TestAnonymizeFileCopyModeLeavesSourceUntouched(t *testing.T) {
	dir := t.TempDir()
	src := buildSVSFixture(t, dir, "slide.svs")
	out := filepath.Join(dir, "slide.anon.svs")

	registry := format.NewRegistry()
	result, err := pipeline.AnonymizeFile(registry, src, out, pipeline.DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, wsi.ModeCopy, result.Mode)
	require.Equal(t, out, result.OutputPath)

	srcRaw, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Contains(t, string(srcRaw), "SS1234")

	outRaw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotContains(t, string(outRaw), "SS1234")
}

func TestAnonymizeFileDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := buildSVSFixture(t, dir, "slide.svs")
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	registry := format.NewRegistry()
	opts := pipeline.DefaultOptions()
	opts.DryRun = true
	result, err := pipeline.AnonymizeFile(registry, src, "", opts)
	require.NoError(t, err)

	require.False(t, result.Verified)
	require.Equal(t, 0, result.FindingsCleared)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestAnonymizeFileResetsTimestamps(t *testing.T) {
	dir := t.TempDir()
	src := buildSVSFixture(t, dir, "slide.svs")

	registry := format.NewRegistry()
	_, err := pipeline.AnonymizeFile(registry, src, "", pipeline.DefaultOptions())
	require.NoError(t, err)

	info, err := os.Stat(src)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.ModTime().Unix())
}

func TestAnonymizeFileUnrecognizedFormatReturnsErrorResult(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("not a slide"), 0o644))

	registry := format.NewRegistry()
	result, err := pipeline.AnonymizeFile(registry, src, "", pipeline.DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, result.Error)
}

func TestAnonymizeFileCopyModeWithUnrecognizedFormatLeavesCopyInPlace(t *testing.T) {
	// No handler recognizes the file, so AnonymizeFile reports an error
	// before ever calling Anonymize -- the copy-mode cleanup path only
	// triggers when a handler's Anonymize call itself fails.
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("not a slide"), 0o644))
	out := filepath.Join(dir, "notes.anon.txt")

	registry := format.NewRegistry()
	result, err := pipeline.AnonymizeFile(registry, src, out, pipeline.DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, result.Error)

	_, statErr := os.Stat(out)
	require.NoError(t, statErr)
}
