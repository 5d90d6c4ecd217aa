package tiff_test

import (
	"bytes"
	"testing"

	"github.com/slidesafe/pathsafe/tiff"
	"github.com/stretchr/testify/require"
)

func TestReadIFDInlineValue(t *testing.T) {
	data := buildClassicTIFF([]tagSpec{
		{id: 256, dtype: 4, count: 1, inline: 100}, // ImageWidth LONG
	}, nil)

	r := bytes.NewReader(data)
	h, err := tiff.ReadHeader(r)
	require.NoError(t, err)

	entries, next, err := tiff.ReadIFD(r, h, h.FirstIFDOffset)
	require.NoError(t, err)
	require.EqualValues(t, 0, next)
	require.Len(t, entries, 1)
	require.Equal(t, uint16(256), entries[0].TagID)
	require.True(t, entries[0].IsInline)

	v, err := tiff.ReadTagNumeric(r, h, entries[0])
	require.NoError(t, err)
	require.EqualValues(t, 100, v)
}

func TestReadIFDOutOfLineASCII(t *testing.T) {
	desc := []byte("patient: John Smith\x00")
	data := buildClassicTIFF([]tagSpec{
		{id: 270, dtype: 2, count: uint32(len(desc)), outOfLine: desc}, // ImageDescription
	}, nil)

	r := bytes.NewReader(data)
	h, err := tiff.ReadHeader(r)
	require.NoError(t, err)

	entries, _, err := tiff.ReadIFD(r, h, h.FirstIFDOffset)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].IsInline)

	s, err := tiff.ReadTagString(r, entries[0])
	require.NoError(t, err)
	require.Equal(t, "patient: John Smith", s)
}

func TestIterIFDsStopsOnCorruptCount(t *testing.T) {
	// A count field of 0xFFFF entries is implausible and must terminate
	// the chain with an empty page rather than attempting a huge read.
	data := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	data = append(data, 0xFF, 0xFF) // entry count = 65535
	r := bytes.NewReader(data)

	h, err := tiff.ReadHeader(r)
	require.NoError(t, err)

	pages, err := tiff.IterIFDs(r, h)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Empty(t, pages[0].Entries)
}

func TestIterIFDsLoopProtection(t *testing.T) {
	// Build two IFDs whose next-pointers reference each other.
	var buf bytes.Buffer
	buf.WriteString("II")
	buf.Write([]byte{42, 0})
	buf.Write([]byte{8, 0, 0, 0}) // first IFD at offset 8

	// IFD A at offset 8: 0 entries, next -> offset X (computed below)
	ifdAOffset := 8
	ifdASize := 2 + 0*12 + 4
	ifdBOffset := ifdAOffset + ifdASize

	buf.Write([]byte{0, 0}) // 0 entries
	writeUint32LE(&buf, uint32(ifdBOffset))

	// IFD B: 0 entries, next -> back to A
	buf.Write([]byte{0, 0})
	writeUint32LE(&buf, uint32(ifdAOffset))

	r := bytes.NewReader(buf.Bytes())
	h, err := tiff.ReadHeader(r)
	require.NoError(t, err)

	pages, err := tiff.IterIFDs(r, h)
	require.NoError(t, err)
	require.Len(t, pages, 2)
}

func writeUint32LE(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func TestFindTag(t *testing.T) {
	entries := []tiff.IFDEntry{
		{TagID: 256, Count: 1},
		{TagID: 257, Count: 1},
	}
	e, ok := tiff.FindTag(entries, 257)
	require.True(t, ok)
	require.EqualValues(t, 257, e.TagID)

	_, ok = tiff.FindTag(entries, 999)
	require.False(t, ok)
}
