package tiff_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/slidesafe/pathsafe/tiff"
	"github.com/stretchr/testify/require"
)

func TestReadHeaderClassicLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	h, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, tiff.VariantClassic, h.Variant)
	require.Equal(t, binary.LittleEndian, h.Order)
	require.EqualValues(t, 8, h.FirstIFDOffset)
}

func TestReadHeaderClassicBigEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("MM")
	binary.Write(&buf, binary.BigEndian, uint16(42))
	binary.Write(&buf, binary.BigEndian, uint32(16))

	h, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, tiff.VariantClassic, h.Variant)
	require.Equal(t, binary.BigEndian, h.Order)
	require.EqualValues(t, 16, h.FirstIFDOffset)
}

func TestReadHeaderBigTIFF(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(43))
	binary.Write(&buf, binary.LittleEndian, uint16(8))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(16))

	h, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, tiff.VariantBigTIFF, h.Variant)
	require.EqualValues(t, 16, h.FirstIFDOffset)
}

func TestReadHeaderBigTIFFBadByteSize(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(43))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(16))

	_, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, tiff.ErrNotATIFF)
}

func TestReadHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(7))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	_, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, tiff.ErrNotATIFF)
}

func TestReadHeaderBadByteOrderMarker(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XX")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	_, err := tiff.ReadHeader(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, tiff.ErrNotATIFF)
}

func TestReadHeaderTruncated(t *testing.T) {
	_, err := tiff.ReadHeader(bytes.NewReader([]byte("II")))
	require.ErrorIs(t, err, tiff.ErrNotATIFF)
}
