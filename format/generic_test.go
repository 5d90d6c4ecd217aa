package format_test

import (
	"os"
	"testing"

	"github.com/slidesafe/pathsafe/format"
	"github.com/stretchr/testify/require"
)

func TestGenericTIFFHandlerScanFindsPHIInAnyASCIITag(t *testing.T) {
	// Tag 315 (Artist) has no vendor-specific schema, so the generic
	// handler must still catch an accession-number-shaped value in it.
	path := writeClassicTIFF(t, []tagSpec{strTag(315, "Filename=AS-24-999999.svs")})

	h := format.NewGenericTIFFHandler()
	result := h.Scan(path)

	require.False(t, result.IsClean)
}

func TestGenericTIFFHandlerAnonymizeOverwritesEntireTagValue(t *testing.T) {
	value := "Filename=AS-24-999999.svs"
	path := writeClassicTIFF(t, []tagSpec{strTag(315, value)})
	totalSize := len(value) + 1

	h := format.NewGenericTIFFHandler()
	cleared, err := h.Anonymize(path)
	require.NoError(t, err)
	require.NotEmpty(t, cleared)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tagStart := len(raw) - totalSize
	replaced := raw[tagStart : tagStart+totalSize-1]
	for _, b := range replaced {
		require.Equal(t, byte('X'), b)
	}
	require.Equal(t, byte(0), raw[tagStart+totalSize-1])
}

func TestGenericTIFFHandlerCleanFileStaysClean(t *testing.T) {
	// Tag 269 (DocumentName) isn't in the extra-metadata sweep set, and
	// this value matches no PHI pattern.
	path := writeClassicTIFF(t, []tagSpec{strTag(269, "page-1")})

	h := format.NewGenericTIFFHandler()
	result := h.Scan(path)
	require.True(t, result.IsClean)
}
