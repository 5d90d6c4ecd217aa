package format_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/slidesafe/pathsafe/format"
	"github.com/stretchr/testify/require"
)

func writeNDPIFixture(t *testing.T, tags []tagSpec) string {
	t.Helper()
	data := buildClassicTIFF(tags, nil)
	path := filepath.Join(t.TempDir(), "slide.ndpi")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNDPIHandlerScanFindsBarcodeTag(t *testing.T) {
	path := writeNDPIFixture(t, []tagSpec{strTag(65468, "ACC-778899")})

	h := format.NewNDPIHandler()
	result := h.Scan(path)

	require.False(t, result.IsClean)
	require.Equal(t, "NDPI_BARCODE", result.Findings[0].TagName)
}

func TestNDPIHandlerScanScannerPropsMatchesDynamicAndExactKeys(t *testing.T) {
	props := "Created=2022/04/28\nNDP.S/N=12345\nUser Name=Dr. Roe\nLens=20"
	path := writeNDPIFixture(t, []tagSpec{strTag(65449, props)})

	h := format.NewNDPIHandler()
	result := h.Scan(path)

	names := map[string]bool{}
	for _, f := range result.Findings {
		names[f.TagName] = true
	}
	require.True(t, names["NDPI_SCANNER_PROPS:Created"])
	require.True(t, names["NDPI_SCANNER_PROPS:NDP.S/N"])
	require.True(t, names["NDPI_SCANNER_PROPS:User Name"])
	require.False(t, names["NDPI_SCANNER_PROPS:Lens"])
}

func TestNDPIHandlerAnonymizeScannerPropsPreservesNonPHILines(t *testing.T) {
	props := "Created=2022/04/28\nLens=20"
	path := writeNDPIFixture(t, []tagSpec{strTag(65449, props)})

	h := format.NewNDPIHandler()
	cleared, err := h.Anonymize(path)
	require.NoError(t, err)
	require.NotEmpty(t, cleared)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	require.Contains(t, content, "Lens=20")
	require.NotContains(t, content, "2022/04/28")
}

func TestNDPIHandlerScanCompanionFiles(t *testing.T) {
	path := writeNDPIFixture(t, []tagSpec{strTag(65468, "")})
	require.NoError(t, os.WriteFile(path+".ndpa", []byte("<annotations/>"), 0o644))

	h := format.NewNDPIHandler()
	result := h.Scan(path)

	var found bool
	for _, f := range result.Findings {
		if f.TagName == "CompanionFile:ndpa" {
			found = true
		}
	}
	require.True(t, found)
}

func TestNDPIHandlerAnonymizeDeletesCompanionFiles(t *testing.T) {
	path := writeNDPIFixture(t, []tagSpec{strTag(65468, "")})
	companion := path + ".ndpa"
	require.NoError(t, os.WriteFile(companion, []byte("<annotations/>"), 0o644))

	h := format.NewNDPIHandler()
	_, err := h.Anonymize(path)
	require.NoError(t, err)

	_, statErr := os.Stat(companion)
	require.True(t, os.IsNotExist(statErr))
}

func TestNDPIHandlerCanHandleChecksExtensionOnly(t *testing.T) {
	h := format.NewNDPIHandler()
	require.True(t, h.CanHandle("/data/slide.ndpi"))
	require.False(t, h.CanHandle("/data/slide.svs"))
}
