package format_test

import (
	"os"
	"testing"

	"github.com/slidesafe/pathsafe/format"
	"github.com/stretchr/testify/require"
)

func TestSVSHandlerScanFindsPipeDelimitedPHI(t *testing.T) {
	desc := "Aperio Image Library v12.0.15|AppMag = 20|ScanScope ID = SS1234|Date = 03/15/24|Time = 14:22:01|User = jdoe"
	path := writeClassicTIFF(t, []tagSpec{strTag(270, desc)})

	h := format.NewSVSHandler()
	result := h.Scan(path)

	require.False(t, result.IsClean)
	names := map[string]bool{}
	for _, f := range result.Findings {
		names[f.TagName] = true
	}
	require.True(t, names["ImageDescription:ScanScope ID"])
	require.True(t, names["ImageDescription:Date"])
	require.True(t, names["ImageDescription:User"])
}

func TestSVSHandlerAnonymizeOnlyRewritesMatchedFields(t *testing.T) {
	desc := "Aperio Image Library v12.0.15|AppMag = 20|ScanScope ID = SS1234|Date = 03/15/24|Time = 14:22:01"
	path := writeClassicTIFF(t, []tagSpec{strTag(270, desc)})

	h := format.NewSVSHandler()
	cleared, err := h.Anonymize(path)
	require.NoError(t, err)
	require.NotEmpty(t, cleared)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	require.Contains(t, content, "AppMag = 20")
	require.Contains(t, content, "Date = 01/01/00")
	require.Contains(t, content, "Time = 00:00:00")
	require.NotContains(t, content, "SS1234")

	result := h.Scan(path)
	require.True(t, result.IsClean)
}

func TestSVSHandlerAnonymizeIsIdempotent(t *testing.T) {
	desc := "Aperio Image Library v12.0.15|ScanScope ID = SS1234|Date = 03/15/24|Time = 14:22:01"
	path := writeClassicTIFF(t, []tagSpec{strTag(270, desc)})

	h := format.NewSVSHandler()
	_, err := h.Anonymize(path)
	require.NoError(t, err)
	cleared, err := h.Anonymize(path)
	require.NoError(t, err)
	require.Empty(t, cleared)
}

func TestSVSHandlerCanHandle(t *testing.T) {
	data := buildClassicTIFF([]tagSpec{strTag(270, "x")}, nil)
	dir := t.TempDir()
	svsPath := dir + "/slide.svs"
	require.NoError(t, os.WriteFile(svsPath, data, 0o644))
	notTiffPath := dir + "/slide.tiff"
	require.NoError(t, os.WriteFile(notTiffPath, []byte("not a tiff"), 0o644))

	h := format.NewSVSHandler()
	require.True(t, h.CanHandle(svsPath))
	require.False(t, h.CanHandle(notTiffPath))
	require.False(t, h.CanHandle(dir+"/missing.svs"))
}
