package wsi_test

import (
	"testing"

	"github.com/slidesafe/pathsafe/wsi"
	"github.com/stretchr/testify/require"
)

func TestMaskPreviewShortValue(t *testing.T) {
	f := wsi.Finding{ValuePreview: "abcd"}
	require.Equal(t, "****", f.MaskPreview())
}

func TestMaskPreviewLongValue(t *testing.T) {
	f := wsi.Finding{ValuePreview: "AS-24-123456"}
	masked := f.MaskPreview()
	require.Equal(t, "AS********56", masked)
}

func TestScanResultFailClosedOnError(t *testing.T) {
	r := wsi.NewScanResult("/tmp/slide.ndpi", "ndpi")
	require.True(t, r.IsClean)

	r = r.WithError(errString("boom"))
	require.False(t, r.IsClean)
	require.Equal(t, "boom", r.Error)
}

type errString string

func (e errString) Error() string { return string(e) }
