package phi_test

import (
	"testing"

	"github.com/slidesafe/pathsafe/phi"
	"github.com/stretchr/testify/require"
)

func TestScanBytesDetectsAccessionPatterns(t *testing.T) {
	d := phi.NewDetector()

	cases := []struct {
		data  []byte
		label string
	}{
		{[]byte("\x00\x00AS-24-123456\x00\x00"), "Accession_AS"},
		{[]byte("some data AC-23-987654 more data"), "Accession_AC"},
		{[]byte("header CH12345678 tail"), "Accession_CH"},
		{[]byte("x00000AS12345x"), "Accession_Padded"},
	}
	for _, c := range cases {
		findings := d.ScanBytes(c.data, nil)
		require.Len(t, findings, 1, "data=%q", c.data)
		require.Equal(t, c.label, findings[0].Label)
	}
}

func TestScanBytesSkipsAlreadyAnonymized(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("\x00XXXXXXXXXXXX\x00"), nil)
	require.Empty(t, findings)
}

func TestScanBytesSkipOffsets(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("AS-24-123456\x00"), map[int]bool{0: true})
	require.Empty(t, findings)
}

func TestScanBytesNoFalsePositives(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("This is normal text with no PHI patterns at all."), nil)
	require.Empty(t, findings)
}

func TestScanBytesMultipleFindings(t *testing.T) {
	d := phi.NewDetector()
	data := []byte("AS-24-111111\x00padding\x00AC-23-222222\x00")
	findings := d.ScanBytes(data, nil)
	require.Len(t, findings, 2)
}

func TestScanBytesExtendsMatchToNul(t *testing.T) {
	d := phi.NewDetector()
	data := []byte("AS-24-123456789\x00trailing garbage")
	findings := d.ScanBytes(data, nil)
	require.Len(t, findings, 1)
	require.Equal(t, "AS-24-123456789", findings[0].Matched)
}

func TestScanBytesLowercaseDoesNotMatch(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("as-24-123456\x00"), nil)
	require.Empty(t, findings)
}

func TestScanBytesAccessionWithoutDashesDoesNotMatch(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("AS24123456\x00"), nil)
	require.Empty(t, findings)
}

func TestScanBytesHAccessionBoundary(t *testing.T) {
	d := phi.NewDetector()
	// "ASH-24-123456" must not match the bare H- pattern: H is preceded by S.
	findings := d.ScanBytes([]byte("ASH-24-123456\x00"), nil)
	for _, f := range findings {
		require.NotEqual(t, "Accession_H", f.Label)
	}

	findings = d.ScanBytes([]byte("specimen H-24-123456\x00"), nil)
	require.NotEmpty(t, findings)
	require.Equal(t, "Accession_H", findings[0].Label)
}

func TestScanBytesSSNBoundary(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanBytes([]byte("123-45-6789\x00"), nil)
	require.Len(t, findings, 1)
	require.Equal(t, "SSN_Pattern", findings[0].Label)

	// A longer digit run must not be mistaken for an embedded SSN.
	findings = d.ScanBytes([]byte("9123-45-67891\x00"), nil)
	for _, f := range findings {
		require.NotEqual(t, "SSN_Pattern", f.Label)
	}
}

func TestScanBytesDOBVariants(t *testing.T) {
	d := phi.NewDetector()
	cases := [][]byte{
		[]byte("DOB-19800115\x00"),
		[]byte("DOB-1980/01/15\x00"),
		[]byte("DOB_19800115\x00"),
	}
	for _, data := range cases {
		findings := d.ScanBytes(data, nil)
		require.NotEmpty(t, findings, "data=%q", data)
		require.Equal(t, "DOB_Pattern", findings[0].Label)
	}
}

func TestScanStringDetectsAccession(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanString("Filename=AS-24-999999.svs")
	require.NotEmpty(t, findings)
	require.Equal(t, "Accession_AS", findings[0].Label)
}

func TestScanDatesSkipsSentinel(t *testing.T) {
	d := phi.NewDetector()
	findings := d.ScanDates([]byte("DateTime 1900:01:01 00:00:00 end"))
	require.Empty(t, findings)

	findings = d.ScanDates([]byte("DateTime 2024:06:15 10:30:00 end"))
	require.Len(t, findings, 1)
	require.Equal(t, "DateTime_TIFF", findings[0].Label)
}

func TestIsDateAnonymized(t *testing.T) {
	require.True(t, phi.IsDateAnonymized("1900:01:01 00:00:00"))
	require.True(t, phi.IsDateAnonymized("0000:00:00 00:00:00"))
	require.True(t, phi.IsDateAnonymized("\x00\x00\x00\x00"))
	require.False(t, phi.IsDateAnonymized("2024:06:15 10:30:00"))
}

func TestScanFilename(t *testing.T) {
	d := phi.NewDetector()

	findings := d.ScanFilename("/data/AS-24-123456.ndpi")
	require.NotEmpty(t, findings)

	findings = d.ScanFilename("/data/MRN12345678_slide1.svs")
	require.NotEmpty(t, findings)
	require.Equal(t, "MRN_Pattern", findings[0].Label)

	findings = d.ScanFilename("slide_001_H&E_40x.ndpi")
	require.Empty(t, findings)
}
