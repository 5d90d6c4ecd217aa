package format

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type commonTagSpec struct {
	id        uint16
	dtype     uint16
	count     uint32
	inline    uint32
	outOfLine []byte
}

func commonStrTag(id uint16, value string) commonTagSpec {
	return commonTagSpec{id: id, dtype: 2, count: uint32(len(value) + 1), outOfLine: append([]byte(value), 0)}
}

func writeCommonTIFF(t *testing.T, tags []commonTagSpec) string {
	t.Helper()
	const ifdOffset = 8

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(len(tags)))

	valueAreaOffset := ifdOffset + 2 + len(tags)*12 + 4
	for i, tag := range tags {
		binary.Write(&body, binary.LittleEndian, tag.id)
		binary.Write(&body, binary.LittleEndian, tag.dtype)
		binary.Write(&body, binary.LittleEndian, tag.count)
		if tag.outOfLine != nil {
			off := valueAreaOffset
			for j := 0; j < i; j++ {
				if tags[j].outOfLine != nil {
					off += len(tags[j].outOfLine)
				}
			}
			binary.Write(&body, binary.LittleEndian, uint32(off))
		} else {
			binary.Write(&body, binary.LittleEndian, tag.inline)
		}
	}
	binary.Write(&body, binary.LittleEndian, uint32(0))
	for _, tag := range tags {
		if tag.outOfLine != nil {
			body.Write(tag.outOfLine)
		}
	}

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, binary.LittleEndian, uint16(42))
	binary.Write(&out, binary.LittleEndian, uint32(ifdOffset))
	out.Write(body.Bytes())

	path := filepath.Join(t.TempDir(), "slide.tiff")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestScanDateTimeTagsReportsUnanonymizedValue(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(306, "2024:03:15 14:22:01")})

	findings, err := scanDateTimeTags(path, Policy{DateTags: DefaultDateTags})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "DateTime", findings[0].TagName)
}

func TestAnonymizeDateTimeTagsBlanksValue(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(306, "2024:03:15 14:22:01")})

	cleared, err := anonymizeDateTimeTags(path, Policy{DateTags: DefaultDateTags})
	require.NoError(t, err)
	require.Len(t, cleared, 1)

	findings, err := scanDateTimeTags(path, Policy{DateTags: DefaultDateTags})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestScanExtraMetadataHonorsExcludeTags(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(305, "SlideScanner 2.0")})

	policy := Policy{ExtraMetadataExcludeTags: map[uint16]bool{305: true}}
	findings, err := scanExtraMetadata(path, policy)
	require.NoError(t, err)
	require.Empty(t, findings)

	findings, err = scanExtraMetadata(path, Policy{ExtraMetadataExcludeTags: map[uint16]bool{}})
	require.NoError(t, err)
	require.NotEmpty(t, findings)
}

func TestScanAndAnonymizeLabelMacroSkipIFDWithoutImageData(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(270, "label image of the slide")})

	findings, err := scanLabelMacro(path, ClassifyLabelOrMacro)
	require.NoError(t, err)
	require.Empty(t, findings, "a single-IFD fixture has no strip/tile image data to report")

	cleared, err := anonymizeLabelMacro(path, ClassifyLabelOrMacro)
	require.NoError(t, err)
	require.Empty(t, cleared)
}

func TestReplaceQuotedAttrLeavesAlreadyAnonymizedValueUntouched(t *testing.T) {
	text := `BarCode1="XXXXXXXX" CaseID="CASE-99"`

	out, count := replaceQuotedAttr(text, "BarCode1", nil)
	require.Equal(t, 0, count)
	require.Equal(t, text, out)

	out, count = replaceQuotedAttr(text, "CaseID", nil)
	require.Equal(t, 1, count)
	require.Contains(t, out, `CaseID="XXXXXX"`)
	require.Equal(t, len(text), len(out))
}

func TestReplaceQuotedAttrRespectsSkipPredicate(t *testing.T) {
	text := `<?xml version="1.0"?><tag version="2.0"/>`

	out, count := replaceQuotedAttr(text, "version", skipInsideProcessingInstruction(text))
	require.Equal(t, 1, count)
	require.Contains(t, out, `<?xml version="1.0"?>`)
	require.NotContains(t, out, `version="2.0"`)
}

func TestScanRegexSweepRespectsSkipOffsets(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(315, "Filename=AS-24-999999.svs")})

	findings, err := scanRegexSweep(path, nil)
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	skip := map[int]bool{}
	for _, f := range findings {
		skip[int(f.Offset)] = true
	}
	findings2, err := scanRegexSweep(path, skip)
	require.NoError(t, err)
	require.Empty(t, findings2)
}

func TestAnonymizeRegexSweepOverwritesMatch(t *testing.T) {
	path := writeCommonTIFF(t, []commonTagSpec{commonStrTag(315, "Filename=AS-24-999999.svs")})

	cleared, err := anonymizeRegexSweep(path, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cleared)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "AS-24-999999")
}
