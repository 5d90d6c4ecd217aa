package format

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// DefaultScanSize bounds the raw regex safety sweep to the leading bytes
// of a file: WSI metadata lives near the front, and sweeping an entire
// multi-gigabyte pyramidal image would be both slow and pointless (pixel
// data doesn't carry PHI patterns).
const DefaultScanSize = 256_000

// Policy parameterizes the shared TIFF scan/anonymize helpers below so
// each vendor handler can plug in its own tag set without re-implementing
// the IFD-walking and dedup boilerplate: instead of embedding a base
// type, a handler builds a Policy value and passes it to the free
// functions that need it.
type Policy struct {
	// DateTags maps DateTime-family tag IDs to their display name.
	DateTags map[uint16]string

	// ExtraMetadataExcludeTags are tags scanExtraMetadata and
	// anonymizeExtraMetadata skip because the handler processes them
	// through a dedicated path (SVS/BIF/SCN exclude 270, BIF also
	// excludes 700).
	ExtraMetadataExcludeTags map[uint16]bool

	// ClassifyLabelMacro inspects a lowercased ImageDescription (tag 270)
	// and returns an image-type label plus whether it's a label/macro/
	// thumbnail image at all.
	ClassifyLabelMacro func(descLower string) (imgType string, ok bool)
}

// DefaultDateTags is the standard TIFF DateTime tag set shared by every
// TIFF-based handler.
var DefaultDateTags = map[uint16]string{
	306:   "DateTime",
	36867: "DateTimeOriginal",
	36868: "DateTimeDigitized",
}

// ClassifyLabelOrMacro is the standard label/macro classifier: substring
// match on the lowercased ImageDescription, label taking priority over
// macro when both appear.
func ClassifyLabelOrMacro(descLower string) (string, bool) {
	switch {
	case containsSubstr(descLower, "label"):
		return "LabelImage", true
	case containsSubstr(descLower, "macro"):
		return "MacroImage", true
	default:
		return "", false
	}
}

func containsSubstr(s, sub string) bool {
	return len(sub) == 0 || indexOfSubstr(s, sub) >= 0
}

func indexOfSubstr(s, sub string) int {
	n, m := len(s), len(sub)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// scanDateTimeTags scans policy.DateTags across every IFD, skipping
// already-anonymized values and deduplicating repeated value offsets.
func scanDateTimeTags(path string, policy Policy) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scanDateTimeTags: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("scanDateTimeTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("scanDateTimeTags: %w", err)
	}

	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			name, ok := policy.DateTags[e.TagID]
			if !ok || seen[e.ValueOffset] {
				continue
			}
			seen[e.ValueOffset] = true
			value, err := tiff.ReadTagString(f, e)
			if err != nil || value == "" || phi.IsDateAnonymized(value) {
				continue
			}
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: name,
				ValuePreview: preview(value, 30), Source: wsi.SourceTIFFTag,
			})
		}
	}
	return findings, nil
}

// anonymizeDateTimeTags blanks every DateTime-family tag value with
// zero bytes, mirroring scanDateTimeTags's walk and dedup.
func anonymizeDateTimeTags(path string, policy Policy) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("anonymizeDateTimeTags: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("anonymizeDateTimeTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("anonymizeDateTimeTags: %w", err)
	}

	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			name, ok := policy.DateTags[e.TagID]
			if !ok || seen[e.ValueOffset] {
				continue
			}
			seen[e.ValueOffset] = true
			value, err := tiff.ReadTagString(f, e)
			if err != nil || value == "" || phi.IsDateAnonymized(value) {
				continue
			}
			if err := tiff.BlankTag(f, e); err != nil {
				return cleared, fmt.Errorf("anonymizeDateTimeTags: %w", err)
			}
			tagID := e.TagID
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: name,
				ValuePreview: preview(value, 30), Source: wsi.SourceTIFFTag,
			})
		}
	}
	return cleared, nil
}

// scanExtraMetadata scans the extra-metadata tag set (minus
// policy.ExtraMetadataExcludeTags) plus the EXIF and GPS sub-IFDs, across
// every IFD, sharing one seen-offsets set across all three sources.
func scanExtraMetadata(path string, policy Policy) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scanExtraMetadata: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("scanExtraMetadata: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("scanExtraMetadata: %w", err)
	}

	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		entries, values, err := tiff.ScanExtraMetadataTags(f, page.Entries, policy.ExtraMetadataExcludeTags)
		if err != nil {
			return nil, fmt.Errorf("scanExtraMetadata: %w", err)
		}
		for i, e := range entries {
			if seen[e.ValueOffset] {
				continue
			}
			seen[e.ValueOffset] = true
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: tiff.ExtraMetadataTags[e.TagID],
				ValuePreview: preview(values[i], 50), Source: wsi.SourceTIFFTag,
			})
		}

		if sub, ok := tiff.ReadExifSubIFD(f, h, page.Entries); ok {
			for _, e := range sub {
				name, phiTag := tiff.ExifSubIFDPHITags[e.TagID]
				if !phiTag || seen[e.ValueOffset] {
					continue
				}
				value, err := tiff.ReadTagString(f, e)
				if err != nil || value == "" {
					continue
				}
				seen[e.ValueOffset] = true
				tagID := e.TagID
				findings = append(findings, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: "EXIF:" + name,
					ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
				})
			}
		}

		if sub, ok := tiff.ReadGPSSubIFD(f, h, page.Entries); ok {
			for _, e := range sub {
				if seen[e.ValueOffset] {
					continue
				}
				name, known := tiff.GPSTagNames[e.TagID]
				if !known {
					name = fmt.Sprintf("Tag_%d", e.TagID)
				}
				raw, err := tiff.ReadTagBytes(f, e)
				if err != nil || len(raw) == 0 {
					continue
				}
				seen[e.ValueOffset] = true
				tagID := e.TagID
				findings = append(findings, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: "GPS:" + name,
					ValuePreview: preview(asciiOrHex(raw), 50), Source: wsi.SourceTIFFTag,
				})
			}
		}
	}
	return findings, nil
}

// anonymizeExtraMetadata blanks everything scanExtraMetadata finds: extra
// metadata tags via tiff.BlankExtraMetadataTag, EXIF PHI tags and the
// entire GPS sub-IFD via straight zero-fill.
func anonymizeExtraMetadata(path string, policy Policy) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("anonymizeExtraMetadata: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("anonymizeExtraMetadata: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("anonymizeExtraMetadata: %w", err)
	}

	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		entries, values, err := tiff.ScanExtraMetadataTags(f, page.Entries, policy.ExtraMetadataExcludeTags)
		if err != nil {
			return cleared, fmt.Errorf("anonymizeExtraMetadata: %w", err)
		}
		for i, e := range entries {
			if seen[e.ValueOffset] {
				continue
			}
			seen[e.ValueOffset] = true
			if _, err := tiff.BlankExtraMetadataTag(f, e); err != nil {
				return cleared, fmt.Errorf("anonymizeExtraMetadata: %w", err)
			}
			tagID := e.TagID
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: tiff.ExtraMetadataTags[e.TagID],
				ValuePreview: preview(values[i], 50), Source: wsi.SourceTIFFTag,
			})
		}

		if sub, ok := tiff.ReadExifSubIFD(f, h, page.Entries); ok {
			for _, e := range sub {
				name, phiTag := tiff.ExifSubIFDPHITags[e.TagID]
				if !phiTag || seen[e.ValueOffset] {
					continue
				}
				value, err := tiff.ReadTagString(f, e)
				if err != nil || value == "" {
					continue
				}
				seen[e.ValueOffset] = true
				if err := tiff.BlankTag(f, e); err != nil {
					return cleared, fmt.Errorf("anonymizeExtraMetadata: %w", err)
				}
				tagID := e.TagID
				cleared = append(cleared, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: "EXIF:" + name,
					ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
				})
			}
		}

		if sub, ok := tiff.ReadGPSSubIFD(f, h, page.Entries); ok {
			for _, e := range sub {
				if seen[e.ValueOffset] {
					continue
				}
				name, known := tiff.GPSTagNames[e.TagID]
				if !known {
					name = fmt.Sprintf("Tag_%d", e.TagID)
				}
				raw, err := tiff.ReadTagBytes(f, e)
				if err != nil || len(raw) == 0 {
					continue
				}
				seen[e.ValueOffset] = true
				if err := tiff.BlankTag(f, e); err != nil {
					return cleared, fmt.Errorf("anonymizeExtraMetadata: %w", err)
				}
				tagID := e.TagID
				cleared = append(cleared, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: "GPS:" + name,
					ValuePreview: preview(asciiOrHex(raw), 50), Source: wsi.SourceTIFFTag,
				})
			}
		}
	}
	return cleared, nil
}

// scanLabelMacro walks every IFD looking for an ImageDescription (tag
// 270) matched by classify; already-blanked IFDs are skipped.
func scanLabelMacro(path string, classify func(string) (string, bool)) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scanLabelMacro: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("scanLabelMacro: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("scanLabelMacro: %w", err)
	}

	var findings []wsi.Finding
	for _, page := range pages {
		imgType, ok := detectLabelMacro(f, page.Entries, classify)
		if !ok {
			continue
		}
		blanked, err := tiff.IsIFDImageBlanked(f, h, page.Entries)
		if err != nil || blanked {
			continue
		}
		w, ht := tiff.GetIFDImageSize(f, h, page.Entries)
		size := tiff.GetIFDImageDataSize(f, h, page.Entries)
		if size <= 0 {
			continue
		}
		findings = append(findings, wsi.Finding{
			Offset: int64(page.Offset), Length: size,
			TagName: imgType,
			ValuePreview: fmt.Sprintf("%s %dx%d (%dKB)", imgType, w, ht, size/1024),
			Source:       wsi.SourceImageContent,
		})
	}
	return findings, nil
}

// anonymizeLabelMacro blanks and unlinks every label/macro IFD classify
// matches. Already-blanked-but-still-linked IFDs are unlinked without
// being re-blanked, matching the original's idempotence guarantee.
func anonymizeLabelMacro(path string, classify func(string) (string, bool)) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("anonymizeLabelMacro: %w", err)
	}
	defer f.Close()

	h, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("anonymizeLabelMacro: %w", err)
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		return nil, fmt.Errorf("anonymizeLabelMacro: %w", err)
	}

	var cleared []wsi.Finding
	for _, page := range pages {
		imgType, ok := detectLabelMacro(f, page.Entries, classify)
		if !ok {
			continue
		}
		blanked, err := tiff.IsIFDImageBlanked(f, h, page.Entries)
		if err != nil {
			return cleared, fmt.Errorf("anonymizeLabelMacro: %w", err)
		}
		if blanked {
			if _, err := tiff.UnlinkIFD(f, h, page.Offset); err != nil {
				return cleared, fmt.Errorf("anonymizeLabelMacro: %w", err)
			}
			continue
		}
		w, ht := tiff.GetIFDImageSize(f, h, page.Entries)
		n, err := tiff.BlankIFDImageData(f, h, page.Entries)
		if err != nil {
			return cleared, fmt.Errorf("anonymizeLabelMacro: %w", err)
		}
		if n <= 0 {
			continue
		}
		if _, err := tiff.UnlinkIFD(f, h, page.Offset); err != nil {
			return cleared, fmt.Errorf("anonymizeLabelMacro: %w", err)
		}
		cleared = append(cleared, wsi.Finding{
			Offset: int64(page.Offset), Length: n,
			TagName:      imgType,
			ValuePreview: fmt.Sprintf("blanked %s %dx%d (%dKB)", imgType, w, ht, n/1024),
			Source:       wsi.SourceImageContent,
		})
	}
	return cleared, nil
}

func detectLabelMacro(f *os.File, entries []tiff.IFDEntry, classify func(string) (string, bool)) (string, bool) {
	e, ok := tiff.FindTag(entries, 270)
	if !ok {
		return "", false
	}
	desc, err := tiff.ReadTagString(f, e)
	if err != nil {
		return "", false
	}
	return classify(lower(desc))
}

// scanRegexSweep reads the leading DefaultScanSize bytes of path and runs
// the standard byte-pattern PHI detector over them, skipping any offset
// already reported by a structural finding (skipOffsets is built from
// prior findings' Offset fields by the caller).
func scanRegexSweep(path string, skipOffsets map[int]bool) ([]wsi.Finding, error) {
	data, err := readHead(path, DefaultScanSize)
	if err != nil {
		return nil, fmt.Errorf("scanRegexSweep: %w", err)
	}
	d := phi.NewDetector()
	raw := d.ScanBytes(data, skipOffsets)
	findings := make([]wsi.Finding, 0, len(raw))
	for _, r := range raw {
		findings = append(findings, wsi.Finding{
			Offset: int64(r.Offset), Length: int64(r.Length),
			TagName:      "regex:" + r.Label,
			ValuePreview: preview(r.Matched, 50),
			Source:       wsi.SourceRegexScan,
		})
	}
	return findings, nil
}

// anonymizeRegexSweep re-runs scanRegexSweep and overwrites every match
// in place with 'X' bytes.
func anonymizeRegexSweep(path string, skipOffsets map[int]bool) ([]wsi.Finding, error) {
	data, err := readHead(path, DefaultScanSize)
	if err != nil {
		return nil, fmt.Errorf("anonymizeRegexSweep: %w", err)
	}
	d := phi.NewDetector()
	raw := d.ScanBytes(data, skipOffsets)
	if len(raw) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("anonymizeRegexSweep: %w", err)
	}
	defer f.Close()

	cleared := make([]wsi.Finding, 0, len(raw))
	for _, r := range raw {
		if _, err := f.Seek(int64(r.Offset), 0); err != nil {
			return cleared, fmt.Errorf("anonymizeRegexSweep: %w", err)
		}
		xs := make([]byte, r.Length)
		for i := range xs {
			xs[i] = 'X'
		}
		if _, err := f.Write(xs); err != nil {
			return cleared, fmt.Errorf("anonymizeRegexSweep: %w", err)
		}
		cleared = append(cleared, wsi.Finding{
			Offset: int64(r.Offset), Length: int64(r.Length),
			TagName:      "regex:" + r.Label,
			ValuePreview: preview(r.Matched, 50),
			Source:       wsi.SourceRegexScan,
		})
	}
	return cleared, nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func asciiOrHex(b []byte) string {
	for _, c := range b {
		if c != 0 && (c < 0x20 || c > 0x7e) {
			return fmt.Sprintf("%x", b)
		}
	}
	return string(b)
}

// firstIFDEntries returns the entries of the first IFD in the file, or
// nil if the file has no IFD at all.
func firstIFDEntries(f *os.File, h *tiff.Header) []tiff.IFDEntry {
	entries, _, err := tiff.ReadIFD(f, h, h.FirstIFDOffset)
	if err != nil {
		return nil
	}
	return entries
}

// tiffBasicInfo returns the byte-order/BigTIFF/page-count diagnostic
// fields every TIFF-based handler's Info method reports.
func tiffBasicInfo(path, format string) map[string]any {
	info := map[string]any{"format": format}
	if fi, err := os.Stat(path); err == nil {
		info["filename"] = fi.Name()
		info["file_size"] = fi.Size()
	}
	f, err := os.Open(path)
	if err != nil {
		info["error"] = err.Error()
		return info
	}
	defer f.Close()
	h, err := tiff.ReadHeader(f)
	if err != nil {
		info["error"] = err.Error()
		return info
	}
	info["is_bigtiff"] = h.Variant == tiff.VariantBigTIFF
	if h.Order == binary.LittleEndian {
		info["byte_order"] = "little-endian"
	} else {
		info["byte_order"] = "big-endian"
	}
	pages, err := tiff.IterIFDs(f, h)
	if err != nil {
		info["error"] = err.Error()
		return info
	}
	info["page_count"] = len(pages)
	return info
}

// replaceQuotedAttr replaces every `attrName = "value"` occurrence in text
// (case-insensitive, flexible whitespace around '=') whose value is
// non-empty and not already an all-'X' sentinel with an equal-length run
// of 'X', preserving text's overall byte length. skip, if non-nil, is
// called with each match's start offset and may veto the replacement
// (used to exclude matches inside XML processing instructions). Returns
// the rewritten text and how many substitutions were made.
func replaceQuotedAttr(text, attrName string, skip func(start int) bool) (string, int) {
	re := xmpAttrPattern(attrName)
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, 0
	}

	var b strings.Builder
	last := 0
	count := 0
	for _, loc := range locs {
		valStart, valEnd := loc[2], loc[3]
		if skip != nil && skip(loc[0]) {
			continue
		}
		val := text[valStart:valEnd]
		if val == "" || isXAnonymized(val) {
			continue
		}
		b.WriteString(text[last:valStart])
		b.WriteString(strings.Repeat("X", len(val)))
		last = valEnd
		count++
	}
	if count == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), count
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
