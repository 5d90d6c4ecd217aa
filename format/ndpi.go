package format

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// ndpiPHITags are Hamamatsu-specific tags carrying free-text PHI: the
// barcode/accession number, a reference string, and the scanner serial
// number.
var ndpiPHITags = map[uint16]string{
	65468: "NDPI_BARCODE",
	65427: "NDPI_REFERENCE",
	65442: "NDPI_SERIAL_NUMBER",
}

// ndpiScannerPropsTag holds a newline-separated key=value property block;
// ndpiScannerPropsPHIKeys are its exact PHI-bearing keys, and
// ndpiScannerPropsDynamicSubstrings flags any key that merely contains
// one of these words (e.g. "Label Owner Name").
const ndpiScannerPropsTag uint16 = 65449

var ndpiScannerPropsPHIKeys = map[string]bool{
	"Created": true, "Updated": true,
	"NDP.S/N": true, "Macro.S/N": true, "Firmware.Version": true,
}

var ndpiScannerPropsDynamicSubstrings = []string{"User", "Name", "Operator"}

// ndpiSourceLensTag identifies an IFD's role by lens value: the macro
// overview and the barcode/label area are both non-diagnostic associated
// images that may carry photographed PHI.
const ndpiSourceLensTag uint16 = 65421

const (
	ndpiMacroLens   = -1.0
	ndpiBarcodeLens = -2.0
)

// NDPIHandler handles Hamamatsu NDPI files. NDPI pages frequently share a
// single tag's byte offset across IFDs, so every scan/anonymize pass here
// dedups by value offset rather than by IFD.
type NDPIHandler struct{}

func NewNDPIHandler() *NDPIHandler { return &NDPIHandler{} }

func (h *NDPIHandler) Name() string { return "ndpi" }

func (h *NDPIHandler) CanHandle(path string) bool {
	return hasExtension(path, ".ndpi")
}

func (h *NDPIHandler) Scan(path string) wsi.ScanResult {
	result := wsi.NewScanResult(path, "ndpi")
	info, err := os.Stat(path)
	if err != nil {
		return result.WithError(err)
	}
	result.FileSize = info.Size()

	tagFindings, err := h.scanTags(path)
	if err != nil {
		// A corrupt IFD chain still gets a best-effort raw sweep rather than
		// an outright scan failure, but an empty fallback result must not
		// be reported as clean.
		fallback, ferr := scanFallbackRaw(path)
		if ferr != nil || len(fallback) == 0 {
			return result.WithError(err)
		}
		result.Findings = fallback
		result.IsClean = false
		return result
	}
	result.Findings = append(result.Findings, tagFindings...)

	labelMacro, err := h.scanSourceLensImages(path)
	if err == nil {
		result.Findings = append(result.Findings, labelMacro...)
	}

	result.Findings = append(result.Findings, scanCompanionFiles(path)...)

	skip := map[int]bool{}
	for _, f := range result.Findings {
		skip[int(f.Offset)] = true
	}
	rx, err := scanRegexSweep(path, skip)
	if err == nil {
		result.Findings = append(result.Findings, rx...)
	}
	result.Findings = append(result.Findings, phi.NewDetector().ScanFilename(path)...)

	result.IsClean = len(result.Findings) == 0
	return result
}

func (h *NDPIHandler) Anonymize(path string) ([]wsi.Finding, error) {
	var cleared []wsi.Finding

	tagCleared, err := h.anonymizeTags(path)
	if err != nil {
		// Corrupt TIFF structure: fall back to a raw regex pass over the
		// header bytes instead of failing outright.
		fallback, ferr := anonymizeFallbackRaw(path)
		if ferr != nil {
			return cleared, fmt.Errorf("ndpi anonymize: %w", err)
		}
		cleared = append(cleared, fallback...)
	} else {
		cleared = append(cleared, tagCleared...)
	}

	// Label/macro blanking is attempted even when tag anonymization above
	// failed: the associated images carry photographed PHI independent of
	// whatever corrupted the tag-level metadata.
	if labelMacro, err := h.blankSourceLensImages(path); err == nil {
		cleared = append(cleared, labelMacro...)
	}

	cleared = append(cleared, anonymizeCompanionFiles(path)...)

	skip := map[int]bool{}
	for _, c := range cleared {
		skip[int(c.Offset)] = true
	}
	if rx, err := anonymizeRegexSweep(path, skip); err == nil {
		cleared = append(cleared, rx...)
	}
	return cleared, nil
}

func (h *NDPIHandler) Info(path string) map[string]any {
	info := tiffBasicInfo(path, "ndpi")
	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return info
	}
	entries := firstIFDEntries(f, hdr)
	for _, e := range entries {
		if e.Type != tiff.DTASCII {
			continue
		}
		switch e.TagID {
		case 271, 272, 305:
			if v, err := tiff.ReadTagString(f, e); err == nil {
				info[strings.ToLower(e.TagName())] = v
			}
		}
	}
	return info
}

// scanTags scans NDPI_BARCODE/NDPI_REFERENCE/NDPI_SERIAL_NUMBER, the
// DateTime family, NDPI_SCANNER_PROPS, and the generic extra-metadata tag
// set across every IFD, sharing one seen-offsets dedup set.
func (h *NDPIHandler) scanTags(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanTags: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanTags: %w", err)
	}

	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			if seen[e.ValueOffset] {
				continue
			}
			if name, ok := ndpiPHITags[e.TagID]; ok {
				seen[e.ValueOffset] = true
				value, err := tiff.ReadTagString(f, e)
				if err != nil || value == "" || isXAnonymized(value) {
					continue
				}
				tagID := e.TagID
				findings = append(findings, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: name,
					ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
				})
				continue
			}
			if name, ok := DefaultDateTags[e.TagID]; ok {
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
				continue
			}
			if e.TagID == ndpiScannerPropsTag {
				seen[e.ValueOffset] = true
				props, err := scanScannerProps(f, e)
				if err != nil {
					return nil, fmt.Errorf("ndpi scanTags: %w", err)
				}
				findings = append(findings, props...)
			}
		}

		entries, values, err := tiff.ScanExtraMetadataTags(f, page.Entries, nil)
		if err != nil {
			return nil, fmt.Errorf("ndpi scanTags: %w", err)
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
	}
	return findings, nil
}

func (h *NDPIHandler) anonymizeTags(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ndpi anonymizeTags: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("ndpi anonymizeTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("ndpi anonymizeTags: %w", err)
	}

	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			if seen[e.ValueOffset] {
				continue
			}
			if name, ok := ndpiPHITags[e.TagID]; ok {
				seen[e.ValueOffset] = true
				value, err := tiff.ReadTagString(f, e)
				if err != nil || value == "" || isXAnonymized(value) {
					continue
				}
				if err := tiff.BlankTag(f, e); err != nil {
					return cleared, fmt.Errorf("ndpi anonymizeTags: %w", err)
				}
				tagID := e.TagID
				cleared = append(cleared, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: name,
					ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
				})
				continue
			}
			if name, ok := DefaultDateTags[e.TagID]; ok {
				seen[e.ValueOffset] = true
				value, err := tiff.ReadTagString(f, e)
				if err != nil || value == "" || phi.IsDateAnonymized(value) {
					continue
				}
				if err := tiff.BlankTag(f, e); err != nil {
					return cleared, fmt.Errorf("ndpi anonymizeTags: %w", err)
				}
				tagID := e.TagID
				cleared = append(cleared, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: &tagID, TagName: name,
					ValuePreview: preview(value, 30), Source: wsi.SourceTIFFTag,
				})
				continue
			}
			if e.TagID == ndpiScannerPropsTag {
				seen[e.ValueOffset] = true
				props, err := anonymizeScannerProps(f, e)
				if err != nil {
					return cleared, fmt.Errorf("ndpi anonymizeTags: %w", err)
				}
				cleared = append(cleared, props...)
			}
		}

		entries, values, err := tiff.ScanExtraMetadataTags(f, page.Entries, nil)
		if err != nil {
			return cleared, fmt.Errorf("ndpi anonymizeTags: %w", err)
		}
		for i, e := range entries {
			if seen[e.ValueOffset] {
				continue
			}
			seen[e.ValueOffset] = true
			if _, err := tiff.BlankExtraMetadataTag(f, e); err != nil {
				return cleared, fmt.Errorf("ndpi anonymizeTags: %w", err)
			}
			tagID := e.TagID
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: tiff.ExtraMetadataTags[e.TagID],
				ValuePreview: preview(values[i], 50), Source: wsi.SourceTIFFTag,
			})
		}
	}
	return cleared, nil
}

// scanScannerProps reports any PHI key=value line in tag 65449's
// newline-separated property block.
func scanScannerProps(f *os.File, e tiff.IFDEntry) ([]wsi.Finding, error) {
	value, err := tiff.ReadTagString(f, e)
	if err != nil {
		return nil, fmt.Errorf("scanScannerProps: %w", err)
	}
	if value == "" {
		return nil, nil
	}
	var findings []wsi.Finding
	for _, line := range strings.Split(value, "\n") {
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !isScannerPropPHI(key) || val == "" || isXAnonymized(val) {
			continue
		}
		tagID := ndpiScannerPropsTag
		findings = append(findings, wsi.Finding{
			Offset: e.ValueOffset, Length: int64(e.TotalSize()),
			TagID: &tagID, TagName: "NDPI_SCANNER_PROPS:" + key,
			ValuePreview: preview(val, 40), Source: wsi.SourceTIFFTag,
		})
	}
	return findings, nil
}

// anonymizeScannerProps rewrites only the PHI-bearing lines of tag
// 65449's property block, leaving non-PHI keys untouched.
func anonymizeScannerProps(f *os.File, e tiff.IFDEntry) ([]wsi.Finding, error) {
	raw, err := tiff.ReadTagBytes(f, e)
	if err != nil {
		return nil, fmt.Errorf("anonymizeScannerProps: %w", err)
	}
	value := strings.TrimRight(string(raw), "\x00")
	if value == "" {
		return nil, nil
	}

	lines := strings.Split(value, "\n")
	var cleared []wsi.Finding
	modified := false
	for i, line := range lines {
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		keyTrimmed := strings.TrimSpace(key)
		valTrimmed := strings.TrimSpace(val)
		if !isScannerPropPHI(keyTrimmed) || valTrimmed == "" || isXAnonymized(valTrimmed) {
			continue
		}
		anon := strings.Repeat("X", len(valTrimmed))
		lines[i] = key + "=" + anon
		modified = true
		tagID := ndpiScannerPropsTag
		cleared = append(cleared, wsi.Finding{
			Offset: e.ValueOffset, Length: int64(e.TotalSize()),
			TagID: &tagID, TagName: "NDPI_SCANNER_PROPS:" + keyTrimmed,
			ValuePreview: preview(valTrimmed, 40), Source: wsi.SourceTIFFTag,
		})
	}
	if !modified {
		return cleared, nil
	}

	newBytes := []byte(strings.Join(lines, "\n"))
	total := int(e.TotalSize())
	if len(newBytes) < total {
		newBytes = append(newBytes, make([]byte, total-len(newBytes))...)
	} else {
		newBytes = append(newBytes[:total-1], 0)
	}
	if err := tiff.OverwriteTagPadded(f, e, newBytes); err != nil {
		return cleared, fmt.Errorf("anonymizeScannerProps: %w", err)
	}
	return cleared, nil
}

func isScannerPropPHI(key string) bool {
	if ndpiScannerPropsPHIKeys[key] {
		return true
	}
	for _, sub := range ndpiScannerPropsDynamicSubstrings {
		if containsSubstr(key, sub) {
			return true
		}
	}
	return false
}

// scanSourceLensImages identifies NDPI_SOURCELENS (65421) pages that are
// the macro overview (-1.0) or the barcode/label area (-2.0) — both
// non-diagnostic associated images that may carry photographed PHI.
func (h *NDPIHandler) scanSourceLensImages(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanSourceLensImages: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanSourceLensImages: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("ndpi scanSourceLensImages: %w", err)
	}

	var findings []wsi.Finding
	for _, page := range pages {
		imgType, ok := classifySourceLens(f, hdr, page.Entries)
		if !ok {
			continue
		}
		blanked, err := tiff.IsIFDImageBlanked(f, hdr, page.Entries)
		if err != nil || blanked {
			continue
		}
		w, ht := tiff.GetIFDImageSize(f, hdr, page.Entries)
		size := tiff.GetIFDImageDataSize(f, hdr, page.Entries)
		if size <= 0 {
			continue
		}
		tagID := ndpiSourceLensTag
		findings = append(findings, wsi.Finding{
			Offset: int64(page.Offset), Length: size,
			TagID: &tagID, TagName: imgType,
			ValuePreview: fmt.Sprintf("%s %dx%d (%dKB)", imgType, w, ht, size/1024),
			Source:       wsi.SourceImageContent,
		})
	}
	return findings, nil
}

func (h *NDPIHandler) blankSourceLensImages(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
	}

	var cleared []wsi.Finding
	for _, page := range pages {
		imgType, ok := classifySourceLens(f, hdr, page.Entries)
		if !ok {
			continue
		}
		blanked, err := tiff.IsIFDImageBlanked(f, hdr, page.Entries)
		if err != nil {
			continue
		}
		if blanked {
			if _, err := tiff.UnlinkIFD(f, hdr, page.Offset); err != nil {
				return cleared, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
			}
			continue
		}
		w, ht := tiff.GetIFDImageSize(f, hdr, page.Entries)
		n, err := tiff.BlankIFDImageData(f, hdr, page.Entries)
		if err != nil {
			return cleared, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
		}
		if n <= 0 {
			continue
		}
		if _, err := tiff.UnlinkIFD(f, hdr, page.Offset); err != nil {
			return cleared, fmt.Errorf("ndpi blankSourceLensImages: %w", err)
		}
		tagID := ndpiSourceLensTag
		cleared = append(cleared, wsi.Finding{
			Offset: int64(page.Offset), Length: n,
			TagID: &tagID, TagName: imgType,
			ValuePreview: fmt.Sprintf("blanked %s %dx%d (%dKB)", imgType, w, ht, n/1024),
			Source:       wsi.SourceImageContent,
		})
	}
	return cleared, nil
}

func classifySourceLens(f *os.File, hdr *tiff.Header, entries []tiff.IFDEntry) (string, bool) {
	e, ok := tiff.FindTag(entries, ndpiSourceLensTag)
	if !ok {
		return "", false
	}
	lens, err := tiff.ReadTagNumeric(f, hdr, e)
	if err != nil {
		return "", false
	}
	lensF := asInt64AsFloat(lens)
	switch lensF {
	case ndpiMacroLens:
		return "MacroImage", true
	case ndpiBarcodeLens:
		return "LabelImage", true
	default:
		return "", false
	}
}

func asInt64AsFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// scanFallbackRaw and anonymizeFallbackRaw are used when the TIFF
// structure itself can't be parsed: they sweep the leading scan window
// for PHI patterns without any tag-aware context, which is strictly
// worse than the structural scan but better than reporting nothing.
func scanFallbackRaw(path string) ([]wsi.Finding, error) {
	data, err := readHead(path, DefaultScanSize)
	if err != nil {
		return nil, fmt.Errorf("scanFallbackRaw: %w", err)
	}
	d := phi.NewDetector()
	raw := d.ScanBytes(data, nil)
	findings := make([]wsi.Finding, 0, len(raw))
	for _, r := range raw {
		findings = append(findings, wsi.Finding{
			Offset: int64(r.Offset), Length: int64(r.Length),
			TagName:      "fallback:" + r.Label,
			ValuePreview: preview(r.Matched, 50),
			Source:       wsi.SourceRegexScan,
		})
	}
	return findings, nil
}

func anonymizeFallbackRaw(path string) ([]wsi.Finding, error) {
	data, err := readHead(path, DefaultScanSize)
	if err != nil {
		return nil, fmt.Errorf("anonymizeFallbackRaw: %w", err)
	}
	d := phi.NewDetector()
	raw := d.ScanBytes(data, nil)
	if len(raw) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("anonymizeFallbackRaw: %w", err)
	}
	defer f.Close()

	cleared := make([]wsi.Finding, 0, len(raw))
	for _, r := range raw {
		if _, err := f.Seek(int64(r.Offset), 0); err != nil {
			return cleared, fmt.Errorf("anonymizeFallbackRaw: %w", err)
		}
		xs := make([]byte, r.Length)
		for i := range xs {
			xs[i] = 'X'
		}
		if _, err := f.Write(xs); err != nil {
			return cleared, fmt.Errorf("anonymizeFallbackRaw: %w", err)
		}
		cleared = append(cleared, wsi.Finding{
			Offset: int64(r.Offset), Length: int64(r.Length),
			TagName:      "fallback:" + r.Label,
			ValuePreview: preview(r.Matched, 50),
			Source:       wsi.SourceRegexScan,
		})
	}
	return cleared, nil
}

// findCompanionFiles locates Hamamatsu annotation/session files that ride
// alongside an NDPI slide: slide.ndpi.ndpa, slide.ndpi.ndpis, and
// per-user slide.ndpi_N.ndpa variants.
func findCompanionFiles(path string) []string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	var companions []string
	for _, ext := range []string{".ndpa", ".ndpis"} {
		candidate := filepath.Join(dir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			companions = append(companions, candidate)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, name+"_*.ndpa"))
	sort.Strings(matches)
	companions = append(companions, matches...)
	return companions
}

func scanCompanionFiles(path string) []wsi.Finding {
	var findings []wsi.Finding
	for _, companion := range findCompanionFiles(path) {
		info, err := os.Stat(companion)
		if err != nil {
			continue
		}
		findings = append(findings, wsi.Finding{
			Offset: 0, Length: info.Size(),
			TagName:      "CompanionFile:" + strings.TrimPrefix(filepath.Ext(companion), "."),
			ValuePreview: filepath.Base(companion) + " (may contain PHI)",
			Source:       wsi.SourceCompanionFile,
		})
	}
	return findings
}

func anonymizeCompanionFiles(path string) []wsi.Finding {
	var cleared []wsi.Finding
	for _, companion := range findCompanionFiles(path) {
		info, err := os.Stat(companion)
		if err != nil {
			continue
		}
		size := info.Size()
		if err := os.Remove(companion); err != nil {
			continue
		}
		cleared = append(cleared, wsi.Finding{
			Offset: 0, Length: size,
			TagName:      "CompanionFile:" + strings.TrimPrefix(filepath.Ext(companion), "."),
			ValuePreview: "deleted " + filepath.Base(companion),
			Source:       wsi.SourceCompanionFile,
		})
	}
	return cleared
}
