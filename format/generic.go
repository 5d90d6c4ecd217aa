package format

import (
	"fmt"
	"os"

	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// GenericTIFFHandler is the last-resort handler for any TIFF/BigTIFF file
// that doesn't match a known vendor format. It has no structured-metadata
// schema to parse, so it treats every ASCII tag in every IFD as a
// candidate for PHI and, on anonymize, overwrites a matched tag's entire
// value rather than trying to edit just the matched span.
type GenericTIFFHandler struct {
	policy Policy
}

// NewGenericTIFFHandler returns a GenericTIFFHandler. Nothing is excluded
// from the extra-metadata sweep since there's no dedicated tag-270 parser
// to defer to.
func NewGenericTIFFHandler() *GenericTIFFHandler {
	return &GenericTIFFHandler{policy: Policy{
		DateTags:                 DefaultDateTags,
		ExtraMetadataExcludeTags: map[uint16]bool{},
		ClassifyLabelMacro:       ClassifyLabelOrMacro,
	}}
}

func (h *GenericTIFFHandler) Name() string { return "tiff" }

// CanHandle reads the header magic directly rather than trusting the
// extension, since this handler is the catch-all for any TIFF/BigTIFF
// file a vendor-specific handler didn't claim.
func (h *GenericTIFFHandler) CanHandle(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = tiff.ReadHeader(f)
	return err == nil
}

func (h *GenericTIFFHandler) Scan(path string) wsi.ScanResult {
	result := wsi.NewScanResult(path, "tiff")
	info, err := os.Stat(path)
	if err != nil {
		return result.WithError(err)
	}
	result.FileSize = info.Size()

	strTags, err := h.scanStringTags(path)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, strTags...)

	dt, err := scanDateTimeTags(path, h.policy)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, dt...)

	extra, err := scanExtraMetadata(path, h.policy)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, extra...)

	labelMacro, err := scanLabelMacro(path, h.policy.ClassifyLabelMacro)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, labelMacro...)

	skip := map[int]bool{}
	for _, f := range result.Findings {
		skip[int(f.Offset)] = true
	}
	rx, err := scanRegexSweep(path, skip)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, rx...)
	result.Findings = append(result.Findings, phi.NewDetector().ScanFilename(path)...)

	result.IsClean = len(result.Findings) == 0
	return result
}

func (h *GenericTIFFHandler) Anonymize(path string) ([]wsi.Finding, error) {
	var cleared []wsi.Finding

	// Label/macro images are blanked first: anonymizeStringTags below
	// overwrites tag 270's entire value on any match, which would destroy
	// the ImageDescription text detectLabelMacro still needs to classify
	// an IFD as label/macro on this pass.
	labelMacro, err := anonymizeLabelMacro(path, h.policy.ClassifyLabelMacro)
	if err != nil {
		return cleared, fmt.Errorf("tiff anonymize: %w", err)
	}
	cleared = append(cleared, labelMacro...)

	strTags, err := h.anonymizeStringTags(path)
	if err != nil {
		return cleared, fmt.Errorf("tiff anonymize: %w", err)
	}
	cleared = append(cleared, strTags...)

	dt, err := anonymizeDateTimeTags(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("tiff anonymize: %w", err)
	}
	cleared = append(cleared, dt...)

	extra, err := anonymizeExtraMetadata(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("tiff anonymize: %w", err)
	}
	cleared = append(cleared, extra...)

	skip := map[int]bool{}
	for _, c := range cleared {
		skip[int(c.Offset)] = true
	}
	rx, err := anonymizeRegexSweep(path, skip)
	if err != nil {
		return cleared, fmt.Errorf("tiff anonymize: %w", err)
	}
	cleared = append(cleared, rx...)
	return cleared, nil
}

func (h *GenericTIFFHandler) Info(path string) map[string]any {
	return tiffBasicInfo(path, "tiff")
}

// scanStringTags inspects every ASCII-typed tag (dtype 2) in every IFD,
// running the full PHI string detector against its value. Unlike the
// vendor handlers, there's no known field schema here, so every ASCII
// value is a candidate regardless of tag ID.
func (h *GenericTIFFHandler) scanStringTags(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tiff scanStringTags: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("tiff scanStringTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("tiff scanStringTags: %w", err)
	}

	d := phi.NewDetector()
	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			if e.Type != tiff.DTASCII || seen[e.ValueOffset] {
				continue
			}
			value, err := tiff.ReadTagString(f, e)
			if err != nil || value == "" {
				continue
			}
			if len(d.ScanString(value)) == 0 {
				continue
			}
			seen[e.ValueOffset] = true
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: e.TagName(),
				ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
			})
		}
	}
	return findings, nil
}

// anonymizeStringTags overwrites a matched tag's entire value with 'X'
// bytes (total size minus one, plus a trailing NUL) regardless of where
// within the value the PHI pattern matched. This is deliberately coarser
// than the vendor handlers' field-aware editing: with no known schema for
// an unrecognized TIFF variant, there's no safe way to isolate just the
// PHI-bearing substring from surrounding non-PHI text in the same tag.
func (h *GenericTIFFHandler) anonymizeStringTags(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tiff anonymizeStringTags: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("tiff anonymizeStringTags: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("tiff anonymizeStringTags: %w", err)
	}

	d := phi.NewDetector()
	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		for _, e := range page.Entries {
			if e.Type != tiff.DTASCII || seen[e.ValueOffset] {
				continue
			}
			value, err := tiff.ReadTagString(f, e)
			if err != nil || value == "" {
				continue
			}
			if len(d.ScanString(value)) == 0 {
				continue
			}
			seen[e.ValueOffset] = true

			total := int(e.TotalSize())
			if total == 0 {
				continue
			}
			replacement := make([]byte, total)
			for i := 0; i < total-1; i++ {
				replacement[i] = 'X'
			}
			replacement[total-1] = 0
			if err := tiff.OverwriteTagPadded(f, e, replacement); err != nil {
				return cleared, fmt.Errorf("tiff anonymizeStringTags: %w", err)
			}
			tagID := e.TagID
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: e.TagName(),
				ValuePreview: preview(value, 50), Source: wsi.SourceTIFFTag,
			})
		}
	}
	return cleared, nil
}
