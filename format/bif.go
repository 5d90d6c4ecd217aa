package format

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// bifXMPAttributes are the Ventana iScan XMP attributes (tag 700) that
// carry PHI.
var bifXMPAttributes = []string{
	"BarCode1", "BarCode2", "BarCodeType1", "BarCodeType2",
	"ScanDate", "ScanTime", "BaseFileName",
	"UniqueID", "DeviceSerialNumber", "OperatorID",
	"PatientName", "CaseID", "SampleID",
	"LabelText", "Comment", "Description",
}

// BIFHandler handles Roche/Ventana BIF files: BigTIFF with a pyramidal
// tiled image, XMP metadata (tag 700) carrying an <iScan> element, and
// label/macro/thumbnail associated images.
type BIFHandler struct {
	policy Policy
}

// NewBIFHandler returns a BIFHandler. BIF excludes both 700 (XMP, handled
// by the dedicated XMP scan) and 270 (ImageDescription, used for
// label/macro/thumbnail classification) from the generic extra-metadata
// sweep.
func NewBIFHandler() *BIFHandler {
	return &BIFHandler{policy: Policy{
		DateTags:                 DefaultDateTags,
		ExtraMetadataExcludeTags: map[uint16]bool{270: true, 700: true},
		ClassifyLabelMacro:       classifyBIFImage,
	}}
}

// classifyBIFImage adds Ventana's "thumbnail" naming convention on top of
// the standard label/macro classification.
func classifyBIFImage(descLower string) (string, bool) {
	switch {
	case strings.Contains(descLower, "label"):
		return "LabelImage", true
	case strings.Contains(descLower, "macro"):
		return "MacroImage", true
	case strings.Contains(descLower, "thumbnail"):
		return "ThumbnailImage", true
	default:
		return "", false
	}
}

func (h *BIFHandler) Name() string { return "bif" }

func (h *BIFHandler) CanHandle(path string) bool {
	if !hasExtension(path, ".bif") {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = tiff.ReadHeader(f)
	return err == nil
}

func (h *BIFHandler) Scan(path string) wsi.ScanResult {
	result := wsi.NewScanResult(path, "bif")
	info, err := os.Stat(path)
	if err != nil {
		return result.WithError(err)
	}
	result.FileSize = info.Size()

	xmp, err := h.scanXMP(path)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, xmp...)

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

	rx, err := scanRegexSweep(path, nil)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, rx...)
	result.Findings = append(result.Findings, phi.NewDetector().ScanFilename(path)...)

	result.IsClean = len(result.Findings) == 0
	return result
}

func (h *BIFHandler) Anonymize(path string) ([]wsi.Finding, error) {
	var cleared []wsi.Finding

	xmp, err := h.anonymizeXMP(path)
	if err != nil {
		return cleared, fmt.Errorf("bif anonymize: %w", err)
	}
	cleared = append(cleared, xmp...)

	dt, err := anonymizeDateTimeTags(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("bif anonymize: %w", err)
	}
	cleared = append(cleared, dt...)

	extra, err := anonymizeExtraMetadata(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("bif anonymize: %w", err)
	}
	cleared = append(cleared, extra...)

	labelMacro, err := anonymizeLabelMacro(path, h.policy.ClassifyLabelMacro)
	if err != nil {
		return cleared, fmt.Errorf("bif anonymize: %w", err)
	}
	cleared = append(cleared, labelMacro...)

	skip := map[int]bool{}
	for _, c := range cleared {
		skip[int(c.Offset)] = true
	}
	rx, err := anonymizeRegexSweep(path, skip)
	if err != nil {
		return cleared, fmt.Errorf("bif anonymize: %w", err)
	}
	cleared = append(cleared, rx...)
	return cleared, nil
}

func (h *BIFHandler) Info(path string) map[string]any {
	return tiffBasicInfo(path, "bif")
}

// scanXMP scans every IFD's tag 700 for PHI-bearing iScan attributes.
// The XMP payload is parsed with etree to confirm it's well-formed XML
// and to enumerate its elements robustly; a fragment that doesn't parse
// (common for XMP embedded mid-stream without its own wrapping root)
// falls back to a direct attribute-pattern sweep of the raw text.
func (h *BIFHandler) scanXMP(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bif scanXMP: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("bif scanXMP: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("bif scanXMP: %w", err)
	}

	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 700)
		if !ok || seen[e.ValueOffset] {
			continue
		}
		seen[e.ValueOffset] = true
		raw, err := tiff.ReadTagBytes(f, e)
		if err != nil {
			return nil, fmt.Errorf("bif scanXMP: %w", err)
		}
		text := string(raw)
		for _, attr := range xmpAttributeValues(text, bifXMPAttributes) {
			if attr.value == "" || isXAnonymized(attr.value) {
				continue
			}
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: "XMP:iScan:" + attr.name,
				ValuePreview: attr.name + "=" + preview(attr.value, 40),
				Source:       wsi.SourceTIFFTag,
			})
		}
	}
	return findings, nil
}

func (h *BIFHandler) anonymizeXMP(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("bif anonymizeXMP: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("bif anonymizeXMP: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("bif anonymizeXMP: %w", err)
	}

	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 700)
		if !ok || seen[e.ValueOffset] {
			continue
		}
		seen[e.ValueOffset] = true
		raw, err := tiff.ReadTagBytes(f, e)
		if err != nil {
			return cleared, fmt.Errorf("bif anonymizeXMP: %w", err)
		}
		text := string(raw)
		modified := false
		for _, attrName := range bifXMPAttributes {
			newText, count := replaceQuotedAttr(text, attrName, nil)
			if count == 0 {
				continue
			}
			text = newText
			modified = true
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: tagIDPtr(e.TagID), TagName: "XMP:iScan:" + attrName,
				ValuePreview: attrName + " anonymized",
				Source:       wsi.SourceTIFFTag,
			})
		}
		if !modified {
			continue
		}
		newBytes := []byte(text)
		total := int(e.TotalSize())
		if len(newBytes) < total {
			newBytes = append(newBytes, make([]byte, total-len(newBytes))...)
		} else {
			newBytes = newBytes[:total]
		}
		if err := tiff.OverwriteTagPadded(f, e, newBytes); err != nil {
			return cleared, fmt.Errorf("bif anonymizeXMP: %w", err)
		}
	}
	return cleared, nil
}

type xmpAttr struct {
	name  string
	value string
}

// xmpAttributeValues parses text as XML with etree to robustly find
// attrNames anywhere in the tree; if text doesn't parse as XML (a bare
// fragment, which is common for embedded XMP), it falls back to a direct
// regex sweep of the raw text for each attribute name.
func xmpAttributeValues(text string, attrNames []string) []xmpAttr {
	wanted := map[string]string{}
	for _, n := range attrNames {
		wanted[strings.ToLower(n)] = n
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err == nil && doc.Root() != nil {
		var out []xmpAttr
		for _, el := range doc.FindElements("//*") {
			for _, a := range el.Attr {
				if name, ok := wanted[strings.ToLower(a.Key)]; ok {
					out = append(out, xmpAttr{name: name, value: strings.TrimSpace(a.Value)})
				}
			}
		}
		return out
	}

	var out []xmpAttr
	for _, name := range attrNames {
		re := xmpAttrPattern(name)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			out = append(out, xmpAttr{name: name, value: strings.TrimSpace(m[1])})
		}
	}
	return out
}

func xmpAttrPattern(attrName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(attrName) + `\s*=\s*"([^"]*)"`)
}

func isXAnonymized(value string) bool {
	return value != "" && strings.Count(value, "X") == len(value)
}

func tagIDPtr(id uint16) *uint16 {
	v := id
	return &v
}
