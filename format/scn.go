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

// scnPHIElements are the Leica-namespace XML element and attribute names
// inside an SCN ImageDescription (tag 270) that carry PHI.
var scnPHIElements = []string{
	"barcode", "creationDate", "device", "model", "version",
	"slideName", "description", "user", "operator",
	"institution", "uniqueID", "serialNumber",
	"acquisitionDate", "acquisitionTime",
}

// SCNHandler handles Leica SCN files: BigTIFF with a pyramidal tiled
// image, XML metadata in Leica's namespace embedded in tag 270, and
// label/macro associated images stored as separate IFDs.
type SCNHandler struct {
	policy Policy
}

// NewSCNHandler returns an SCNHandler. SCN excludes 270 from the generic
// extra-metadata sweep since this handler parses its XML itself.
func NewSCNHandler() *SCNHandler {
	return &SCNHandler{policy: Policy{
		DateTags:                 DefaultDateTags,
		ExtraMetadataExcludeTags: map[uint16]bool{270: true},
		ClassifyLabelMacro:       ClassifyLabelOrMacro,
	}}
}

func (h *SCNHandler) Name() string { return "scn" }

func (h *SCNHandler) CanHandle(path string) bool {
	if !hasExtension(path, ".scn") {
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

func (h *SCNHandler) Scan(path string) wsi.ScanResult {
	result := wsi.NewScanResult(path, "scn")
	info, err := os.Stat(path)
	if err != nil {
		return result.WithError(err)
	}
	result.FileSize = info.Size()

	xml, err := h.scanXMLMetadata(path)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, xml...)

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

func (h *SCNHandler) Anonymize(path string) ([]wsi.Finding, error) {
	var cleared []wsi.Finding

	xml, err := h.anonymizeXMLMetadata(path)
	if err != nil {
		return cleared, fmt.Errorf("scn anonymize: %w", err)
	}
	cleared = append(cleared, xml...)

	dt, err := anonymizeDateTimeTags(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("scn anonymize: %w", err)
	}
	cleared = append(cleared, dt...)

	extra, err := anonymizeExtraMetadata(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("scn anonymize: %w", err)
	}
	cleared = append(cleared, extra...)

	labelMacro, err := anonymizeLabelMacro(path, h.policy.ClassifyLabelMacro)
	if err != nil {
		return cleared, fmt.Errorf("scn anonymize: %w", err)
	}
	cleared = append(cleared, labelMacro...)

	skip := map[int]bool{}
	for _, c := range cleared {
		skip[int(c.Offset)] = true
	}
	rx, err := anonymizeRegexSweep(path, skip)
	if err != nil {
		return cleared, fmt.Errorf("scn anonymize: %w", err)
	}
	cleared = append(cleared, rx...)
	return cleared, nil
}

func (h *SCNHandler) Info(path string) map[string]any {
	return tiffBasicInfo(path, "scn")
}

// scanXMLMetadata parses tag 270's XML payload (Leica namespace) for
// PHI-bearing elements and attributes, across every IFD. A value is
// checked both as element text (<barcode>value</barcode>) and as an
// attribute (barcode="value"); etree enumerates the tree so neither form
// is missed, and processing-instruction spans (<?...?>) are excluded by
// position rather than by a second regex pass.
func (h *SCNHandler) scanXMLMetadata(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scn scanXMLMetadata: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("scn scanXMLMetadata: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("scn scanXMLMetadata: %w", err)
	}

	var findings []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 270)
		if !ok || seen[e.ValueOffset] {
			continue
		}
		seen[e.ValueOffset] = true
		raw, err := tiff.ReadTagBytes(f, e)
		if err != nil {
			return nil, fmt.Errorf("scn scanXMLMetadata: %w", err)
		}
		text := strings.TrimRight(string(raw), "\x00")
		if !strings.Contains(text, "<") {
			continue
		}

		for _, m := range scnElementMatches(text, scnPHIElements) {
			if m.value == "" || isXAnonymized(m.value) {
				continue
			}
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: "SCN:XML:" + m.name,
				ValuePreview: m.name + "=" + preview(m.value, 40),
				Source:       wsi.SourceTIFFTag,
			})
		}
	}
	return findings, nil
}

func (h *SCNHandler) anonymizeXMLMetadata(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("scn anonymizeXMLMetadata: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("scn anonymizeXMLMetadata: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("scn anonymizeXMLMetadata: %w", err)
	}

	var cleared []wsi.Finding
	seen := map[int64]bool{}
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 270)
		if !ok || seen[e.ValueOffset] {
			continue
		}
		seen[e.ValueOffset] = true
		raw, err := tiff.ReadTagBytes(f, e)
		if err != nil {
			return cleared, fmt.Errorf("scn anonymizeXMLMetadata: %w", err)
		}
		text := strings.TrimRight(string(raw), "\x00")
		if !strings.Contains(text, "<") {
			continue
		}

		modified := false
		for _, elemName := range scnPHIElements {
			newText, count := replaceElementText(text, elemName)
			if count > 0 {
				text = newText
				modified = true
				cleared = append(cleared, wsi.Finding{
					Offset: e.ValueOffset, Length: int64(e.TotalSize()),
					TagID: tagIDPtr(e.TagID), TagName: "SCN:XML:" + elemName,
					ValuePreview: elemName + " anonymized",
					Source:       wsi.SourceTIFFTag,
				})
			}

			newText, count = replaceQuotedAttr(text, elemName, skipInsideProcessingInstruction(text))
			if count > 0 {
				text = newText
				modified = true
			}
		}
		if !modified {
			continue
		}

		newBytes := []byte(text)
		total := int(e.TotalSize())
		if len(newBytes) < total {
			newBytes = append(newBytes, make([]byte, total-len(newBytes))...)
		} else {
			newBytes = newBytes[:total-1]
			newBytes = append(newBytes, 0)
		}
		if err := tiff.OverwriteTagPadded(f, e, newBytes); err != nil {
			return cleared, fmt.Errorf("scn anonymizeXMLMetadata: %w", err)
		}
	}
	return cleared, nil
}

type scnMatch struct {
	name  string
	value string
}

// scnElementMatches finds both <elem>value</elem> and elem="value" forms
// for each candidate element name, preferring etree's parse when the
// fragment is well-formed XML and falling back to direct text matching
// when it isn't (Leica ImageDescription XML is sometimes a bare fragment
// without a single root element).
func scnElementMatches(text string, elemNames []string) []scnMatch {
	wanted := map[string]string{}
	for _, n := range elemNames {
		wanted[strings.ToLower(n)] = n
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err == nil && doc.Root() != nil {
		var out []scnMatch
		for _, el := range doc.FindElements("//*") {
			if name, ok := wanted[strings.ToLower(el.Tag)]; ok {
				if v := strings.TrimSpace(el.Text()); v != "" {
					out = append(out, scnMatch{name: name, value: v})
				}
			}
			for _, a := range el.Attr {
				if name, ok := wanted[strings.ToLower(a.Key)]; ok {
					out = append(out, scnMatch{name: name, value: strings.TrimSpace(a.Value)})
				}
			}
		}
		return out
	}

	var out []scnMatch
	for _, name := range elemNames {
		elemRe := regexp.MustCompile(`(?i)<` + regexp.QuoteMeta(name) + `[^>]*>([^<]+)</` + regexp.QuoteMeta(name) + `>`)
		for _, m := range elemRe.FindAllStringSubmatch(text, -1) {
			out = append(out, scnMatch{name: name, value: strings.TrimSpace(m[1])})
		}
		attrRe := xmpAttrPattern(name)
		skip := skipInsideProcessingInstruction(text)
		for _, loc := range attrRe.FindAllStringSubmatchIndex(text, -1) {
			if skip(loc[0]) {
				continue
			}
			out = append(out, scnMatch{name: name, value: strings.TrimSpace(text[loc[2]:loc[3]])})
		}
	}
	return out
}

// replaceElementText replaces <elemName ...>value</elemName> content with
// an equal-length 'X' run, skipping values that are empty or already
// anonymized. Returns the rewritten text and the substitution count.
func replaceElementText(text, elemName string) (string, int) {
	re := regexp.MustCompile(`(?i)(<` + regexp.QuoteMeta(elemName) + `[^>]*>)([^<]+)(</` + regexp.QuoteMeta(elemName) + `>)`)
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, 0
	}

	var b strings.Builder
	last := 0
	count := 0
	for _, loc := range locs {
		valStart, valEnd := loc[4], loc[5]
		val := strings.TrimSpace(text[valStart:valEnd])
		if val == "" || isXAnonymized(val) {
			continue
		}
		b.WriteString(text[last:valStart])
		b.WriteString(strings.Repeat("X", valEnd-valStart))
		last = valEnd
		count++
	}
	if count == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), count
}

// skipInsideProcessingInstruction returns a predicate that reports
// whether offset start falls inside an XML processing instruction
// (<?...?>) of text, by checking whether the nearest preceding "<?" is
// still unterminated at start.
func skipInsideProcessingInstruction(text string) func(start int) bool {
	return func(start int) bool {
		prefix := text[:start]
		return strings.LastIndex(prefix, "<?") > strings.LastIndex(prefix, "?>")
	}
}
