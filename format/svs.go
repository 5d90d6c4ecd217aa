package format

import (
	"fmt"
	"os"
	"strings"

	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// svsPHIFields are the pipe-delimited key=value fields inside an SVS
// ImageDescription (tag 270) that carry PHI.
var svsPHIFields = map[string]bool{
	"ScanScope ID": true, "Filename": true, "Date": true,
	"Time": true, "User": true, "DSR ID": true,
}

// svsAnonDate and svsAnonTime are the values this handler writes into
// Date/Time when it wipes them, and that it treats as already anonymized.
const (
	svsAnonDate = "01/01/00"
	svsAnonTime = "00:00:00"
)

// SVSHandler handles Aperio SVS files: a TIFF container whose tag 270
// carries a pipe-delimited header plus "Key = Value" metadata fields.
type SVSHandler struct {
	policy Policy
}

// NewSVSHandler returns an SVSHandler with the default policy: tag 270 is
// excluded from the generic extra-metadata sweep because this handler
// parses it itself.
func NewSVSHandler() *SVSHandler {
	return &SVSHandler{policy: Policy{
		DateTags:                 DefaultDateTags,
		ExtraMetadataExcludeTags: map[uint16]bool{270: true},
		ClassifyLabelMacro:       ClassifyLabelOrMacro,
	}}
}

func (h *SVSHandler) Name() string { return "svs" }

func (h *SVSHandler) CanHandle(path string) bool {
	if !hasExtension(path, ".svs") {
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

func (h *SVSHandler) Scan(path string) wsi.ScanResult {
	result := wsi.NewScanResult(path, "svs")
	info, err := os.Stat(path)
	if err != nil {
		return result.WithError(err)
	}
	result.FileSize = info.Size()

	tag270, err := h.scanTag270(path)
	if err != nil {
		return result.WithError(err)
	}
	result.Findings = append(result.Findings, tag270...)

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

func (h *SVSHandler) Anonymize(path string) ([]wsi.Finding, error) {
	var cleared []wsi.Finding

	tag270, err := h.anonymizeTag270(path)
	if err != nil {
		return cleared, fmt.Errorf("svs anonymize: %w", err)
	}
	cleared = append(cleared, tag270...)

	dt, err := anonymizeDateTimeTags(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("svs anonymize: %w", err)
	}
	cleared = append(cleared, dt...)

	extra, err := anonymizeExtraMetadata(path, h.policy)
	if err != nil {
		return cleared, fmt.Errorf("svs anonymize: %w", err)
	}
	cleared = append(cleared, extra...)

	labelMacro, err := anonymizeLabelMacro(path, h.policy.ClassifyLabelMacro)
	if err != nil {
		return cleared, fmt.Errorf("svs anonymize: %w", err)
	}
	cleared = append(cleared, labelMacro...)

	skip := map[int]bool{}
	for _, c := range cleared {
		skip[int(c.Offset)] = true
	}
	rx, err := anonymizeRegexSweep(path, skip)
	if err != nil {
		return cleared, fmt.Errorf("svs anonymize: %w", err)
	}
	cleared = append(cleared, rx...)
	return cleared, nil
}

func (h *SVSHandler) Info(path string) map[string]any {
	return tiffBasicInfo(path, "svs")
}

// scanTag270 parses the pipe-delimited ImageDescription of every IFD's
// tag 270 and reports any PHI field not already sentinel-blanked.
func (h *SVSHandler) scanTag270(path string) ([]wsi.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("svs scanTag270: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("svs scanTag270: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("svs scanTag270: %w", err)
	}

	var findings []wsi.Finding
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 270)
		if !ok {
			continue
		}
		value, err := tiff.ReadTagString(f, e)
		if err != nil {
			return nil, fmt.Errorf("svs scanTag270: %w", err)
		}
		fields := parseSVSTag270(value)
		for name, val := range fields {
			if !svsPHIFields[name] || svsFieldAnonymized(name, val) {
				continue
			}
			tagID := e.TagID
			findings = append(findings, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: "ImageDescription:" + name,
				ValuePreview: name + "=" + preview(val, 40),
				Source:       wsi.SourceTIFFTag,
			})
		}
	}
	return findings, nil
}

// anonymizeTag270 edits only the PHI "Key = Value" segments of tag 270,
// across every IFD, leaving every other pipe-delimited segment
// byte-for-byte untouched.
func (h *SVSHandler) anonymizeTag270(path string) ([]wsi.Finding, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("svs anonymizeTag270: %w", err)
	}
	defer f.Close()
	hdr, err := tiff.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("svs anonymizeTag270: %w", err)
	}
	pages, err := tiff.IterIFDs(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("svs anonymizeTag270: %w", err)
	}

	var cleared []wsi.Finding
	for _, page := range pages {
		e, ok := tiff.FindTag(page.Entries, 270)
		if !ok {
			continue
		}
		raw, err := tiff.ReadTagBytes(f, e)
		if err != nil {
			return cleared, fmt.Errorf("svs anonymizeTag270: %w", err)
		}
		value := strings.TrimRight(string(raw), "\x00")
		parts := strings.Split(value, "|")
		modified := false

		for i, part := range parts {
			key, val, found := strings.Cut(part, "=")
			if !found {
				continue
			}
			name := strings.TrimSpace(key)
			fieldVal := strings.TrimSpace(val)
			if !svsPHIFields[name] || svsFieldAnonymized(name, fieldVal) {
				continue
			}

			anon := svsAnonReplacement(name, fieldVal)
			parts[i] = key + "= " + anon
			modified = true
			tagID := e.TagID
			cleared = append(cleared, wsi.Finding{
				Offset: e.ValueOffset, Length: int64(e.TotalSize()),
				TagID: &tagID, TagName: "ImageDescription:" + name,
				ValuePreview: name + "=" + preview(fieldVal, 40),
				Source:       wsi.SourceTIFFTag,
			})
		}
		if !modified {
			continue
		}

		newValue := strings.Join(parts, "|")
		newBytes := []byte(newValue)
		total := int(e.TotalSize())
		if len(newBytes) < total {
			newBytes = append(newBytes, make([]byte, total-len(newBytes))...)
		} else {
			newBytes = append(newBytes[:total-1], 0)
		}
		if err := tiff.OverwriteTagPadded(f, e, newBytes); err != nil {
			return cleared, fmt.Errorf("svs anonymizeTag270: %w", err)
		}
	}
	return cleared, nil
}

// parseSVSTag270 splits Aperio's pipe-delimited ImageDescription into a
// key -> value map. The first segment (library version and dimensions)
// never contains '=' and is dropped, matching the original parser.
func parseSVSTag270(value string) map[string]string {
	fields := map[string]string{}
	parts := strings.Split(value, "|")
	for _, part := range parts[1:] {
		key, val, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return fields
}

func svsFieldAnonymized(name, value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	if strings.Count(value, "X") == len(value) {
		return true
	}
	switch name {
	case "Date":
		return value == svsAnonDate
	case "Time":
		return value == svsAnonTime
	default:
		return false
	}
}

func svsAnonReplacement(name, value string) string {
	switch name {
	case "Date":
		return svsAnonDate
	case "Time":
		return svsAnonTime
	default:
		return strings.Repeat("X", len(value))
	}
}
