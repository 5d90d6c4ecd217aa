package phi

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Finding is one PHI match: the byte offset it starts at (into the
// scanned string, for string scans), its length, the matched text, and the pattern label that
// produced it.
type Finding struct {
	Offset  int
	Length  int
	Matched string
	Label   string
}

// Detector holds the compiled pattern sets a scan uses: the hard-coded
// defaults, plus anything a JSON overlay (see config.go) added.
type Detector struct {
	BytePatterns     []BytePattern
	DateBytePatterns []BytePattern
	FilenamePatterns []BytePattern
}

// NewDetector returns a Detector seeded with the default pattern sets.
func NewDetector() *Detector {
	return &Detector{
		BytePatterns:     append([]BytePattern(nil), DefaultBytePatterns...),
		DateBytePatterns: append([]BytePattern(nil), DefaultDateBytePatterns...),
		FilenamePatterns: append([]BytePattern(nil), DefaultBytePatterns...),
	}
}

// ScanBytes finds every non-overlapping PHI match in data whose start is
// not in skipOffsets. Each match is extended forward to the next NUL byte,
// if any, so variable-length identifiers are captured in full, and matches
// already reduced to an 'X'-run sentinel are skipped.
func (d *Detector) ScanBytes(data []byte, skipOffsets map[int]bool) []Finding {
	var findings []Finding
	for _, p := range d.BytePatterns {
		for _, loc := range p.Re.FindAllIndex(data, -1) {
			start, end := loc[0], loc[1]
			if skipOffsets != nil && skipOffsets[start] {
				continue
			}
			if p.boundary != nil && !p.boundary(boundaryAt(data, start, end)) {
				continue
			}

			extendedEnd := end
			if nul := bytes.IndexByte(data[start:], 0); nul >= 0 {
				extendedEnd = start + nul
			}
			matched := data[start:extendedEnd]
			if isAllX(matched) {
				continue
			}
			findings = append(findings, Finding{
				Offset:  start,
				Length:  len(matched),
				Matched: string(matched),
				Label:   p.Label,
			})
		}
	}
	return findings
}

// ScanDates finds date-pattern matches in data, skipping any that already
// carry an anonymized-date sentinel.
func (d *Detector) ScanDates(data []byte) []Finding {
	var findings []Finding
	for _, p := range d.DateBytePatterns {
		for _, loc := range p.Re.FindAllIndex(data, -1) {
			start, end := loc[0], loc[1]
			matched := data[start:end]
			if IsDateAnonymized(string(matched)) {
				continue
			}
			findings = append(findings, Finding{
				Offset:  start,
				Length:  len(matched),
				Matched: string(matched),
				Label:   p.Label,
			})
		}
	}
	return findings
}

// ScanString runs the byte pattern set against a decoded ASCII string,
// applying the same boundary checks and sentinel skip as ScanBytes.
func (d *Detector) ScanString(s string) []Finding {
	return d.scanStringWith(s, d.BytePatterns)
}

// ScanFilename runs the filename pattern set against path's base name
// (stem plus extension). Filename PHI is reported but never auto-fixed —
// renaming a file is out of scope for the core redaction engine.
func (d *Detector) ScanFilename(path string) []Finding {
	base := filepath.Base(path)
	return d.scanStringWith(base, d.FilenamePatterns)
}

func (d *Detector) scanStringWith(s string, patterns []BytePattern) []Finding {
	var findings []Finding
	for _, p := range patterns {
		for _, loc := range p.Re.FindAllStringIndex(s, -1) {
			start, end := loc[0], loc[1]
			if p.boundary != nil && !p.boundary(boundaryAtString(s, start, end)) {
				continue
			}
			matched := s[start:end]
			if isAllXString(matched) {
				continue
			}
			findings = append(findings, Finding{
				Offset:  start,
				Length:  len(matched),
				Matched: matched,
				Label:   p.Label,
			})
		}
	}
	return findings
}

func boundaryAt(data []byte, start, end int) boundaryContext {
	var b boundaryContext
	if start > 0 {
		b.before, b.hasBefore = data[start-1], true
	}
	if end < len(data) {
		b.after, b.hasAfter = data[end], true
	}
	return b
}

func boundaryAtString(s string, start, end int) boundaryContext {
	var b boundaryContext
	if start > 0 {
		b.before, b.hasBefore = s[start-1], true
	}
	if end < len(s) {
		b.after, b.hasAfter = s[end], true
	}
	return b
}

func isAllX(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != 'X' {
			return false
		}
	}
	return true
}

func isAllXString(s string) bool {
	if len(s) == 0 {
		return false
	}
	return strings.Count(s, "X") == len(s)
}
