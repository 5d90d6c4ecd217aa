// Package phi detects Protected Health Information in WSI file bytes,
// decoded tag strings, and filenames. Pattern sets are data: a hard-coded
// default plus an optional JSON overlay (see config.go), so that sites with
// custom accession formats can extend detection without recompiling.
package phi

import "regexp"

// boundaryContext carries the single byte immediately before and after a
// match, when present, so a BytePattern's boundary check can express what
// RE2 cannot: Go's regexp package has no lookaround support.
type boundaryContext struct {
	before    byte
	hasBefore bool
	after     byte
	hasAfter  bool
}

// BytePattern is one compiled PHI pattern plus the label reported with its
// findings. boundary, when non-nil, runs an additional context check — e.g.
// "not preceded by an uppercase letter" for the bare H-/S- accession
// prefixes, which would otherwise false-positive inside longer codes like
// "ASH-24-000123".
type BytePattern struct {
	Re       *regexp.Regexp
	Label    string
	boundary func(boundaryContext) bool
}

// notPrecededByUpper rejects a match whose immediately preceding byte is an
// ASCII uppercase letter, the original regex's `(?<![A-Z])` lookbehind.
func notPrecededByUpper(b boundaryContext) bool {
	if !b.hasBefore {
		return true
	}
	return !(b.before >= 'A' && b.before <= 'Z')
}

// notDigitBounded rejects a match with a digit immediately before or after
// it, the original regex's `(?<!\d)...(?!\d)` around the SSN pattern —
// otherwise "1123-45-6789" would match the trailing "123-45-6789" as an SSN.
func notDigitBounded(b boundaryContext) bool {
	if b.hasBefore && isDigit(b.before) {
		return false
	}
	if b.hasAfter && isDigit(b.after) {
		return false
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// DefaultBytePatterns match accession numbers, MRNs, SSNs, and dates of
// birth directly against raw file bytes.
var DefaultBytePatterns = []BytePattern{
	{Re: regexp.MustCompile(`AS-\d{2}-\d{3,}`), Label: "Accession_AS"},
	{Re: regexp.MustCompile(`AC-\d{2}-\d{3,}`), Label: "Accession_AC"},
	{Re: regexp.MustCompile(`SP-\d{2}-\d{3,}`), Label: "Accession_SP"},
	{Re: regexp.MustCompile(`AS-(?:19|20)\d{2}-\d{3,}`), Label: "Accession_AS"},
	{Re: regexp.MustCompile(`AC-(?:19|20)\d{2}-\d{3,}`), Label: "Accession_AC"},
	{Re: regexp.MustCompile(`SP-(?:19|20)\d{2}-\d{3,}`), Label: "Accession_SP"},
	{Re: regexp.MustCompile(`H-\d{2}-\d{3,}`), Label: "Accession_H", boundary: notPrecededByUpper},
	{Re: regexp.MustCompile(`S-\d{2}-\d{3,}`), Label: "Accession_S", boundary: notPrecededByUpper},
	{Re: regexp.MustCompile(`H-(?:19|20)\d{2}-\d{3,}`), Label: "Accession_H", boundary: notPrecededByUpper},
	{Re: regexp.MustCompile(`S-(?:19|20)\d{2}-\d{3,}`), Label: "Accession_S", boundary: notPrecededByUpper},
	{Re: regexp.MustCompile(`CH\d{5,}`), Label: "Accession_CH"},
	{Re: regexp.MustCompile(`00000AS\d+`), Label: "Accession_Padded"},
	{Re: regexp.MustCompile(`MRN[-: ]?\d{5,}`), Label: "MRN_Pattern"},
	{Re: regexp.MustCompile(`\d{3}-\d{2}-\d{4}`), Label: "SSN_Pattern", boundary: notDigitBounded},
	{Re: regexp.MustCompile(`DOB[-_ ]?\d{8}`), Label: "DOB_Pattern"},
	{Re: regexp.MustCompile(`DOB[-_ ]?\d{4}[/-]\d{2}[/-]\d{2}`), Label: "DOB_Pattern"},
}

// DefaultDateBytePatterns match date/time values that may constitute PHI.
// A date already containing one of the sentinel strings recognized by
// IsDateAnonymized is never reported (handled by the caller, not here,
// since the sentinel check also applies to decoded strings that never go
// through a regex at all).
var DefaultDateBytePatterns = []BytePattern{
	{Re: regexp.MustCompile(`(?:19|20)\d{2}:\d{2}:\d{2} \d{2}:\d{2}:\d{2}`), Label: "DateTime_TIFF"},
	{Re: regexp.MustCompile(`(?:19|20)\d{2}/\d{2}/\d{2}`), Label: "DateTime_Slash"},
	{Re: regexp.MustCompile(`(?:19|20)\d{2}-\d{2}-\d{2}`), Label: "DateTime_ISO"},
}

// dateSentinels are substrings that, if present in a matched date, mean the
// date has already been anonymized and must not be reported again.
var dateSentinels = []string{"1900:01:01", "1900/01/01", "1900-01-01", "0000:00:00"}

// IsDateAnonymized reports whether a date string or byte slice already
// carries one of the sentinel values written by a previous anonymize pass.
func IsDateAnonymized(value string) bool {
	for _, s := range dateSentinels {
		if contains(value, s) {
			return true
		}
	}
	trimmed := trimNULAndSpace(value)
	return trimmed == ""
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

func trimNULAndSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == 0 || s[start] == ' ') {
		start++
	}
	for end > start && (s[end-1] == 0 || s[end-1] == ' ') {
		end--
	}
	return s[start:end]
}
