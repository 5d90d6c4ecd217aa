package phi

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// overlayFile is the recognized shape of a JSON pattern overlay: each key
// holds a list of [pattern, label] pairs merged onto the matching default
// set. filename_patterns is merged onto Detector.FilenamePatterns, which
// otherwise defaults to the same set as BytePatterns.
type overlayFile struct {
	BytePatterns     [][2]string `json:"byte_patterns"`
	StringPatterns   [][2]string `json:"string_patterns"`
	DateBytePatterns [][2]string `json:"date_byte_patterns"`
	FilenamePatterns [][2]string `json:"filename_patterns"`
}

// LoadOverlay reads a JSON pattern overlay file and returns a Detector
// whose pattern sets are the compiled-in defaults extended with whatever
// the overlay adds. An absent or empty overlay section leaves the
// corresponding default set untouched. Overlay patterns never carry a
// boundary check — that refinement is reserved for the hard-coded default
// patterns RE2 can't express directly.
func LoadOverlay(path string) (*Detector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("phi: reading pattern overlay: %w", err)
	}

	var overlay overlayFile
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("phi: parsing pattern overlay: %w", err)
	}

	d := NewDetector()

	extra, err := compilePairs(overlay.BytePatterns)
	if err != nil {
		return nil, err
	}
	d.BytePatterns = append(d.BytePatterns, extra...)

	extraDates, err := compilePairs(overlay.DateBytePatterns)
	if err != nil {
		return nil, err
	}
	d.DateBytePatterns = append(d.DateBytePatterns, extraDates...)

	extraFilenames, err := compilePairs(overlay.FilenamePatterns)
	if err != nil {
		return nil, err
	}
	d.FilenamePatterns = append(d.FilenamePatterns, extraFilenames...)

	// string_patterns share BytePatterns' compiled set in this
	// implementation (ScanString runs BytePatterns against decoded text),
	// so a standalone string_patterns overlay section is merged there too.
	extraStrings, err := compilePairs(overlay.StringPatterns)
	if err != nil {
		return nil, err
	}
	d.BytePatterns = append(d.BytePatterns, extraStrings...)

	return d, nil
}

func compilePairs(pairs [][2]string) ([]BytePattern, error) {
	out := make([]BytePattern, 0, len(pairs))
	for _, pair := range pairs {
		re, err := regexp.Compile(pair[0])
		if err != nil {
			return nil, fmt.Errorf("phi: compiling overlay pattern %q: %w", pair[0], err)
		}
		out = append(out, BytePattern{Re: re, Label: pair[1]})
	}
	return out, nil
}
