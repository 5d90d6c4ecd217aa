// Package wsi holds the data model shared across the PHI detector, format
// handlers, and the per-file pipeline: findings and the scan/anonymization
// results that carry them.
package wsi

import "fmt"

// Source identifies which detection channel produced a Finding.
type Source string

const (
	SourceTIFFTag       Source = "tiff_tag"
	SourceRegexScan     Source = "regex_scan"
	SourceImageContent  Source = "image_content"
	SourceCompanionFile Source = "companion_file"
	SourceFilename      Source = "filename"
	SourceDICOMTag      Source = "dicom_tag"
)

// Finding is a single piece of PHI located in a file.
type Finding struct {
	Offset       int64
	Length       int64
	TagID        *uint16
	TagName      string
	ValuePreview string
	Source       Source
}

// MaskPreview returns a masked version of ValuePreview safe to put in logs:
// the first and last two characters survive, the rest is replaced with
// '*'. Short values (4 characters or fewer) are fully masked.
func (f Finding) MaskPreview() string {
	v := f.ValuePreview
	if len(v) <= 4 {
		return maskRun(len(v))
	}
	return v[:2] + maskRun(len(v)-4) + v[len(v)-2:]
}

func maskRun(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}

func (f Finding) String() string {
	return fmt.Sprintf("%s@%d: %s (%s)", f.TagName, f.Offset, f.MaskPreview(), f.Source)
}
