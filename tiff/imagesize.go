package tiff

import "io"

// ImageWidthTag and ImageLengthTag hold the pixel dimensions of an IFD's
// image plane.
const (
	ImageWidthTag  uint16 = 256
	ImageLengthTag uint16 = 257
)

// GetIFDImageSize returns the pixel width and height recorded on entries,
// or (0, 0) if either tag is absent or unreadable. Used for label/macro
// finding previews.
func GetIFDImageSize(r io.ReadSeeker, h *Header, entries []IFDEntry) (width, height int64) {
	if e, ok := FindTag(entries, ImageWidthTag); ok {
		if v, err := ReadTagNumeric(r, h, e); err == nil {
			width = asInt64(v)
		}
	}
	if e, ok := FindTag(entries, ImageLengthTag); ok {
		if v, err := ReadTagNumeric(r, h, e); err == nil {
			height = asInt64(v)
		}
	}
	return width, height
}

// GetIFDImageDataSize returns the total byte count of entries' strip or
// tile pixel data, or 0 if neither pair is present.
func GetIFDImageDataSize(r io.ReadSeeker, h *Header, entries []IFDEntry) int64 {
	_, countEntry := findStripOrTilePair(entries)
	if countEntry == nil {
		return 0
	}
	counts, err := ReadTagLongArray(r, h, *countEntry)
	if err != nil {
		return 0
	}
	var total int64
	for _, c := range counts {
		total += int64(c)
	}
	return total
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
