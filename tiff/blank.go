package tiff

import (
	"encoding/binary"
	"io"
)

// ReadWriteSeeker is the minimal capability the structural editor needs:
// random-access read and write on one open file handle.
type ReadWriteSeeker interface {
	io.Reader
	io.Writer
	io.Seeker
}

// BlankJPEG is the fixed 630-byte minimal valid JPEG written over a blanked
// strip or tile: a 1x1 JFIF image with a COM segment carrying the literal
// ASCII marker "PATHSAFE" in its first 32 bytes, followed by quantization
// tables, Huffman tables, a SOF0/SOS header, minimal scan data, and EOI.
// Every byte here is load-bearing — third-party tools identify
// PathSafe-blanked images by finding
// "PATHSAFE" within the first 32 bytes of a strip/tile.
var BlankJPEG = []byte{
	0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46, 0x00, 0x01, 0x01, 0x00, 0x00, 0x01,
	0x00, 0x01, 0x00, 0x00, 0xff, 0xfe, 0x00, 0x0a, 0x50, 0x41, 0x54, 0x48, 0x53, 0x41, 0x46, 0x45,
	0xff, 0xfe, 0x00, 0xca, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xdb, 0x00, 0x43,
	0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xdb, 0x00, 0x43, 0x01, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xc0, 0x00, 0x11, 0x08, 0x00, 0x01, 0x00, 0x01, 0x03,
	0x01, 0x22, 0x00, 0x02, 0x11, 0x01, 0x03, 0x11, 0x01, 0xff, 0xc4, 0x00, 0x1f, 0x00, 0x00, 0x01,
	0x05, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0xff, 0xc4, 0x00, 0xb5, 0x10, 0x00,
	0x02, 0x01, 0x03, 0x03, 0x02, 0x04, 0x03, 0x05, 0x05, 0x04, 0x04, 0x00, 0x00, 0x01, 0x7d, 0x01,
	0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12, 0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07, 0x22,
	0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08, 0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0, 0x24,
	0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28, 0x29,
	0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4a,
	0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69, 0x6a,
	0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8a,
	0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7, 0xa8,
	0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5, 0xc6,
	0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2, 0xe3,
	0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9,
	0xfa, 0xff, 0xda, 0x00, 0x0c, 0x03, 0x01, 0x00, 0x02, 0x11, 0x03, 0x11, 0x00, 0x3f, 0x00, 0x92,
	0x8a, 0x28, 0xa0, 0x0f, 0xff, 0xd9,}

// legacyBlankJPEG is the 4-byte SOI+EOI blank written by older tool
// versions, recognized (but no longer produced) for idempotence.
var legacyBlankJPEG = []byte{0xFF, 0xD8, 0xFF, 0xD9}

// ExtraMetadataTags are tags that may carry PHI in any TIFF-family format,
// swept across NDPI, SVS, BIF, SCN, and generic-TIFF handlers as a shared
// safety net on top of each handler's format-specific rules.
var ExtraMetadataTags = map[uint16]string{
	270:   "ImageDescription",
	305:   "Software",
	315:   "Artist",
	316:   "HostComputer",
	700:   "XMP",
	33432: "Copyright",
	33723: "IPTC",
	34675: "ICCProfile",
	37510: "UserComment",
	42016: "ImageUniqueID",
}

// BlankTag overwrites entry's value region with total_size zero bytes.
func BlankTag(w ReadWriteSeeker, e IFDEntry) error {
	size := e.TotalSize()
	if size == 0 {
		return nil
	}
	if _, err := w.Seek(e.ValueOffset, io.SeekStart); err != nil {
		return err
	}
	_, err := w.Write(make([]byte, size))
	return err
}

// OverwriteTagPadded writes replacement at entry's value region, padded
// with trailing NULs if shorter than TotalSize or truncated if longer.
func OverwriteTagPadded(w ReadWriteSeeker, e IFDEntry, replacement []byte) error {
	size := int(e.TotalSize())
	out := make([]byte, size)
	copy(out, replacement)
	if _, err := w.Seek(e.ValueOffset, io.SeekStart); err != nil {
		return err
	}
	_, err := w.Write(out)
	return err
}

// findStripOrTilePair locates the strip (273/279) or, failing that, tile
// (324/325) offset/count entry pair in an IFD's entries. Strips take
// precedence over tiles when both are present, matching the original
// implementation.
func findStripOrTilePair(entries []IFDEntry) (offsetEntry, countEntry *IFDEntry) {
	for i := range entries {
		e := &entries[i]
		switch e.TagID {
		case 273: // StripOffsets
			offsetEntry = e
		case 279: // StripByteCounts
			countEntry = e
		case 324: // TileOffsets
			if offsetEntry == nil {
				offsetEntry = e
			}
		case 325: // TileByteCounts
			if countEntry == nil {
				countEntry = e
			}
		}
	}
	return
}

// BlankIFDImageData overwrites every strip/tile pixel array declared by
// entries with the PATHSAFE blank JPEG followed by zero padding, preserving
// each strip/tile's original byte length.
func BlankIFDImageData(rw ReadWriteSeeker, h *Header, entries []IFDEntry) (int64, error) {
	offsetEntry, countEntry := findStripOrTilePair(entries)
	if offsetEntry == nil || countEntry == nil {
		return 0, nil
	}

	offsets, err := ReadTagLongArray(rw, h, *offsetEntry)
	if err != nil {
		return 0, err
	}
	counts, err := ReadTagLongArray(rw, h, *countEntry)
	if err != nil {
		return 0, err
	}
	if len(offsets) != len(counts) {
		return 0, nil
	}

	var total int64
	for i, off := range offsets {
		cnt := counts[i]
		if cnt == 0 {
			continue
		}
		if _, err := rw.Seek(int64(off), io.SeekStart); err != nil {
			return total, err
		}
		if cnt >= uint64(len(BlankJPEG)) {
			if _, err := rw.Write(BlankJPEG); err != nil {
				return total, err
			}
			if pad := cnt - uint64(len(BlankJPEG)); pad > 0 {
				if _, err := rw.Write(make([]byte, pad)); err != nil {
					return total, err
				}
			}
		} else {
			if _, err := rw.Write(make([]byte, cnt)); err != nil {
				return total, err
			}
		}
		total += int64(cnt)
	}
	return total, nil
}

// IsIFDImageBlanked reports whether the IFD's first strip/tile already
// carries a recognized blanked signature: all-zero, the current PATHSAFE
// JPEG marker, the legacy 4-byte SOI+EOI form, or the pre-marker
// transitional form.
func IsIFDImageBlanked(r io.ReadSeeker, h *Header, entries []IFDEntry) (bool, error) {
	offsetEntry, countEntry := findStripOrTilePair(entries)
	if offsetEntry == nil || countEntry == nil {
		return false, nil
	}

	offsets, err := ReadTagLongArray(r, h, *offsetEntry)
	if err != nil {
		return false, err
	}
	counts, err := ReadTagLongArray(r, h, *countEntry)
	if err != nil {
		return false, err
	}
	if len(offsets) == 0 || len(counts) == 0 {
		return false, nil
	}

	firstOff := offsets[0]
	firstCnt := counts[0]
	if firstCnt < 8 {
		return false, nil
	}

	readLen := firstCnt
	if readLen > 32 {
		readLen = 32
	}
	if _, err := r.Seek(int64(firstOff), io.SeekStart); err != nil {
		return false, err
	}
	head := make([]byte, readLen)
	n, _ := io.ReadFull(r, head)
	head = head[:n]

	if allZero(head) {
		return true, nil
	}
	if len(head) < 2 || head[0] != 0xFF || head[1] != 0xD8 {
		return false, nil
	}
	if containsBytes(head, []byte("PATHSAFE")) {
		return true, nil
	}
	if len(head) >= 8 && bytesEqual(head[:4], legacyBlankJPEG) && allZero(head[4:8]) {
		return true, nil
	}
	if firstCnt > uint64(len(BlankJPEG))+8 {
		if _, err := r.Seek(int64(firstOff)+int64(len(BlankJPEG)), io.SeekStart); err != nil {
			return false, err
		}
		trail := make([]byte, 8)
		n, _ := io.ReadFull(r, trail)
		if allZero(trail[:n]) {
			return true, nil
		}
	}
	return false, nil
}

// UnlinkIFD removes the IFD at targetOffset from the chain by rewriting
// whichever next-IFD pointer referred to it: the file header's first-IFD
// field if the target was first, or the predecessor's next-IFD field
// otherwise. The orphaned IFD's bytes remain on disk but are unreachable to
// any conforming reader. Returns false, without
// writing anything, if targetOffset is not found in the chain — already
// unlinked, or never linked.
func UnlinkIFD(rw ReadWriteSeeker, h *Header, targetOffset uint64) (bool, error) {
	_, targetNext, err := ReadIFD(rw, h, targetOffset)
	if err != nil {
		return false, err
	}

	if h.FirstIFDOffset == targetOffset {
		if _, err := rw.Seek(h.headerPointerOffset(), io.SeekStart); err != nil {
			return false, err
		}
		if err := writeOffset(rw, h, targetNext); err != nil {
			return false, err
		}
		h.FirstIFDOffset = targetNext
		return true, nil
	}

	seen := make(map[uint64]bool)
	predOffset := h.FirstIFDOffset
	for predOffset != 0 {
		if seen[predOffset] {
			break
		}
		seen[predOffset] = true

		predEntries, predNext, err := ReadIFD(rw, h, predOffset)
		if err != nil {
			return false, err
		}

		if predNext == targetOffset {
			nextPtrOffset := int64(predOffset) + h.countWidth() + int64(len(predEntries))*h.entryWidth()
			if _, err := rw.Seek(nextPtrOffset, io.SeekStart); err != nil {
				return false, err
			}
			if err := writeOffset(rw, h, targetNext); err != nil {
				return false, err
			}
			return true, nil
		}
		predOffset = predNext
	}
	return false, nil
}

func writeOffset(w io.Writer, h *Header, v uint64) error {
	if h.Variant == VariantBigTIFF {
		return binary.Write(w, h.Order, v)
	}
	return binary.Write(w, h.Order, uint32(v))
}

// ScanExtraMetadataTags returns (entry, previewText) pairs for every
// ExtraMetadataTags entry that has non-empty, not-yet-anonymized content,
// excluding any tag ID in excludeTags (a handler passes its own
// already-handled tags here, e.g. SVS excludes 270).
func ScanExtraMetadataTags(r io.ReadSeeker, entries []IFDEntry, excludeTags map[uint16]bool) ([]IFDEntry, []string, error) {
	var foundEntries []IFDEntry
	var previews []string
	for _, e := range entries {
		if _, known := ExtraMetadataTags[e.TagID]; !known {
			continue
		}
		if excludeTags[e.TagID] {
			continue
		}
		if e.Type != DTASCII && e.Type != DTUndefined {
			continue
		}
		raw, err := ReadTagBytes(r, e)
		if err != nil {
			return nil, nil, err
		}
		if len(raw) == 0 || allZero(raw) {
			continue
		}
		stripped := trimTrailingZero(raw)
		if len(stripped) > 0 && allBytesX(stripped) {
			continue
		}
		preview := asciiPreview(stripped, 200)
		if preview == "" {
			continue
		}
		foundEntries = append(foundEntries, e)
		previews = append(previews, preview)
	}
	return foundEntries, previews, nil
}

// BlankExtraMetadataTag overwrites entry's value region with NULs and
// returns the number of bytes written.
func BlankExtraMetadataTag(w ReadWriteSeeker, e IFDEntry) (int64, error) {
	if err := BlankTag(w, e); err != nil {
		return 0, err
	}
	return int64(e.TotalSize()), nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func allBytesX(b []byte) bool {
	for _, c := range b {
		if c != 'X' {
			return false
		}
	}
	return true
}

func trimTrailingZero(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

func containsBytes(haystack, needle []byte) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if bytesEqual(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func asciiPreview(b []byte, max int) string {
	if len(b) > max {
		b = b[:max]
	}
	out := make([]rune, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, rune(c))
		} else {
			out = append(out, '�')
		}
	}
	return string(out)
}
