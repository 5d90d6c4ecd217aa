package tiff

import (
	"encoding/binary"
	"io"
)

// DataType is a TIFF field type code (TIFF 6.0 §2, extended with BigTIFF's
// LONG8 per the BigTIFF spec).
type DataType uint16

const (
	DTByte      DataType = 1
	DTASCII     DataType = 2
	DTShort     DataType = 3
	DTLong      DataType = 4
	DTRational  DataType = 5
	DTSByte     DataType = 6
	DTUndefined DataType = 7
	DTSShort    DataType = 8
	DTSLong     DataType = 9
	DTSRational DataType = 10
	DTFloat     DataType = 11
	DTDouble    DataType = 12
	DTLong8     DataType = 16
	DTSLong8    DataType = 17
	DTIFD8      DataType = 18
)

// elementSize returns the on-disk byte width of one value of the given
// type. Unknown type codes conservatively report 1 byte rather than
// erroring — the entry is recorded but its value
// is never interpreted.
func elementSize(dt DataType) uint64 {
	switch dt {
	case DTByte, DTASCII, DTSByte, DTUndefined:
		return 1
	case DTShort, DTSShort:
		return 2
	case DTLong, DTSLong, DTFloat:
		return 4
	case DTRational, DTSRational, DTDouble, DTLong8, DTSLong8, DTIFD8:
		return 8
	default:
		return 1
	}
}

// maxIFDEntries bounds the entry count read from a file so that a corrupt
// or hostile count field cannot force a huge allocation.
const maxIFDEntries = 1000

// maxIFDChain bounds the number of IFDs walked from a chain so that a
// circular or absurdly long chain cannot hang a caller.
const maxIFDChain = 100

// IFDEntry is one parsed Image File Directory entry: a tag ID, its data
// type and element count, and the two file offsets the editor needs —
// where the entry record itself lives and where its value bytes live.
type IFDEntry struct {
	TagID       uint16
	Type        DataType
	Count       uint64
	EntryOffset int64
	ValueOffset int64
	IsInline    bool
}

// TotalSize returns the byte length of the entry's value region.
func (e IFDEntry) TotalSize() uint64 {
	return elementSize(e.Type) * e.Count
}

// TagName returns the entry's human-readable tag name.
func (e IFDEntry) TagName() string {
	return TagName(e.TagID)
}

// ReadIFD reads one Image File Directory at ifdOffset: its entry count,
// every entry record, and the next-IFD pointer that follows them. It never
// writes. A truncated read in the middle of the entry list stops and
// returns the entries read so far rather than erroring; an
// implausible entry count (> 1000) is treated as corrupt and yields an
// empty entry list with no next IFD, since the declared count cannot be
// trusted to locate the next-IFD pointer either.
func ReadIFD(r io.ReadSeeker, h *Header, ifdOffset uint64) ([]IFDEntry, uint64, error) {
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return nil, 0, nil
	}

	numEntries, err := readCount(r, h)
	if err != nil {
		return nil, 0, nil
	}
	if numEntries > maxIFDEntries {
		return nil, 0, nil
	}

	entryWidth := h.entryWidth()
	inlineThreshold := h.inlineThreshold()
	entries := make([]IFDEntry, 0, numEntries)

	for i := uint64(0); i < numEntries; i++ {
		entryOffset, _ := r.Seek(0, io.SeekCurrent)
		buf := make([]byte, entryWidth)
		n, _ := io.ReadFull(r, buf)
		if n < int(entryWidth) {
			break
		}

		tagID := h.Order.Uint16(buf[0:2])
		dtype := DataType(h.Order.Uint16(buf[2:4]))

		var count uint64
		var valueOffset int64
		var isInline bool
		if h.Variant == VariantBigTIFF {
			count = h.Order.Uint64(buf[4:12])
			total := elementSize(dtype) * count
			if total <= inlineThreshold {
				valueOffset = entryOffset + 12
				isInline = true
			} else {
				valueOffset = int64(h.Order.Uint64(buf[12:20]))
			}
		} else {
			count = uint64(h.Order.Uint32(buf[4:8]))
			total := elementSize(dtype) * count
			if total <= inlineThreshold {
				valueOffset = entryOffset + 8
				isInline = true
			} else {
				valueOffset = int64(h.Order.Uint32(buf[8:12]))
			}
		}

		entries = append(entries, IFDEntry{
			TagID:       tagID,
			Type:        dtype,
			Count:       count,
			EntryOffset: entryOffset,
			ValueOffset: valueOffset,
			IsInline:    isInline,
		})
	}

	next, err := readOffset(r, h)
	if err != nil {
		next = 0
	}
	return entries, next, nil
}

func readCount(r io.Reader, h *Header) (uint64, error) {
	if h.Variant == VariantBigTIFF {
		var v uint64
		err := binary.Read(r, h.Order, &v)
		return v, err
	}
	var v uint16
	err := binary.Read(r, h.Order, &v)
	return uint64(v), err
}

func readOffset(r io.Reader, h *Header) (uint64, error) {
	if h.Variant == VariantBigTIFF {
		var v uint64
		err := binary.Read(r, h.Order, &v)
		return v, err
	}
	var v uint32
	err := binary.Read(r, h.Order, &v)
	return uint64(v), err
}

// IFDPage is one entry in an IFD chain walk: the offset the IFD was read
// from, and its parsed entries.
type IFDPage struct {
	Offset  uint64
	Entries []IFDEntry
}

// IterIFDs walks the IFD chain starting at the header's first IFD,
// following next-IFD pointers up to maxIFDChain pages and stopping on any
// offset already seen, so that a self-referencing or back-edged chain
// cannot loop forever.
func IterIFDs(r io.ReadSeeker, h *Header) ([]IFDPage, error) {
	var pages []IFDPage
	seen := make(map[uint64]bool)
	offset := h.FirstIFDOffset

	for offset != 0 && len(pages) < maxIFDChain {
		if seen[offset] {
			break
		}
		seen[offset] = true

		entries, next, err := ReadIFD(r, h, offset)
		if err != nil {
			return pages, err
		}
		pages = append(pages, IFDPage{Offset: offset, Entries: entries})
		offset = next
	}
	return pages, nil
}

// FindTag returns the first entry in entries whose tag ID matches, or false
// if none does.
func FindTag(entries []IFDEntry, tagID uint16) (IFDEntry, bool) {
	for _, e := range entries {
		if e.TagID == tagID {
			return e, true
		}
	}
	return IFDEntry{}, false
}
