package tiff

import (
	"encoding/binary"
	"errors"
	"io"
)

// Variant distinguishes classic 32-bit-offset TIFF from 64-bit-offset BigTIFF.
type Variant int

const (
	VariantClassic Variant = iota
	VariantBigTIFF
)

// ErrNotATIFF is returned by ReadHeader when the byte stream does not begin
// with a recognizable TIFF or BigTIFF header. Callers treat this as "not a
// TIFF" rather than a hard failure.
var ErrNotATIFF = errors.New("tiff: not a valid TIFF or BigTIFF header")

// Header is a parsed TIFF/BigTIFF file header. FirstIFDOffset is mutated in
// place only when UnlinkIFD removes the first IFD from the chain.
type Header struct {
	Order          binary.ByteOrder
	Variant        Variant
	FirstIFDOffset uint64
}

// headerPointerOffset returns the byte offset of the first-IFD pointer field
// in the file header, used by UnlinkIFD when the target is the first IFD.
func (h *Header) headerPointerOffset() int64 {
	if h.Variant == VariantBigTIFF {
		return 8
	}
	return 4
}

// entryWidth returns the on-disk size of one IFD entry record.
func (h *Header) entryWidth() int64 {
	if h.Variant == VariantBigTIFF {
		return 20
	}
	return 12
}

// countWidth returns the size of the entry-count field preceding an IFD's
// entries, and inlineThreshold returns the number of value bytes that fit
// inside an entry record rather than requiring an out-of-line offset.
func (h *Header) countWidth() int64 {
	if h.Variant == VariantBigTIFF {
		return 8
	}
	return 2
}

func (h *Header) inlineThreshold() uint64 {
	if h.Variant == VariantBigTIFF {
		return 8
	}
	return 4
}

// offsetWidth returns the size of an IFD offset field: the first-IFD
// pointer, an out-of-line value pointer, and the next-IFD pointer all share
// this width within one variant.
func (h *Header) offsetWidth() int64 {
	if h.Variant == VariantBigTIFF {
		return 8
	}
	return 4
}

// ReadHeader reads and validates a TIFF/BigTIFF header at the start of r.
// Any structural problem — bad byte-order marker, unrecognized magic
// number, or (for BigTIFF) a byte-size field other than 8 — returns
// ErrNotATIFF, translated into Go's (nil, error) idiom rather than a
// thrown exception.
func ReadHeader(r io.ReadSeeker) (*Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var bo [2]byte
	if _, err := io.ReadFull(r, bo[:]); err != nil {
		return nil, ErrNotATIFF
	}

	var order binary.ByteOrder
	switch string(bo[:]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotATIFF
	}

	var magic uint16
	if err := binary.Read(r, order, &magic); err != nil {
		return nil, ErrNotATIFF
	}

	switch magic {
	case 42:
		var offset uint32
		if err := binary.Read(r, order, &offset); err != nil {
			return nil, ErrNotATIFF
		}
		return &Header{Order: order, Variant: VariantClassic, FirstIFDOffset: uint64(offset)}, nil
	case 43:
		var byteSize uint16
		if err := binary.Read(r, order, &byteSize); err != nil {
			return nil, ErrNotATIFF
		}
		if byteSize != 8 {
			return nil, ErrNotATIFF
		}
		var reserved uint16
		if err := binary.Read(r, order, &reserved); err != nil {
			return nil, ErrNotATIFF
		}
		var offset uint64
		if err := binary.Read(r, order, &offset); err != nil {
			return nil, ErrNotATIFF
		}
		return &Header{Order: order, Variant: VariantBigTIFF, FirstIFDOffset: offset}, nil
	default:
		return nil, ErrNotATIFF
	}
}
