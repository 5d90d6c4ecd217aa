package tiff_test

import (
	"bytes"
	"encoding/binary"
	"io"
)

// memFile is an in-memory io.ReadWriteSeeker backed by a growable byte
// slice, standing in for an os.File in tests that exercise the structural
// editor's seek-then-write calls.
type memFile struct {
	data []byte
	pos  int64
}

func newMemFile(data []byte) *memFile {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &memFile{data: cp}
}

func (m *memFile) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.data)) + offset
	}
	m.pos = newPos
	return newPos, nil
}

func (m *memFile) Bytes() []byte {
	return m.data
}

// tagSpec describes one IFD entry to synthesize: id, TIFF type code, and
// either an inline value (for values that fit in 4 bytes) or out-of-line
// bytes written elsewhere in the buffer and referenced by offset.
type tagSpec struct {
	id        uint16
	dtype     uint16
	count     uint32
	inline    uint32 // used when outOfLine is nil
	outOfLine []byte
}

// buildClassicTIFF assembles a minimal little-endian classic TIFF with one
// IFD holding the given tags, followed by any out-of-line tag values and
// the given extra trailer bytes (e.g. synthetic strip data) appended after.
// Returns the full buffer and the absolute offset each out-of-line tag's
// value was written at, in tag order.
func buildClassicTIFF(tags []tagSpec, trailer []byte) []byte {
	const ifdOffset = 8

	var body bytes.Buffer // everything starting at ifdOffset
	binary.Write(&body, binary.LittleEndian, uint16(len(tags)))

	valueAreaOffset := ifdOffset + 2 + len(tags)*12 + 4

	for i, tag := range tags {
		binary.Write(&body, binary.LittleEndian, tag.id)
		binary.Write(&body, binary.LittleEndian, tag.dtype)
		binary.Write(&body, binary.LittleEndian, tag.count)
		if tag.outOfLine != nil {
			off := valueAreaOffset
			for j := 0; j < i; j++ {
				if tags[j].outOfLine != nil {
					off += len(tags[j].outOfLine)
				}
			}
			binary.Write(&body, binary.LittleEndian, uint32(off))
		} else {
			binary.Write(&body, binary.LittleEndian, tag.inline)
		}
	}
	binary.Write(&body, binary.LittleEndian, uint32(0)) // next IFD

	for _, tag := range tags {
		if tag.outOfLine != nil {
			body.Write(tag.outOfLine)
		}
	}

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, binary.LittleEndian, uint16(42))
	binary.Write(&out, binary.LittleEndian, uint32(ifdOffset))
	out.Write(body.Bytes())
	out.Write(trailer)

	return out.Bytes()
}
