package tiff

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ComputeIFDTileHash streams the strip or tile data declared by entries
// through SHA-256 in HashChunkSize chunks, for constant memory use on
// multi-gigabyte whole-slide images. hasData is false if the IFD lacks a
// strip or tile offset/count tag pair, or if the two arrays are empty or
// differ in length, in which case digest is meaningless.
func ComputeIFDTileHash(r io.ReadSeeker, h *Header, entries []IFDEntry) (digest string, hasData bool, err error) {
	offsetEntry, countEntry := findStripOrTilePair(entries)
	if offsetEntry == nil || countEntry == nil {
		return "", false, nil
	}

	offsets, err := ReadTagLongArray(r, h, *offsetEntry)
	if err != nil {
		return "", false, err
	}
	counts, err := ReadTagLongArray(r, h, *countEntry)
	if err != nil {
		return "", false, err
	}
	if len(offsets) != len(counts) || len(offsets) == 0 {
		return "", false, nil
	}

	sum := sha256.New()
	buf := GetHashChunkBuffer()
	defer PutHashChunkBuffer(buf)

	for i, off := range offsets {
		cnt := counts[i]
		if cnt == 0 {
			continue
		}
		if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
			return "", false, err
		}
		remaining := cnt
		for remaining > 0 {
			toRead := uint64(len(buf))
			if remaining < toRead {
				toRead = remaining
			}
			n, readErr := r.Read(buf[:toRead])
			if n > 0 {
				sum.Write(buf[:n])
				remaining -= uint64(n)
			}
			if readErr != nil {
				break
			}
		}
	}

	return hex.EncodeToString(sum.Sum(nil)), true, nil
}

// ComputeImageHashes computes a per-IFD tile/strip data hash map for every
// IFD in the file's chain, keyed by IFD offset. Callers use this before and
// after anonymization to verify pixel data was not altered anywhere the
// anonymizer didn't intend to touch.
func ComputeImageHashes(r io.ReadSeeker) (map[uint64]string, error) {
	result := make(map[uint64]string)

	h, err := ReadHeader(r)
	if err != nil {
		return result, nil
	}

	pages, err := IterIFDs(r, h)
	if err != nil {
		return result, err
	}

	for _, page := range pages {
		digest, hasData, err := ComputeIFDTileHash(r, h, page.Entries)
		if err != nil {
			return result, err
		}
		if hasData {
			result[page.Offset] = digest
		}
	}
	return result, nil
}
