package tiff

import "sync"

// Buffer pools for two fixed-size reads: per-strip/tile hashing chunks
// (used by ComputeIFDTileHash) and a header-region scan window. Nothing in
// this module takes a buffer from the scan-window pool; the format
// package's raw regex sweep allocates its own buffer. Adapted from a
// raster-tile buffer pool; the tile-specific tiers (256/512/1MB/4MB) don't
// apply here since this package never decodes pixel data.
const (
	HashChunkSize  = 64 * 1024  // crypto/sha256 streaming chunk size.
	ScanWindowSize = 256 * 1024 // scan-window buffer size.
)

var hashChunkPool = sync.Pool{
	New: func() any {
		buf := make([]byte, HashChunkSize)
		return &buf
	},
}

var scanWindowPool = sync.Pool{
	New: func() any {
		buf := make([]byte, ScanWindowSize)
		return &buf
	},
}

// GetHashChunkBuffer returns a reusable HashChunkSize-length buffer.
func GetHashChunkBuffer() []byte {
	return *(hashChunkPool.Get().(*[]byte))
}

// PutHashChunkBuffer returns buf to the pool. buf must not be used after
// this call.
func PutHashChunkBuffer(buf []byte) {
	if cap(buf) != HashChunkSize {
		return
	}
	buf = buf[:HashChunkSize]
	hashChunkPool.Put(&buf)
}

// GetScanWindowBuffer returns a reusable ScanWindowSize-length buffer.
func GetScanWindowBuffer() []byte {
	return *(scanWindowPool.Get().(*[]byte))
}

// PutScanWindowBuffer returns buf to the pool. buf must not be used after
// this call.
func PutScanWindowBuffer(buf []byte) {
	if cap(buf) != ScanWindowSize {
		return
	}
	buf = buf[:ScanWindowSize]
	scanWindowPool.Put(&buf)
}
