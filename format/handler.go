// Package format implements the per-vendor whole-slide-image format
// handlers (NDPI, SVS, BIF, SCN, and a generic TIFF fallback) that sit on
// top of package tiff's structural parser/editor and package phi's
// pattern-based detector.
package format

import (
	"path/filepath"
	"strings"

	"github.com/slidesafe/pathsafe/wsi"
)

// Handler is implemented by every vendor-specific (and the generic
// fallback) whole-slide-image format.
type Handler interface {
	// Name is the short format identifier used in ScanResult.Format and
	// log output ("ndpi", "svs", "bif", "scn", "tiff").
	Name() string

	// CanHandle reports whether filepath looks like this handler's format,
	// checked cheaply (extension plus, where practical, a magic-byte read)
	// without fully parsing the file.
	CanHandle(path string) bool

	// Scan is read-only: it never modifies path.
	Scan(path string) wsi.ScanResult

	// Anonymize edits path in place and returns every finding it cleared.
	Anonymize(path string) ([]wsi.Finding, error)

	// Info returns a small set of descriptive metadata about path, used
	// for diagnostics -- never PHI-bearing.
	Info(path string) map[string]any
}

// Registry holds an ordered list of Handlers. Dispatch tries them in
// order and uses the first whose CanHandle returns true.
type Registry struct {
	handlers []Handler
}

// NewRegistry builds the default registry: vendor handlers first
// (NDPI, SVS, BIF, SCN), the generic TIFF fallback last, mirroring the
// original dispatch order (most specific format wins; a bare TIFF falls
// through to the generic handler).
func NewRegistry() *Registry {
	return &Registry{handlers: []Handler{
		NewNDPIHandler(),
		NewSVSHandler(),
		NewBIFHandler(),
		NewSCNHandler(),
		NewGenericTIFFHandler(),
	}}
}

// Dispatch returns the first registered Handler willing to handle path,
// or nil if none match.
func (r *Registry) Dispatch(path string) Handler {
	for _, h := range r.handlers {
		if h.CanHandle(path) {
			return h
		}
	}
	return nil
}

// hasExtension reports whether path's extension, lowercased, equals ext.
func hasExtension(path, ext string) bool {
	return strings.EqualFold(filepath.Ext(path), ext)
}
