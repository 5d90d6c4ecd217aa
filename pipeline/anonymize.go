// Package pipeline drives a single whole-slide-image file through the
// scan -> anonymize -> verify -> hash sequence that turns a format
// handler's Scan/Anonymize primitives into one AnonymizationResult.
// Fanning this out across a batch of files is left to the caller.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/slidesafe/pathsafe/format"
	"github.com/slidesafe/pathsafe/phi"
	"github.com/slidesafe/pathsafe/tiff"
	"github.com/slidesafe/pathsafe/wsi"
)

// Options controls which of the per-file pipeline's optional steps run.
type Options struct {
	// Verify re-scans the anonymized output and records whether it came
	// back clean.
	Verify bool

	// VerifyIntegrity recomputes per-IFD tile/strip hashes of the output
	// and compares them against the pre-anonymize hashes for every IFD
	// offset present in both, catching any accidental pixel-data edit
	// outside what the handler intended to blank.
	VerifyIntegrity bool

	// ResetTimestamps sets the output file's atime and mtime to the Unix
	// epoch after anonymization, so the filesystem itself doesn't retain
	// a scan-date fingerprint.
	ResetTimestamps bool

	// DryRun scans the target file and returns before any anonymizing
	// edit. In copy mode the copy to out is still made first, and it is
	// the copy that gets scanned.
	DryRun bool

	// Logger receives the dry-run Info line and a Warn or Error line for
	// each failed or recovered step. Defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// DefaultOptions is the safe-by-default configuration: verify, verify
// integrity, and reset timestamps all on.
func DefaultOptions() Options {
	return Options{Verify: true, VerifyIntegrity: true, ResetTimestamps: true}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// AnonymizeFile runs the full per-file pipeline against src. If out is
// empty, anonymization happens in place; otherwise src is first copied to
// out and every edit lands there, leaving src untouched.
func AnonymizeFile(registry *format.Registry, src, out string, opts Options) (wsi.AnonymizationResult, error) {
	start := time.Now()
	log := opts.logger()

	mode := wsi.ModeInplace
	target := src
	if out != "" {
		mode = wsi.ModeCopy
		target = out
		if err := copyFile(src, out); err != nil {
			return wsi.AnonymizationResult{}, fmt.Errorf("AnonymizeFile: copy %s to %s: %w", src, out, err)
		}
	}
	result := wsi.AnonymizationResult{SourcePath: src, OutputPath: target, Mode: mode}

	handler := registry.Dispatch(target)
	if handler == nil {
		result.Error = fmt.Sprintf("no handler recognizes %s", target)
		result.Duration = time.Since(start)
		return result, nil
	}

	if opts.DryRun {
		log.Info("dry run scan", "path", target, "format", handler.Name())
		scanResult := handler.Scan(target)
		result.Verified = scanResult.IsClean
		result.Duration = time.Since(start)
		return result, nil
	}

	preHashes, err := computeImageHashes(target)
	if err != nil {
		log.Warn("pre-anonymize hash failed", "path", target, "error", err)
	}

	cleared, err := handler.Anonymize(target)
	if err != nil {
		log.Error("anonymize failed", "path", target, "error", err)
		if mode == wsi.ModeCopy {
			if rmErr := os.Remove(target); rmErr != nil {
				log.Warn("failed to remove partially-anonymized copy", "path", target, "error", rmErr)
			}
		}
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}
	result.FindingsCleared = len(cleared)

	if opts.Verify {
		scanResult := handler.Scan(target)
		result.Verified = scanResult.IsClean
		if !result.Verified {
			log.Warn("verification found residual findings", "path", target, "count", len(scanResult.Findings))
		}
	}

	if opts.VerifyIntegrity {
		result.ImageIntegrity = verifyIntegrity(target, preHashes, log)
	}

	digest, err := hashFile(target)
	if err != nil {
		log.Warn("output hash failed", "path", target, "error", err)
	} else {
		result.OutputSHA256 = digest
	}

	result.FilenameHasPHI = len(phi.NewDetector().ScanFilename(target)) > 0

	if opts.ResetTimestamps {
		epoch := time.Unix(0, 0)
		if err := os.Chtimes(target, epoch, epoch); err != nil {
			log.Warn("timestamp reset failed", "path", target, "error", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// verifyIntegrity recomputes post-anonymize tile hashes and compares them
// against preHashes at every IFD offset both maps know about. An IFD
// that's absent from postHashes (unlinked, or left without strip/tile
// data) is skipped; any IFD present in both whose hash changed fails the
// check.
func verifyIntegrity(path string, preHashes map[uint64]string, log *slog.Logger) wsi.IntegrityStatus {
	if preHashes == nil {
		return wsi.IntegrityNotChecked
	}
	f, err := os.Open(path)
	if err != nil {
		log.Warn("integrity check open failed", "path", path, "error", err)
		return wsi.IntegrityNotChecked
	}
	defer f.Close()

	postHashes, err := tiff.ComputeImageHashes(f)
	if err != nil {
		log.Warn("integrity check hash failed", "path", path, "error", err)
		return wsi.IntegrityNotChecked
	}

	for offset, preDigest := range preHashes {
		postDigest, ok := postHashes[offset]
		if !ok {
			// The IFD no longer has strip/tile data at all -- either it was
			// unlinked (label/macro blanking) or its offset/count arrays
			// were zeroed. Either is an expected anonymize outcome, not an
			// integrity failure.
			continue
		}
		if postDigest != preDigest {
			return wsi.IntegrityFailed
		}
	}
	return wsi.IntegrityVerified
}

func computeImageHashes(path string) (map[uint64]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("computeImageHashes: %w", err)
	}
	defer f.Close()
	return tiff.ComputeImageHashes(f)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashFile: %w", err)
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hashFile: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copyFile: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copyFile: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return fmt.Errorf("copyFile: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copyFile: %w", err)
	}
	return out.Sync()
}
