// Package estimate predicts intermediate and output sizes for a set of
// variant inputs using fixed multiplicative heuristics. The output is
// advisory only; the sole side effect a caller may attach to it is a warning
// when the high estimate exceeds free disk space.
package estimate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Fixed heuristics, calibrated against observed conversions.
const (
	CompressedExpansionFactor = 5.0
	TSVOverheadFactor         = 1.10
	RDFExpansionLowFactor     = 4.0
	RDFExpansionHighFactor    = 12.0
)

// Estimate carries the predicted byte counts for one input set.
type Estimate struct {
	InputBytes   int64
	TSVBytes     int64
	RDFLowBytes  int64
	RDFHighBytes int64

	// FreeDiskBytes is the space available at DiskAnchor, the nearest
	// existing parent of the output directory.
	FreeDiskBytes int64
	DiskAnchor    string
}

// File feeds one input into the running estimate. Compressed inputs are
// expanded by the fixed factor before the downstream multipliers apply.
func (e *Estimate) File(size int64, compressed bool) {
	e.InputBytes += size
	expanded := float64(size)
	if compressed {
		expanded *= CompressedExpansionFactor
	}
	e.TSVBytes += int64(expanded * TSVOverheadFactor)
	e.RDFLowBytes += int64(expanded * RDFExpansionLowFactor)
	e.RDFHighBytes += int64(expanded * RDFExpansionHighFactor)
}

// ExceedsFreeDisk reports whether the upper-bound RDF estimate does not fit
// in the space currently free at the disk anchor.
func (e *Estimate) ExceedsFreeDisk() bool {
	return e.RDFHighBytes > e.FreeDiskBytes
}

// ForFiles estimates the pipeline footprint for the given input files, with
// free disk probed at the nearest existing parent of outDir.
func ForFiles(paths []string, outDir string) (Estimate, error) {
	var est Estimate
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return est, fmt.Errorf("stat input: %w", err)
		}
		est.File(info.Size(), strings.HasSuffix(p, ".gz"))
	}

	est.DiskAnchor = existingParent(outDir)
	free, err := freeDisk(est.DiskAnchor)
	if err != nil {
		return est, fmt.Errorf("probe free disk at %s: %w", est.DiskAnchor, err)
	}
	est.FreeDiskBytes = free
	return est, nil
}

// Summary renders the estimate for terminal display.
func (e *Estimate) Summary() []string {
	return []string{
		fmt.Sprintf("Input VCF size: %s", humanize.IBytes(uint64(e.InputBytes))),
		fmt.Sprintf("Estimated TSV intermediate size: %s", humanize.IBytes(uint64(e.TSVBytes))),
		fmt.Sprintf("Estimated RDF size: %s to %s",
			humanize.IBytes(uint64(e.RDFLowBytes)), humanize.IBytes(uint64(e.RDFHighBytes))),
		fmt.Sprintf("Free disk space at %s: %s", e.DiskAnchor, humanize.IBytes(uint64(e.FreeDiskBytes))),
	}
}

// existingParent walks up from path to the closest directory that exists, so
// free disk can be probed before the output directory is created.
func existingParent(path string) string {
	cur := filepath.Clean(path)
	for {
		if _, err := os.Stat(cur); err == nil {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return cur
		}
		cur = parent
	}
}

func freeDisk(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * st.Bsize, nil
}
