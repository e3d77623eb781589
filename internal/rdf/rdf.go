// Package rdf handles the graph-serialization artifacts that sit between the
// mapping engine and the compression fan-out: fragment normalization and
// merging, canonical artifact discovery, statement counting, and integrity
// checksums.
package rdf

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// CanonicalExtension is the extension given to unnamed mapping-engine
// fragments and to the merged artifact.
const CanonicalExtension = ".nq"

// MergeFragments normalizes and merges the mapping engine's output fragments
// under dir into one artifact named <name>.nq, returning its path.
//
// Fragments without an extension are renamed to carry the canonical one
// first. Each fragment is then appended to the merged artifact and deleted
// immediately afterwards, so the transient disk overhead stays bounded by
// one fragment rather than the full merged result plus all fragments.
func MergeFragments(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read fragment dir: %w", err)
	}

	target := filepath.Join(dir, name+CanonicalExtension)
	var fragments []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if filepath.Ext(e.Name()) == "" {
			renamed := p + CanonicalExtension
			if err := os.Rename(p, renamed); err != nil {
				return "", fmt.Errorf("normalize fragment: %w", err)
			}
			p = renamed
		}
		if p != target && strings.HasSuffix(p, CanonicalExtension) {
			fragments = append(fragments, p)
		}
	}
	sort.Strings(fragments)

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("create merged artifact: %w", err)
	}
	for _, frag := range fragments {
		if err := appendFile(out, frag); err != nil {
			out.Close()
			return "", err
		}
		if err := os.Remove(frag); err != nil {
			out.Close()
			return "", fmt.Errorf("remove merged fragment: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close merged artifact: %w", err)
	}
	return target, nil
}

func appendFile(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open fragment: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("append fragment: %w", err)
	}
	return nil
}

// FindArtifact locates the canonical RDF artifact for name under dir,
// preferring N-Triples over N-Quads when both exist. The miss case is not an
// error here; the fan-out turns it into per-codec failures.
func FindArtifact(dir, name string) (string, bool) {
	for _, ext := range []string{".nt", ".nq"} {
		p := filepath.Join(dir, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// CountStatements counts the statements in a serialized graph file: lines
// that are not comments and end with the statement terminator " .".
func CountStatements(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ".") {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan artifact: %w", err)
	}
	return n, nil
}

// Checksum returns the xxh3-64 digest of a file as fixed-width hex. It is
// recorded in measurement artifacts so compressed copies can be tied back to
// the exact source bytes.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// FileSize returns the size of a regular file, or 0 when it is absent.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// DirSize totals the regular files under dir.
func DirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
