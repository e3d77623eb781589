package vcf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ResolveInput expands an input path into the ordered list of variant files
// to process. A file must carry a supported extension; a directory is
// snapshotted (sorted by name) and must contain at least one variant file.
// Both failures are input errors: fatal, reported immediately.
func ResolveInput(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input path not found: %s", path)
	}

	if !info.IsDir() {
		if !IsVariantFile(path) {
			return nil, fmt.Errorf("input file must end with .vcf or .vcf.gz: %s", path)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsVariantFile(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no .vcf or .vcf.gz files found in %s", path)
	}
	return files, nil
}
