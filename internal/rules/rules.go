// Package rules rewrites a mapping specification's declared source-table
// locations to point at the tables generated for one specific input file.
//
// The specification declares three placeholder locations; consumers adding
// custom mapping rules must keep them stable:
//
//	/data/tsv/records.tsv
//	/data/tsv/header_lines.tsv
//	/data/tsv/file_metadata.tsv
package rules

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Placeholder table locations inside the mapping specification.
const (
	RecordsPlaceholder  = "/data/tsv/records.tsv"
	HeadersPlaceholder  = "/data/tsv/header_lines.tsv"
	MetadataPlaceholder = "/data/tsv/file_metadata.tsv"
)

// Tables names the three concrete table locations substituted into a
// resolved specification.
type Tables struct {
	Records  string
	Headers  string
	Metadata string
}

// Resolve reads the specification at templatePath, replaces the three
// placeholder locations with the paths in tables, and writes the result to
// outputPath via a temporary file so a failure never leaves a partial
// rewrite in place. A missing template is a fatal, reported error.
func Resolve(templatePath, outputPath string, tables Tables) error {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rules file not found: %s", templatePath)
		}
		return fmt.Errorf("read rules: %w", err)
	}

	text := string(raw)
	for _, sub := range []struct{ placeholder, path string }{
		{RecordsPlaceholder, tables.Records},
		{HeadersPlaceholder, tables.Headers},
		{MetadataPlaceholder, tables.Metadata},
	} {
		pattern := regexp.MustCompile(regexp.QuoteMeta(sub.placeholder))
		text = pattern.ReplaceAllString(text, escapeReplacement(sub.path))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create rules output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".rules-*")
	if err != nil {
		return fmt.Errorf("create rules temp file: %w", err)
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close rules temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace rules output: %w", err)
	}
	return nil
}

// Update rewrites the specification in place, keeping a .bak copy of the
// original so the previous version can always be restored.
func Update(path string, tables Tables) error {
	if err := copyFile(path, path+".bak"); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rules file not found: %s", path)
		}
		return fmt.Errorf("back up rules: %w", err)
	}
	return Resolve(path, path, tables)
}

// escapeReplacement escapes the characters the substitution syntax treats
// specially in a replacement string. For Go's regexp templates "$" introduces
// both the matched-text and captured-group references ($0, ${name}), so a
// literal dollar in a path must double itself. Ampersands and backslashes
// carry no meaning here and pass through untouched.
func escapeReplacement(path string) string {
	return strings.ReplaceAll(path, "$", "$$")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
