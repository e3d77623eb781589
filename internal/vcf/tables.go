package vcf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Per-prefix table file suffixes. The mapping specification references the
// three tables by these names.
const (
	RecordsSuffix  = ".records.tsv"
	HeadersSuffix  = ".header_lines.tsv"
	MetadataSuffix = ".file_metadata.tsv"
)

var (
	recordsHeader = []string{
		"source_file", "row_number", "chrom", "pos", "id", "ref",
		"alt", "qual", "filter", "info", "format", "samples",
	}
	headersHeader  = []string{"source_file", "line_number", "key", "value", "raw_line"}
	metadataHeader = []string{
		"source_file", "fileformat", "file_date", "source",
		"reference", "header_line_count", "record_count",
	}
)

// TablePaths returns the three table paths for a prefix under dir.
func TablePaths(dir, prefix string) (records, headers, metadata string) {
	records = filepath.Join(dir, prefix+RecordsSuffix)
	headers = filepath.Join(dir, prefix+HeadersSuffix)
	metadata = filepath.Join(dir, prefix+MetadataSuffix)
	return records, headers, metadata
}

// TableSet is a Sink that streams parsed rows into the three TSV tables.
// Close flushes and closes all three files; tables are valid only after a
// Close that returns nil.
type TableSet struct {
	recordsPath  string
	headersPath  string
	metadataPath string

	records  *tsvWriter
	headers  *tsvWriter
	metadata *tsvWriter
}

// CreateTables creates the three tables for prefix under dir, writing each
// table's fixed header row. An empty input later yields header-only tables,
// which is not an error.
func CreateTables(dir, prefix string) (*TableSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}
	rp, hp, mp := TablePaths(dir, prefix)

	t := &TableSet{recordsPath: rp, headersPath: hp, metadataPath: mp}
	var err error
	if t.records, err = newTSVWriter(rp, recordsHeader); err != nil {
		return nil, err
	}
	if t.headers, err = newTSVWriter(hp, headersHeader); err != nil {
		t.records.close()
		return nil, err
	}
	if t.metadata, err = newTSVWriter(mp, metadataHeader); err != nil {
		t.records.close()
		t.headers.close()
		return nil, err
	}
	return t, nil
}

// RecordsPath returns the records table path.
func (t *TableSet) RecordsPath() string { return t.recordsPath }

// HeadersPath returns the header-lines table path.
func (t *TableSet) HeadersPath() string { return t.headersPath }

// MetadataPath returns the file-metadata table path.
func (t *TableSet) MetadataPath() string { return t.metadataPath }

func (t *TableSet) Record(r Record) error {
	return t.records.row(
		r.SourceFile, strconv.Itoa(r.RowNumber), r.Chrom, r.Pos, r.ID,
		r.Ref, r.Alt, r.Qual, r.Filter, r.Info, r.Format,
		strings.Join(r.Samples, SampleDelimiter),
	)
}

func (t *TableSet) HeaderLine(h HeaderLine) error {
	return t.headers.row(h.SourceFile, strconv.Itoa(h.LineNumber), h.Key, h.Value, h.Raw)
}

func (t *TableSet) Metadata(m FileMetadata) error {
	return t.metadata.row(
		m.SourceFile, m.FileFormat, m.FileDate, m.Source, m.Reference,
		strconv.Itoa(m.HeaderLines), strconv.Itoa(m.Records),
	)
}

// Close flushes and closes all three tables, returning the first error.
func (t *TableSet) Close() error {
	var first error
	for _, w := range []*tsvWriter{t.records, t.headers, t.metadata} {
		if err := w.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Remove deletes the three table files, ignoring files already gone.
func (t *TableSet) Remove() error {
	var first error
	for _, p := range []string{t.recordsPath, t.headersPath, t.metadataPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

type tsvWriter struct {
	f *os.File
	w *bufio.Writer
}

func newTSVWriter(path string, header []string) (*tsvWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", path, err)
	}
	t := &tsvWriter{f: f, w: bufio.NewWriter(f)}
	if err := t.row(header...); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *tsvWriter) row(fields ...string) error {
	for i, field := range fields {
		if i > 0 {
			if err := t.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := t.w.WriteString(escapeField(field)); err != nil {
			return err
		}
	}
	return t.w.WriteByte('\n')
}

func (t *tsvWriter) close() error {
	err := t.w.Flush()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	return err
}

var fieldEscaper = strings.NewReplacer("\\", `\\`, "\t", `\t`, "\n", `\n`)

// escapeField keeps cells one-line and tab-free. The column-header sentinel
// row stores the whole tab-joined header line in a single cell, so embedded
// tabs must be encoded on the wire.
func escapeField(field string) string {
	if !strings.ContainsAny(field, "\\\t\n") {
		return field
	}
	return fieldEscaper.Replace(field)
}

// UnescapeField reverses escapeField.
func UnescapeField(field string) string {
	if !strings.Contains(field, "\\") {
		return field
	}
	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); i++ {
		if field[i] == '\\' && i+1 < len(field) {
			switch field[i+1] {
			case '\\':
				b.WriteByte('\\')
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(field[i])
				b.WriteByte(field[i+1])
			}
			i++
			continue
		}
		b.WriteByte(field[i])
	}
	return b.String()
}
