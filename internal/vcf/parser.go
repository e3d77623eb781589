// Package vcf provides streaming parsing of variant files into the three
// relational tables consumed by the mapping engine: per-variant records,
// header lines, and a single trailing file-metadata summary.
//
// Parse makes one forward pass over the input without buffering the whole
// file. Gzip-compressed inputs (.vcf.gz) are expanded transparently.
package vcf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	metaMarker        = "##"
	headerMarker      = "#"
	columnHeaderToken = "CHROM"

	// ColumnHeaderKey is the sentinel key of the header-line row that holds
	// the tab-joined column-header line.
	ColumnHeaderKey = "column_header"

	// SampleDelimiter joins per-sample call strings inside one records
	// column. Sample count varies per file, so the calls cannot occupy
	// fixed columns; the delimiter must not collide with the table's tabs.
	SampleDelimiter = "|"
)

// Record is one data line of a variant file. The first eight VCF columns map
// positionally; missing trailing columns default to the empty string.
type Record struct {
	SourceFile string
	RowNumber  int // 1-based, data lines only
	Chrom      string
	Pos        string
	ID         string
	Ref        string
	Alt        string
	Qual       string
	Filter     string
	Info       string
	Format     string
	Samples    []string
}

// HeaderLine is one metadata line (## prefixed) or the column-header line.
// LineNumber is a shared 1-based counter over both kinds, assigned in file
// order and never reused.
type HeaderLine struct {
	SourceFile string
	LineNumber int
	Key        string
	Value      string
	Raw        string
}

// FileMetadata summarizes one parsed file. Fields default to the empty
// string when the corresponding metadata tag was absent. It is emitted only
// after the whole file has been scanned.
type FileMetadata struct {
	SourceFile  string
	FileFormat  string
	FileDate    string
	Source      string
	Reference   string
	HeaderLines int
	Records     int
}

// Sink receives parsed rows as they are produced. Implementations must not
// retain the values past the call.
type Sink interface {
	HeaderLine(HeaderLine) error
	Record(Record) error
	Metadata(FileMetadata) error
}

// Parse scans one variant stream and feeds every classified line into sink.
// The returned FileMetadata equals the value passed to sink.Metadata.
//
// Classification per line, in order: "##" metadata line, "#CHROM..." column
// header, anything else a data record. Trailing carriage returns are
// stripped before any field is stored.
func Parse(r io.Reader, sourceFile string, sink Sink) (FileMetadata, error) {
	meta := FileMetadata{SourceFile: sourceFile}
	br := bufio.NewReaderSize(r, 256*1024)

	headerSeq := 0
	recordSeq := 0

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return meta, fmt.Errorf("read %s: %w", sourceFile, err)
		}
		if line == "" && err == io.EOF {
			break
		}
		atEOF := err == io.EOF

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		switch {
		case strings.HasPrefix(line, metaMarker):
			headerSeq++
			key, value := splitMetaLine(line[len(metaMarker):])
			captureMetadata(&meta, key, value)
			h := HeaderLine{
				SourceFile: sourceFile,
				LineNumber: headerSeq,
				Key:        key,
				Value:      value,
				Raw:        line,
			}
			if err := sink.HeaderLine(h); err != nil {
				return meta, err
			}

		case isColumnHeader(line):
			headerSeq++
			stripped := strings.TrimPrefix(line, headerMarker)
			h := HeaderLine{
				SourceFile: sourceFile,
				LineNumber: headerSeq,
				Key:        ColumnHeaderKey,
				Value:      stripped,
				Raw:        stripped,
			}
			if err := sink.HeaderLine(h); err != nil {
				return meta, err
			}

		case !strings.HasPrefix(line, headerMarker):
			recordSeq++
			rec := splitRecord(line)
			rec.SourceFile = sourceFile
			rec.RowNumber = recordSeq
			if err := sink.Record(rec); err != nil {
				return meta, err
			}
		}
		// Lines starting with a bare "#" that are not the column header are
		// ignored: not metadata, not data.

		if atEOF {
			break
		}
	}

	meta.HeaderLines = headerSeq
	meta.Records = recordSeq
	if err := sink.Metadata(meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// splitMetaLine splits a "##key=value" body on the first '='. Value is empty
// when no '=' is present.
func splitMetaLine(body string) (key, value string) {
	if i := strings.IndexByte(body, '='); i >= 0 {
		return body[:i], body[i+1:]
	}
	return body, ""
}

// captureMetadata records the small fixed set of metadata tags into the
// pending summary. Later occurrences overwrite earlier ones.
func captureMetadata(meta *FileMetadata, key, value string) {
	switch strings.ToLower(key) {
	case "fileformat":
		meta.FileFormat = value
	case "filedate":
		meta.FileDate = value
	case "source":
		meta.Source = value
	case "reference":
		meta.Reference = value
	}
}

func isColumnHeader(line string) bool {
	if !strings.HasPrefix(line, headerMarker) {
		return false
	}
	first := line[len(headerMarker):]
	if i := strings.IndexByte(first, '\t'); i >= 0 {
		first = first[:i]
	}
	return first == columnHeaderToken
}

// splitRecord maps the tab-separated fields of a data line onto the fixed
// VCF columns. Short rows are tolerated; fields past the ninth are samples.
func splitRecord(line string) Record {
	fields := strings.Split(line, "\t")
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	rec := Record{
		Chrom:  get(0),
		Pos:    get(1),
		ID:     get(2),
		Ref:    get(3),
		Alt:    get(4),
		Qual:   get(5),
		Filter: get(6),
		Info:   get(7),
		Format: get(8),
	}
	if len(fields) > 9 {
		rec.Samples = fields[9:]
	}
	return rec
}

// Open opens a variant file for parsing, expanding gzip transparently when
// the name ends in .gz. A gzip header error is fatal for the file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return &gzipReadCloser{gr: gr, f: f}, nil
}

type gzipReadCloser struct {
	gr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gr.Read(p) }

func (g *gzipReadCloser) Close() error {
	err := g.gr.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// IsVariantFile reports whether name looks like a supported input.
func IsVariantFile(name string) bool {
	return strings.HasSuffix(name, ".vcf") || strings.HasSuffix(name, ".vcf.gz")
}

// OutputPrefix derives the table/artifact basename from a variant file path.
func OutputPrefix(path string) string {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".vcf.gz")
	name = strings.TrimSuffix(name, ".vcf")
	return name
}

var slugPattern = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Slugify normalizes a name for use in file paths and metrics columns.
func Slugify(value string) string {
	safe := strings.Trim(slugPattern.ReplaceAllString(value, "_"), "_")
	if safe == "" {
		return "vcf"
	}
	return safe
}
