// Package ledger maintains the cross-run metrics table: one CSV file, one
// fixed versioned header, one row per (run_id, output_name) pair. Any stage
// may create a row; later stages amend it by upserting only the columns they
// own, so the final row is the union of all partial writes with each column
// reflecting its most recent writer.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Header is the ledger schema. Column order is part of the contract; any
// on-disk file whose header differs is backed up and replaced rather than
// migrated.
var Header = []string{
	"run_id",
	"timestamp",
	"output_name",
	"output_dir",
	"exit_code_java",
	"wall_seconds_java",
	"user_seconds_java",
	"sys_seconds_java",
	"max_rss_kb_java",
	"input_mapping_size_bytes",
	"input_vcf_size_bytes",
	"output_dir_size_bytes",
	"output_triples",
	"jar",
	"mapping_file",
	"output_path",
	"combined_nq_size_bytes",
	"gzip_size_bytes",
	"brotli_size_bytes",
	"hdt_size_bytes",
	"exit_code_gzip",
	"exit_code_brotli",
	"exit_code_hdt",
	"wall_seconds_gzip",
	"user_seconds_gzip",
	"sys_seconds_gzip",
	"max_rss_kb_gzip",
	"wall_seconds_brotli",
	"user_seconds_brotli",
	"sys_seconds_brotli",
	"max_rss_kb_brotli",
	"wall_seconds_hdt",
	"user_seconds_hdt",
	"sys_seconds_hdt",
	"max_rss_kb_hdt",
	"compression_methods",
}

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(Header))
	for i, name := range Header {
		m[name] = i
	}
	return m
}()

// Ledger is a handle on one metrics CSV file. It performs no locking: the
// pipeline processes output names strictly sequentially, and every write
// rewrites the file through a temporary path to avoid truncation hazards.
type Ledger struct {
	Path string
}

// New returns a handle for the ledger at path. The file is created lazily on
// the first upsert.
func New(path string) *Ledger {
	return &Ledger{Path: path}
}

// Upsert merges partial columns into the row keyed by (runID, outputName),
// appending a defaulted row when the key is new. Unknown column names are
// rejected so a schema drift in a caller cannot silently widen the table.
//
// A file whose header does not match the current schema is preserved as
// <path>.bak-<runID> and the ledger restarts with the current header and no
// rows; old rows are never migrated.
func (l *Ledger) Upsert(runID, outputName string, partial map[string]string) error {
	for name := range partial {
		if _, ok := columnIndex[name]; !ok {
			return fmt.Errorf("ledger: unknown column %q", name)
		}
	}

	rows, err := l.read(runID)
	if err != nil {
		return err
	}

	var row []string
	for _, existing := range rows {
		if existing[columnIndex["run_id"]] == runID && existing[columnIndex["output_name"]] == outputName {
			row = existing
			break
		}
	}
	if row == nil {
		row = make([]string, len(Header))
		row[columnIndex["run_id"]] = runID
		row[columnIndex["output_name"]] = outputName
		rows = append(rows, row)
	}
	for name, value := range partial {
		row[columnIndex[name]] = value
	}

	return l.write(rows)
}

// Row returns a copy of the row for (runID, outputName) keyed by column
// name, or found=false when the key is absent or the file does not exist.
func (l *Ledger) Row(runID, outputName string) (map[string]string, bool, error) {
	rows, err := l.read(runID)
	if err != nil {
		return nil, false, err
	}
	for _, row := range rows {
		if row[columnIndex["run_id"]] == runID && row[columnIndex["output_name"]] == outputName {
			m := make(map[string]string, len(Header))
			for i, name := range Header {
				m[name] = row[i]
			}
			return m, true, nil
		}
	}
	return nil, false, nil
}

// read loads existing rows, handling the absent-file and schema-mismatch
// cases. runID scopes the backup name on mismatch.
func (l *Ledger) read(runID string) ([][]string, error) {
	f, err := os.Open(l.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	if !headerMatches(header) {
		backup := l.Path + ".bak-" + runID
		if err := copyFile(l.Path, backup); err != nil {
			return nil, fmt.Errorf("back up ledger: %w", err)
		}
		log.Printf("ledger: header mismatch in %s; existing file preserved as %s", l.Path, backup)
		return nil, nil
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger row: %w", err)
		}
		row := make([]string, len(Header))
		copy(row, rec)
		rows = append(rows, row)
	}
	return rows, nil
}

// write replaces the ledger atomically enough: full rewrite into a temporary
// file in the same directory, then rename over the original.
func (l *Ledger) write(rows [][]string) error {
	dir := filepath.Dir(l.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metrics-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err == nil {
		err = w.WriteAll(rows)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func headerMatches(header []string) bool {
	if len(header) != len(Header) {
		return false
	}
	for i, name := range Header {
		if header[i] != name {
			return false
		}
	}
	return true
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
