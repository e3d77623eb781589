package compress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rdfizer/internal/runner"
)

// Timing is the per-invocation measurement block in the JSON report. Nil
// pointers serialize as null for fields the coarse fallback could not fill.
type Timing struct {
	WallSeconds *float64 `json:"wall_seconds"`
	UserSeconds *float64 `json:"user_seconds"`
	SysSeconds  *float64 `json:"sys_seconds"`
	MaxRSSKB    *int64   `json:"max_rss_kb"`
}

// MethodReport is one codec's section of the JSON report.
type MethodReport struct {
	OutputPath      string `json:"output_path"`
	OutputSizeBytes int64  `json:"output_size_bytes"`
	ExitCode        int    `json:"exit_code"`
	Timing          Timing `json:"timing"`
}

// Report is the structured diagnostic payload written alongside the ledger
// after a fan-out, one file per (output name, run).
type Report struct {
	RunID              string                  `json:"run_id"`
	Timestamp          string                  `json:"timestamp"`
	OutputDir          string                  `json:"output_dir"`
	OutputName         string                  `json:"output_name"`
	CompressionMethods string                  `json:"compression_methods"`
	SourcePath         string                  `json:"source_path"`
	SourceSizeBytes    int64                   `json:"source_size_bytes"`
	SourceChecksum     string                  `json:"source_checksum_xxh3"`
	Methods            map[string]MethodReport `json:"methods"`
}

var metricsNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeMetricsName normalizes an output name for use in artifact file names.
func safeMetricsName(value string) string {
	safe := strings.Trim(metricsNamePattern.ReplaceAllString(value, "_"), "_")
	if safe == "" {
		return "rdf"
	}
	return safe
}

// WriteArtifacts writes the per-method timing logs and the JSON report under
// metricsDir. Failures here are real failures: a run that cannot record its
// measurements has not met its contract.
func WriteArtifacts(
	metricsDir, runID, timestamp, outputName string,
	sourcePath, sourceChecksum string,
	sourceSize int64,
	methods []Method,
	results map[Method]Result,
) error {
	if err := os.MkdirAll(metricsDir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	safeName := safeMetricsName(outputName)

	for m, res := range results {
		lines := []string{
			"method=" + string(m),
			fmt.Sprintf("exit_code=%d", res.ExitCode),
			"wall_seconds=" + runner.Seconds(res.Wall, res.Measured),
			"output_path=" + res.OutputPath,
			fmt.Sprintf("output_size_bytes=%d", res.OutputSize),
		}
		path := filepath.Join(metricsDir,
			fmt.Sprintf("compression-time-%s-%s-%s.txt", m, safeName, runID))
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
			return fmt.Errorf("write timing log: %w", err)
		}
	}

	report := Report{
		RunID:              runID,
		Timestamp:          timestamp,
		OutputDir:          filepath.Dir(sourcePath),
		OutputName:         outputName,
		CompressionMethods: JoinMethods(methods),
		SourcePath:         sourcePath,
		SourceSizeBytes:    sourceSize,
		SourceChecksum:     sourceChecksum,
		Methods:            map[string]MethodReport{},
	}
	for m, res := range results {
		report.Methods[string(m)] = MethodReport{
			OutputPath:      res.OutputPath,
			OutputSizeBytes: res.OutputSize,
			ExitCode:        res.ExitCode,
			Timing:          timingOf(res),
		}
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(metricsDir,
		fmt.Sprintf("compression-metrics-%s-%s.json", safeName, runID))
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func timingOf(res Result) Timing {
	var t Timing
	if !res.Measured {
		return t
	}
	wall := res.Wall.Seconds()
	t.WallSeconds = &wall
	if res.HasRusage {
		user := res.User.Seconds()
		sys := res.Sys.Seconds()
		rss := res.MaxRSSKB
		t.UserSeconds = &user
		t.SysSeconds = &sys
		t.MaxRSSKB = &rss
	}
	return t
}
