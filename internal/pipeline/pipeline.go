// Package pipeline sequences the conversion stages for each input file:
// parse -> map -> normalize -> compress, with a failed absorbing state. The
// orchestrator owns the working-directory layout and cleanup policy for one
// run and leaves the long-lived metrics ledger to the ledger package.
//
// Stages block on their external invocations and output names are processed
// strictly sequentially; the ledger's upsert is not safe against concurrent
// writers.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rdfizer/internal/compress"
	"rdfizer/internal/config"
	"rdfizer/internal/docker"
	"rdfizer/internal/ledger"
	"rdfizer/internal/metrics"
	"rdfizer/internal/rdf"
	"rdfizer/internal/rules"
	"rdfizer/internal/runner"
	"rdfizer/internal/vcf"
)

// MappingEngineJar is the mapping engine's location inside the image.
const MappingEngineJar = "/opt/rmlstreamer/RMLStreamer-v2.5.0-standalone.jar"

// State names the per-file progress through the stage machine.
type State string

const (
	StateParsed     State = "parsed"
	StateMapped     State = "mapped"
	StateNormalized State = "normalized"
	StateCompressed State = "compressed"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ExitError carries the exit status the process should propagate when a
// stage or an external tool failed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the process exit status from an error chain, defaulting
// to 1 for plain errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var xe *ExitError
	if ok := asExitError(err, &xe); ok && xe.Code != 0 {
		return xe.Code
	}
	return 1
}

func asExitError(err error, target **ExitError) bool {
	for err != nil {
		if xe, ok := err.(*ExitError); ok {
			*target = xe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Pipeline drives one run. All collaborators are injected so the stage
// machine can be exercised with a deterministic fake runner.
type Pipeline struct {
	Cfg    config.Config
	Docker *docker.Client
	Ledger *ledger.Ledger

	RunID     string
	Timestamp string

	// LogPath is the command log location, echoed in diagnostics.
	LogPath string
}

// RunFull executes the full VCF -> TSV -> RDF -> compression pipeline for
// every resolved input file, strictly in order.
func (p *Pipeline) RunFull(ctx context.Context) error {
	files, err := vcf.ResolveInput(p.Cfg.Input)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	methods, err := compress.ParseMethods(p.Cfg.Compression)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	tsvExisted := dirExists(p.Cfg.TSVDir)
	for _, dir := range []string{p.Cfg.OutDir, p.Cfg.TSVDir, p.Cfg.MetricsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	rulesDir := filepath.Join(p.Cfg.MetricsDir, "_generated_rules")
	os.RemoveAll(rulesDir)
	if err := os.MkdirAll(rulesDir, 0o755); err != nil {
		return fmt.Errorf("create generated rules dir: %w", err)
	}

	fanOut := &compress.FanOut{Docker: p.Docker, OutRoot: p.Cfg.OutDir}
	if err := fanOut.Preflight(ctx, methods); err != nil {
		return &ExitError{Code: compress.PreflightExitCode, Err: err}
	}

	for i, file := range files {
		log.Printf("pipeline: input %d/%d: %s", i+1, len(files), filepath.Base(file))
		if err := p.processFile(ctx, file, rulesDir, methods, fanOut); err != nil {
			return err
		}
	}

	if !p.Cfg.KeepTSV && !tsvExisted {
		os.RemoveAll(p.Cfg.TSVDir)
	} else if !p.Cfg.KeepTSV {
		log.Printf("pipeline: TSV directory existed before the run; skipping directory cleanup")
	}
	return nil
}

// processFile walks one input through the stage machine. Any failure puts
// the file in the failed state: the error is returned, later stages are
// skipped, and artifacts from earlier files stay in place.
func (p *Pipeline) processFile(ctx context.Context, file, rulesDir string, methods []compress.Method, fanOut *compress.FanOut) error {
	prefix := vcf.Slugify(vcf.OutputPrefix(file))
	if prefix == "vcf" {
		// Nothing usable in the file name; fall back to the configured one.
		prefix = vcf.Slugify(p.Cfg.OutName)
	}
	outDir := filepath.Join(p.Cfg.OutDir, prefix)

	// Re-running with the same output name must never mix artifacts from
	// different inputs under one directory.
	if err := os.RemoveAll(outDir); err != nil {
		return fmt.Errorf("remove stale output dir: %w", err)
	}

	step := func(s State) { log.Printf("pipeline: %s: %s", prefix, s) }
	done := false
	defer func() {
		if !done {
			step(StateFailed)
		}
	}()

	tables, meta, err := p.parseStage(file, prefix)
	if err != nil {
		return err
	}
	step(StateParsed)
	log.Printf("pipeline: %s: %d records, %d header lines", prefix, meta.Records, meta.HeaderLines)

	genRules := filepath.Join(rulesDir, prefix+".rules.ttl")
	if err := rules.Resolve(p.Cfg.Rules, genRules, rules.Tables{
		Records:  docker.ContainerPath(docker.DataTSV, filepath.Base(tables.RecordsPath())),
		Headers:  docker.ContainerPath(docker.DataTSV, filepath.Base(tables.HeadersPath())),
		Metadata: docker.ContainerPath(docker.DataTSV, filepath.Base(tables.MetadataPath())),
	}); err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if err := p.mapStage(ctx, file, prefix, genRules, outDir); err != nil {
		return err
	}
	step(StateMapped)

	merged, err := p.normalizeStage(outDir, prefix)
	if err != nil {
		return err
	}
	step(StateNormalized)

	if err := p.compressStage(ctx, prefix, outDir, methods, fanOut); err != nil {
		return err
	}
	if len(methods) > 0 {
		step(StateCompressed)
	}

	if !p.Cfg.KeepRDF && len(methods) > 0 {
		if err := os.Remove(merged); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove merged artifact: %w", err)
		}
	}
	if !p.Cfg.KeepTSV {
		if err := tables.Remove(); err != nil {
			return fmt.Errorf("remove intermediate tables: %w", err)
		}
	}

	done = true
	step(StateDone)
	return nil
}

// parseStage converts one variant file into the three intermediate tables.
func (p *Pipeline) parseStage(file, prefix string) (*vcf.TableSet, vcf.FileMetadata, error) {
	start := time.Now()

	in, err := vcf.Open(file)
	if err != nil {
		metrics.RecordStage(p.RunID, "parse", err, time.Since(start))
		return nil, vcf.FileMetadata{}, &ExitError{Code: 2, Err: err}
	}
	defer in.Close()

	tables, err := vcf.CreateTables(p.Cfg.TSVDir, prefix)
	if err != nil {
		metrics.RecordStage(p.RunID, "parse", err, time.Since(start))
		return nil, vcf.FileMetadata{}, err
	}
	meta, err := vcf.Parse(in, filepath.Base(file), tables)
	if cerr := tables.Close(); err == nil {
		err = cerr
	}
	metrics.RecordStage(p.RunID, "parse", err, time.Since(start))
	if err != nil {
		tables.Remove()
		return nil, meta, fmt.Errorf("parse %s: %w", file, err)
	}
	return tables, meta, nil
}

// mapStage invokes the external mapping engine and records the conversion
// columns of the metrics row. A non-zero engine exit is recorded, then
// propagated without invoking later stages.
func (p *Pipeline) mapStage(ctx context.Context, file, prefix, genRules, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	containerRules := docker.ContainerPath(docker.DataRules, filepath.Base(genRules))
	res := p.Docker.Run(ctx,
		[]docker.Mount{
			{Host: filepath.Dir(genRules), Container: docker.DataRules, ReadOnly: true},
			{Host: p.Cfg.TSVDir, Container: docker.DataTSV, ReadOnly: true},
			{Host: p.Cfg.OutDir, Container: docker.DataOut},
		},
		nil,
		docker.DataRules,
		"java", "-jar", MappingEngineJar, "toFile",
		"-m", containerRules,
		"-o", docker.ContainerPath(docker.DataOut, prefix),
	)

	cols := map[string]string{
		"timestamp":                p.Timestamp,
		"output_dir":               outDir,
		"exit_code_java":           strconv.Itoa(res.ExitCode),
		"wall_seconds_java":        runner.Seconds(res.Wall, true),
		"user_seconds_java":        runner.Seconds(res.User, res.HasRusage),
		"sys_seconds_java":         runner.Seconds(res.Sys, res.HasRusage),
		"max_rss_kb_java":          rssOf(res.MaxRSSKB, res.HasRusage),
		"input_mapping_size_bytes": strconv.FormatInt(rdf.FileSize(genRules), 10),
		"input_vcf_size_bytes":     strconv.FormatInt(rdf.FileSize(file), 10),
		"jar":                      MappingEngineJar,
		"mapping_file":             genRules,
	}
	if err := p.Ledger.Upsert(p.RunID, prefix, cols); err != nil {
		return err
	}

	var stageErr error
	if res.ExitCode != 0 {
		stageErr = fmt.Errorf("mapping engine failed for %q (exit %d); see log: %s", prefix, res.ExitCode, p.LogPath)
	}
	metrics.RecordStage(p.RunID, "map", stageErr, res.Wall)
	if stageErr != nil {
		if res.NotFound {
			stageErr = fmt.Errorf("mapping engine command not found for %q; see log: %s", prefix, p.LogPath)
		}
		return &ExitError{Code: res.ExitCode, Err: stageErr}
	}
	return nil
}

// normalizeStage merges the engine's output fragments into the canonical
// artifact and completes the conversion columns.
func (p *Pipeline) normalizeStage(outDir, prefix string) (string, error) {
	merged, err := rdf.MergeFragments(outDir, prefix)
	if err != nil {
		return "", err
	}
	statements, err := rdf.CountStatements(merged)
	if err != nil {
		return "", err
	}
	metrics.RecordStatements(p.RunID, statements)
	metrics.RecordArtifact(p.RunID, "nq", rdf.FileSize(merged))

	cols := map[string]string{
		"output_dir_size_bytes": strconv.FormatInt(rdf.DirSize(outDir), 10),
		"output_triples":        strconv.FormatInt(statements, 10),
		"output_path":           merged,
	}
	if err := p.Ledger.Upsert(p.RunID, prefix, cols); err != nil {
		return "", err
	}
	return merged, nil
}

// compressStage delegates to the fan-out and writes the descriptor and
// codec columns. With zero requested codecs the descriptor row is still
// written, with every codec column at its default.
func (p *Pipeline) compressStage(ctx context.Context, prefix, outDir string, methods []compress.Method, fanOut *compress.FanOut) error {
	source, found := rdf.FindArtifact(outDir, prefix)
	combined := rdf.FileSize(source)

	cols := compress.DefaultColumns()
	cols["combined_nq_size_bytes"] = strconv.FormatInt(combined, 10)
	cols["compression_methods"] = compress.JoinMethods(methods)
	if err := p.Ledger.Upsert(p.RunID, prefix, cols); err != nil {
		return err
	}
	if len(methods) == 0 {
		return nil
	}

	if !found {
		log.Printf("pipeline: %s: no .nt or .nq artifact under %s; failing requested codecs", prefix, outDir)
	}
	start := time.Now()
	results, ok, err := fanOut.Run(ctx, source, methods)
	if err != nil {
		return err
	}

	if err := p.Ledger.Upsert(p.RunID, prefix, compress.LedgerColumns(results)); err != nil {
		return err
	}

	var checksum string
	if found {
		if checksum, err = rdf.Checksum(source); err != nil {
			return err
		}
	}
	if err := compress.WriteArtifacts(
		p.Cfg.MetricsDir, p.RunID, p.Timestamp, prefix,
		source, checksum, combined, methods, results,
	); err != nil {
		return err
	}

	var stageErr error
	if !ok {
		stageErr = fmt.Errorf("compression failed for %q; see log: %s", prefix, p.LogPath)
	}
	metrics.RecordStage(p.RunID, "compress", stageErr, time.Since(start))
	for m, res := range results {
		if res.ExitCode == 0 && res.Measured {
			metrics.RecordArtifact(p.RunID, string(m), res.OutputSize)
		}
	}
	if stageErr != nil {
		return &ExitError{Code: 1, Err: stageErr}
	}
	return nil
}

func rssOf(kb int64, ok bool) string {
	if !ok {
		return "null"
	}
	return strconv.FormatInt(kb, 10)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
