package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rdfizer/internal/compress"
	"rdfizer/internal/docker"
	"rdfizer/internal/metrics"
	"rdfizer/internal/rdf"
)

// RunCompress fans an existing canonical RDF artifact out to the requested
// codecs, skipping the parse and mapping stages entirely. The ledger row is
// keyed by the artifact's stem so repeat runs update in place.
func (p *Pipeline) RunCompress(ctx context.Context) error {
	source := p.Cfg.RDFInput
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return &ExitError{Code: 2, Err: fmt.Errorf("rdf input not found: %s", source)}
	}
	if !strings.HasSuffix(source, ".nt") && !strings.HasSuffix(source, ".nq") {
		return &ExitError{Code: 2, Err: fmt.Errorf("rdf input must end with .nt or .nq: %s", source)}
	}

	methods, err := compress.ParseMethods(p.Cfg.Compression)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	if len(methods) == 0 {
		log.Printf("pipeline: no compression methods requested; nothing to do")
		return nil
	}

	for _, dir := range []string{p.Cfg.OutDir, p.Cfg.MetricsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fanOut := &compress.FanOut{Docker: p.Docker, OutRoot: p.Cfg.OutDir}
	if err := fanOut.Preflight(ctx, methods); err != nil {
		return &ExitError{Code: compress.PreflightExitCode, Err: err}
	}

	base := filepath.Base(source)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	combined := info.Size()

	cols := compress.DefaultColumns()
	cols["timestamp"] = p.Timestamp
	cols["output_dir"] = p.Cfg.OutDir
	cols["output_path"] = source
	cols["combined_nq_size_bytes"] = strconv.FormatInt(combined, 10)
	cols["compression_methods"] = compress.JoinMethods(methods)
	if err := p.Ledger.Upsert(p.RunID, name, cols); err != nil {
		return err
	}

	start := time.Now()
	results, ok, err := fanOut.Run(ctx, source, methods)
	if err != nil {
		return err
	}
	if err := p.Ledger.Upsert(p.RunID, name, compress.LedgerColumns(results)); err != nil {
		return err
	}

	checksum, err := rdf.Checksum(source)
	if err != nil {
		return err
	}
	if err := compress.WriteArtifacts(
		p.Cfg.MetricsDir, p.RunID, p.Timestamp, name,
		source, checksum, combined, methods, results,
	); err != nil {
		return err
	}

	var stageErr error
	if !ok {
		stageErr = fmt.Errorf("compression failed for %q; see log: %s", name, p.LogPath)
	}
	metrics.RecordStage(p.RunID, "compress", stageErr, time.Since(start))
	if stageErr != nil {
		return &ExitError{Code: 1, Err: stageErr}
	}
	return nil
}

// RunDecompress restores one compressed artifact to its serialized form. The
// codec is inferred from the input extension.
func (p *Pipeline) RunDecompress(ctx context.Context) error {
	source := p.Cfg.CompressedInput
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return &ExitError{Code: 2, Err: fmt.Errorf("compressed input not found: %s", source)}
	}

	method, err := compress.DetectCompressedFormat(source)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	out := p.Cfg.DecompressOut
	if out == "" {
		out = filepath.Join(p.Cfg.OutDir, "decompressed", compress.DecompressedName(source, method))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create decompress output dir: %w", err)
	}

	fanOut := &compress.FanOut{Docker: p.Docker, OutRoot: p.Cfg.OutDir}
	if err := fanOut.Preflight(ctx, []compress.Method{method}); err != nil {
		return &ExitError{Code: compress.PreflightExitCode, Err: err}
	}

	srcDir, srcBase := filepath.Split(source)
	if srcDir == "" {
		srcDir = "."
	}
	outDir, outBase := filepath.Split(out)

	start := time.Now()
	res := p.Docker.Shell(ctx, []docker.Mount{
		{Host: filepath.Clean(srcDir), Container: docker.DataIn, ReadOnly: true},
		{Host: filepath.Clean(outDir), Container: docker.DataOut},
	}, compress.DecompressCommand(method,
		docker.ContainerPath(docker.DataIn, srcBase),
		docker.ContainerPath(docker.DataOut, outBase),
	))

	var stageErr error
	if res.ExitCode != 0 {
		stageErr = fmt.Errorf("decompression failed for %q (exit %d); see log: %s", source, res.ExitCode, p.LogPath)
	}
	metrics.RecordStage(p.RunID, "decompress", stageErr, time.Since(start))
	if stageErr != nil {
		return &ExitError{Code: res.ExitCode, Err: stageErr}
	}
	log.Printf("pipeline: decompressed %s -> %s (%d bytes)", source, out, rdf.FileSize(out))
	return nil
}
