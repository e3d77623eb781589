// Package compress fans one canonical RDF artifact out to the requested
// codec executables. Codecs are independent: a failing codec never stops the
// remaining ones, and the aggregate status succeeds only when artifact
// discovery and every requested codec succeeded.
package compress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rdfizer/internal/docker"
	"rdfizer/internal/rdf"
	"rdfizer/internal/runner"
)

// Method identifies one codec from the fixed enumeration.
type Method string

const (
	Gzip   Method = "gzip"
	Brotli Method = "brotli"
	HDT    Method = "hdt"
)

// Methods in canonical order, which is also the ledger column order.
var AllMethods = []Method{Gzip, Brotli, HDT}

// Exit codes recorded without invoking a codec.
const (
	// MissingArtifactExitCode marks a codec that was requested but had no
	// source artifact to consume.
	MissingArtifactExitCode = 1
	// PreflightExitCode marks a missing companion runtime detected before
	// any invocation was attempted.
	PreflightExitCode = 2
)

// Companion runtime locations inside the image for the
// graph-serialization-to-compact-binary-index transform.
const (
	hdtProjectDir = "/opt/hdt-java/hdt-java-cli"
	rdf2hdtScript = hdtProjectDir + "/bin/rdf2hdt.sh"
	hdt2rdfScript = hdtProjectDir + "/bin/hdt2rdf.sh"
)

// ParseMethods parses a comma-separated method list. "none" or an empty
// string yields no methods; unknown names are rejected; duplicates collapse
// in first-seen order.
func ParseMethods(raw string) ([]Method, error) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "none" {
		return nil, nil
	}
	var methods []Method
	seen := map[Method]bool{}
	for _, token := range strings.Split(value, ",") {
		name := Method(strings.TrimSpace(token))
		if name == "" {
			continue
		}
		switch name {
		case Gzip, Brotli, HDT:
		default:
			return nil, fmt.Errorf("unsupported compression method %q; use gzip,brotli,hdt, or none", name)
		}
		if !seen[name] {
			seen[name] = true
			methods = append(methods, name)
		}
	}
	return methods, nil
}

// JoinMethods renders a method list for the ledger's descriptor column.
func JoinMethods(methods []Method) string {
	if len(methods) == 0 {
		return "none"
	}
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, "|")
}

// Result is the measurement of one codec invocation (or of the decision not
// to invoke it).
type Result struct {
	Method     Method
	ExitCode   int
	Wall       time.Duration
	User       time.Duration
	Sys        time.Duration
	MaxRSSKB   int64
	HasRusage  bool
	Measured   bool // false when the codec was never invoked
	OutputPath string
	OutputSize int64
}

// FanOut invokes codecs against artifacts under one output root. Outputs are
// written to codec-named subdirectories, one artifact per source output
// name, so output names sharing a run never contaminate each other.
type FanOut struct {
	Docker  *docker.Client
	OutRoot string
}

// Preflight verifies codec prerequisites before any invocation is attempted.
// Today only the compact-binary-index codec has one: its companion runtime
// (converter script plus a Java runtime) must be present in the image.
func (f *FanOut) Preflight(ctx context.Context, methods []Method) error {
	for _, m := range methods {
		if m != HDT {
			continue
		}
		check := fmt.Sprintf(
			"test -x %s && command -v java >/dev/null 2>&1",
			docker.Quote(rdf2hdtScript),
		)
		if res := f.Docker.Shell(ctx, nil, check); res.ExitCode != 0 {
			return fmt.Errorf("rdf2hdt script or java runtime not found in image %s", f.Docker.Image)
		}
	}
	return nil
}

// Run fans the artifact at sourcePath out to the requested methods. An empty
// sourcePath records every requested codec as failed with the sentinel exit
// code without invoking anything. The boolean reports aggregate success.
func (f *FanOut) Run(ctx context.Context, sourcePath string, methods []Method) (map[Method]Result, bool, error) {
	results := make(map[Method]Result, len(methods))

	if sourcePath == "" {
		for _, m := range methods {
			results[m] = Result{Method: m, ExitCode: MissingArtifactExitCode}
		}
		return results, false, nil
	}

	inDir := filepath.Dir(sourcePath)
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	containerIn := docker.ContainerPath(docker.DataIn, base)

	ok := true
	for _, m := range methods {
		outName := outputName(m, base, stem)
		hostOut := filepath.Join(f.OutRoot, string(m), outName)
		if err := os.MkdirAll(filepath.Dir(hostOut), 0o755); err != nil {
			return results, false, fmt.Errorf("create codec output dir: %w", err)
		}
		containerOut := docker.ContainerPath(docker.DataOut, string(m), outName)

		res := f.Docker.Shell(ctx, []docker.Mount{
			{Host: inDir, Container: docker.DataIn, ReadOnly: true},
			{Host: f.OutRoot, Container: docker.DataOut},
		}, codecCommand(m, containerIn, containerOut))

		result := Result{
			Method:     m,
			ExitCode:   res.ExitCode,
			Wall:       res.Wall,
			User:       res.User,
			Sys:        res.Sys,
			MaxRSSKB:   res.MaxRSSKB,
			HasRusage:  res.HasRusage,
			Measured:   true,
			OutputPath: hostOut,
			OutputSize: rdf.FileSize(hostOut),
		}
		results[m] = result
		if res.ExitCode != 0 {
			ok = false
		}
	}
	return results, ok, nil
}

// outputName derives the codec artifact name from the source artifact.
func outputName(m Method, base, stem string) string {
	switch m {
	case Gzip:
		return base + ".gz"
	case Brotli:
		return base + ".br"
	default:
		return stem + ".hdt"
	}
}

// codecCommand builds the bash command line executed inside the image.
func codecCommand(m Method, in, out string) string {
	switch m {
	case Gzip:
		return fmt.Sprintf("gzip -c %s > %s", docker.Quote(in), docker.Quote(out))
	case Brotli:
		return fmt.Sprintf("brotli -q 7 -c %s > %s", docker.Quote(in), docker.Quote(out))
	default:
		return strings.Join([]string{
			"set -euo pipefail",
			fmt.Sprintf("cd %s", docker.Quote(hdtProjectDir)),
			fmt.Sprintf("bash %s %s %s", docker.Quote(rdf2hdtScript), docker.Quote(in), docker.Quote(out)),
		}, "; ")
	}
}

// DecompressCommand builds the inverse transform for one compressed input.
func DecompressCommand(m Method, in, out string) string {
	switch m {
	case Gzip:
		return fmt.Sprintf("gzip -dc %s > %s", docker.Quote(in), docker.Quote(out))
	case Brotli:
		return fmt.Sprintf("brotli -d -c %s > %s", docker.Quote(in), docker.Quote(out))
	default:
		return strings.Join([]string{
			"set -euo pipefail",
			fmt.Sprintf("cd %s", docker.Quote(hdtProjectDir)),
			fmt.Sprintf("bash %s %s %s", docker.Quote(hdt2rdfScript), docker.Quote(in), docker.Quote(out)),
		}, "; ")
	}
}

// DetectCompressedFormat classifies a compressed input by extension.
func DetectCompressedFormat(path string) (Method, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip, nil
	case strings.HasSuffix(path, ".br"):
		return Brotli, nil
	case strings.HasSuffix(path, ".hdt"):
		return HDT, nil
	}
	return "", fmt.Errorf("compressed input must end with .gz, .br, or .hdt: %s", path)
}

// DecompressedName derives the default output name for a compressed input.
func DecompressedName(path string, m Method) string {
	base := filepath.Base(path)
	switch m {
	case Gzip:
		if strings.HasSuffix(base, ".nq.gz") || strings.HasSuffix(base, ".nt.gz") {
			return strings.TrimSuffix(base, ".gz")
		}
	case Brotli:
		if strings.HasSuffix(base, ".nq.br") || strings.HasSuffix(base, ".nt.br") {
			return strings.TrimSuffix(base, ".br")
		}
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + ".nt"
}

// LedgerColumns maps codec results onto their ledger column families.
func LedgerColumns(results map[Method]Result) map[string]string {
	cols := map[string]string{}
	for m, res := range results {
		suffix := string(m)
		cols["exit_code_"+suffix] = fmt.Sprintf("%d", res.ExitCode)
		cols[suffix+"_size_bytes"] = fmt.Sprintf("%d", res.OutputSize)
		cols["wall_seconds_"+suffix] = runner.Seconds(res.Wall, res.Measured)
		cols["user_seconds_"+suffix] = runner.Seconds(res.User, res.Measured && res.HasRusage)
		cols["sys_seconds_"+suffix] = runner.Seconds(res.Sys, res.Measured && res.HasRusage)
		if res.Measured && res.HasRusage {
			cols["max_rss_kb_"+suffix] = fmt.Sprintf("%d", res.MaxRSSKB)
		} else {
			cols["max_rss_kb_"+suffix] = "null"
		}
	}
	return cols
}

// DefaultColumns resets every codec column family to its unset default so a
// rerun with fewer methods never inherits a stale measurement.
func DefaultColumns() map[string]string {
	cols := map[string]string{}
	for _, m := range AllMethods {
		suffix := string(m)
		cols["exit_code_"+suffix] = "0"
		cols[suffix+"_size_bytes"] = "0"
		cols["wall_seconds_"+suffix] = "null"
		cols["user_seconds_"+suffix] = "null"
		cols["sys_seconds_"+suffix] = "null"
		cols["max_rss_kb_"+suffix] = "null"
	}
	return cols
}
