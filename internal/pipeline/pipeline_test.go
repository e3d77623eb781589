package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"rdfizer/internal/config"
	"rdfizer/internal/docker"
	"rdfizer/internal/ledger"
	"rdfizer/internal/runner"
)

const sampleVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\n" +
	"1\t100\t.\tA\tT\t50\tPASS\tDP=9\tGT\t0|1\n" +
	"1\t200\t.\tG\tC\t60\tPASS\tDP=8\tGT\t1|1\n"

const rulesTemplate = `<#Records>  csvw:url "/data/tsv/records.tsv" .
<#Headers>  csvw:url "/data/tsv/header_lines.tsv" .
<#Metadata> csvw:url "/data/tsv/file_metadata.tsv" .
`

// scriptedRunner drives the pipeline without a container runtime. Every
// command is recorded; the hook decides the result and may simulate side
// effects on mounted host paths.
type scriptedRunner struct {
	commands []runner.Command
	hook     func(cmd runner.Command) runner.Result
}

func (s *scriptedRunner) Run(_ context.Context, cmd runner.Command) runner.Result {
	s.commands = append(s.commands, cmd)
	if s.hook != nil {
		return s.hook(cmd)
	}
	return runner.Result{
		Wall: time.Second, User: 700 * time.Millisecond, Sys: 30 * time.Millisecond,
		MaxRSSKB: 2048, HasRusage: true,
	}
}

// isEngine reports whether a recorded command is the mapping-engine run.
func isEngine(cmd runner.Command) bool {
	return strings.Contains(strings.Join(cmd.Argv, " "), "java -jar")
}

// shellOf returns the bash command line of a containerized shell invocation,
// or "" for non-shell commands.
func shellOf(cmd runner.Command) string {
	for i, a := range cmd.Argv {
		if a == "-lc" && i+1 < len(cmd.Argv) {
			return cmd.Argv[i+1]
		}
	}
	return ""
}

type testEnv struct {
	p      *Pipeline
	runner *scriptedRunner
	input  string
	outDir string
}

// engineWritesFragments is the default engine simulation: two extension-less
// fragments appear under the per-name output directory, as the real engine
// produces them.
func engineWritesFragments(t *testing.T, outDir, prefix string) {
	t.Helper()
	dir := filepath.Join(outDir, prefix)
	if err := os.WriteFile(filepath.Join(dir, "part-000"), []byte("<a> <p> <o> .\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part-001"), []byte("<b> <p> <o> .\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()

	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(inputDir, "sample.vcf")
	if err := os.WriteFile(input, []byte(sampleVCF), 0o644); err != nil {
		t.Fatal(err)
	}
	rulesPath := filepath.Join(root, "rules.ttl")
	if err := os.WriteFile(rulesPath, []byte(rulesTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Input = input
	cfg.Rules = rulesPath
	cfg.OutDir = filepath.Join(root, "out")
	cfg.TSVDir = filepath.Join(root, "tsv")
	cfg.MetricsDir = filepath.Join(root, "metrics")
	cfg.Compression = "gzip,brotli"
	cfg.Sudo = false
	cfg.RunAsUser = false
	if mutate != nil {
		mutate(&cfg)
	}

	s := &scriptedRunner{}
	env := &testEnv{
		runner: s,
		input:  input,
		outDir: cfg.OutDir,
	}
	env.p = &Pipeline{
		Cfg:       cfg,
		Docker:    &docker.Client{Runner: s, Image: "vcf-rdfizer:latest"},
		Ledger:    ledger.New(filepath.Join(cfg.MetricsDir, "metrics.csv")),
		RunID:     "run1",
		Timestamp: "2026-08-30T10:00:00Z",
		LogPath:   filepath.Join(cfg.MetricsDir, "wrapper.log"),
	}
	// Default script: the engine drops fragments, everything exits cleanly.
	s.hook = func(cmd runner.Command) runner.Result {
		if isEngine(cmd) {
			engineWritesFragments(t, cfg.OutDir, "sample")
		}
		return runner.Result{
			Wall: time.Second, User: 700 * time.Millisecond, Sys: 30 * time.Millisecond,
			MaxRSSKB: 2048, HasRusage: true,
		}
	}
	return env
}

/*
TestRunFull_Succeeds drives the whole pipeline for one file against a
scripted runner and checks the artifacts every stage leaves behind: the
resolved per-file rules, the merged artifact handling, the metrics row as
the union of all stage writes, and the compression measurement files.
*/
func TestRunFull_Succeeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	if err := env.p.RunFull(context.Background()); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	// Resolved rules carry the concrete per-file table locations.
	genRules, err := os.ReadFile(filepath.Join(env.p.Cfg.MetricsDir, "_generated_rules", "sample.rules.ttl"))
	if err != nil {
		t.Fatalf("generated rules missing: %v", err)
	}
	if !strings.Contains(string(genRules), "/data/tsv/sample.records.tsv") {
		t.Fatalf("generated rules not resolved:\n%s", genRules)
	}

	// One engine run plus one shell per requested codec.
	var engines, shells int
	for _, cmd := range env.runner.commands {
		if isEngine(cmd) {
			engines++
		} else if shellOf(cmd) != "" {
			shells++
		}
	}
	if engines != 1 || shells != 2 {
		t.Fatalf("engine/shell invocations = %d/%d; want 1/2", engines, shells)
	}

	row, found, err := env.p.Ledger.Row("run1", "sample")
	if err != nil || !found {
		t.Fatalf("ledger row: found=%v err=%v", found, err)
	}
	if row["exit_code_java"] != "0" || row["wall_seconds_java"] != "1.000000" {
		t.Fatalf("conversion columns = %+v", row)
	}
	if row["max_rss_kb_java"] != "2048" {
		t.Fatalf("max_rss_kb_java = %q", row["max_rss_kb_java"])
	}
	if row["output_triples"] != "2" {
		t.Fatalf("output_triples = %q; want 2", row["output_triples"])
	}
	if got := row["input_vcf_size_bytes"]; got != strconv.Itoa(len(sampleVCF)) {
		t.Fatalf("input_vcf_size_bytes = %q", got)
	}
	if row["compression_methods"] != "gzip|brotli" {
		t.Fatalf("compression_methods = %q", row["compression_methods"])
	}
	if row["exit_code_gzip"] != "0" || row["exit_code_brotli"] != "0" {
		t.Fatalf("codec exits = %+v", row)
	}
	// The codec that was never requested keeps its reset defaults.
	if row["exit_code_hdt"] != "0" || row["wall_seconds_hdt"] != "null" {
		t.Fatalf("hdt defaults = %+v", row)
	}
	if row["timestamp"] != "2026-08-30T10:00:00Z" {
		t.Fatalf("timestamp = %q", row["timestamp"])
	}

	// Cleanup policy: tables and the merged artifact are gone by default.
	if _, err := os.Stat(filepath.Join(env.p.Cfg.TSVDir)); !os.IsNotExist(err) {
		t.Fatalf("tsv dir should be removed after the run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.outDir, "sample", "sample.nq")); !os.IsNotExist(err) {
		t.Fatal("merged artifact should be removed when codecs ran")
	}

	// Measurement artifacts.
	if _, err := os.Stat(filepath.Join(env.p.Cfg.MetricsDir, "compression-metrics-sample-run1.json")); err != nil {
		t.Fatalf("compression report missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.p.Cfg.MetricsDir, "compression-time-gzip-sample-run1.txt")); err != nil {
		t.Fatalf("gzip timing log missing: %v", err)
	}
}

/*
TestRunFull_KeepFlags retains the intermediate tables and the merged
artifact when asked to.
*/
func TestRunFull_KeepFlags(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.KeepTSV = true
		cfg.KeepRDF = true
	})

	if err := env.p.RunFull(context.Background()); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	if _, err := os.Stat(filepath.Join(env.p.Cfg.TSVDir, "sample.records.tsv")); err != nil {
		t.Fatalf("records table missing despite keep_tsv: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.outDir, "sample", "sample.nq")); err != nil {
		t.Fatalf("merged artifact missing despite keep_rdf: %v", err)
	}
}

/*
TestRunFull_ZeroCodecs runs with compression disabled: the descriptor row is
still written with every codec column at its default, the merged artifact is
retained, and no codec container runs.
*/
func TestRunFull_ZeroCodecs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Compression = "none"
	})

	if err := env.p.RunFull(context.Background()); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	for _, cmd := range env.runner.commands {
		if shellOf(cmd) != "" {
			t.Fatalf("codec container ran with compression disabled: %v", cmd.Argv)
		}
	}

	row, found, err := env.p.Ledger.Row("run1", "sample")
	if err != nil || !found {
		t.Fatalf("ledger row: found=%v err=%v", found, err)
	}
	if row["compression_methods"] != "none" {
		t.Fatalf("compression_methods = %q", row["compression_methods"])
	}
	if row["exit_code_gzip"] != "0" || row["wall_seconds_gzip"] != "null" || row["gzip_size_bytes"] != "0" {
		t.Fatalf("codec defaults = %+v", row)
	}
	if row["combined_nq_size_bytes"] == "0" {
		t.Fatal("combined artifact size missing")
	}

	if _, err := os.Stat(filepath.Join(env.outDir, "sample", "sample.nq")); err != nil {
		t.Fatalf("merged artifact must be retained without codecs: %v", err)
	}
}

/*
TestRunFull_MapFailure fails the engine and checks the exit is recorded in
the metrics row, later stages never run, and the engine's status propagates
as the aggregate exit code.
*/
func TestRunFull_MapFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.runner.hook = func(cmd runner.Command) runner.Result {
		if isEngine(cmd) {
			return runner.Result{ExitCode: 3, Wall: time.Second, HasRusage: true}
		}
		return runner.Result{}
	}

	err := env.p.RunFull(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := ExitCode(err); got != 3 {
		t.Fatalf("ExitCode = %d; want 3", got)
	}

	row, found, ferr := env.p.Ledger.Row("run1", "sample")
	if ferr != nil || !found {
		t.Fatalf("ledger row: found=%v err=%v", found, ferr)
	}
	if row["exit_code_java"] != "3" {
		t.Fatalf("exit_code_java = %q", row["exit_code_java"])
	}
	if row["output_triples"] != "" || row["compression_methods"] != "" {
		t.Fatalf("later stages wrote despite failure: %+v", row)
	}

	for _, cmd := range env.runner.commands {
		if shellOf(cmd) != "" {
			t.Fatalf("codec ran after engine failure: %v", cmd.Argv)
		}
	}
}

/*
TestRunFull_StaleOutputRemoved seeds a leftover artifact from a previous run
under the same output name and checks it cannot leak into the new run's
results.
*/
func TestRunFull_StaleOutputRemoved(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.KeepRDF = true
	})

	staleDir := filepath.Join(env.outDir, "sample")
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(staleDir, "leftover.nq")
	if err := os.WriteFile(stale, []byte("<stale> <p> <o> .\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := env.p.RunFull(context.Background()); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale artifact survived the rerun")
	}
	merged, err := os.ReadFile(filepath.Join(staleDir, "sample.nq"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(merged), "<stale>") {
		t.Fatal("stale statements leaked into the merged artifact")
	}

	row, _, _ := env.p.Ledger.Row("run1", "sample")
	if row["output_triples"] != "2" {
		t.Fatalf("output_triples = %q; want fresh count", row["output_triples"])
	}
}

/*
TestRunFull_PreflightFailure requests the codec with a companion runtime and
fails the probe: the run stops with a distinct exit before parsing anything.
*/
func TestRunFull_PreflightFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Compression = "hdt"
	})
	env.runner.hook = func(cmd runner.Command) runner.Result {
		if strings.Contains(shellOf(cmd), "rdf2hdt") {
			return runner.Result{ExitCode: 1}
		}
		return runner.Result{}
	}

	err := env.p.RunFull(context.Background())
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	if got := ExitCode(err); got != 2 {
		t.Fatalf("ExitCode = %d; want 2", got)
	}

	for _, cmd := range env.runner.commands {
		if isEngine(cmd) {
			t.Fatal("engine ran despite failed preflight")
		}
	}
	if _, found, _ := env.p.Ledger.Row("run1", "sample"); found {
		t.Fatal("ledger row written despite failed preflight")
	}
}

/*
TestRunCompress fans an existing artifact out without the conversion stages
and records the run in the ledger and measurement artifacts.
*/
func TestRunCompress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeCompress
		cfg.Compression = "gzip"
	})

	source := filepath.Join(t.TempDir(), "existing.nq")
	if err := os.WriteFile(source, []byte("<a> <p> <o> .\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.p.Cfg.RDFInput = source

	if err := env.p.RunCompress(context.Background()); err != nil {
		t.Fatalf("RunCompress: %v", err)
	}

	row, found, err := env.p.Ledger.Row("run1", "existing")
	if err != nil || !found {
		t.Fatalf("ledger row: found=%v err=%v", found, err)
	}
	if row["compression_methods"] != "gzip" || row["exit_code_gzip"] != "0" {
		t.Fatalf("codec columns = %+v", row)
	}
	if row["combined_nq_size_bytes"] != "14" {
		t.Fatalf("combined_nq_size_bytes = %q", row["combined_nq_size_bytes"])
	}
	if row["exit_code_java"] != "" {
		t.Fatalf("conversion columns must stay unset in compress mode: %+v", row)
	}

	if _, err := os.Stat(filepath.Join(env.p.Cfg.MetricsDir, "compression-metrics-existing-run1.json")); err != nil {
		t.Fatalf("report missing: %v", err)
	}
}

func TestRunCompress_RejectsBadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeCompress
	})

	env.p.Cfg.RDFInput = filepath.Join(t.TempDir(), "absent.nq")
	if err := env.p.RunCompress(context.Background()); ExitCode(err) != 2 {
		t.Fatalf("missing input: err=%v", err)
	}

	wrong := filepath.Join(t.TempDir(), "x.ttl")
	if err := os.WriteFile(wrong, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.p.Cfg.RDFInput = wrong
	if err := env.p.RunCompress(context.Background()); ExitCode(err) != 2 {
		t.Fatalf("wrong extension: err=%v", err)
	}
}

/*
TestRunDecompress restores a compressed artifact through the container and
derives the default output location from the input name.
*/
func TestRunDecompress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeDecompress
	})

	source := filepath.Join(t.TempDir(), "sample.nq.gz")
	if err := os.WriteFile(source, []byte("zz"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.p.Cfg.CompressedInput = source

	if err := env.p.RunDecompress(context.Background()); err != nil {
		t.Fatalf("RunDecompress: %v", err)
	}

	var sh string
	for _, cmd := range env.runner.commands {
		if s := shellOf(cmd); s != "" {
			sh = s
		}
	}
	if !strings.HasPrefix(sh, "gzip -dc") {
		t.Fatalf("decompress command = %q", sh)
	}
	if !strings.Contains(sh, "/data/out/sample.nq") {
		t.Fatalf("derived output name missing: %q", sh)
	}

	// The default output parent is created eagerly.
	if _, err := os.Stat(filepath.Join(env.outDir, "decompressed")); err != nil {
		t.Fatalf("default output dir missing: %v", err)
	}
}

func TestRunDecompress_Failure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Mode = config.ModeDecompress
	})
	env.runner.hook = func(cmd runner.Command) runner.Result {
		return runner.Result{ExitCode: 5}
	}

	source := filepath.Join(t.TempDir(), "sample.nq.br")
	if err := os.WriteFile(source, []byte("zz"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.p.Cfg.CompressedInput = source

	err := env.p.RunDecompress(context.Background())
	if got := ExitCode(err); got != 5 {
		t.Fatalf("ExitCode = %d (err=%v); want 5", got, err)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(os.ErrNotExist); got != 1 {
		t.Fatalf("plain error = %d; want 1", got)
	}
	wrapped := &ExitError{Code: 7, Err: os.ErrNotExist}
	if got := ExitCode(wrapped); got != 7 {
		t.Fatalf("exit error = %d; want 7", got)
	}
}
