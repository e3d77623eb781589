package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"rdfizer/internal/config"
	"rdfizer/internal/docker"
	"rdfizer/internal/estimate"
	"rdfizer/internal/ledger"
	"rdfizer/internal/metrics"
	"rdfizer/internal/metrics/prompush"
	"rdfizer/internal/pipeline"
	"rdfizer/internal/runner"
	"rdfizer/internal/vcf"
)

// main is the entry point for the rdfizer binary. It resolves the run
// configuration from an optional JSON file plus flag overrides, prepares the
// container image and the per-run command log, and dispatches the selected
// mode. Exit status: 0 success, 2 for input or configuration problems, the
// failing stage's code otherwise.
func main() {
	defaults := config.Default()

	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	cfg := defaults
	flag.StringVar(&cfg.Mode, "mode", defaults.Mode, "run mode: full, compress, or decompress")
	flag.StringVar(&cfg.Input, "input", "", "VCF file or directory of VCF files (full mode)")
	flag.StringVar(&cfg.RDFInput, "rdf", "", ".nt/.nq file to compress (compress mode)")
	flag.StringVar(&cfg.CompressedInput, "compressed-input", "", ".gz/.br/.hdt file to expand (decompress mode)")
	flag.StringVar(&cfg.DecompressOut, "decompress-out", "", "output path for the expanded RDF file")
	flag.StringVar(&cfg.Rules, "rules", "rules/default_rules.ttl", "mapping specification (.ttl)")
	flag.StringVar(&cfg.OutDir, "out", defaults.OutDir, "output directory for RDF artifacts")
	flag.StringVar(&cfg.TSVDir, "tsv", defaults.TSVDir, "directory for intermediate tables")
	flag.StringVar(&cfg.MetricsDir, "metrics", defaults.MetricsDir, "directory for metrics and run logs")
	flag.StringVar(&cfg.OutName, "out-name", defaults.OutName, "fallback output basename")
	flag.StringVar(&cfg.Image, "image", defaults.Image, "container image (repo or repo:tag)")
	flag.StringVar(&cfg.ImageVersion, "image-version", "", "image tag to pull; mutually exclusive with a tag in -image")
	flag.BoolVar(&cfg.Build, "build", false, "force a local image build")
	flag.BoolVar(&cfg.NoBuild, "no-build", false, "fail when the image is missing instead of building")
	flag.StringVar(&cfg.Compression, "compression", defaults.Compression, "codecs, comma separated: gzip,brotli,hdt, or none")
	flag.BoolVar(&cfg.KeepTSV, "keep-tsv", false, "retain intermediate tables after conversion")
	flag.BoolVar(&cfg.KeepRDF, "keep-rdf", false, "retain the merged RDF artifact after compression")
	flag.BoolVar(&cfg.EstimateSize, "estimate-size", false, "print a storage estimate before converting")
	flag.BoolVar(&cfg.Sudo, "sudo", defaults.Sudo, "prefix container commands with sudo")
	flag.BoolVar(&cfg.RunAsUser, "run-as-user", defaults.RunAsUser, "run containers as the invoking uid:gid")

	flag.StringVar(&cfgPath, "config", "", "run config JSON path (flags override file values)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (e.g. pushgateway, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fatalf(2, "%v", err)
		}
		cfg = override(loaded, cfg)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		fatalf(2, "configuration is invalid")
	}
	if validate {
		log.Printf("configuration is valid")
		os.Exit(0)
	}

	// Decide metrics backend: flag -> env -> default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("vcf_rdfizer", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			if *verbose {
				log.Printf("metrics: url=%v backend=%v", gwURL, backendName)
			}
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}
	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	runID := time.Now().Format("20060102T150405")
	timestamp := time.Now().Format(time.RFC3339)

	if cfg.Mode == config.ModeFull && cfg.EstimateSize {
		if err := printEstimate(cfg); err != nil {
			fatalf(2, "%v", err)
		}
	}

	cmdLog, err := runner.OpenCommandLog(
		filepath.Join(cfg.MetricsDir, ".wrapper_logs", "wrapper-"+runID+".log"))
	if err != nil {
		fatalf(1, "%v", err)
	}
	defer cmdLog.Close()

	imageRef, versionRequested, err := docker.ResolveImageRef(cfg.Image, cfg.ImageVersion)
	if err != nil {
		fatalf(2, "%v", err)
	}
	client := &docker.Client{
		Runner: &runner.Exec{Log: cmdLog},
		Image:  imageRef,
		Sudo:   cfg.Sudo,
		AsUser: cfg.RunAsUser,
	}
	if err := client.CheckDaemon(ctx); err != nil {
		fatalf(1, "%v", err)
	}
	if err := client.EnsureImage(ctx, docker.EnsureOptions{
		Build:            cfg.Build,
		NoBuild:          cfg.NoBuild,
		VersionRequested: versionRequested,
		RepoRoot:         ".",
	}); err != nil {
		fatalf(1, "%v", err)
	}

	p := &pipeline.Pipeline{
		Cfg:       cfg,
		Docker:    client,
		Ledger:    ledger.New(filepath.Join(cfg.MetricsDir, "metrics.csv")),
		RunID:     runID,
		Timestamp: timestamp,
		LogPath:   cmdLog.Path(),
	}

	start := time.Now()
	switch cfg.Mode {
	case config.ModeFull:
		err = p.RunFull(ctx)
	case config.ModeCompress:
		err = p.RunCompress(ctx)
	case config.ModeDecompress:
		err = p.RunDecompress(ctx)
	}
	if err != nil {
		code := pipeline.ExitCode(err)
		log.Printf("%v", err)
		os.Exit(code)
	}
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// override applies every flag the user set explicitly on top of the file
// configuration, so precedence is flags over file over defaults.
func override(base, flagged config.Config) config.Config {
	cfg := base
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = flagged.Mode
		case "input":
			cfg.Input = flagged.Input
		case "rdf":
			cfg.RDFInput = flagged.RDFInput
		case "compressed-input":
			cfg.CompressedInput = flagged.CompressedInput
		case "decompress-out":
			cfg.DecompressOut = flagged.DecompressOut
		case "rules":
			cfg.Rules = flagged.Rules
		case "out":
			cfg.OutDir = flagged.OutDir
		case "tsv":
			cfg.TSVDir = flagged.TSVDir
		case "metrics":
			cfg.MetricsDir = flagged.MetricsDir
		case "out-name":
			cfg.OutName = flagged.OutName
		case "image":
			cfg.Image = flagged.Image
		case "image-version":
			cfg.ImageVersion = flagged.ImageVersion
		case "build":
			cfg.Build = flagged.Build
		case "no-build":
			cfg.NoBuild = flagged.NoBuild
		case "compression":
			cfg.Compression = flagged.Compression
		case "keep-tsv":
			cfg.KeepTSV = flagged.KeepTSV
		case "keep-rdf":
			cfg.KeepRDF = flagged.KeepRDF
		case "estimate-size":
			cfg.EstimateSize = flagged.EstimateSize
		case "sudo":
			cfg.Sudo = flagged.Sudo
		case "run-as-user":
			cfg.RunAsUser = flagged.RunAsUser
		}
	})
	if cfg.Rules == "" {
		cfg.Rules = flagged.Rules
	}
	return cfg
}

// printEstimate resolves the inputs early just to size them; conversion
// re-resolves so a file appearing in between is still picked up by the run.
func printEstimate(cfg config.Config) error {
	files, err := vcf.ResolveInput(cfg.Input)
	if err != nil {
		return err
	}
	est, err := estimate.ForFiles(files, cfg.OutDir)
	if err != nil {
		return err
	}
	for _, line := range est.Summary() {
		fmt.Println(line)
	}
	if est.ExceedsFreeDisk() {
		log.Printf("warning: upper-bound RDF estimate exceeds free disk space at %s", est.DiskAnchor)
	}
	return nil
}

func fatalf(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(code)
}
