// Package config defines the canonical, JSON-serializable configuration model
// for the rdfizer pipeline. It is intentionally small, explicit, and
// dependency-free so that a run can be described in a file on disk (or built
// from CLI flags) and passed through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Field names in Go mirror the JSON structure used in run
//     configuration files.
//  3. Minimalism: No third-party config libraries; decoding is performed by
//     the standard library.
//
// Example (trimmed):
//
//	{
//	  "mode":        "full",
//	  "input":       "./vcf_files",
//	  "rules":       "./rules/default_rules.ttl",
//	  "out_dir":     "./out",
//	  "compression": "gzip,brotli,hdt"
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Run modes. Full drives the whole VCF -> TSV -> RDF -> compression pipeline;
// the other two expose the compression fan-out and its inverse standalone.
const (
	ModeFull       = "full"
	ModeCompress   = "compress"
	ModeDecompress = "decompress"
)

// Config describes one pipeline invocation. It is an explicit value object:
// the orchestrator reads everything from here and never consults the process
// environment, so runs are reproducible from the serialized form alone.
type Config struct {
	// Mode selects the run mode: "full", "compress", or "decompress".
	Mode string `json:"mode"`

	// Input is the VCF file or directory of VCF files (mode "full").
	Input string `json:"input"`

	// RDFInput is the .nt/.nq file to compress (mode "compress").
	RDFInput string `json:"rdf_input"`

	// CompressedInput is the .gz/.br/.hdt file to expand (mode "decompress").
	CompressedInput string `json:"compressed_input"`

	// DecompressOut is the target path for the expanded RDF file. When empty
	// a name is derived from CompressedInput under OutDir.
	DecompressOut string `json:"decompress_out"`

	// Rules is the mapping specification (.ttl) whose placeholder table
	// locations are rewritten per input file.
	Rules string `json:"rules"`

	// OutDir receives RDF artifacts and codec subdirectories.
	OutDir string `json:"out_dir"`

	// TSVDir receives the intermediate tables produced by the variant parser.
	TSVDir string `json:"tsv_dir"`

	// MetricsDir receives metrics.csv, per-run command logs, generated rules,
	// and per-codec measurement artifacts.
	MetricsDir string `json:"metrics_dir"`

	// OutName is the fallback output basename when one cannot be derived
	// from the input file name.
	OutName string `json:"out_name"`

	// Image is the container image repo (no tag) or a full image reference.
	Image string `json:"image"`

	// ImageVersion pins the image tag. Mutually exclusive with a tag embedded
	// in Image.
	ImageVersion string `json:"image_version"`

	// Build forces a local image build; NoBuild fails when the image is
	// missing instead of building it. Mutually exclusive.
	Build   bool `json:"build"`
	NoBuild bool `json:"no_build"`

	// Compression lists requested codecs, comma separated: gzip, brotli,
	// hdt, or the single word "none".
	Compression string `json:"compression"`

	// KeepTSV retains intermediate tables after a successful conversion.
	KeepTSV bool `json:"keep_tsv"`

	// KeepRDF retains the merged RDF artifact after compression.
	KeepRDF bool `json:"keep_rdf"`

	// EstimateSize prints a rough storage estimate before converting.
	EstimateSize bool `json:"estimate_size"`

	// Sudo prefixes container commands with sudo.
	Sudo bool `json:"sudo"`

	// RunAsUser passes the invoking uid:gid to the container runtime so
	// artifacts on mounted volumes stay owned by the caller.
	RunAsUser bool `json:"run_as_user"`
}

// Default returns the configuration used when neither a config file nor a
// flag supplies a value.
func Default() Config {
	return Config{
		Mode:        ModeFull,
		OutDir:      "./out",
		TSVDir:      "./tsv",
		MetricsDir:  "./run_metrics",
		OutName:     "rdf",
		Image:       "ecrum19/vcf-rdfizer",
		Compression: "gzip,brotli,hdt",
		Sudo:        true,
		RunAsUser:   true,
	}
}

// Load decodes a Config from a JSON file, starting from Default so absent
// keys keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
