// Package config provides configuration models and helpers for pipeline runs.
//
// This file adds a lightweight linter/validator for Config values. It performs
// static checks over a decoded Config and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "compression", "image_version").
// Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a Config.
//
// It does not mutate the config. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func Validate(cfg Config) []Issue {
	var issues []Issue

	switch cfg.Mode {
	case ModeFull:
		if strings.TrimSpace(cfg.Input) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "input",
				Message:  "input is required in full mode",
			})
		}
	case ModeCompress:
		if strings.TrimSpace(cfg.RDFInput) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "rdf_input",
				Message:  "rdf_input is required in compress mode",
			})
		}
	case ModeDecompress:
		if strings.TrimSpace(cfg.CompressedInput) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "compressed_input",
				Message:  "compressed_input is required in decompress mode",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "mode",
			Message:  fmt.Sprintf("unknown mode %q; use full, compress, or decompress", cfg.Mode),
		})
	}

	if cfg.Build && cfg.NoBuild {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "build",
			Message:  "build and no_build are mutually exclusive",
		})
	}

	if cfg.ImageVersion != "" && strings.Contains(cfg.Image, ":") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "image_version",
			Message:  "do not include a tag in image when image_version is set",
		})
	}

	for _, p := range []struct{ path, value string }{
		{"out_dir", cfg.OutDir},
		{"tsv_dir", cfg.TSVDir},
		{"metrics_dir", cfg.MetricsDir},
	} {
		if strings.TrimSpace(p.value) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p.path,
				Message:  "directory path must not be empty",
			})
		}
	}

	if strings.TrimSpace(cfg.OutName) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "out_name",
			Message:  "out_name is empty; outputs will fall back to \"rdf\"",
		})
	}

	return issues
}

// HasError reports whether any issue in the slice is an error.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
