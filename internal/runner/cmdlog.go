package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommandLog is an append-only per-run log capturing every external command
// line, its combined output, and an [exit N] marker. The CLI points users at
// it whenever an external stage fails.
type CommandLog struct {
	path string
	f    *os.File
}

// OpenCommandLog opens (creating parents as needed) the command log at path
// in append mode.
func OpenCommandLog(path string) (*CommandLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create command log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open command log: %w", err)
	}
	return &CommandLog{path: path, f: f}, nil
}

// Path returns the log file location for diagnostics.
func (l *CommandLog) Path() string { return l.path }

// Begin records the command line about to run.
func (l *CommandLog) Begin(cmd Command) {
	ts := time.Now().Format("2006-01-02T15:04:05")
	fmt.Fprintf(l.f, "\n[%s] $ %s\n", ts, renderCommand(cmd.Argv))
	if cmd.Dir != "" {
		fmt.Fprintf(l.f, "cwd=%s\n", cmd.Dir)
	}
}

// End records the exit code of the command most recently begun.
func (l *CommandLog) End(exitCode int) {
	fmt.Fprintf(l.f, "[exit %d]\n", exitCode)
}

// Output returns the writer external command output is tee'd into.
func (l *CommandLog) Output() io.Writer { return l.f }

// Close closes the underlying file.
func (l *CommandLog) Close() error { return l.f.Close() }

// renderCommand shell-quotes argv for the log so commands can be replayed.
func renderCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}

// formatSeconds matches the ledger's fixed six-decimal format.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}
