// Package runner abstracts external tool invocation behind a single
// capability: runnable with arguments, timed, returning an exit code. The
// orchestrator and the compression fan-out depend only on the Runner
// interface, so their state machines are testable against a deterministic
// fake implementation.
package runner

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// ExitNotFound is the shell convention for "command not found". The exec
// implementation maps exec.ErrNotFound onto it so callers can produce a
// clearer diagnostic than a generic failure.
const ExitNotFound = 127

// Command describes one external invocation.
type Command struct {
	// Argv is the full argument vector; Argv[0] is the executable.
	Argv []string

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env lists extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string
}

// Result carries the measurements of one invocation. User, Sys, and MaxRSSKB
// are populated only when HasRusage is true; otherwise only wall time is
// meaningful (the coarse fallback).
type Result struct {
	ExitCode  int
	Wall      time.Duration
	User      time.Duration
	Sys       time.Duration
	MaxRSSKB  int64
	HasRusage bool

	// NotFound marks an invocation whose executable could not be located.
	NotFound bool
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// Exec is the production Runner backed by os/exec. When Log is non-nil every
// command line, its combined output, and its exit code are appended to the
// per-run command log.
type Exec struct {
	Log *CommandLog
}

// Run executes cmd and measures it. Resource usage comes from the child's
// rusage when the process ran; when it never started (for example the
// executable is missing) the result degrades to wall-clock-only with the
// conventional not-found exit code.
func (e *Exec) Run(ctx context.Context, cmd Command) Result {
	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if e.Log != nil {
		e.Log.Begin(cmd)
		c.Stdout = e.Log.Output()
		c.Stderr = e.Log.Output()
	}

	start := time.Now()
	err := c.Run()
	res := Result{Wall: time.Since(start)}

	if ps := c.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
		res.User = ps.UserTime()
		res.Sys = ps.SystemTime()
		if ru, ok := ps.SysUsage().(*syscall.Rusage); ok && ru != nil {
			res.MaxRSSKB = ru.Maxrss
			res.HasRusage = true
		}
	} else if err != nil {
		res.ExitCode = 1
		if errors.Is(err, exec.ErrNotFound) {
			res.ExitCode = ExitNotFound
			res.NotFound = true
		}
	}

	if e.Log != nil {
		e.Log.End(res.ExitCode)
	}
	return res
}

// Seconds renders a duration as fractional seconds for the metrics ledger,
// or the ledger's null sentinel when the measurement is unavailable.
func Seconds(d time.Duration, ok bool) string {
	if !ok {
		return "null"
	}
	return formatSeconds(d)
}
