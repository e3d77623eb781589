// Package docker builds and runs the container commands that host the
// external collaborators: the mapping engine and the compression codecs.
// The package never talks to a daemon API itself; it shells out through the
// runner capability so every invocation is timed and logged the same way.
package docker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"rdfizer/internal/runner"
)

// Container mount points shared with the image. The mapping specification's
// placeholder table locations live under DataTSV.
const (
	DataIn      = "/data/in"
	DataTSV     = "/data/tsv"
	DataRules   = "/data/rules"
	DataOut     = "/data/out"
	DataMetrics = "/data/metrics"
)

// Mount binds a host directory into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// Client invokes commands inside one resolved image.
type Client struct {
	Runner runner.Runner
	Image  string

	// Sudo prefixes every docker command with sudo.
	Sudo bool

	// AsUser passes the invoking uid:gid so files written to mounts stay
	// owned by the caller.
	AsUser bool
}

// ResolveImageRef applies the tag/version rules: an embedded tag wins and
// forbids a separate version; no version means :latest. The second return
// reports whether an explicit version was requested, which changes how a
// missing image is handled (pull rather than build).
func ResolveImageRef(image, version string) (ref string, versionRequested bool, err error) {
	if strings.Contains(image, ":") {
		if version != "" {
			return "", false, fmt.Errorf("do not include a tag in the image when a version is set")
		}
		return image, false, nil
	}
	if version == "" {
		return image + ":latest", false, nil
	}
	return image + ":" + version, true, nil
}

func (c *Client) docker(args ...string) []string {
	argv := []string{"docker"}
	if c.Sudo {
		argv = []string{"sudo", "docker"}
	}
	return append(argv, args...)
}

func (c *Client) runBase() []string {
	argv := c.docker("run", "--rm")
	if c.AsUser {
		argv = append(argv, "--user", UserSpec())
	}
	return argv
}

// Command assembles the argv for one containerized invocation.
func (c *Client) Command(mounts []Mount, env []string, workdir string, args ...string) runner.Command {
	argv := c.runBase()
	for _, m := range mounts {
		spec := m.Host + ":" + m.Container
		if m.ReadOnly {
			spec += ":ro"
		}
		argv = append(argv, "-v", spec)
	}
	for _, e := range env {
		argv = append(argv, "-e", e)
	}
	if workdir != "" {
		argv = append(argv, "-w", workdir)
	}
	argv = append(argv, c.Image)
	argv = append(argv, args...)
	return runner.Command{Argv: argv}
}

// Run executes a containerized command and returns its measurement.
func (c *Client) Run(ctx context.Context, mounts []Mount, env []string, workdir string, args ...string) runner.Result {
	return c.Runner.Run(ctx, c.Command(mounts, env, workdir, args...))
}

// Shell runs a bash command line inside the container.
func (c *Client) Shell(ctx context.Context, mounts []Mount, command string) runner.Result {
	return c.Run(ctx, mounts, nil, "", "bash", "-lc", command)
}

// CheckDaemon verifies that docker is installed and the daemon responds.
func (c *Client) CheckDaemon(ctx context.Context) error {
	res := c.Runner.Run(ctx, runner.Command{Argv: c.docker("version")})
	if res.NotFound {
		return fmt.Errorf("docker is not installed or not on PATH")
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("docker is not available; is the daemon running? (exit %d)", res.ExitCode)
	}
	return nil
}

// ImageExists reports whether the resolved image is present locally.
func (c *Client) ImageExists(ctx context.Context) bool {
	res := c.Runner.Run(ctx, runner.Command{Argv: c.docker("image", "inspect", c.Image)})
	return res.ExitCode == 0
}

// Pull fetches the resolved image.
func (c *Client) Pull(ctx context.Context) error {
	res := c.Runner.Run(ctx, runner.Command{Argv: c.docker("pull", c.Image)})
	if res.ExitCode != 0 {
		return fmt.Errorf("image %q not found (exit %d)", c.Image, res.ExitCode)
	}
	return nil
}

// Build builds the resolved image from repoRoot.
func (c *Client) Build(ctx context.Context, repoRoot string) error {
	res := c.Runner.Run(ctx, runner.Command{
		Argv: c.docker("build", "-t", c.Image, "."),
		Dir:  repoRoot,
	})
	if res.ExitCode != 0 {
		return fmt.Errorf("docker build failed (exit %d)", res.ExitCode)
	}
	return nil
}

// EnsureOptions control how EnsureImage makes the image available.
type EnsureOptions struct {
	// Build forces a local build even when the image exists.
	Build bool
	// NoBuild fails instead of building when the image is missing.
	NoBuild bool
	// VersionRequested selects pull over build for a missing image.
	VersionRequested bool
	// RepoRoot is the build context directory.
	RepoRoot string
}

// EnsureImage makes sure the resolved image is usable, building or pulling
// it as the options dictate.
func (c *Client) EnsureImage(ctx context.Context, opts EnsureOptions) error {
	if opts.Build {
		return c.Build(ctx, opts.RepoRoot)
	}
	if c.ImageExists(ctx) {
		return nil
	}
	if opts.VersionRequested {
		return c.Pull(ctx)
	}
	if opts.NoBuild {
		return fmt.Errorf("image %q not found and building is disabled", c.Image)
	}
	return c.Build(ctx, opts.RepoRoot)
}

// ContainerPath joins a mount point and a relative path with forward slashes.
func ContainerPath(mountPoint string, parts ...string) string {
	return mountPoint + "/" + strings.Join(parts, "/")
}

// Quote shell-quotes a path for use inside a bash -lc command line.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		return !strings.ContainsRune("@%+=:,./-_", r)
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// UserSpec renders the uid:gid pair passed to --user.
func UserSpec() string {
	return strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid())
}
