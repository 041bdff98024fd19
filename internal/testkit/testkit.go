// Package testkit provides fixtures shared by tests: real git repositories
// with controlled history, free ports and preconfigured flag sets.
package testkit

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

// Author is the identity fixture commits are made with
const Author = "Arthur Dent <arthur@earth.com>"

// baseTimestamp is the author date of the first fixture commit
const baseTimestamp = 1700000000

// RequireGit skips the test if the git binary is not available.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("Skipping test: git not available")
	}
}

// GitRepo is a throwaway git repository with deterministic commit dates.
type GitRepo struct {
	t       testing.TB
	Dir     string
	commits int
}

// NewGitRepo initializes an empty repository with a "main" branch in a temp dir.
func NewGitRepo(t testing.TB) *GitRepo {
	t.Helper()
	RequireGit(t)

	r := &GitRepo{t: t, Dir: t.TempDir()}
	r.Git("init", "--quiet")
	r.Git("symbolic-ref", "HEAD", "refs/heads/main")
	return r
}

// Git runs a git command in the repository and returns its trimmed output.
func (r *GitRepo) Git(args ...string) string {
	r.t.Helper()
	return r.git(nil, args...)
}

func (r *GitRepo) git(env []string, args ...string) string {
	r.t.Helper()
	full := append([]string{
		"-c", "user.name=Arthur Dent",
		"-c", "user.email=arthur@earth.com",
		"-c", "commit.gpgsign=false",
		"-c", "init.defaultBranch=main",
	}, args...)

	cmd := exec.Command("git", full...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1")
	cmd.Env = append(cmd.Env, env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Commit records an empty commit with the given message and returns its id.
func (r *GitRepo) Commit(message string) string {
	r.t.Helper()
	r.git(r.dateEnv(), "commit", "--quiet", "--allow-empty", "-m", message)
	return r.Head()
}

// Amend rewrites the tip commit with a new message and returns the new id.
func (r *GitRepo) Amend(message string) string {
	r.t.Helper()
	r.git(r.dateEnv(), "commit", "--quiet", "--amend", "--allow-empty", "-m", message)
	return r.Head()
}

// ResetHard moves the current branch to rev.
func (r *GitRepo) ResetHard(rev string) {
	r.t.Helper()
	r.Git("reset", "--quiet", "--hard", rev)
}

// Head returns the commit id HEAD points to.
func (r *GitRepo) Head() string {
	r.t.Helper()
	return r.Git("rev-parse", "HEAD")
}

// Timestamp returns the author date of the n-th commit made through this fixture, starting at 1.
func Timestamp(n int) int64 {
	return int64(baseTimestamp + n*60)
}

func (r *GitRepo) dateEnv() []string {
	r.commits++
	date := fmt.Sprintf("%d +0000", Timestamp(r.commits))
	return []string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date}
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	Values    map[string]string
}

// NewTestFlags creates a flag set populated by register and preset for testing
func NewTestFlags(t testing.TB, register func(*pflag.FlagSet), opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	register(flags)

	if opts == nil {
		opts = &FlagOptions{}
	}
	port := opts.Port
	if port == 0 {
		port = MustGetFreePort(t)
	}
	transport := opts.Transport
	if transport == "" {
		transport = "sse"
	}
	authType := opts.AuthType
	if authType == "" {
		authType = "none"
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}

	values := map[string]string{
		"port":      fmt.Sprintf("%d", port),
		"transport": transport,
		"auth-type": authType,
		"host":      host,
	}
	for k, v := range opts.Values {
		values[k] = v
	}
	for name, value := range values {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set flag %s: %v", name, err)
		}
	}

	return flags
}
