package commitsearch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sha1n/relic-commits/internal/domain"
)

const (
	// logFormat renders one commit per record: hash, author, author date,
	// parents and the raw message, separated by NUL and terminated by RS.
	logFormat = "--format=%H%x00%an <%ae>%x00%at%x00%P%x00%B%x1e"

	fieldSeparator  = "\x00"
	recordSeparator = "\x1e"
)

// CommandExecutor abstracts command execution for testing.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor executes commands using os/exec.
type DefaultExecutor struct{}

// Run executes a command and returns its standard output.
func (e *DefaultExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Include stderr in error message for debugging
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// GitClient executes git commands.
type GitClient struct {
	executor CommandExecutor
}

// NewGitClient creates a new GitClient with the default command executor.
func NewGitClient() *GitClient {
	return &GitClient{executor: &DefaultExecutor{}}
}

// NewGitClientWithExecutor creates a GitClient with a custom executor (for testing).
func NewGitClientWithExecutor(executor CommandExecutor) *GitClient {
	return &GitClient{executor: executor}
}

// MirrorClone creates a bare mirror of the remote repository.
// A mirror keeps the full history, which commit indexing needs.
func (g *GitClient) MirrorClone(ctx context.Context, url, destDir string) error {
	if _, err := g.executor.Run(ctx, "", "git", "clone", "--mirror", "--quiet", url, destDir); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// Fetch updates a mirror from its remote, pruning deleted refs.
func (g *GitClient) Fetch(ctx context.Context, repoDir string) error {
	if _, err := g.executor.Run(ctx, repoDir, "git", "fetch", "--prune", "--quiet", "origin"); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

// IsGitRepository checks if the given directory is a git repository.
func (g *GitClient) IsGitRepository(ctx context.Context, dir string) bool {
	_, err := g.executor.Run(ctx, dir, "git", "rev-parse", "--git-dir")
	return err == nil
}

// GitDir returns the absolute path of the repository's git directory.
func (g *GitClient) GitDir(ctx context.Context, dir string) (string, error) {
	output, err := g.executor.Run(ctx, dir, "git", "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HeadCommit returns the commit HEAD points to.
// The boolean is false if the repository has no commits at all.
func (g *GitClient) HeadCommit(ctx context.Context, repoDir string) (string, bool, error) {
	output, err := g.executor.Run(ctx, repoDir, "git", "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err == nil {
		return strings.TrimSpace(string(output)), true, nil
	}

	// rev-parse also fails for unborn branches; tell them apart from real failures.
	anyCommit, listErr := g.executor.Run(ctx, repoDir, "git", "rev-list", "--max-count=1", "--all")
	if listErr != nil {
		return "", false, fmt.Errorf("git rev-parse failed: %w", err)
	}
	if strings.TrimSpace(string(anyCommit)) == "" {
		return "", false, nil
	}
	return "", false, fmt.Errorf("HEAD does not point to a commit: %w", err)
}

// Log returns the commits selected by the given revision arguments.
func (g *GitClient) Log(ctx context.Context, repoDir string, revisions ...string) ([]domain.Commit, error) {
	args := append([]string{"log", logFormat}, revisions...)
	args = append(args, "--")

	output, err := g.executor.Run(ctx, repoDir, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}
	return parseLog(output)
}

// Commit returns a single commit by ID.
func (g *GitClient) Commit(ctx context.Context, repoDir, commitID string) (domain.Commit, error) {
	commits, err := g.Log(ctx, repoDir, "--max-count=1", "--no-walk", commitID)
	if err != nil {
		return domain.Commit{}, err
	}
	if len(commits) == 0 {
		return domain.Commit{}, fmt.Errorf("commit %s not found", commitID)
	}
	return commits[0], nil
}

// ShowStat returns the diffstat of a commit against its first parent.
func (g *GitClient) ShowStat(ctx context.Context, repoDir, commitID string) (string, error) {
	output, err := g.executor.Run(ctx, repoDir, "git", "show", "--stat", "--format=", "--no-color", commitID, "--")
	if err != nil {
		return "", fmt.Errorf("git show failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// parseLog parses output produced with logFormat.
func parseLog(output []byte) ([]domain.Commit, error) {
	records := strings.Split(string(output), recordSeparator)

	commits := make([]domain.Commit, 0, len(records))
	for _, record := range records {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}

		fields := strings.SplitN(record, fieldSeparator, 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("malformed log record: %q", record)
		}

		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp %q of commit %s: %w", fields[2], fields[0], err)
		}

		commits = append(commits, domain.Commit{
			ID:          fields[0],
			Author:      fields[1],
			Timestamp:   ts,
			Parents:     strings.Fields(fields[3]),
			Description: strings.TrimRight(fields[4], "\n"),
		})
	}
	return commits, nil
}

// GitHistory is a History backed by the git CLI.
type GitHistory struct {
	git       *GitClient
	repo      Repository
	supported bool
}

var _ History = (*GitHistory)(nil)
var _ DeltaResolver = (*GitHistory)(nil)

// SupportsHistory reports whether the repository directory is a git repository.
func (h *GitHistory) SupportsHistory() bool {
	return h.supported
}

// LatestCommit returns the commit HEAD points to.
func (h *GitHistory) LatestCommit(ctx context.Context) (domain.Commit, bool, error) {
	head, found, err := h.git.HeadCommit(ctx, h.repo.Path)
	if err != nil || !found {
		return domain.Commit{}, false, err
	}

	commits, err := h.git.Log(ctx, h.repo.Path, "--max-count=1", head)
	if err != nil {
		return domain.Commit{}, false, err
	}
	if len(commits) == 0 {
		return domain.Commit{}, false, fmt.Errorf("commit %s not found", head)
	}
	return commits[0], true, nil
}

// Commits returns every commit reachable from HEAD.
func (h *GitHistory) Commits(ctx context.Context) ([]domain.Commit, error) {
	return h.git.Log(ctx, h.repo.Path, "HEAD")
}

// Delta returns the commits reachable from to but not from, and vice versa.
func (h *GitHistory) Delta(ctx context.Context, from, to string) (domain.CommitDelta, error) {
	added, err := h.git.Log(ctx, h.repo.Path, to, "--not", from)
	if err != nil {
		return domain.CommitDelta{}, fmt.Errorf("failed to list added commits: %w", err)
	}
	removed, err := h.git.Log(ctx, h.repo.Path, from, "--not", to)
	if err != nil {
		return domain.CommitDelta{}, fmt.Errorf("failed to list removed commits: %w", err)
	}
	return domain.CommitDelta{Added: added, Removed: removed}, nil
}

// Close is a no-op; git commands hold no state between calls.
func (h *GitHistory) Close() error {
	return nil
}

// GitHistoryOpener opens GitHistory handles.
type GitHistoryOpener struct {
	git *GitClient
}

// NewGitHistoryOpener creates an opener using the given client.
func NewGitHistoryOpener(git *GitClient) *GitHistoryOpener {
	return &GitHistoryOpener{git: git}
}

// Open returns a history handle for repo. Directories that are not git
// repositories yield a handle without history support.
func (o *GitHistoryOpener) Open(ctx context.Context, repo Repository) (History, error) {
	return &GitHistory{
		git:       o.git,
		repo:      repo,
		supported: o.git.IsGitRepository(ctx, repo.Path),
	}, nil
}
