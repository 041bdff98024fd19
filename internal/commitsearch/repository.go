package commitsearch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MirrorSuffix is the suffix of mirrored repository directories.
const MirrorSuffix = ".git"

var (
	// ErrInvalidSSHURL indicates the URL is not a valid SSH URL
	ErrInvalidSSHURL = errors.New("invalid SSH URL format")

	// ErrUnknownRepository indicates a repository that is not configured
	ErrUnknownRepository = errors.New("unknown repository")

	// Matches: git@github.com:org/repo.git or git@github.com:org/subgroup/repo.git
	sshScpPattern = regexp.MustCompile(`^git@([^:]+):(.+?)(?:\.git)?$`)

	// Matches: ssh://git@github.com/org/repo.git
	sshURLPattern = regexp.MustCompile(`^ssh://git@([^/]+)/(.+?)(?:\.git)?$`)
)

// Repository identifies a git repository whose commits are indexed.
type Repository struct {
	// ID is a filesystem-safe identifier, used as status key and index scope.
	ID string `json:"id"`

	// Name is the human-readable identifier, e.g. "github.com/org/repo".
	Name string `json:"name"`

	// Path is the local directory git commands run in.
	Path string `json:"path"`

	// URL is the remote the local mirror is fetched from. Empty for local repositories.
	URL string `json:"url,omitempty"`
}

// IsMirror reports whether the repository is a local mirror of a remote.
func (r Repository) IsMirror() bool {
	return r.URL != ""
}

func (r Repository) String() string {
	return r.Name
}

// ResolveRepository turns a configured entry into a Repository.
// SSH URLs are mirrored below baseDir/repos; anything else is treated as a local path.
func ResolveRepository(entry, baseDir string) (Repository, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Repository{}, fmt.Errorf("repository entry cannot be empty")
	}

	if IsValidSSHURL(entry) {
		id := URLToRepoID(entry)
		return Repository{
			ID:   id,
			Name: RepoIDToDisplay(id),
			Path: filepath.Join(baseDir, "repos", id+MirrorSuffix),
			URL:  entry,
		}, nil
	}

	abs, err := filepath.Abs(expandHome(entry))
	if err != nil {
		return Repository{}, fmt.Errorf("failed to resolve repository path %q: %w", entry, err)
	}
	return Repository{
		ID:   PathToRepoID(abs),
		Name: abs,
		Path: abs,
	}, nil
}

// ResolveRepositories resolves all configured entries, dropping duplicates.
func ResolveRepositories(entries []string, baseDir string) ([]Repository, error) {
	seen := make(map[string]bool)
	repos := make([]Repository, 0, len(entries))
	for _, entry := range entries {
		repo, err := ResolveRepository(entry, baseDir)
		if err != nil {
			return nil, err
		}
		if seen[repo.ID] {
			continue
		}
		seen[repo.ID] = true
		repos = append(repos, repo)
	}
	return repos, nil
}

// ParseSSHURL parses an SSH git URL and returns the host, path, and repository name.
// Supports both SCP-style (git@host:path) and SSH URL style (ssh://git@host/path).
func ParseSSHURL(url string) (host, path, repo string, err error) {
	url = strings.TrimSpace(url)

	if matches := sshScpPattern.FindStringSubmatch(url); matches != nil {
		return matches[1], matches[2], extractRepoName(matches[2]), nil
	}
	if matches := sshURLPattern.FindStringSubmatch(url); matches != nil {
		return matches[1], matches[2], extractRepoName(matches[2]), nil
	}

	return "", "", "", ErrInvalidSSHURL
}

// extractRepoName returns the last path element.
func extractRepoName(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// URLToRepoID converts an SSH URL to a filesystem-safe repository ID.
//
// Examples:
//   - git@github.com:org/repo.git -> github.com_org_repo
//   - ssh://git@github.com/org/repo.git -> github.com_org_repo
func URLToRepoID(url string) string {
	host, path, _, err := ParseSSHURL(url)
	if err != nil {
		return sanitizeForFilesystem(url)
	}
	return sanitizeForFilesystem(host + "/" + path)
}

// PathToRepoID converts an absolute local path to a repository ID.
//
// Example: /srv/git/project -> local_srv_git_project
func PathToRepoID(path string) string {
	cleaned := strings.Trim(filepath.ToSlash(filepath.Clean(path)), "/")
	return "local_" + sanitizeForFilesystem(cleaned)
}

// RepoIDToDisplay converts a repository ID back to a display format.
// This is the inverse of URLToRepoID (approximately).
func RepoIDToDisplay(repoID string) string {
	host, rest, found := strings.Cut(repoID, "_")
	if !found {
		return repoID
	}
	return host + "/" + strings.ReplaceAll(rest, "_", "/")
}

// IsValidSSHURL checks if the given URL is a valid SSH git URL.
func IsValidSSHURL(url string) bool {
	_, _, _, err := ParseSSHURL(url)
	return err == nil
}

// sanitizeForFilesystem replaces slashes, colons, and @ symbols with underscores.
func sanitizeForFilesystem(s string) string {
	s = strings.TrimPrefix(s, "git@")
	s = strings.TrimPrefix(s, "ssh://git@")
	s = strings.TrimSuffix(s, ".git")
	return strings.NewReplacer("/", "_", ":", "_", "@", "_", " ", "_").Replace(s)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
