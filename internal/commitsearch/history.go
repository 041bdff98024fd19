package commitsearch

import (
	"context"

	"github.com/sha1n/relic-commits/internal/domain"
)

// History gives read access to the commit history of one repository.
// A History is a scoped handle: callers must Close it when done.
type History interface {
	// SupportsHistory reports whether commits can be enumerated at all.
	SupportsHistory() bool

	// LatestCommit returns the tip of the primary line of history.
	// The boolean is false when the repository has no commits.
	LatestCommit(ctx context.Context) (domain.Commit, bool, error)

	// Commits enumerates every commit reachable at call time.
	Commits(ctx context.Context) ([]domain.Commit, error)

	// Close releases the handle.
	Close() error
}

// DeltaResolver is implemented by histories that can compute the commits
// added and removed between two revisions.
type DeltaResolver interface {
	Delta(ctx context.Context, from, to string) (domain.CommitDelta, error)
}

// HistoryOpener acquires History handles for repositories.
type HistoryOpener interface {
	Open(ctx context.Context, repo Repository) (History, error)
}
