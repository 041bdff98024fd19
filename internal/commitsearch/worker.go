package commitsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sha1n/relic-commits/internal/domain"
)

// ErrTipChangedWithoutDelta is returned when the latest commit differs from
// the indexed revision but no delta describing the change was supplied.
var ErrTipChangedWithoutDelta = errors.New("latest commit changed without added or removed commits")

// IndexingContext bundles the collaborators of a single synchronization.
type IndexingContext struct {
	Repository Repository
	History    History
	Writer     *IndexWriter
	Status     *StatusStore
	Logger     *slog.Logger
}

// SyncWorker decides how to bring the index of one repository up to date and does it.
// It is created per synchronization and must not be shared between goroutines.
type SyncWorker struct {
	repo    Repository
	history History
	writer  *IndexWriter
	status  *StatusStore
	logger  *slog.Logger
}

// NewSyncWorker creates a worker for the given context. The logger is used as
// is and should already carry the repository attributes.
func NewSyncWorker(ic IndexingContext) *SyncWorker {
	logger := ic.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		repo:    ic.Repository,
		history: ic.History,
		writer:  ic.Writer,
		status:  ic.Status,
		logger:  logger,
	}
}

// EnsureUpToDate synchronizes the index with the live history.
// delta may be nil when the changes are unknown, e.g. on startup.
func (w *SyncWorker) EnsureUpToDate(ctx context.Context, delta *domain.CommitDelta) error {
	status, ok, err := w.status.Get(w.repo)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		w.logger.Debug("No index status present, trigger reindex")
		return w.Reindex(ctx)
	case !status.IsCurrent():
		w.logger.Debug("Index schema outdated, trigger reindex", "version", status.Version, "required", domain.SchemaVersion)
		return w.Reindex(ctx)
	case status.IsEmpty():
		w.logger.Debug("Index marked empty, trigger reindex")
		return w.Reindex(ctx)
	default:
		return w.update(ctx, status.Revision, delta)
	}
}

// update applies delta on top of an index that reflects revision.
func (w *SyncWorker) update(ctx context.Context, revision string, delta *domain.CommitDelta) error {
	latest, found, err := w.history.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest commit: %w", err)
	}
	if !found {
		return w.emptyRepository(ctx)
	}

	if revision == latest.ID && delta.IsEmpty() {
		w.logger.Debug("Index is up to date", "revision", revision)
		return nil
	}
	if delta.IsEmpty() {
		return fmt.Errorf("%w: indexed %s, latest %s", ErrTipChangedWithoutDelta, revision, latest.ID)
	}
	return w.apply(ctx, revision, latest.ID, delta)
}

// CatchUp brings the index from its recorded revision to the live tip,
// resolving the delta between the two itself. The recorded revision becomes
// the tip the delta was resolved against, so commits landing meanwhile are
// left for the next run. Histories that cannot resolve deltas are reindexed.
func (w *SyncWorker) CatchUp(ctx context.Context) error {
	status, ok, err := w.status.Get(w.repo)
	if err != nil {
		return err
	}
	if !ok || !status.IsCurrent() || status.IsEmpty() {
		return w.EnsureUpToDate(ctx, nil)
	}

	latest, found, err := w.history.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest commit: %w", err)
	}
	if !found {
		return w.emptyRepository(ctx)
	}
	if latest.ID == status.Revision {
		w.logger.Debug("Index is up to date", "revision", latest.ID)
		return nil
	}

	resolver, ok := w.history.(DeltaResolver)
	if !ok {
		return w.Reindex(ctx)
	}
	delta, err := resolver.Delta(ctx, status.Revision, latest.ID)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || delta.IsEmpty() {
		w.logger.Warn("Cannot compute commit delta, falling back to reindex",
			"from", status.Revision, "to", latest.ID, "error", err)
		return w.Reindex(ctx)
	}
	return w.apply(ctx, status.Revision, latest.ID, &delta)
}

// apply moves the index from revision to target by applying delta.
func (w *SyncWorker) apply(ctx context.Context, revision, target string, delta *domain.CommitDelta) error {
	// Removed commits go first so a rewritten commit that keeps its id is stored last.
	if err := w.writer.Delete(ctx, delta.Removed); err != nil {
		return err
	}
	if err := w.writer.Store(ctx, delta.Added); err != nil {
		return err
	}
	if err := w.status.Update(w.repo, target); err != nil {
		return err
	}

	w.logger.Info("Index updated",
		"from", revision, "to", target,
		"added", len(delta.Added), "removed", len(delta.Removed))
	return nil
}

// Reindex drops every document of the repository and indexes the full history.
func (w *SyncWorker) Reindex(ctx context.Context) error {
	w.logger.Debug("Start reindexing")
	if err := w.writer.DeleteAll(ctx); err != nil {
		return err
	}

	if !w.history.SupportsHistory() {
		return nil
	}

	latest, found, err := w.history.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest commit: %w", err)
	}
	if !found {
		return w.status.MarkEmpty(w.repo)
	}

	commits, err := w.history.Commits(ctx)
	if err != nil {
		return fmt.Errorf("failed to list commits: %w", err)
	}
	if err := w.writer.Store(ctx, commits); err != nil {
		return err
	}
	if err := w.status.Update(w.repo, latest.ID); err != nil {
		return err
	}

	w.logger.Info("Full index complete", "revision", latest.ID, "commit_count", len(commits))
	return nil
}

func (w *SyncWorker) emptyRepository(ctx context.Context) error {
	w.logger.Debug("Repository looks empty, delete all to clean up")
	if err := w.writer.DeleteAll(ctx); err != nil {
		return err
	}
	return w.status.MarkEmpty(w.repo)
}
