package commitsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sha1n/relic-commits/internal/domain"
)

// Syncer is the entry point for keeping commit indexes up to date.
// It is safe for concurrent use; synchronizations of the same repository are serialized.
type Syncer struct {
	opener HistoryOpener
	index  SearchIndex
	status *StatusStore
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewSyncer creates a Syncer.
func NewSyncer(opener HistoryOpener, index SearchIndex, status *StatusStore, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		opener: opener,
		index:  index,
		status: status,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}
}

// Synchronize brings the index of repo up to date. delta describes the
// commits added and removed by the change that triggered the call, or is nil
// if unknown. Repositories without history support are skipped without error.
func (s *Syncer) Synchronize(ctx context.Context, repo Repository, delta *domain.CommitDelta) error {
	return s.run(ctx, repo, func(w *SyncWorker) error {
		return w.EnsureUpToDate(ctx, delta)
	})
}

// CatchUp brings the index of repo to the live tip, resolving the delta
// from the indexed revision while holding the repository lock.
func (s *Syncer) CatchUp(ctx context.Context, repo Repository) error {
	return s.run(ctx, repo, func(w *SyncWorker) error {
		return w.CatchUp(ctx)
	})
}

// Reindex discards the index of repo and rebuilds it from the full history.
func (s *Syncer) Reindex(ctx context.Context, repo Repository) error {
	return s.run(ctx, repo, func(w *SyncWorker) error {
		return w.Reindex(ctx)
	})
}

func (s *Syncer) run(ctx context.Context, repo Repository, op func(*SyncWorker) error) error {
	release, err := s.acquire(ctx, repo.ID)
	if err != nil {
		return err
	}
	defer release()

	logger := s.logger.With("repo_id", repo.ID)

	history, err := s.opener.Open(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to open history of %s: %w", repo.ID, err)
	}
	defer func() {
		if cerr := history.Close(); cerr != nil {
			logger.Warn("Failed to close history", "error", cerr)
		}
	}()

	if !history.SupportsHistory() {
		logger.Info("Repository does not support commit history, skipping")
		return nil
	}

	start := time.Now()
	defer func() {
		logger.Debug("Ensure index is up to date finished", "duration", time.Since(start))
	}()

	worker := NewSyncWorker(IndexingContext{
		Repository: repo,
		History:    history,
		Writer:     NewIndexWriter(s.index, repo, logger),
		Status:     s.status,
		Logger:     logger,
	})
	return op(worker)
}

// acquire takes the per-repository lock, waiting until it is free or ctx ends.
func (s *Syncer) acquire(ctx context.Context, repoID string) (func(), error) {
	s.mu.Lock()
	sem, ok := s.locks[repoID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[repoID] = sem
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
