package commitsearch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sha1n/relic-commits/internal/domain"
)

// SearchIndex is the document store commits are written to.
type SearchIndex interface {
	// Put stores doc under id, replacing any previous document.
	Put(ctx context.Context, id, permission string, doc domain.IndexedCommit) error
	// DeleteByID removes the document with the given id.
	DeleteByID(ctx context.Context, id string) error
	// DeleteByRepository removes every document owned by the repository.
	DeleteByRepository(ctx context.Context, repositoryID string) error
}

// DocumentID returns the index id of a commit within a repository.
func DocumentID(repositoryID, commitID string) string {
	return domain.DocumentType + ":" + repositoryID + ":" + commitID
}

// ReadPermission returns the permission tag attached to documents of a repository.
func ReadPermission(repositoryID string) string {
	return "repository:read:" + repositoryID
}

// IndexWriter writes the commits of one repository to a SearchIndex.
type IndexWriter struct {
	index  SearchIndex
	repo   Repository
	logger *slog.Logger
}

// NewIndexWriter creates a writer bound to repo. logger is expected to carry
// the repository attributes already.
func NewIndexWriter(index SearchIndex, repo Repository, logger *slog.Logger) *IndexWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexWriter{index: index, repo: repo, logger: logger}
}

// Store indexes the given commits. Empty input is a no-op.
func (w *IndexWriter) Store(ctx context.Context, commits []domain.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	permission := ReadPermission(w.repo.ID)
	for _, c := range commits {
		doc := domain.NewIndexedCommit(w.repo.ID, c)
		doc.Permission = permission
		if err := w.index.Put(ctx, DocumentID(w.repo.ID, c.ID), permission, doc); err != nil {
			return fmt.Errorf("failed to store commit %s: %w", c.ID, err)
		}
	}
	w.logger.Debug("Stored commits", "count", len(commits))
	return nil
}

// Delete removes the given commits from the index. Empty input is a no-op.
func (w *IndexWriter) Delete(ctx context.Context, commits []domain.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	for _, c := range commits {
		if err := w.index.DeleteByID(ctx, DocumentID(w.repo.ID, c.ID)); err != nil {
			return fmt.Errorf("failed to delete commit %s: %w", c.ID, err)
		}
	}
	w.logger.Debug("Deleted commits", "count", len(commits))
	return nil
}

// DeleteAll removes every document of the repository.
func (w *IndexWriter) DeleteAll(ctx context.Context) error {
	if err := w.index.DeleteByRepository(ctx, w.repo.ID); err != nil {
		return fmt.Errorf("failed to delete commits of %s: %w", w.repo.ID, err)
	}
	return nil
}
