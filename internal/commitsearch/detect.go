package commitsearch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Submitter accepts synchronization tasks.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// ChangeDetector notices new commits in repositories and submits tasks that
// bring their indexes up to the live tip.
type ChangeDetector struct {
	opener    HistoryOpener
	status    *StatusStore
	submitter Submitter
	logger    *slog.Logger
}

// NewChangeDetector creates a detector.
func NewChangeDetector(opener HistoryOpener, status *StatusStore, submitter Submitter, logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{
		opener:    opener,
		status:    status,
		submitter: submitter,
		logger:    logger,
	}
}

// Detect compares the indexed revision of repo with its live tip and
// submits whatever task brings the index up to date. Nothing is submitted
// when the index is current.
func (d *ChangeDetector) Detect(ctx context.Context, repo Repository) error {
	status, ok, err := d.status.Get(repo)
	if err != nil {
		return err
	}

	history, err := d.opener.Open(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to open history of %s: %w", repo.ID, err)
	}
	defer func() {
		if cerr := history.Close(); cerr != nil {
			d.logger.Warn("Failed to close history", "repo_id", repo.ID, "error", cerr)
		}
	}()

	if !history.SupportsHistory() {
		return nil
	}

	if !ok || !status.IsCurrent() {
		return d.submit(ctx, Task{Repository: repo})
	}

	latest, found, err := history.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest commit: %w", err)
	}

	switch {
	case !found && status.IsEmpty():
		return nil
	case !found, status.IsEmpty():
		// The worker handles both transitions without a delta.
		return d.submit(ctx, Task{Repository: repo})
	case latest.ID == status.Revision:
		return nil
	}

	// The delta is resolved when the task runs so commits landing before
	// then are included.
	d.logger.Debug("Detected new commits", "repo_id", repo.ID, "from", status.Revision, "to", latest.ID)
	return d.submit(ctx, Task{Repository: repo, CatchUp: true})
}

func (d *ChangeDetector) submit(ctx context.Context, task Task) error {
	if err := d.submitter.Submit(ctx, task); err != nil {
		return fmt.Errorf("failed to submit task for %s: %w", task.Repository.ID, err)
	}
	return nil
}

// Poll runs Detect for every repository each interval until ctx ends.
// prepare, if not nil, runs before detection, e.g. to fetch mirrors.
func (d *ChangeDetector) Poll(ctx context.Context, interval time.Duration, repos []Repository, prepare func(context.Context, Repository) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, repo := range repos {
				if prepare != nil {
					if err := prepare(ctx, repo); err != nil {
						d.logger.Error("Failed to prepare repository", "repo_id", repo.ID, "error", err)
						continue
					}
				}
				if err := d.Detect(ctx, repo); err != nil {
					d.logger.Error("Change detection failed", "repo_id", repo.ID, "error", err)
				}
			}
		}
	}
}

// WatchTarget is a repository and the git directory to watch for ref updates.
type WatchTarget struct {
	Repository Repository
	GitDir     string
}

// Watch runs Detect whenever HEAD or a branch of a watched repository
// changes, debouncing bursts of events per repository. It returns when ctx ends.
func (d *ChangeDetector) Watch(ctx context.Context, targets []WatchTarget, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	byDir := make(map[string]Repository)
	for _, t := range targets {
		for _, dir := range []string{t.GitDir, filepath.Join(t.GitDir, "refs", "heads")} {
			if err := w.Add(dir); err != nil {
				d.logger.Warn("Cannot watch directory", "repo_id", t.Repository.ID, "dir", dir, "error", err)
				continue
			}
			byDir[filepath.Clean(dir)] = t.Repository
		}
	}
	d.logger.Info("Watching repositories for new commits", "count", len(targets))

	fire := make(chan Repository)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isRefChange(ev) {
				continue
			}
			repo, ok := byDir[filepath.Dir(ev.Name)]
			if !ok {
				continue
			}
			if t, ok := timers[repo.ID]; ok {
				t.Reset(debounce)
				continue
			}
			timers[repo.ID] = time.AfterFunc(debounce, func() {
				select {
				case fire <- repo:
				case <-ctx.Done():
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("Watcher error", "error", err)

		case repo := <-fire:
			delete(timers, repo.ID)
			if err := d.Detect(ctx, repo); err != nil {
				d.logger.Error("Change detection failed", "repo_id", repo.ID, "error", err)
			}
		}
	}
}

// isRefChange reports whether ev may have moved HEAD or a branch.
func isRefChange(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, ".lock") {
		return false
	}
	if name == "HEAD" || name == "packed-refs" {
		return true
	}
	return filepath.Base(filepath.Dir(ev.Name)) == "heads"
}
