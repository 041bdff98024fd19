package commitsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sha1n/relic-commits/internal/config"
	"github.com/sha1n/relic-commits/internal/domain"
	"github.com/sha1n/relic-commits/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrNotReady is returned by service operations before Initialize completes or after Close
var ErrNotReady = errors.New("commit index is not ready")

// LockFilename is the name of the instance lock file below the base directory
const LockFilename = "service.lock"

// Service owns the commit index, the status store and the background
// machinery that keeps them in sync with the configured repositories.
type Service struct {
	settings *config.CommitSearchSettings
	logger   *slog.Logger
	repos    []Repository
	byID     map[string]Repository
	git      *GitClient
	lock     *FileLock

	kv        store.KV
	status    *StatusStore
	index     *BleveIndex
	syncer    *Syncer
	scheduler *Scheduler
	detector  *ChangeDetector

	mu     sync.RWMutex
	ready  bool
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// NewService creates a commit search service. Nothing is opened until Initialize.
func NewService(settings *config.CommitSearchSettings, logger *slog.Logger) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(settings.BaseDir, "repos"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create repos directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(settings.BaseDir, "indexes"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create indexes directory: %w", err)
	}

	repos, err := ResolveRepositories(settings.Repositories, settings.BaseDir)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Repository, len(repos))
	for _, r := range repos {
		byID[r.ID] = r
	}

	return &Service{
		settings: settings,
		logger:   logger,
		repos:    repos,
		byID:     byID,
		git:      NewGitClient(),
		lock:     NewFileLock(filepath.Join(settings.BaseDir, LockFilename)),
	}, nil
}

// SetGitClient allows injecting a custom git client for testing.
func (s *Service) SetGitClient(client *GitClient) {
	s.git = client
}

// Initialize takes the instance lock, opens the stores, runs the startup
// sweep and starts background change detection.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}

	s.prepareAll(ctx)
	if err := s.SyncAll(ctx); err != nil {
		s.logger.Error("Startup synchronization failed", "error", err)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	s.startBackground()
	return nil
}

// RunOnce takes the instance lock, brings every repository up to date and
// returns the aggregated synchronization error. No background work is started.
func (s *Service) RunOnce(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	s.prepareAll(ctx)
	return s.SyncAll(ctx)
}

func (s *Service) open(ctx context.Context) error {
	acquired, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Another instance owns the base directory, waiting", "timeout", s.settings.InstanceTimeout)
		if err := s.lock.Lock(ctx, s.settings.InstanceTimeout); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
	}

	kv, err := store.Open(s.settings.StatusBackend, s.statusLocation())
	if err != nil {
		return fmt.Errorf("failed to open status store: %w", err)
	}
	s.kv = kv
	s.status = NewStatusStore(kv)

	index, err := OpenBleveIndex(IndexPath(s.settings.BaseDir))
	if err != nil {
		return err
	}
	s.index = index

	opener := NewGitHistoryOpener(s.git)
	s.syncer = NewSyncer(opener, index, s.status, s.logger)
	s.scheduler = NewScheduler(s.syncer, SchedulerOptions{
		Workers:     s.settings.Workers,
		QueueSize:   s.settings.QueueSize,
		MaxAttempts: s.settings.MaxAttempts,
		RetryDelay:  s.settings.RetryDelay,
		Logger:      s.logger,
	})
	s.detector = NewChangeDetector(opener, s.status, s.scheduler, s.logger)
	return nil
}

func (s *Service) prepareAll(ctx context.Context) {
	for _, repo := range s.repos {
		if err := s.prepareRepository(ctx, repo); err != nil {
			s.logger.Error("Failed to prepare repository", "repo_id", repo.ID, "error", err)
		}
	}
}

func (s *Service) statusLocation() string {
	if s.settings.StatusBackend == store.BackendSQLite {
		return filepath.Join(s.settings.BaseDir, "status.db")
	}
	return filepath.Join(s.settings.BaseDir, "status")
}

// prepareRepository clones missing mirrors and fetches existing ones.
func (s *Service) prepareRepository(ctx context.Context, repo Repository) error {
	if !repo.IsMirror() {
		return nil
	}
	if s.git.IsGitRepository(ctx, repo.Path) {
		s.logger.Debug("Fetching mirror", "repo_id", repo.ID)
		return s.git.Fetch(ctx, repo.Path)
	}
	s.logger.Info("Cloning mirror", "repo_id", repo.ID, "url", repo.URL)
	return s.git.MirrorClone(ctx, repo.URL, repo.Path)
}

// SyncAll synchronizes every configured repository without a delta.
func (s *Service) SyncAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(max(s.settings.Workers, 1))

	var mu sync.Mutex
	var errs []error
	for _, repo := range s.repos {
		g.Go(func() error {
			s.logger.Debug("Startup check if index requires update", "repo_id", repo.ID)
			if err := s.syncer.Synchronize(ctx, repo, nil); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("sync %s: %w", repo.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (s *Service) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.scheduler.Start(ctx)

	if s.settings.PollInterval > 0 {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.detector.Poll(ctx, s.settings.PollInterval, s.repos, s.prepareRepository)
		}()
	}

	if s.settings.Watch {
		var targets []WatchTarget
		for _, repo := range s.repos {
			if repo.IsMirror() {
				continue
			}
			gitDir, err := s.git.GitDir(ctx, repo.Path)
			if err != nil {
				s.logger.Warn("Not watching repository", "repo_id", repo.ID, "error", err)
				continue
			}
			targets = append(targets, WatchTarget{Repository: repo, GitDir: gitDir})
		}
		if len(targets) > 0 {
			s.bg.Add(1)
			go func() {
				defer s.bg.Done()
				if err := s.detector.Watch(ctx, targets, s.settings.Debounce); err != nil {
					s.logger.Error("Watcher stopped", "error", err)
				}
			}()
		}
	}
}

// Submit enqueues a synchronization task.
func (s *Service) Submit(ctx context.Context, task Task) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	return s.scheduler.Submit(ctx, task)
}

// Refresh fetches repo if it is a mirror and schedules whatever brings its
// index up to date. Nothing is scheduled when the index is current.
func (s *Service) Refresh(ctx context.Context, repo Repository) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	if err := s.prepareRepository(ctx, repo); err != nil {
		return err
	}
	return s.detector.Detect(ctx, repo)
}

// Repository looks up a configured repository by ID or name.
func (s *Service) Repository(idOrName string) (Repository, error) {
	if repo, ok := s.byID[idOrName]; ok {
		return repo, nil
	}
	for _, repo := range s.repos {
		if repo.Name == idOrName {
			return repo, nil
		}
	}
	return Repository{}, fmt.Errorf("%w: %s", ErrUnknownRepository, idOrName)
}

// Repositories returns the configured repositories.
func (s *Service) Repositories() []Repository {
	return s.repos
}

// Status returns the index status of repo.
func (s *Service) Status(repo Repository) (IndexStatus, bool, error) {
	if !s.IsReady() {
		return IndexStatus{}, false, ErrNotReady
	}
	return s.status.Get(repo)
}

// CountCommits returns the number of indexed commits of repo.
func (s *Service) CountCommits(ctx context.Context, repo Repository) (uint64, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	return s.index.CountRepository(ctx, repo.ID)
}

// ReadCommit returns a commit of repo together with its diffstat.
func (s *Service) ReadCommit(ctx context.Context, repo Repository, commitID string) (domain.Commit, string, error) {
	if !s.IsReady() {
		return domain.Commit{}, "", ErrNotReady
	}
	commit, err := s.git.Commit(ctx, repo.Path, commitID)
	if err != nil {
		return domain.Commit{}, "", err
	}
	stat, err := s.git.ShowStat(ctx, repo.Path, commit.ID)
	if err != nil {
		return domain.Commit{}, "", err
	}
	return commit, stat, nil
}

// Search runs a commit search.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	if req.Size <= 0 {
		req.Size = s.settings.MaxResults
	}
	return s.index.Search(ctx, req)
}

// IsReady returns true once the stores are open and the startup sweep ran.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// GetSettings returns the service settings.
func (s *Service) GetSettings() *config.CommitSearchSettings {
	return s.settings
}

// Close stops background work and releases all resources.
func (s *Service) Close() error {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.bg.Wait()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	var errs []error
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index: %w", err))
		}
		s.index = nil
	}
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close status store: %w", err))
		}
		s.kv = nil
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock: %w", err))
	}
	return errors.Join(errs...)
}
