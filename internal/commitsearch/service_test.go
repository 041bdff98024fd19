package commitsearch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/relic-commits/internal/config"
	"github.com/sha1n/relic-commits/internal/store"
	"github.com/sha1n/relic-commits/internal/testkit"
)

func testSettings(baseDir string, repos ...string) *config.CommitSearchSettings {
	return &config.CommitSearchSettings{
		Enabled:         true,
		Repositories:    repos,
		BaseDir:         baseDir,
		StatusBackend:   store.BackendFile,
		Workers:         2,
		QueueSize:       16,
		MaxAttempts:     2,
		RetryDelay:      10 * time.Millisecond,
		Debounce:        10 * time.Millisecond,
		InstanceTimeout: time.Second,
		MaxResults:      20,
	}
}

func startService(t *testing.T, settings *config.CommitSearchSettings) *Service {
	t.Helper()
	svc, err := NewService(settings, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { closeService(t, svc) })

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return svc
}

func closeService(t *testing.T, svc *Service) {
	t.Helper()
	if err := svc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// waitForRevision polls the status of repo until it reports revision.
func waitForRevision(t *testing.T, svc *Service, repo Repository, revision string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, ok, err := svc.Status(repo)
		if err == nil && ok && status.Revision == revision {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	status, _, _ := svc.Status(repo)
	t.Fatalf("Timed out waiting for revision %q, status is %+v", revision, status)
}

func mustRepository(t *testing.T, svc *Service, idOrName string) Repository {
	t.Helper()
	repo, err := svc.Repository(idOrName)
	if err != nil {
		t.Fatalf("Repository(%q) failed: %v", idOrName, err)
	}
	return repo
}

func searchIDs(t *testing.T, svc *Service, query string) map[string]bool {
	t.Helper()
	res, err := svc.Search(context.Background(), SearchRequest{Query: query, Size: 100})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	ids := make(map[string]bool, len(res.Hits))
	for _, hit := range res.Hits {
		ids[hit.CommitID] = true
	}
	return ids
}

func TestNewService_CreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(testSettings(dir), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer closeService(t, svc)

	for _, sub := range []string{"repos", "indexes"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("Expected %s directory: %v", sub, err)
		}
	}
	if svc.IsReady() {
		t.Error("Expected service not to be ready before Initialize")
	}
	if _, err := svc.Search(context.Background(), SearchRequest{Query: "x"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got: %v", err)
	}
}

func TestNewService_NilSettings(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Error("Expected error for nil settings")
	}
}

func TestService_StartupSweepIndexesHistory(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	first := repo.Commit("Add towel dispenser")
	second := repo.Commit("Fix improbability drive")

	svc := startService(t, testSettings(t.TempDir(), repo.Dir))
	r := mustRepository(t, svc, repo.Dir)

	status, ok, err := svc.Status(r)
	if err != nil || !ok {
		t.Fatalf("Expected status after startup: ok=%v err=%v", ok, err)
	}
	if status.Revision != second {
		t.Errorf("Revision = %q, want %q", status.Revision, second)
	}

	count, err := svc.CountCommits(context.Background(), r)
	if err != nil {
		t.Fatalf("CountCommits failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountCommits = %d, want 2", count)
	}

	if ids := searchIDs(t, svc, "towel"); !ids[first] || len(ids) != 1 {
		t.Errorf("Expected only %s for 'towel', got %v", first, ids)
	}
}

func TestService_RefreshAppliesNewCommits(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	repo.Commit("initial")

	svc := startService(t, testSettings(t.TempDir(), repo.Dir))
	r := mustRepository(t, svc, repo.Dir)

	added := repo.Commit("Teach the babel fish Vogon")
	if err := svc.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	waitForRevision(t, svc, r, added)

	if ids := searchIDs(t, svc, "babel"); !ids[added] {
		t.Errorf("Expected %s to be searchable, got %v", added, ids)
	}
}

func TestService_RefreshAfterHistoryRewrite(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	base := repo.Commit("initial")
	dropped := repo.Commit("Paint the ship pink")

	svc := startService(t, testSettings(t.TempDir(), repo.Dir))
	r := mustRepository(t, svc, repo.Dir)

	repo.ResetHard(base)
	replacement := repo.Commit("Paint the ship white")
	if err := svc.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	waitForRevision(t, svc, r, replacement)

	ids := searchIDs(t, svc, "paint")
	if ids[dropped] {
		t.Errorf("Expected rewritten commit %s to be removed", dropped)
	}
	if !ids[replacement] {
		t.Errorf("Expected replacement commit %s to be indexed", replacement)
	}
}

func TestService_EmptyRepository(t *testing.T) {
	repo := testkit.NewGitRepo(t)

	svc := startService(t, testSettings(t.TempDir(), repo.Dir))
	r := mustRepository(t, svc, repo.Dir)

	status, ok, err := svc.Status(r)
	if err != nil || !ok {
		t.Fatalf("Expected status: ok=%v err=%v", ok, err)
	}
	if !status.IsEmpty() {
		t.Errorf("Expected empty status, got revision %q", status.Revision)
	}

	first := repo.Commit("Hello galaxy")
	if err := svc.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	waitForRevision(t, svc, r, first)
}

func TestService_SkipsDirectoriesWithoutHistory(t *testing.T) {
	testkit.RequireGit(t)
	plain := t.TempDir()

	svc := startService(t, testSettings(t.TempDir(), plain))
	r := mustRepository(t, svc, plain)

	if _, ok, err := svc.Status(r); err != nil || ok {
		t.Errorf("Expected no status for plain directory: ok=%v err=%v", ok, err)
	}
}

func TestService_SQLiteStatusBackend(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	head := repo.Commit("initial")

	dir := t.TempDir()
	settings := testSettings(dir, repo.Dir)
	settings.StatusBackend = store.BackendSQLite

	svc := startService(t, settings)
	waitForRevision(t, svc, mustRepository(t, svc, repo.Dir), head)

	if _, err := os.Stat(filepath.Join(dir, "status.db")); err != nil {
		t.Errorf("Expected sqlite status database: %v", err)
	}
}

func TestService_StatusSurvivesRestart(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	head := repo.Commit("initial")
	dir := t.TempDir()

	svc, err := NewService(testSettings(dir, repo.Dir), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	closeService(t, svc)

	restarted := startService(t, testSettings(dir, repo.Dir))
	r := mustRepository(t, restarted, repo.Dir)
	waitForRevision(t, restarted, r, head)

	count, _ := restarted.CountCommits(context.Background(), r)
	if count != 1 {
		t.Errorf("Expected one indexed commit after restart, got %d", count)
	}
}

func TestService_SecondInstanceTimesOut(t *testing.T) {
	testkit.RequireGit(t)
	dir := t.TempDir()
	startService(t, testSettings(dir))

	settings := testSettings(dir)
	settings.InstanceTimeout = 50 * time.Millisecond
	second, err := NewService(settings, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer closeService(t, second)

	if err := second.Initialize(context.Background()); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Expected ErrLockTimeout, got: %v", err)
	}
}

func TestService_Repository(t *testing.T) {
	svc, err := NewService(testSettings(t.TempDir(), "git@github.com:org/repo.git"), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer closeService(t, svc)

	for _, key := range []string{"github.com_org_repo", "github.com/org/repo"} {
		if _, err := svc.Repository(key); err != nil {
			t.Errorf("Repository(%q) failed: %v", key, err)
		}
	}
	if _, err := svc.Repository("nope"); !errors.Is(err, ErrUnknownRepository) {
		t.Errorf("Expected ErrUnknownRepository, got: %v", err)
	}
}

func TestService_PrepareRepository(t *testing.T) {
	svc, err := NewService(testSettings(t.TempDir(), "git@github.com:org/repo.git"), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer closeService(t, svc)
	repo := svc.Repositories()[0]

	t.Run("clones missing mirror", func(t *testing.T) {
		mock := NewMockExecutor()
		mock.AddResponse("git rev-parse --git-dir", nil, errors.New("not a git repository"))
		mock.AddResponse("git clone --mirror", nil, nil)
		svc.SetGitClient(NewGitClientWithExecutor(mock))

		if err := svc.prepareRepository(context.Background(), repo); err != nil {
			t.Fatalf("prepareRepository failed: %v", err)
		}
		call := mock.MustGetLastCall(t)
		if call.Args[0] != "clone" || call.Args[len(call.Args)-1] != repo.Path {
			t.Errorf("Unexpected clone call: %v", call.Args)
		}
	})

	t.Run("fetches existing mirror", func(t *testing.T) {
		mock := NewMockExecutor()
		mock.AddResponse("git rev-parse --git-dir", []byte("."), nil)
		mock.AddResponse("git fetch", nil, nil)
		svc.SetGitClient(NewGitClientWithExecutor(mock))

		if err := svc.prepareRepository(context.Background(), repo); err != nil {
			t.Fatalf("prepareRepository failed: %v", err)
		}
		if call := mock.MustGetLastCall(t); call.Dir != repo.Path || call.Args[0] != "fetch" {
			t.Errorf("Unexpected fetch call: %+v", call)
		}
	})

	t.Run("local repositories are left alone", func(t *testing.T) {
		mock := NewMockExecutor()
		svc.SetGitClient(NewGitClientWithExecutor(mock))

		if err := svc.prepareRepository(context.Background(), Repository{ID: "local", Path: "/tmp"}); err != nil {
			t.Fatalf("prepareRepository failed: %v", err)
		}
		if calls := mock.GetCalls(); len(calls) != 0 {
			t.Errorf("Expected no git calls, got %v", calls)
		}
	})
}

func TestService_RunOnce(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	head := repo.Commit("Add towel dispenser")
	settings := testSettings(t.TempDir(), repo.Dir)

	once, err := NewService(settings, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := once.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if once.IsReady() {
		t.Error("Expected RunOnce not to mark the service ready")
	}
	closeService(t, once)

	svc := startService(t, settings)
	status, ok, err := svc.Status(mustRepository(t, svc, repo.Dir))
	if err != nil || !ok {
		t.Fatalf("Expected status written by RunOnce: ok=%v err=%v", ok, err)
	}
	if status.Revision != head {
		t.Errorf("Revision = %q, want %q", status.Revision, head)
	}
}
